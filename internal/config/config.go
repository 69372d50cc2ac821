package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the FAQ chat service.
type Config struct {
	BindAddr        string
	ShutdownTimeout time.Duration

	MetricsNamespace string
	LogLevel         string
	AllowAnyOrigin   bool

	// Resource provider (remote prompt/FAQ source) and its local fallback.
	ResourceProviderURL  string
	ResourceFetchTimeout time.Duration
	ResourceLocalDir     string

	// Language model provider.
	LLMProvider     string
	LLMModel        string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaHost      string

	DatabaseURL string

	ListDefaultLimit int
}

// fileConfig mirrors Config for the optional YAML file. Durations are strings
// ("30s", "1m") so the file reads like the env vars. Secrets stay env-only.
type fileConfig struct {
	BindAddr             string `yaml:"bind_addr"`
	ShutdownTimeout      string `yaml:"shutdown_timeout"`
	MetricsNamespace     string `yaml:"metrics_namespace"`
	LogLevel             string `yaml:"log_level"`
	AllowAnyOrigin       *bool  `yaml:"allow_any_origin"`
	ResourceProviderURL  string `yaml:"resource_provider_url"`
	ResourceFetchTimeout string `yaml:"resource_fetch_timeout"`
	ResourceLocalDir     string `yaml:"resource_local_dir"`
	LLMProvider          string `yaml:"llm_provider"`
	LLMModel             string `yaml:"llm_model"`
	OllamaHost           string `yaml:"ollama_host"`
	ListDefaultLimit     *int   `yaml:"list_default_limit"`
}

// Load reads the optional YAML config file named by APP_CONFIG_FILE, then
// overlays environment variables and applies safe defaults. Env wins over file.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             ":8080",
		ShutdownTimeout:      15 * time.Second,
		MetricsNamespace:     "faqbot",
		LogLevel:             "info",
		ResourceProviderURL:  "http://localhost:8001",
		ResourceFetchTimeout: 30 * time.Second,
		ResourceLocalDir:     "assets",
		LLMProvider:          "auto",
		LLMModel:             "gpt-3.5-turbo",
		OllamaHost:           "http://localhost:11434",
		ListDefaultLimit:     100,
	}

	if path := stringsTrimSpace("APP_CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.LogLevel = envOrDefault("APP_LOG_LEVEL", cfg.LogLevel)
	cfg.ResourceProviderURL = envOrDefault("RESOURCE_PROVIDER_URL", cfg.ResourceProviderURL)
	cfg.ResourceLocalDir = envOrDefault("RESOURCE_LOCAL_DIR", cfg.ResourceLocalDir)
	cfg.LLMProvider = envOrDefault("LLM_PROVIDER", cfg.LLMProvider)
	cfg.LLMModel = envOrDefault("LLM_MODEL", cfg.LLMModel)
	cfg.OllamaHost = envOrDefault("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OpenAIAPIKey = stringsTrimSpace("OPENAI_API_KEY")
	cfg.AnthropicAPIKey = stringsTrimSpace("ANTHROPIC_API_KEY")
	cfg.DatabaseURL = stringsTrimSpace("DATABASE_URL")

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ResourceFetchTimeout, err = durationFromEnv("RESOURCE_FETCH_TIMEOUT", cfg.ResourceFetchTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ListDefaultLimit, err = intFromEnv("APP_LIST_DEFAULT_LIMIT", cfg.ListDefaultLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.ResourceProviderURL) == "" {
		return Config{}, fmt.Errorf("RESOURCE_PROVIDER_URL must not be empty")
	}
	if cfg.ResourceFetchTimeout <= 0 {
		return Config{}, fmt.Errorf("RESOURCE_FETCH_TIMEOUT must be positive")
	}
	if cfg.ListDefaultLimit <= 0 {
		return Config{}, fmt.Errorf("APP_LIST_DEFAULT_LIMIT must be positive")
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	setString(&cfg.BindAddr, fc.BindAddr)
	setString(&cfg.MetricsNamespace, fc.MetricsNamespace)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.ResourceProviderURL, fc.ResourceProviderURL)
	setString(&cfg.ResourceLocalDir, fc.ResourceLocalDir)
	setString(&cfg.LLMProvider, fc.LLMProvider)
	setString(&cfg.LLMModel, fc.LLMModel)
	setString(&cfg.OllamaHost, fc.OllamaHost)
	if fc.AllowAnyOrigin != nil {
		cfg.AllowAnyOrigin = *fc.AllowAnyOrigin
	}
	if fc.ListDefaultLimit != nil {
		cfg.ListDefaultLimit = *fc.ListDefaultLimit
	}

	if v := strings.TrimSpace(fc.ShutdownTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: shutdown_timeout parse error: %w", path, err)
		}
		cfg.ShutdownTimeout = d
	}
	if v := strings.TrimSpace(fc.ResourceFetchTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: resource_fetch_timeout parse error: %w", path, err)
		}
		cfg.ResourceFetchTimeout = d
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

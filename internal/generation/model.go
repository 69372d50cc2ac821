package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mfiorillo/faqbot/internal/config"
)

// NewModel builds the langchaingo model for the configured provider. Mode
// "auto" picks the first provider with credentials and falls back to the
// deterministic mock so the service stays runnable without API keys.
func NewModel(cfg config.Config) (llms.Model, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if provider == "" {
		provider = "auto"
	}

	switch provider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		model, err := openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
		return model, nil

	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		model, err := anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}
		return model, nil

	case "ollama":
		model, err := ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
		return model, nil

	case "mock":
		return NewMockModel(), nil

	case "auto":
		if cfg.OpenAIAPIKey != "" {
			model, err := openai.New(
				openai.WithToken(cfg.OpenAIAPIKey),
				openai.WithModel(cfg.LLMModel),
			)
			if err == nil {
				return model, nil
			}
			log.Warn().Err(err).Msg("openai model unavailable, trying next provider")
		}
		if cfg.AnthropicAPIKey != "" {
			model, err := anthropic.New(
				anthropic.WithToken(cfg.AnthropicAPIKey),
				anthropic.WithModel(cfg.LLMModel),
			)
			if err == nil {
				return model, nil
			}
			log.Warn().Err(err).Msg("anthropic model unavailable, trying next provider")
		}
		log.Warn().Msg("no model provider credentials found, using mock model")
		return NewMockModel(), nil

	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.LLMProvider)
	}
}

// MockModel produces deterministic local replies when no real provider is
// configured.
type MockModel struct{}

func NewMockModel() *MockModel { return &MockModel{} }

func (m *MockModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{Content: buildMockReply(messages)},
		},
	}, nil
}

// Call implements the deprecated single-prompt entry point of llms.Model.
func (m *MockModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func buildMockReply(messages []llms.MessageContent) string {
	var prompt string
	for _, msg := range messages {
		if msg.Role != llms.ChatMessageTypeHuman {
			continue
		}
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt = text.Text
			}
		}
	}

	line := strings.TrimSpace(prompt)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	if line == "" {
		return "mock reply"
	}
	return "mock reply: " + line
}

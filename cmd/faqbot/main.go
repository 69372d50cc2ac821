package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mfiorillo/faqbot/internal/chat"
	"github.com/mfiorillo/faqbot/internal/config"
	"github.com/mfiorillo/faqbot/internal/exchange"
	"github.com/mfiorillo/faqbot/internal/feed"
	"github.com/mfiorillo/faqbot/internal/generation"
	"github.com/mfiorillo/faqbot/internal/httpapi"
	"github.com/mfiorillo/faqbot/internal/observability"
	"github.com/mfiorillo/faqbot/internal/resource"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}
	setupLogging(cfg.LogLevel)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := exchange.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("exchange store init failed")
	}
	defer store.Close()
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, exchange log is in-memory only")
	}

	model, err := generation.NewModel(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("model init failed")
	}

	resources := resource.NewClient(cfg.ResourceProviderURL, cfg.ResourceLocalDir, cfg.ResourceFetchTimeout, metrics)
	generator := generation.NewService(model, metrics)
	hub := feed.NewHub()
	orchestrator := chat.NewOrchestrator(resources, generator, store, metrics, hub)

	api := httpapi.New(cfg, orchestrator, store, resources, hub, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	log.Info().Msg("shutdown complete")
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nfern/imagegate/internal/app"
	"github.com/nfern/imagegate/internal/config"
	"github.com/nfern/imagegate/internal/httpserver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := newLogger(cfg.Logging)

	container, err := app.NewContainer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build container")
	}

	// Startup reachability probe; the store may come up later, so failure is
	// logged rather than fatal.
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if container.Keystore.TestConnection(probeCtx) {
		logger.Info().Str("url", cfg.Keystore.URL).Msg("record store reachable")
	} else {
		logger.Warn().Str("url", cfg.Keystore.URL).Msg("record store unreachable at startup")
	}
	cancel()

	server, err := httpserver.New(container)
	if err != nil {
		logger.Fatal().Err(err).Msg("construct server")
	}

	logger.Info().Str("addr", cfg.Server.ListenAddr).Str("model", cfg.Inference.Model).Msg("gateway listening")
	if err := server.Listen(ctx); err != nil && err != context.Canceled {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if strings.EqualFold(cfg.Format, "console") {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

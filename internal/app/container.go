package app

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nfern/imagegate/internal/adapters/openroute"
	"github.com/nfern/imagegate/internal/auth"
	"github.com/nfern/imagegate/internal/config"
	"github.com/nfern/imagegate/internal/keystore"
	"github.com/nfern/imagegate/internal/observability"
)

// Container aggregates runtime dependencies for handlers. It is built once at
// startup and injected; nothing here is a package-level singleton.
type Container struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Keystore *keystore.Client
	Verifier *auth.Verifier
	Adapter  *openroute.Adapter
	Metrics  *observability.Metrics
}

// NewContainer wires the keystore client, verifier, inference adapter, and
// metrics from configuration.
func NewContainer(cfg *config.Config, logger zerolog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	store, err := keystore.New(keystore.Options{
		BaseURL:    cfg.Keystore.URL,
		Collection: cfg.Keystore.Collection,
		Timeout:    cfg.Keystore.Timeout,
		Logger:     logger.With().Str("component", "keystore").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("build keystore client: %w", err)
	}

	adapter, err := openroute.New(openroute.Options{
		APIKey:  cfg.Inference.APIKey,
		BaseURL: cfg.Inference.BaseURL,
		Referer: cfg.Inference.Referer,
		Title:   cfg.Inference.Title,
		Timeout: cfg.Inference.Timeout,
		Logger:  logger.With().Str("component", "openroute").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("build inference adapter: %w", err)
	}

	return &Container{
		Config:   cfg,
		Logger:   logger,
		Keystore: store,
		Verifier: auth.NewVerifier(store, logger.With().Str("component", "auth").Logger()),
		Adapter:  adapter,
		Metrics:  observability.NewMetrics(),
	}, nil
}

// Package app wires the configured dependencies together and runs the
// subsystems that belong to the selected operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tumodex/perpd/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// the cleanup functions registered during wiring.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the dependencies, starts the goroutines for the configured mode,
// and blocks until the context is cancelled. Cleanup runs on return.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("chain_backend", a.cfg.Chain.Backend),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "full":
		return a.FullMode(ctx, deps)
	case "indexer":
		return a.IndexerMode(ctx, deps)
	case "risk":
		return a.RiskMode(ctx, deps)
	case "funding":
		return a.FundingMode(ctx, deps)
	case "mock":
		return a.MockMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Package app provides the top-level application lifecycle management for the
// auction house. It wires together all dependencies (stores, caches, blob
// storage, the auction service and notifications) and starts the goroutines
// of the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/auctionhouse/internal/config"
)

// App owns the configuration, the logger and the cleanup of everything
// Wire opened.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	cleanup func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	run, ok := a.modes()[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.mu.Lock()
	a.cleanup = cleanup
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "auction house ready",
		slog.String("mode", a.cfg.Mode),
		slog.String("storage", a.cfg.Storage.Driver),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("s3", a.cfg.S3.Enabled),
		slog.String("factory", deps.FactoryAddress.Hex()),
		slog.Int("auctions", deps.Service.AuctionCount(ctx)),
	)
	return run(ctx, deps)
}

func (a *App) modes() map[string]func(context.Context, *Dependencies) error {
	return map[string]func(context.Context, *Dependencies) error{
		"server": a.ServerMode,
		"keeper": a.KeeperMode,
		"full":   a.FullMode,
	}
}

// Close releases everything Wire opened. Later calls are no-ops.
func (a *App) Close() {
	a.mu.Lock()
	cleanup := a.cleanup
	a.cleanup = nil
	a.mu.Unlock()

	if cleanup != nil {
		a.logger.Info("releasing resources")
		cleanup()
	}
}

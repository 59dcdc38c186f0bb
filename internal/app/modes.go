package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/server"
	"github.com/alanyoungcy/auctionhouse/internal/server/handler"
	"github.com/alanyoungcy/auctionhouse/internal/server/ws"
	"github.com/alanyoungcy/auctionhouse/internal/service"
)

// ServerMode serves the HTTP API and the WebSocket event feed.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// KeeperMode runs only the keeper loop: ending expired auctions and
// archiving settled ones.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the HTTP server and the keeper in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	a.startKeeper(ctx, g, deps)
	return g.Wait()
}

func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var archiver domain.Archiver
	if a.cfg.Keeper.ArchiveEnabled && deps.Archiver != nil {
		archiver = deps.Archiver
	}
	keeper := service.NewKeeper(
		deps.Service,
		deps.AuctionStore,
		archiver,
		deps.OperatorAddr,
		a.cfg.Keeper.Interval.Duration,
		a.logger,
	)
	a.logger.InfoContext(ctx, "keeper running",
		slog.String("caller", deps.OperatorAddr.Hex()),
		slog.Duration("interval", a.cfg.Keeper.Interval.Duration),
		slog.Bool("archive", archiver != nil),
	)
	g.Go(func() error {
		return ignoreCanceled(keeper.Run(ctx))
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return ignoreCanceled(hub.Run(ctx))
	})

	svc := deps.Service
	health := handler.NewHealthHandler(deps.FactoryAddress, deps.Clock.Now)
	for name, check := range deps.HealthChecks {
		health.WithCheck(name, check)
	}
	srv := server.NewServer(a.serverConfig(deps), server.Handlers{
		Health:   health,
		Auctions: handler.NewAuctionHandler(svc, a.logger),
		Factory:  handler.NewFactoryHandler(svc, a.logger),
		Accounts: handler.NewAccountHandler(svc, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// serverConfig maps the [server] section onto the HTTP server settings.
func (a *App) serverConfig(deps *Dependencies) server.Config {
	cfg := server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RequireSignatures:  a.cfg.Server.RequireSignatures,
		SignatureMaxSkew:   a.cfg.Server.SignatureMaxSkew.Duration,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}
	if deps.ReplayGuard != nil {
		cfg.Replay = deps.ReplayGuard
	}
	return cfg
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/pricebet/internal/crypto"
	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/alanyoungcy/pricebet/internal/server"
	"github.com/alanyoungcy/pricebet/internal/server/handler"
	"github.com/alanyoungcy/pricebet/internal/server/middleware"
	"github.com/alanyoungcy/pricebet/internal/server/ws"
	"github.com/alanyoungcy/pricebet/internal/service"
)

// ServerMode serves the HTTP API and WebSocket event stream.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, svc *service.SettlementService) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startHTTPServer(ctx, g, deps, svc); err != nil {
		return err
	}
	return ignoreCanceled(g.Wait())
}

// ResolverMode runs the background sweeper that resolves expired markets and
// archives settled ones.
func (a *App) ResolverMode(ctx context.Context, deps *Dependencies, svc *service.SettlementService) error {
	a.logger.InfoContext(ctx, "starting resolver mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startSweeper(ctx, g, deps, svc)
	return ignoreCanceled(g.Wait())
}

// FullMode runs the API server and the sweeper in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svc *service.SettlementService) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startSweeper(ctx, g, deps, svc)
	if err := a.startHTTPServer(ctx, g, deps, svc); err != nil {
		return err
	}
	return ignoreCanceled(g.Wait())
}

func (a *App) startSweeper(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.SettlementService) {
	sweeper := service.NewSweeper(svc, deps.LockManager, service.SweeperConfig{
		Resolver: common.HexToAddress(a.cfg.Engine.ResolverAddress),
		Interval: a.cfg.Resolver.Interval.Duration,
		Batch:    a.cfg.Resolver.Batch,
		Archive:  a.cfg.Resolver.Archive,
	}, a.logger)
	g.Go(func() error {
		return sweeper.Run(ctx)
	})
}

// startHTTPServer adds the HTTP server and WebSocket hub to g. The hub reads
// events from the signal bus when one is configured so that clients see
// events committed by every instance; otherwise it reads this process's
// events directly.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.SettlementService) error {
	events, err := a.eventSource(ctx, g, deps, svc)
	if err != nil {
		return err
	}
	hub := ws.NewHub(a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx, events)
	})

	var stream handler.EventSource
	if deps.SignalBus != nil {
		stream = svc.Events()
	}
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Health, a.logger),
		Markets:   handler.NewMarketHandler(svc, a.logger),
		Positions: handler.NewPositionHandler(svc, a.logger),
		Feeds:     handler.NewFeedHandler(svc, a.logger),
		Ledger:    handler.NewLedgerHandler(svc, a.logger),
		Events:    handler.NewEventHandler(svc, stream, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		Signature: middleware.SignatureConfig{
			Domain:  crypto.NewDomain(a.cfg.Server.ChainID),
			MaxSkew: a.cfg.Server.MaxSkew.Duration,
			Nonces:  deps.Nonces,
		},
		RateLimit:  a.cfg.Server.RateLimit,
		RateWindow: a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return nil
}

func (a *App) eventSource(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.SettlementService) (<-chan domain.Event, error) {
	if deps.SignalBus != nil {
		return service.BusEvents(ctx, deps.SignalBus, a.logger)
	}
	events, unsubscribe := svc.Events().Subscribe(256)
	g.Go(func() error {
		<-ctx.Done()
		unsubscribe()
		return nil
	})
	a.logger.InfoContext(ctx, "no signal bus configured; websocket clients see local events only",
		slog.String("mode", a.cfg.Mode),
	)
	return events, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

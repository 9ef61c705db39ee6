// Package app runs pricebet: it wires the store, caches, event bus, oracle,
// archive and notifiers together and starts the goroutines of the selected
// operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/pricebet/internal/config"
	"github.com/alanyoungcy/pricebet/internal/service"
)

type modeFunc func(a *App, ctx context.Context, deps *Dependencies, svc *service.SettlementService) error

// modes maps each operating mode to its entry point.
var modes = map[string]modeFunc{
	"server":   (*App).ServerMode,
	"resolver": (*App).ResolverMode,
	"full":     (*App).FullMode,
}

// App owns the configuration and the cleanup of everything Run wired.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	started time.Time

	mu      sync.Mutex
	cleanup func()
}

// New creates an App.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled or a subsystem fails.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.started = time.Now()
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", mode),
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	a.mu.Lock()
	a.cleanup = cleanup
	a.mu.Unlock()

	svc, err := NewSettlementService(a.cfg, deps, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return run(a, ctx, deps, svc)
}

// Close releases what Run wired. Later calls do nothing.
func (a *App) Close() {
	a.mu.Lock()
	cleanup := a.cleanup
	a.cleanup = nil
	a.mu.Unlock()
	if cleanup == nil {
		return
	}
	cleanup()
	a.logger.Info("stopped", slog.Duration("uptime", time.Since(a.started).Round(time.Second)))
}

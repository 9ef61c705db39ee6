package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/alanyoungcy/pricebet/internal/server/handler"
	"github.com/alanyoungcy/pricebet/internal/server/middleware"
	"github.com/alanyoungcy/pricebet/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables the API key gate
	Signature   middleware.SignatureConfig

	// RateLimit is requests per RateWindow per caller; zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Positions *handler.PositionHandler
	Feeds     *handler.FeedHandler
	Ledger    *handler.LedgerHandler
	Events    *handler.EventHandler
}

// Server is the HTTP + WebSocket API for the settlement service.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain:
// CORS, logging, API key, request signature, rate limit. The health check
// skips the API key, signature and rate limit layers.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, wrapped http.Handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	api := http.NewServeMux()

	// Markets.
	api.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	api.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	api.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	api.HandleFunc("POST /api/markets/{id}/resolve", handlers.Markets.Resolve)
	api.HandleFunc("POST /api/markets/{id}/fee", handlers.Markets.WithdrawFee)
	api.HandleFunc("GET /api/markets/{id}/entries", handlers.Markets.ListEntries)
	api.HandleFunc("GET /api/markets/{id}/archive", handlers.Markets.GetArchive)
	api.HandleFunc("GET /api/markets/{id}/audit", handlers.Events.MarketAudit)

	// Positions.
	api.HandleFunc("GET /api/markets/{id}/positions", handlers.Markets.ListPositions)
	api.HandleFunc("POST /api/markets/{id}/positions", handlers.Positions.OpenPosition)
	api.HandleFunc("GET /api/markets/{id}/positions/{user}", handlers.Positions.GetPosition)
	api.HandleFunc("POST /api/markets/{id}/bets", handlers.Positions.PlaceBet)
	api.HandleFunc("POST /api/markets/{id}/cancel", handlers.Positions.CancelBet)
	api.HandleFunc("POST /api/markets/{id}/claim", handlers.Positions.Claim)

	// Feeds.
	api.HandleFunc("GET /api/feeds", handlers.Feeds.ListFeeds)
	api.HandleFunc("POST /api/feeds", handlers.Feeds.RegisterFeed)
	api.HandleFunc("POST /api/feeds/{id}/price", handlers.Feeds.PostPrice)

	// Ledger.
	api.HandleFunc("GET /api/ledger/{account}", handlers.Ledger.Balance)
	api.HandleFunc("POST /api/ledger/deposit", handlers.Ledger.Deposit)

	// Events and audit.
	api.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	api.HandleFunc("GET /api/audit", handlers.Events.ListAudit)

	if wsHub != nil {
		api.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = api
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Signature(cfg.Signature)(h)
	h = middleware.APIKey(cfg.APIKey)(h)

	root := http.NewServeMux()
	root.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	root.Handle("/", h)

	var out http.Handler = root
	out = middleware.Logging(logger)(out)
	out = middleware.CORS(cfg.CORSOrigins)(out)
	return out
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

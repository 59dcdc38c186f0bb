// Package server exposes the auction house over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/server/handler"
	"github.com/alanyoungcy/auctionhouse/internal/server/middleware"
	"github.com/alanyoungcy/auctionhouse/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port              int
	CORSOrigins       []string
	APIKey            string // if empty, authentication is disabled
	RequireSignatures bool
	SignatureMaxSkew  time.Duration
	// Replay is shared across replicas when set; nil keeps it in process.
	Replay middleware.ReplayGuard
	// RateLimitPerMinute applies per client IP when a limiter is given.
	RateLimitPerMinute int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Auctions *handler.AuctionHandler
	Factory  *handler.FactoryHandler
	Accounts *handler.AccountHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting, caller
// identity) and attaches the WebSocket hub. limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Registry endpoints.
	mux.HandleFunc("POST /api/auctions", handlers.Auctions.CreateAuction)
	mux.HandleFunc("GET /api/auctions", handlers.Auctions.ListAuctions)
	mux.HandleFunc("GET /api/auctions/count", handlers.Auctions.CountAuctions)
	mux.HandleFunc("GET /api/factory", handlers.Factory.GetFactory)
	mux.HandleFunc("GET /api/factory/auctions/{index}", handlers.Factory.GetAuctionAt)
	mux.HandleFunc("GET /api/factory/events", handlers.Factory.ListEvents)

	// Auction endpoints.
	mux.HandleFunc("GET /api/auctions/{address}", handlers.Auctions.GetAuction)
	mux.HandleFunc("POST /api/auctions/{address}/bid", handlers.Auctions.Bid)
	mux.HandleFunc("POST /api/auctions/{address}/end", handlers.Auctions.EndAuction)
	mux.HandleFunc("POST /api/auctions/{address}/withdraw", handlers.Auctions.Withdraw)
	mux.HandleFunc("POST /api/auctions/{address}/owner-withdraw", handlers.Auctions.OwnerWithdraw)
	mux.HandleFunc("GET /api/auctions/{address}/winner", handlers.Auctions.GetWinner)
	mux.HandleFunc("GET /api/auctions/{address}/events", handlers.Auctions.ListEvents)
	mux.HandleFunc("GET /api/auctions/{address}/pending/{account}", handlers.Auctions.PendingReturn)

	// Account endpoints.
	mux.HandleFunc("GET /api/accounts/{address}/balance", handlers.Accounts.GetBalance)
	mux.HandleFunc("POST /api/accounts/{address}/faucet", handlers.Accounts.Faucet)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	h = middleware.Caller(middleware.CallerConfig{
		RequireSignatures: cfg.RequireSignatures,
		MaxSkew:           cfg.SignatureMaxSkew,
		Replay:            cfg.Replay,
	})(h)

	if limiter != nil && cfg.RateLimitPerMinute > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerMinute, time.Minute)(h)
	}

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

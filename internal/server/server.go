// Package server exposes the wagering platform over HTTP and WebSocket:
// market administration, stake placement and exit, fast rounds, and account
// ledgers.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/poolbet/poolbet/internal/domain"
	"github.com/poolbet/poolbet/internal/server/handler"
	"github.com/poolbet/poolbet/internal/server/middleware"
	"github.com/poolbet/poolbet/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per RateWindow per client IP; 0 disables
	RateWindow  time.Duration
	RateLimiter domain.RateLimiter
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Stakes   *handler.StakeHandler
	Rounds   *handler.RoundHandler
	Accounts *handler.AccountHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, optional rate limiting) and
// attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market endpoints.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/close", handlers.Markets.CloseMarket)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Markets.ResolveMarket)
	mux.HandleFunc("GET /api/markets/{id}/stakes", handlers.Markets.ListMarketStakes)
	mux.HandleFunc("GET /api/markets/{id}/resolution", handlers.Markets.GetResolution)

	// Stake endpoints.
	mux.HandleFunc("POST /api/stakes", handlers.Stakes.PlaceStake)
	mux.HandleFunc("GET /api/stakes", handlers.Stakes.ListStakes)
	mux.HandleFunc("GET /api/stakes/{id}", handlers.Stakes.GetStake)
	mux.HandleFunc("POST /api/stakes/{id}/cancel", handlers.Stakes.CancelStake)
	mux.HandleFunc("GET /api/stakes/{id}/quote", handlers.Stakes.QuoteCashout)
	mux.HandleFunc("POST /api/stakes/{id}/cashout", handlers.Stakes.CashoutStake)

	// Fast round endpoints.
	mux.HandleFunc("GET /api/rounds", handlers.Rounds.ListRounds)
	mux.HandleFunc("GET /api/rounds/current", handlers.Rounds.CurrentRound)
	mux.HandleFunc("GET /api/rounds/{id}", handlers.Rounds.GetRound)
	mux.HandleFunc("POST /api/rounds/{id}/stakes", handlers.Rounds.PlaceRoundStake)
	mux.HandleFunc("GET /api/rounds/{id}/stakes", handlers.Rounds.ListRoundStakes)
	mux.HandleFunc("GET /api/rounds/{id}/resolution", handlers.Rounds.GetRoundResolution)

	// Account endpoints.
	mux.HandleFunc("POST /api/accounts/{id}/deposit", handlers.Accounts.Deposit)
	mux.HandleFunc("GET /api/accounts/{id}/balance", handlers.Accounts.Balance)
	mux.HandleFunc("GET /api/accounts/{id}/ledger", handlers.Accounts.History)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	if cfg.RateLimit > 0 && cfg.RateLimiter != nil {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, window)(h)
	}

	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
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

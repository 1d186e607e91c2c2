package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/domalend/liquidator/internal/domain"
	"github.com/domalend/liquidator/internal/server/handler"
	"github.com/domalend/liquidator/internal/server/middleware"
	"github.com/domalend/liquidator/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimiter enables per-client request limiting when set.
	RateLimiter     domain.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Status *handler.StatusHandler
	Loans  *handler.LoanHandler
}

// Server is the headless HTTP + WebSocket API server for the liquidator.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Operational status.
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Loan tracking and liquidation endpoints. Order matters: the literal
	// segments must be registered before the {loanId} wildcard.
	mux.HandleFunc("GET /api/loans/pending", handlers.Loans.ListPending)
	mux.HandleFunc("GET /api/loans/liquidations", handlers.Loans.ListLiquidations)
	mux.HandleFunc("GET /api/loans/stats", handlers.Loans.GetStats)
	mux.HandleFunc("GET /api/loans/{loanId}", handlers.Loans.GetLoan)
	mux.HandleFunc("POST /api/loans/{loanId}/liquidate", handlers.Loans.TriggerLiquidation)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	// Auth (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Per-client rate limiting, when a limiter is configured.
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateLimitWindow)(h)
	}

	// Request logging.
	h = middleware.Logging(logger)(h)

	// CORS, outermost so preflights never hit auth.
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


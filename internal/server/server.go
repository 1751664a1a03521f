// Package server exposes the ledger over HTTP and WebSocket. All state
// mutations go through the service layer; the server is a thin routing,
// auth, and encoding shell around it.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openwager/poolhouse/internal/domain"
	"github.com/openwager/poolhouse/internal/server/handler"
	"github.com/openwager/poolhouse/internal/server/middleware"
	"github.com/openwager/poolhouse/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per window per client IP; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Ledger  *handler.LedgerHandler
	Markets *handler.MarketHandler
	Bets    *handler.BetHandler
	Audit   *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API for the wagering ledger.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. The health check
// stays outside the auth wall so load balancers can probe without a key;
// everything else sits behind auth, rate limiting, logging, and CORS.
// limiter may be nil to disable rate limiting regardless of config.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	api := http.NewServeMux()

	// Ledger endpoints.
	api.HandleFunc("GET /api/ledger", handlers.Ledger.GetInfo)
	api.HandleFunc("POST /api/ledger/reporter", handlers.Ledger.SetReporter)

	// Market endpoints.
	api.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	api.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	api.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	api.HandleFunc("POST /api/markets/{id}/result", handlers.Markets.ReportResult)
	api.HandleFunc("GET /api/markets/{id}/bets", handlers.Markets.ListMarketBets)
	api.HandleFunc("GET /api/markets/{id}/bets/{bettor}", handlers.Bets.GetBet)

	// Bet endpoints.
	api.HandleFunc("POST /api/bets", handlers.Bets.PlaceBet)
	api.HandleFunc("GET /api/bets", handlers.Bets.ListBets)
	api.HandleFunc("POST /api/claims", handlers.Bets.ClaimWinnings)

	// Audit trail.
	api.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)

	// WebSocket event feed.
	if wsHub != nil {
		api.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	root.Handle("/", middleware.Auth(cfg.APIKey)(api))

	var h http.Handler = root
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
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

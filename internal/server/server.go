// Package server exposes the venue over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradevenue/internal/domain"
	"github.com/alanyoungcy/tradevenue/internal/server/handler"
	"github.com/alanyoungcy/tradevenue/internal/server/middleware"
	"github.com/alanyoungcy/tradevenue/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Limiter, when non-nil, caps each client at RateLimit requests per
	// RateWindow.
	Limiter    domain.RateLimiter
	RateLimit  int
	RateWindow time.Duration

	// Signatures, when non-nil, requires callers to sign their requests.
	Signatures *middleware.SignatureConfig
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// A nil engine handler leaves its routes unregistered.
type Handlers struct {
	Health      *handler.HealthHandler
	Marketplace *handler.MarketplaceHandler
	Auctions    *handler.AuctionHandler
	Exchange    *handler.ExchangeHandler
	Volume      *handler.VolumeHandler
	Fees        *handler.FeeHandler
	// Metrics serves the Prometheus registry.
	Metrics http.Handler
}

// Server is the HTTP + WebSocket API server of the venue.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered. Health,
// readiness and metrics bypass authentication and rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, wsHub, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the full handler tree including middleware.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	api := http.NewServeMux()

	if h := handlers.Marketplace; h != nil {
		api.HandleFunc("GET /api/listings", h.ListListings)
		api.HandleFunc("GET /api/listings/{asset...}", h.GetListing)
		api.HandleFunc("POST /api/listings", h.CreateListing)
		api.HandleFunc("DELETE /api/listings/{asset...}", h.DeleteListing)
		api.HandleFunc("POST /api/purchases", h.Buy)
	}

	if h := handlers.Auctions; h != nil {
		api.HandleFunc("GET /api/auctions", h.ListAuctions)
		api.HandleFunc("GET /api/auctions/{asset...}", h.GetAuction)
		api.HandleFunc("POST /api/auctions", h.CreateAuction)
		api.HandleFunc("POST /api/auctions/end", h.EndAuction)
		api.HandleFunc("POST /api/bids", h.Bid)
	}

	if h := handlers.Exchange; h != nil {
		api.HandleFunc("GET /api/pool", h.GetPool)
		api.HandleFunc("GET /api/pool/quote", h.Quote)
		api.HandleFunc("POST /api/pool/swap", h.Swap)
		api.HandleFunc("POST /api/pool/liquidity", h.AddLiquidity)
		api.HandleFunc("POST /api/pool/liquidity/remove", h.RemoveLiquidity)
	}

	if h := handlers.Volume; h != nil {
		api.HandleFunc("GET /api/volume", h.ListAssets)
		api.HandleFunc("GET /api/volume/{asset...}", h.GetVolume)
		api.HandleFunc("GET /api/trades/{asset...}", h.ListTrades)
	}

	if h := handlers.Fees; h != nil {
		api.HandleFunc("GET /api/fees/{engine}", h.GetSchedule)
		api.HandleFunc("GET /api/fees/{engine}/rate", h.ResolveRate)
		api.HandleFunc("PUT /api/fees/{engine}/tiers/{tier}", h.SetRate)
		api.HandleFunc("PUT /api/fees/{engine}/collector", h.SetCollector)
	}

	if wsHub != nil {
		api.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var protected http.Handler = api
	if cfg.Signatures != nil {
		protected = middleware.Signature(*cfg.Signatures)(protected)
	}
	protected = middleware.Auth(cfg.APIKey)(protected)
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		protected = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateWindow)(protected)
	}

	root := http.NewServeMux()
	if handlers.Health != nil {
		root.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
		root.HandleFunc("GET /api/ready", handlers.Health.Ready)
	}
	if handlers.Metrics != nil {
		root.Handle("GET /metrics", handlers.Metrics)
	}
	root.Handle("/", protected)

	var h http.Handler = root
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
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

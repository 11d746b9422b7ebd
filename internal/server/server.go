package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/swapguard/internal/domain"
	"github.com/alanyoungcy/swapguard/internal/server/handler"
	"github.com/alanyoungcy/swapguard/internal/server/middleware"
	"github.com/alanyoungcy/swapguard/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit requests per RateWindow per client IP. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Prices  *handler.PriceHandler
	Risk    *handler.RiskHandler
	Swaps   *handler.SwapHandler
	Wallets *handler.WalletHandler
	Metrics http.Handler // optional
}

// publicPaths skip API key auth. Browsers cannot set headers on websocket
// upgrades.
var publicPaths = []string{"/api/health", "/metrics", "/ws"}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter may be nil, which disables rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	routes(mux, handlers, wsHub)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, publicPaths...)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
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
		mux:        mux,
		logger:     logger.With(slog.String("component", "server")),
	}
}

func routes(mux *http.ServeMux, h Handlers, wsHub *ws.Hub) {
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/prices", h.Prices.List)
	mux.HandleFunc("GET /api/prices/exchange-rate", h.Prices.ExchangeRate)
	mux.HandleFunc("GET /api/prices/{symbol}", h.Prices.Get)

	mux.HandleFunc("POST /api/risk/analyze", h.Risk.Analyze)
	mux.HandleFunc("POST /api/risk/batch", h.Risk.Batch)

	mux.HandleFunc("POST /api/swaps/quote", h.Swaps.Quote)
	mux.HandleFunc("POST /api/swaps", h.Swaps.Submit)
	mux.HandleFunc("GET /api/swaps", h.Swaps.List)
	mux.HandleFunc("GET /api/swaps/stats", h.Swaps.Stats)
	mux.HandleFunc("GET /api/swaps/{id}", h.Swaps.Get)

	mux.HandleFunc("POST /api/wallet/connect", h.Wallets.Connect)
	mux.HandleFunc("POST /api/wallet/disconnect", h.Wallets.Disconnect)
	mux.HandleFunc("GET /api/wallet", h.Wallets.Get)
	mux.HandleFunc("POST /api/wallet/fund", h.Wallets.Fund)
	mux.HandleFunc("POST /api/wallet/validate-address", h.Wallets.ValidateAddress)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
}

// Handler returns the fully wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/clerk/clerk-sdk-go/v2"

	"github.com/filipexyz/authpolicy/internal/config"
	"github.com/filipexyz/authpolicy/internal/handler"
	"github.com/filipexyz/authpolicy/internal/metrics"
	"github.com/filipexyz/authpolicy/internal/middleware"
	"github.com/filipexyz/authpolicy/internal/policy"
	"github.com/filipexyz/authpolicy/internal/websocket"
)

// Deps are the components the HTTP API serves.
type Deps struct {
	Policies *policy.Service
	Hub      *websocket.Hub
	Metrics  metrics.GatewayMetrics
	// Checks are probed by /ready.
	Checks []handler.Check
}

// Server is the HTTP server.
type Server struct {
	cfg         *config.Config
	deps        Deps
	rateLimiter *middleware.RateLimiter
	server      *http.Server
}

// New creates a new Server. The hub must already be running.
func New(cfg *config.Config, deps Deps) *Server {
	initClerk(cfg)

	rlConfig := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitPerSec > 0 {
		rlConfig.Manage.PerSec = float64(cfg.RateLimitPerSec)
	}
	if cfg.RateLimitBurst > 0 {
		rlConfig.Manage.Burst = cfg.RateLimitBurst
	}
	if cfg.EvaluateRatePerSec > 0 {
		rlConfig.Evaluate.PerSec = float64(cfg.EvaluateRatePerSec)
	}
	if cfg.EvaluateRateBurst > 0 {
		rlConfig.Evaluate.Burst = cfg.EvaluateRateBurst
	}

	s := &Server{
		cfg:         cfg,
		deps:        deps,
		rateLimiter: middleware.NewRateLimiter(rlConfig),
	}
	s.server = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: s.routes(),
	}
	return s
}

func initClerk(cfg *config.Config) {
	if cfg.AuthMode != config.AuthModeClerk {
		slog.Info("Running with API key authentication only", "api_keys", len(cfg.APIKeys))
		return
	}
	clerk.SetKey(cfg.ClerkSecretKey)
	slog.Info("Clerk authentication enabled")
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Serve starts the HTTP server on the given listener.
func (s *Server) Serve(l net.Listener) error {
	return s.server.Serve(l)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	s.rateLimiter.Stop()
	return err
}

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/filipexyz/authpolicy/internal/config"
	"github.com/filipexyz/authpolicy/internal/handler"
	"github.com/filipexyz/authpolicy/internal/metrics"
	"github.com/filipexyz/authpolicy/internal/middleware"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.deps.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Class"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health checks (no auth)
	healthHandler := handler.NewHealthHandler(s.deps.Checks...)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", metrics.Handler())

	auth := middleware.NewAuth(s.cfg.APIKeys, s.cfg.AuthMode == config.AuthModeClerk)

	policyHandler := handler.NewPolicyHandler(s.deps.Policies, s.cfg.MaxBodyBytes)
	evaluateHandler := handler.NewEvaluateHandler(s.deps.Policies, s.cfg.MaxBodyBytes)
	conflictHandler := handler.NewConflictHandler(s.deps.Policies)
	auditHandler := handler.NewAuditHandler(s.deps.Policies)
	feedHandler := handler.NewFeedHandler(s.deps.Hub, s.cfg.CORSOrigins)

	// WebSocket endpoint at root; browsers pass the token as ?token=
	r.Group(func(r chi.Router) {
		r.Use(middleware.QueryParamAuth)
		r.Use(auth.Handler)
		r.Get("/ws", feedHandler.Subscribe)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Handler)

		r.With(middleware.RateLimit(s.rateLimiter, middleware.ClassEvaluate)).Post("/evaluate", evaluateHandler.Evaluate)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.rateLimiter, middleware.ClassManage))

			// Policies
			r.Get("/policies", policyHandler.List)
			r.Post("/policies", policyHandler.Create)
			r.Get("/policies/{id}", policyHandler.Get)
			r.Patch("/policies/{id}", policyHandler.Commit)
			r.Post("/policies/{id}/transition", policyHandler.Transition)
			r.Get("/policies/{id}/versions", policyHandler.Versions)
			r.Get("/policies/{id}/audit", policyHandler.Audit)

			r.Get("/conflicts", conflictHandler.List)
			r.Get("/audit", auditHandler.List)
		})
	})

	return r
}

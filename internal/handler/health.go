package handler

import (
	"context"
	"net/http"
	"time"
)

// Check is a named readiness probe of one dependency.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	checks []Check
}

// NewHealthHandler creates a new HealthHandler over the configured dependencies.
func NewHealthHandler(checks ...Check) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Health is a simple liveness probe.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready is a readiness probe that checks dependencies.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{"status": "ready"}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			response["status"] = "not_ready"
			response[c.Name] = "disconnected"
			status = http.StatusServiceUnavailable
			continue
		}
		response[c.Name] = "connected"
	}

	writeJSON(w, status, response)
}

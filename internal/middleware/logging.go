package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/filipexyz/authpolicy/internal/metrics"
)

// Logger is a request logging middleware using slog. When m is non-nil each
// request is also observed under its chi route pattern.
func Logger(m metrics.GatewayMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			r = r.WithContext(context.WithValue(r.Context(), slotKey, &principalSlot{}))

			defer func() {
				elapsed := time.Since(start)
				slog.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration_ms", elapsed.Milliseconds(),
					"bytes", ww.BytesWritten(),
					"request_id", middleware.GetReqID(r.Context()),
					"actor", Actor(r.Context()),
				)
				if m != nil {
					route := r.URL.Path
					if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
						route = rc.RoutePattern()
					}
					m.ObserveRequest(r.Method, route, strconv.Itoa(ww.Status()), elapsed.Seconds())
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

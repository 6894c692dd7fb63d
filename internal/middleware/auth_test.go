package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthAPIKey(t *testing.T) {
	auth := NewAuth([]string{"ak_live_secret", " "}, false)

	var seen *Principal
	h := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetPrincipal(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"valid bearer", "Bearer ak_live_secret", "", http.StatusOK},
		{"lowercase scheme", "bearer ak_live_secret", "", http.StatusOK},
		{"query token", "", "ak_live_secret", http.StatusOK},
		{"wrong key", "Bearer nope", "", http.StatusUnauthorized},
		{"basic scheme", "Basic ak_live_secret", "", http.StatusUnauthorized},
		{"missing", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			target := "/api/v1/policies"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest("GET", target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
			if tt.want == http.StatusOK {
				if seen == nil || seen.Kind != PrincipalAPIKey || len(seen.Actor) != len("api_key:")+8 {
					t.Fatalf("unexpected principal %+v", seen)
				}
			}
		})
	}
}

func TestLoggerSeesActorSetLater(t *testing.T) {
	auth := NewAuth([]string{"k"}, false)
	var fromLogger string
	inner := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h := Logger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner.ServeHTTP(w, r)
		fromLogger = Actor(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer k")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if fromLogger == "anonymous" || fromLogger == "" {
		t.Fatalf("outer middleware should see the authenticated actor, got %q", fromLogger)
	}
}

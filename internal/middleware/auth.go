package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/clerk/clerk-sdk-go/v2"
	clerkhttp "github.com/clerk/clerk-sdk-go/v2/http"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	slotKey      contextKey = "principalSlot"
)

// principalSlot lets middleware that runs before Auth (request logging) see the caller.
type principalSlot struct{ p *Principal }

// PrincipalKind tells how a caller authenticated.
type PrincipalKind string

const (
	PrincipalAPIKey PrincipalKind = "api_key"
	PrincipalUser   PrincipalKind = "user"
)

// Principal is the authenticated caller. Actor is what lands in audit metadata.
type Principal struct {
	Kind  PrincipalKind
	Actor string
	OrgID string
}

// Auth accepts static API keys and, when enabled, Clerk session tokens.
// API key takes precedence if both are present.
type Auth struct {
	keys  map[string]string // sha256(key) -> actor
	clerk bool
}

// NewAuth creates the auth middleware. Keys are held only as hashes; each key's actor
// is "api_key:" plus the first 8 characters of the hash.
func NewAuth(apiKeys []string, clerkEnabled bool) *Auth {
	a := &Auth{keys: make(map[string]string, len(apiKeys)), clerk: clerkEnabled}
	for _, k := range apiKeys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		h := hashKey(k)
		a.keys[h] = "api_key:" + h[:8]
	}
	return a
}

// Handler returns the middleware handler.
func (a *Auth) Handler(next http.Handler) http.Handler {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)

		// 1. Try API key
		if token != "" {
			if actor, ok := a.lookup(token); ok {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), &Principal{Kind: PrincipalAPIKey, Actor: actor})))
				return
			}
		}

		// 2. Try Clerk session
		if a.clerk {
			if claims, ok := clerk.SessionClaimsFromContext(r.Context()); ok && claims.Subject != "" {
				p := &Principal{Kind: PrincipalUser, Actor: "user:" + claims.Subject, OrgID: claims.ActiveOrganizationID}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
				return
			}
		}

		// 3. No valid auth
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	})
	if !a.clerk {
		return h
	}
	// Verifies the session token when present; leaves the request untouched otherwise.
	return clerkhttp.WithHeaderAuthorization()(h)
}

func (a *Auth) lookup(token string) (string, bool) {
	h := hashKey(token)
	for stored, actor := range a.keys {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(h)) == 1 {
			return actor, true
		}
	}
	return "", false
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	if slot, ok := ctx.Value(slotKey).(*principalSlot); ok {
		slot.p = p
	}
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the authenticated caller from the request context.
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey).(*Principal); ok {
		return p
	}
	if slot, ok := ctx.Value(slotKey).(*principalSlot); ok {
		return slot.p
	}
	return nil
}

// Actor returns the audit actor of the caller, or "anonymous".
func Actor(ctx context.Context) string {
	if p := GetPrincipal(ctx); p != nil {
		return p.Actor
	}
	return "anonymous"
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		// Also check query param for WebSocket
		return r.URL.Query().Get("token")
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return parts[1]
}

// QueryParamAuth moves query param 'token' to the Authorization header
// for WebSocket connections so Clerk middleware can process it.
func QueryParamAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			if token := r.URL.Query().Get("token"); token != "" {
				r.Header.Set("Authorization", "Bearer "+token)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

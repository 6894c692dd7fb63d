// Package idpsync pushes committed policies to the external identity provider and
// records the outcome on each policy's sync marker.
package idpsync

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/filipexyz/authpolicy/internal/domain"
	"github.com/filipexyz/authpolicy/internal/security"
)

// Provider receives policy definitions.
type Provider interface {
	Push(ctx context.Context, p *domain.AuthPolicy) error
}

// Noop accepts every push. It is used when no identity provider is configured.
type Noop struct{}

func (Noop) Push(context.Context, *domain.AuthPolicy) error { return nil }

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	BaseURL      string
	Secret       string
	Timeout      time.Duration
	RatePerSec   float64
	Burst        int
	AllowPrivate bool
}

// HTTPProvider speaks to a Keycloak-style admin endpoint: each policy is PUT to
// {base}/auth-policies/{id} and the body is signed with HMAC-SHA256.
type HTTPProvider struct {
	baseURL string
	secret  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPProvider validates the endpoint and builds a provider.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	guard := security.EndpointPolicy{AllowPrivate: cfg.AllowPrivate}
	if err := guard.CheckEndpoint(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("identity provider endpoint: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  cfg.Secret,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}, nil
}

// Payload is the document sent to the identity provider.
type Payload struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Type       domain.PolicyType `json:"type"`
	Status     domain.Status     `json:"status"`
	Version    int               `json:"version"`
	Scope      domain.Scope      `json:"scope"`
	Conditions domain.Conditions `json:"conditions"`
	Rules      domain.Rules      `json:"rules"`
	Priority   int               `json:"priority"`
	Rollout    domain.Rollout    `json:"rollout"`
}

func payloadFor(p *domain.AuthPolicy) Payload {
	return Payload{
		ID:         p.ID,
		Name:       p.Name,
		Type:       p.Type,
		Status:     p.Status,
		Version:    p.Version,
		Scope:      p.Scope,
		Conditions: p.Conditions,
		Rules:      p.Rules,
		Priority:   p.Priority,
		Rollout:    p.Rollout,
	}
}

func (h *HTTPProvider) Push(ctx context.Context, p *domain.AuthPolicy) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payloadFor(p))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, h.baseURL+"/auth-policies/"+p.ID, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Authpolicy-Version", fmt.Sprint(p.Version))
	if h.secret != "" {
		req.Header.Set("X-Authpolicy-Signature", Sign(body, h.secret))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
}

// Sign returns the hex HMAC-SHA256 of body, prefixed "sha256=".
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

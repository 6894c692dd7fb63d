package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/filipexyz/authpolicy/internal/domain"
)

func newCache(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	c, err := New("redis://" + srv.Addr())
	if err != nil {
		t.Fatalf("cache init: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, srv
}

func policy(id string, ttl int) *domain.AuthPolicy {
	return &domain.AuthPolicy{
		ID:      id,
		Name:    id,
		Version: 3,
		Type:    domain.TypeMFA,
		Status:  domain.StatusActive,
		Scope:   domain.Scope{Kind: domain.ScopeGlobal},
		Rules:   domain.MFARules{Required: true, Methods: []string{"totp"}},
		Rollout: domain.FullRollout(),
		Integration: domain.Integration{
			CacheKey:        "authpolicy:" + id,
			CacheTTLSeconds: ttl,
		},
	}
}

func TestPutGetEvict(t *testing.T) {
	c, srv := newCache(t)
	ctx := context.Background()

	p := policy("p1", 300)
	if err := c.Put(ctx, p); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ttl := srv.TTL("authpolicy:p1"); ttl != 300*time.Second {
		t.Fatalf("expected 300s ttl, got %v", ttl)
	}

	got, err := c.Get(ctx, "authpolicy:p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 3 {
		t.Fatalf("expected version 3, got %d", got.Version)
	}
	if r, ok := got.Rules.(domain.MFARules); !ok || !r.Required {
		t.Fatalf("rules not decoded: %#v", got.Rules)
	}

	active, err := c.Active(ctx, domain.TypeMFA)
	if err != nil || len(active) != 1 {
		t.Fatalf("expected 1 active policy, got %d (%v)", len(active), err)
	}

	if err := c.Evict(ctx, p); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if _, err := c.Get(ctx, "authpolicy:p1"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss after evict, got %v", err)
	}
	active, _ = c.Active(ctx, domain.TypeMFA)
	if len(active) != 0 {
		t.Fatalf("expected empty index, got %d", len(active))
	}
}

func TestActivePrunesExpired(t *testing.T) {
	c, srv := newCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, policy("short", 10)); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, policy("long", 600)); err != nil {
		t.Fatal(err)
	}
	srv.FastForward(30 * time.Second)

	active, err := c.Active(ctx, domain.TypeMFA)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0].ID != "long" {
		t.Fatalf("expected only the long-lived policy, got %d", len(active))
	}
	if members, _ := srv.SMembers("authpolicy:active:mfa"); len(members) != 1 {
		t.Fatalf("expired key should be pruned from the index, got %v", members)
	}
}

func TestPutRequiresKey(t *testing.T) {
	c, _ := newCache(t)
	p := policy("p1", 60)
	p.Integration.CacheKey = ""
	if err := c.Put(context.Background(), p); err == nil {
		t.Fatal("expected error for missing cache key")
	}
}

type staticSource struct {
	policies []*domain.AuthPolicy
}

func (s staticSource) List(_ context.Context, filter domain.Filter) ([]*domain.AuthPolicy, error) {
	var out []*domain.AuthPolicy
	for _, p := range s.policies {
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestRefresherKeepsActivePoliciesCached(t *testing.T) {
	c, srv := newCache(t)
	ctx := context.Background()

	active := policy("active", 300)
	inactive := policy("inactive", 300)
	inactive.Status = domain.StatusInactive
	r := NewRefresher(c, staticSource{policies: []*domain.AuthPolicy{active, inactive}}, time.Minute)

	if err := c.Put(ctx, active); err != nil {
		t.Fatal(err)
	}

	// Two refresh passes inside one TTL, then past the original expiry.
	for i := 0; i < 3; i++ {
		srv.FastForward(2 * time.Minute)
		n, _ := r.RefreshActive(ctx)
		if n != 1 {
			t.Fatalf("pass %d: expected 1 policy written, got %d", i, n)
		}
	}

	got, err := c.Active(ctx, domain.TypeMFA)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(got) != 1 || got[0].ID != "active" {
		t.Fatalf("expected the active policy to survive past its ttl, got %d", len(got))
	}
}

func TestRefresherDelayFollowsShortestTTL(t *testing.T) {
	c, _ := newCache(t)
	src := staticSource{policies: []*domain.AuthPolicy{policy("a", 300), policy("b", 40)}}

	_, next := NewRefresher(c, src, time.Minute).RefreshActive(context.Background())
	if next != 20*time.Second {
		t.Fatalf("expected half the shortest ttl (20s), got %v", next)
	}

	_, next = NewRefresher(c, staticSource{}, time.Minute).RefreshActive(context.Background())
	if next != time.Minute {
		t.Fatalf("expected the configured interval with nothing active, got %v", next)
	}
}

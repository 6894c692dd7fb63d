package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/filipexyz/authpolicy/internal/domain"
)

// minRefreshDelay bounds how often the active set is rewritten when a policy has a tiny TTL.
const minRefreshDelay = time.Second

// Source lists policies from the policy store.
type Source interface {
	List(ctx context.Context, filter domain.Filter) ([]*domain.AuthPolicy, error)
}

// Refresher rewrites every active policy before its cache entry expires.
// Entries are otherwise only written when a policy is committed or transitioned.
type Refresher struct {
	cache    *Redis
	source   Source
	interval time.Duration
}

// NewRefresher creates a refresher that runs at most every interval, and sooner when
// an active policy's TTL is shorter than twice the interval.
func NewRefresher(cache *Redis, source Source, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{cache: cache, source: source, interval: interval}
}

// Start runs the refresher until the context is cancelled.
func (r *Refresher) Start(ctx context.Context) error {
	slog.Info("cache refresher started", "interval", r.interval)

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			_, next := r.RefreshActive(ctx)
			timer.Reset(next)
		case <-ctx.Done():
			slog.Info("cache refresher stopped")
			return nil
		}
	}
}

// RefreshActive re-puts every active policy. It returns how many were written and
// the delay before the next pass: half the shortest TTL, capped at the interval.
func (r *Refresher) RefreshActive(ctx context.Context) (int, time.Duration) {
	next := r.interval
	active, err := r.source.List(ctx, domain.Filter{Statuses: []domain.Status{domain.StatusActive}})
	if err != nil {
		slog.Error("cache refresh: list active policies", "error", err)
		return 0, next
	}

	written := 0
	for _, p := range active {
		if half := p.Integration.CacheTTL() / 2; half > 0 && half < next {
			next = half
		}
		if err := r.cache.Put(ctx, p); err != nil {
			slog.Warn("cache refresh failed", "policy_id", p.ID, "cache_key", p.Integration.CacheKey, "error", err)
			continue
		}
		written++
	}
	if next < minRefreshDelay {
		next = minRefreshDelay
	}
	slog.Debug("cache refreshed", "policies", written, "next", next)
	return written, next
}

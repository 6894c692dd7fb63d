// Package rollback deactivates auto-rollback policies whose evaluation error rate
// crosses their configured threshold.
package rollback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/filipexyz/authpolicy/internal/domain"
	"github.com/filipexyz/authpolicy/internal/metrics"
)

// Actor is recorded in the audit metadata of every automatic deactivation.
const Actor = "system:auto-rollback"

// Store is the part of the policy service the monitor needs.
type Store interface {
	List(ctx context.Context, filter domain.Filter) ([]*domain.AuthPolicy, error)
	Transition(ctx context.Context, id string, to domain.Status, meta domain.AuditMetadata) (*domain.AuthPolicy, error)
}

// Options configures a Monitor. Zero values select defaults.
type Options struct {
	Interval   time.Duration
	MinSamples uint64
	Metrics    metrics.Metrics
}

// Monitor compares each policy's statistics with the previous observation. Once a
// window holds at least MinSamples evaluations, its error rate is checked and the
// window restarts.
type Monitor struct {
	store      Store
	interval   time.Duration
	minSamples uint64
	metrics    metrics.Metrics
	baseline   map[string]baseline
}

type baseline struct {
	version int
	stats   domain.Statistics
}

func NewMonitor(store Store, opts Options) *Monitor {
	m := &Monitor{
		store:      store,
		interval:   opts.Interval,
		minSamples: opts.MinSamples,
		metrics:    opts.Metrics,
		baseline:   make(map[string]baseline),
	}
	if m.interval <= 0 {
		m.interval = time.Minute
	}
	if m.minSamples == 0 {
		m.minSamples = 20
	}
	if m.metrics == nil {
		m.metrics = metrics.Noop{}
	}
	return m
}

// Start runs the monitor until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	slog.Info("rollback monitor started", "interval", m.interval, "min_samples", m.minSamples)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			slog.Info("rollback monitor stopped")
			return nil
		}
	}
}

// Check runs one observation pass and returns the ids it deactivated.
func (m *Monitor) Check(ctx context.Context) []string {
	active, err := m.store.List(ctx, domain.Filter{Statuses: []domain.Status{domain.StatusActive}})
	if err != nil {
		slog.Error("rollback monitor: failed to list active policies", "error", err)
		return nil
	}

	seen := make(map[string]bool, len(active))
	var rolledBack []string
	for _, p := range active {
		if !p.Rollout.AutoRollback {
			continue
		}
		seen[p.ID] = true

		base, ok := m.baseline[p.ID]
		if !ok || base.version != p.Version {
			// A new or edited policy starts a fresh window.
			m.baseline[p.ID] = baseline{version: p.Version, stats: p.Statistics}
			continue
		}

		total := p.Statistics.Total() - base.stats.Total()
		if total < m.minSamples {
			continue
		}
		errs := p.Statistics.Errors - base.stats.Errors
		rate := float64(errs) / float64(total)
		m.baseline[p.ID] = baseline{version: p.Version, stats: p.Statistics}

		if rate <= p.Rollout.RollbackThreshold {
			continue
		}

		reason := fmt.Sprintf("error rate %.2f over %d evaluations exceeds threshold %.2f", rate, total, p.Rollout.RollbackThreshold)
		if _, err := m.store.Transition(ctx, p.ID, domain.StatusInactive, domain.AuditMetadata{Actor: Actor, Reason: reason}); err != nil {
			slog.Error("auto-rollback failed", "policy_id", p.ID, "error", err)
			continue
		}
		m.metrics.IncRollback()
		delete(m.baseline, p.ID)
		rolledBack = append(rolledBack, p.ID)
		slog.Warn("policy rolled back", "policy_id", p.ID, "name", p.Name, "reason", reason)
	}

	for id := range m.baseline {
		if !seen[id] {
			delete(m.baseline, id)
		}
	}
	return rolledBack
}

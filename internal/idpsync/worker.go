package idpsync

import (
	"context"
	"log/slog"
	"time"

	"github.com/filipexyz/authpolicy/internal/domain"
)

// Store is the part of the policy service the worker needs.
type Store interface {
	List(ctx context.Context, filter domain.Filter) ([]*domain.AuthPolicy, error)
	MarkSynced(ctx context.Context, pushed *domain.AuthPolicy, syncErr error) error
}

// retryDelays is the backoff between pushes of a policy whose last push failed.
// The last delay repeats until the push succeeds or the policy changes.
var retryDelays = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
}

type retryState struct {
	attempts int
	next     time.Time
}

// Worker polls for published policies whose sync marker is pending or failed and
// pushes them. Drafts are never pushed.
type Worker struct {
	store    Store
	provider Provider
	interval time.Duration
	now      func() time.Time
	// retries is only touched from SyncPending, which runs on the worker goroutine.
	retries map[string]retryState
}

// NewWorker creates a new sync worker.
func NewWorker(store Store, provider Provider, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{
		store:    store,
		provider: provider,
		interval: interval,
		now:      time.Now,
		retries:  make(map[string]retryState),
	}
}

// Start runs the worker until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	slog.Info("idp sync worker started", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run immediately on start
	w.SyncPending(ctx)

	for {
		select {
		case <-ticker.C:
			w.SyncPending(ctx)
		case <-ctx.Done():
			slog.Info("idp sync worker stopped")
			return nil
		}
	}
}

// SyncPending pushes every pending policy, and every failed policy whose backoff has
// elapsed, once. It returns how many pushes succeeded.
func (w *Worker) SyncPending(ctx context.Context) int {
	published := []domain.Status{domain.StatusActive, domain.StatusInactive, domain.StatusArchived}
	pending, err := w.store.List(ctx, domain.Filter{Statuses: published, SyncStatus: domain.SyncPending})
	if err != nil {
		slog.Error("failed to list pending policies", "error", err)
		return 0
	}
	failed, err := w.store.List(ctx, domain.Filter{Statuses: published, SyncStatus: domain.SyncError})
	if err != nil {
		slog.Error("failed to list failed policies", "error", err)
		return 0
	}

	now := w.now()
	for _, p := range pending {
		// A new version starts a fresh backoff.
		delete(w.retries, p.ID)
	}
	due := pending
	for _, p := range failed {
		if st, ok := w.retries[p.ID]; ok && now.Before(st.next) {
			continue
		}
		due = append(due, p)
	}
	if len(due) == 0 {
		return 0
	}

	slog.Debug("syncing policies", "pending", len(pending), "retrying", len(due)-len(pending))

	synced := 0
	for _, p := range due {
		if ctx.Err() != nil {
			break
		}
		pushErr := w.provider.Push(ctx, p)
		if pushErr != nil {
			st := w.retries[p.ID]
			st.attempts++
			st.next = now.Add(retryDelay(st.attempts))
			w.retries[p.ID] = st
			slog.Warn("policy sync failed", "policy_id", p.ID, "version", p.Version,
				"attempt", st.attempts, "next_attempt", st.next, "error", pushErr)
		} else {
			delete(w.retries, p.ID)
			synced++
			slog.Info("policy synced", "policy_id", p.ID, "version", p.Version)
		}
		if err := w.store.MarkSynced(ctx, p, pushErr); err != nil {
			slog.Error("failed to record sync status", "policy_id", p.ID, "error", err)
		}
	}
	return synced
}

// retryDelay returns the wait after the given number of consecutive failures.
func retryDelay(attempts int) time.Duration {
	if attempts > len(retryDelays) {
		return retryDelays[len(retryDelays)-1]
	}
	return retryDelays[attempts-1]
}

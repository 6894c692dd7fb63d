package rollback

import (
	"context"
	"testing"
	"time"

	"github.com/filipexyz/authpolicy/internal/domain"
	"github.com/filipexyz/authpolicy/internal/policy"
	"github.com/filipexyz/authpolicy/internal/store"
)

type counter struct{ n int }

func (c *counter) IncEvaluation(string, string) {}
func (c *counter) ObserveEvaluation(float64)    {}
func (c *counter) IncMutation(string)           {}
func (c *counter) SetConflicts(string, int)     {}
func (c *counter) IncSync(string)               {}
func (c *counter) IncRollback()                 { c.n++ }

var meta = domain.AuditMetadata{Actor: "test"}

func setup(t *testing.T, threshold float64) (*policy.Service, *store.Memory, *domain.AuthPolicy) {
	t.Helper()
	ctx := context.Background()
	repo := store.NewMemory()
	svc := policy.NewService(repo, policy.Options{})
	p, err := svc.Create(ctx, domain.Draft{
		Name:     "risky",
		Type:     domain.TypePassword,
		Scope:    domain.Scope{Kind: domain.ScopeGlobal},
		Rules:    domain.PasswordRules{MinLength: 12},
		Priority: 10,
		Rollout: &domain.Rollout{
			Phase: domain.PhaseFull, Percentage: 100,
			AutoRollback: true, RollbackThreshold: threshold,
		},
	}, meta)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p, err = svc.Transition(ctx, p.ID, domain.StatusActive, meta); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return svc, repo, p
}

func record(t *testing.T, repo *store.Memory, id string, ok, failed int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < ok; i++ {
		repo.RecordEvaluation(ctx, id, domain.OutcomeAllow, false, time.Now())
	}
	for i := 0; i < failed; i++ {
		repo.RecordEvaluation(ctx, id, domain.OutcomeDeny, true, time.Now())
	}
}

func TestMonitorRollsBackOverThreshold(t *testing.T) {
	ctx := context.Background()
	svc, repo, p := setup(t, 0.2)
	c := &counter{}
	m := NewMonitor(svc, Options{MinSamples: 10, Metrics: c})

	// Errors before the first observation are history, not part of the window.
	record(t, repo, p.ID, 0, 50)
	if got := m.Check(ctx); len(got) != 0 {
		t.Fatalf("first pass only records a baseline, rolled back %v", got)
	}

	// Too few samples: no decision yet.
	record(t, repo, p.ID, 2, 3)
	if got := m.Check(ctx); len(got) != 0 {
		t.Fatalf("window below min samples must not trigger, got %v", got)
	}

	record(t, repo, p.ID, 4, 1) // window now 6 ok, 4 errors = 0.4
	got := m.Check(ctx)
	if len(got) != 1 || got[0] != p.ID {
		t.Fatalf("expected rollback of %s, got %v", p.ID, got)
	}
	if c.n != 1 {
		t.Fatalf("expected rollback metric, got %d", c.n)
	}

	cur, _ := svc.Get(ctx, p.ID)
	if cur.Status != domain.StatusInactive {
		t.Fatalf("expected inactive, got %s", cur.Status)
	}
	audit, _ := svc.Audit(ctx, domain.AuditFilter{PolicyID: p.ID, Action: domain.ActionDeactivated})
	if len(audit) != 1 || audit[0].Metadata.Actor != Actor || audit[0].Metadata.Reason == "" {
		t.Fatalf("unexpected audit %+v", audit)
	}
}

func TestMonitorKeepsHealthyPolicy(t *testing.T) {
	ctx := context.Background()
	svc, repo, p := setup(t, 0.5)
	m := NewMonitor(svc, Options{MinSamples: 10})

	m.Check(ctx)
	record(t, repo, p.ID, 8, 2)
	if got := m.Check(ctx); len(got) != 0 {
		t.Fatalf("healthy policy rolled back: %v", got)
	}
	cur, _ := svc.Get(ctx, p.ID)
	if cur.Status != domain.StatusActive {
		t.Fatalf("expected active, got %s", cur.Status)
	}
}

func TestMonitorResetsWindowOnEdit(t *testing.T) {
	ctx := context.Background()
	svc, repo, p := setup(t, 0.2)
	m := NewMonitor(svc, Options{MinSamples: 10})

	m.Check(ctx)
	record(t, repo, p.ID, 0, 9)

	prio := 20
	if _, err := svc.Commit(ctx, p.ID, p.Version, domain.Changes{Priority: &prio}, meta); err != nil {
		t.Fatal(err)
	}
	record(t, repo, p.ID, 0, 5)
	if got := m.Check(ctx); len(got) != 0 {
		t.Fatalf("edited policy must start a fresh window, got %v", got)
	}
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/filipexyz/authpolicy/internal/domain"
)

// Memory is an in-process Repository. Stored values are cloned on the way in and out.
type Memory struct {
	mu       sync.RWMutex
	policies map[string]*domain.AuthPolicy
	audit    []domain.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{policies: make(map[string]*domain.AuthPolicy)}
}

func (m *Memory) Get(_ context.Context, id string) (*domain.AuthPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, &domain.NotFoundError{ID: id}
	}
	return p.Clone(), nil
}

func (m *Memory) List(_ context.Context, filter domain.Filter) ([]*domain.AuthPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.AuthPolicy, 0, len(m.policies))
	for _, p := range m.policies {
		if filter.Matches(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return domain.Less(out[i], out[j]) })
	return out, nil
}

func (m *Memory) Insert(_ context.Context, p *domain.AuthPolicy, entry domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[p.ID]; ok {
		return domain.NewValidationError("id", "policy %s already exists", p.ID)
	}
	m.policies[p.ID] = p.Clone()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) Update(_ context.Context, p *domain.AuthPolicy, expect Expectation, entry domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.policies[p.ID]
	if !ok {
		return &domain.NotFoundError{ID: p.ID}
	}
	if cur.Version != expect.Version || cur.Status != expect.Status {
		return &domain.ConflictError{ID: p.ID, Expected: expect.Version, Actual: cur.Version}
	}
	next := p.Clone()
	// Counters are owned by RecordEvaluation.
	next.Statistics = cur.Statistics
	m.policies[p.ID] = next
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) ListAudit(_ context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.AuditEntry
	for _, e := range m.audit {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

func (m *Memory) RecordEvaluation(_ context.Context, id string, outcome domain.Outcome, failed bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return &domain.NotFoundError{ID: id}
	}
	Bump(&p.Statistics, outcome, failed, at)
	return nil
}

func (m *Memory) SetSyncStatus(_ context.Context, id string, status domain.SyncStatus, syncErr string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return &domain.NotFoundError{ID: id}
	}
	p.Integration.SyncStatus = status
	p.Integration.SyncError = syncErr
	if status == domain.SyncSynced {
		t := at
		p.Integration.SyncedAt = &t
	}
	return nil
}

func (m *Memory) ReplaceConflicts(_ context.Context, conflicts []domain.PolicyConflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.policies {
		var mine []domain.PolicyConflict
		for _, c := range conflicts {
			if c.Involves(id) {
				mine = append(mine, c)
			}
		}
		p.Conflicts = mine
	}
	return nil
}

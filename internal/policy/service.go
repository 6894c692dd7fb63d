package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/filipexyz/authpolicy/internal/domain"
	"github.com/filipexyz/authpolicy/internal/metrics"
	"github.com/filipexyz/authpolicy/internal/store"
)

// Distributor pushes active policies to the distribution cache.
type Distributor interface {
	Put(ctx context.Context, p *domain.AuthPolicy) error
	Evict(ctx context.Context, p *domain.AuthPolicy) error
}

// Recorder receives every committed audit entry.
type Recorder interface {
	Record(entry domain.AuditEntry)
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	DefaultCacheTTL time.Duration
	Cache           Distributor
	Audit           Recorder
	Metrics         metrics.Metrics
	Now             func() time.Time
	NewID           func() string
}

// Service is the Policy Store: every read and mutation of auth policies goes through it.
// Mutations are serialized; evaluation runs without the lock.
type Service struct {
	repo    store.Repository
	mu      sync.RWMutex
	ttl     time.Duration
	cache   Distributor
	audit   Recorder
	metrics metrics.Metrics
	now     func() time.Time
	newID   func() string
}

func NewService(repo store.Repository, opts Options) *Service {
	s := &Service{
		repo:    repo,
		ttl:     opts.DefaultCacheTTL,
		cache:   opts.Cache,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		now:     opts.Now,
		newID:   opts.NewID,
	}
	if s.ttl <= 0 {
		s.ttl = 5 * time.Minute
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Get returns the policy with the given id.
func (s *Service) Get(ctx context.Context, id string) (*domain.AuthPolicy, error) {
	return s.repo.Get(ctx, id)
}

// List returns policies passing filter in evaluation order.
func (s *Service) List(ctx context.Context, filter domain.Filter) ([]*domain.AuthPolicy, error) {
	return s.repo.List(ctx, filter)
}

// History returns the append-only version log of a policy.
func (s *Service) History(ctx context.Context, id string) ([]domain.PolicyVersion, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Versions, nil
}

// Audit queries the audit log.
func (s *Service) Audit(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	return s.repo.ListAudit(ctx, filter)
}

// Create stores a new draft policy.
func (s *Service) Create(ctx context.Context, d domain.Draft, meta domain.AuditMetadata) (*domain.AuthPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id := s.newID()
	p := &domain.AuthPolicy{
		ID:          id,
		Name:        d.Name,
		Description: d.Description,
		Version:     1,
		Type:        d.Type,
		Status:      domain.StatusDraft,
		Scope:       d.Scope,
		Conditions:  d.Conditions,
		Rules:       d.Rules,
		Priority:    d.Priority,
		Rollout:     domain.FullRollout(),
		Versions: []domain.PolicyVersion{{
			Version:   1,
			Author:    meta.Actor,
			Summary:   "created",
			CreatedAt: now,
		}},
		Integration: domain.Integration{
			SyncStatus:      domain.SyncPending,
			CacheKey:        d.CacheKey,
			CacheTTLSeconds: d.CacheTTLSeconds,
		},
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: meta.Actor,
		UpdatedBy: meta.Actor,
	}
	if d.Rollout != nil {
		p.Rollout = *d.Rollout
	}
	if p.Conditions == nil {
		p.Conditions = domain.Conditions{}
	}
	if p.Integration.CacheKey == "" {
		p.Integration.CacheKey = "authpolicy:" + id
	}
	if p.Integration.CacheTTLSeconds == 0 {
		p.Integration.CacheTTLSeconds = int(s.ttl / time.Second)
	}
	if err := domain.Validate(p); err != nil {
		return nil, err
	}

	entry := s.entry(p.ID, domain.ActionCreated, "", p.Status, p.Version, nil, domain.Snapshot(p), meta, now)
	if err := s.repo.Insert(ctx, p, entry); err != nil {
		return nil, fmt.Errorf("insert policy: %w", err)
	}
	s.committed(entry)
	return p, nil
}

// Commit applies a partial edit to the policy at expectedVersion.
func (s *Service) Commit(ctx context.Context, id string, expectedVersion int, changes domain.Changes, meta domain.AuditMetadata) (*domain.AuthPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Version != expectedVersion {
		return nil, &domain.ConflictError{ID: id, Expected: expectedVersion, Actual: cur.Version}
	}
	if cur.Status == domain.StatusArchived {
		return nil, domain.NewValidationError("status", "archived policies cannot be edited")
	}
	if changes.Empty() {
		return nil, domain.NewValidationError("changes", "no fields to change")
	}

	next := cur.Clone()
	changes.Apply(next)
	diff := domain.Diff(cur, next)
	if len(diff.Fields) == 0 {
		return nil, domain.NewValidationError("changes", "no effective change")
	}
	if err := domain.Validate(next); err != nil {
		return nil, err
	}

	now := s.now()
	next.Version = cur.Version + 1
	next.UpdatedAt = now
	next.UpdatedBy = meta.Actor
	next.Versions = append(next.Versions, domain.PolicyVersion{
		Version:       next.Version,
		Author:        meta.Actor,
		Summary:       diff.Summary(),
		ChangedFields: diff.Fields,
		CreatedAt:     now,
	})
	next.Integration.SyncStatus = domain.SyncPending
	next.Integration.SyncError = ""

	entry := s.entry(id, domain.ActionUpdated, cur.Status, cur.Status, next.Version, diff.Before, diff.After, meta, now)
	if err := s.repo.Update(ctx, next, store.Expectation{Version: cur.Version, Status: cur.Status}, entry); err != nil {
		return nil, err
	}
	s.committed(entry)

	if next.Evaluable() {
		if cur.Type != next.Type || cur.Integration.CacheKey != next.Integration.CacheKey {
			s.evict(ctx, cur)
		}
		s.distribute(ctx, next)
		s.refreshConflicts(ctx)
	}
	return s.repo.Get(ctx, id)
}

// Transition moves a policy to another lifecycle status. The version is unchanged.
func (s *Service) Transition(ctx context.Context, id string, to domain.Status, meta domain.AuditMetadata) (*domain.AuthPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := domain.CheckTransition(cur.Status, to); err != nil {
		return nil, err
	}

	now := s.now()
	next := cur.Clone()
	next.Status = to
	next.UpdatedAt = now
	next.UpdatedBy = meta.Actor
	next.Integration.SyncStatus = domain.SyncPending
	next.Integration.SyncError = ""

	before := map[string]json.RawMessage{"status": mustJSON(cur.Status)}
	after := map[string]json.RawMessage{"status": mustJSON(to)}
	entry := s.entry(id, domain.TransitionAction(cur.Status, to), cur.Status, to, next.Version, before, after, meta, now)
	if err := s.repo.Update(ctx, next, store.Expectation{Version: cur.Version, Status: cur.Status}, entry); err != nil {
		return nil, err
	}
	s.committed(entry)

	switch {
	case to == domain.StatusActive:
		s.distribute(ctx, next)
	case cur.Status == domain.StatusActive:
		s.evict(ctx, next)
	}
	if to == domain.StatusActive || cur.Status == domain.StatusActive {
		s.refreshConflicts(ctx)
	}
	return s.repo.Get(ctx, id)
}

// MarkSynced records the result of pushing the given snapshot to the identity provider.
// The result is dropped when the policy has been committed or transitioned since the
// snapshot was read; it stays pending for the next push.
// Sync markers are not audited: they are not authored state.
func (s *Service) MarkSynced(ctx context.Context, pushed *domain.AuthPolicy, syncErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.repo.Get(ctx, pushed.ID)
	if err != nil {
		return err
	}
	if cur.Version != pushed.Version || cur.Status != pushed.Status {
		slog.Debug("discarding stale sync result", "policy_id", pushed.ID, "pushed_version", pushed.Version, "version", cur.Version)
		return nil
	}

	status, msg := domain.SyncSynced, ""
	if syncErr != nil {
		status, msg = domain.SyncError, syncErr.Error()
	}
	s.metrics.IncSync(string(status))
	return s.repo.SetSyncStatus(ctx, pushed.ID, status, msg, s.now())
}

// ConflictQuery narrows ListConflicts. Zero values mean no restriction.
type ConflictQuery struct {
	Type        domain.PolicyType
	ScopeKind   domain.ScopeKind
	ScopeTarget string
}

// ListConflicts recomputes conflicts among the active policies on demand.
// It serializes with mutations so it never observes a half-applied change.
func (s *Service) ListConflicts(ctx context.Context, q ConflictQuery) ([]domain.PolicyConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active, err := s.repo.List(ctx, domain.Filter{Statuses: []domain.Status{domain.StatusActive}})
	if err != nil {
		return nil, err
	}
	// Detection always sees the whole active set so cross-type dependencies resolve.
	all := DetectConflicts(active, s.now())
	if q.Type == "" && q.ScopeKind == "" && q.ScopeTarget == "" {
		return all, nil
	}

	narrow := domain.Filter{ScopeKind: q.ScopeKind, ScopeTarget: q.ScopeTarget}
	if q.Type != "" {
		narrow.Types = []domain.PolicyType{q.Type}
	}
	byID := make(map[string]*domain.AuthPolicy, len(active))
	for _, p := range active {
		byID[p.ID] = p
	}
	var out []domain.PolicyConflict
	for _, c := range all {
		a, b := byID[c.PolicyID], byID[c.OtherPolicyID]
		if (a != nil && narrow.Matches(a)) || (b != nil && narrow.Matches(b)) {
			out = append(out, c)
		}
	}
	return out, nil
}

// WarmCache distributes every active policy, used at startup.
func (s *Service) WarmCache(ctx context.Context) error {
	active, err := s.repo.List(ctx, domain.Filter{Statuses: []domain.Status{domain.StatusActive}})
	if err != nil {
		return err
	}
	for _, p := range active {
		s.distribute(ctx, p)
	}
	s.mu.Lock()
	s.refreshConflicts(ctx)
	s.mu.Unlock()
	return nil
}

// refreshConflicts recomputes and stores conflicts. Failures are logged, never returned:
// conflict findings must not block a committed write. Callers hold the write lock.
func (s *Service) refreshConflicts(ctx context.Context) {
	active, err := s.repo.List(ctx, domain.Filter{Statuses: []domain.Status{domain.StatusActive}})
	if err != nil {
		slog.Error("conflict detection: list active policies", "error", err)
		return
	}
	conflicts := DetectConflicts(active, s.now())
	if err := s.repo.ReplaceConflicts(ctx, conflicts); err != nil {
		slog.Error("conflict detection: store findings", "error", err)
		return
	}

	counts := map[domain.ConflictKind]int{
		domain.ConflictOverlap:       0,
		domain.ConflictContradiction: 0,
		domain.ConflictDependency:    0,
	}
	for _, c := range conflicts {
		counts[c.Kind]++
	}
	for kind, n := range counts {
		s.metrics.SetConflicts(string(kind), n)
	}
	if len(conflicts) > 0 {
		slog.Info("conflicts detected among active policies", "count", len(conflicts))
	}
}

func (s *Service) distribute(ctx context.Context, p *domain.AuthPolicy) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, p); err != nil {
		slog.Warn("cache distribution failed", "error", err, "policy_id", p.ID, "cache_key", p.Integration.CacheKey)
	}
}

func (s *Service) evict(ctx context.Context, p *domain.AuthPolicy) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Evict(ctx, p); err != nil {
		slog.Warn("cache eviction failed", "error", err, "policy_id", p.ID, "cache_key", p.Integration.CacheKey)
	}
}

func (s *Service) entry(policyID string, action domain.AuditAction, from, to domain.Status, version int,
	before, after map[string]json.RawMessage, meta domain.AuditMetadata, at time.Time) domain.AuditEntry {
	return domain.AuditEntry{
		ID:         s.newID(),
		PolicyID:   policyID,
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		Version:    version,
		Before:     before,
		After:      after,
		Metadata:   meta,
		Timestamp:  at,
	}
}

func (s *Service) committed(entry domain.AuditEntry) {
	s.metrics.IncMutation(string(entry.Action))
	if s.audit != nil {
		s.audit.Record(entry)
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// Package store persists auth policies and their audit log.
package store

import (
	"context"
	"time"

	"github.com/filipexyz/authpolicy/internal/domain"
)

// Expectation is the optimistic-concurrency guard of an update: the write succeeds only
// while the stored policy still has this version and status.
type Expectation struct {
	Version int
	Status  domain.Status
}

// Repository is the durable side of the Policy Store. Implementations write a policy and
// its audit entry atomically: both land or neither does.
type Repository interface {
	Get(ctx context.Context, id string) (*domain.AuthPolicy, error)
	// List returns the policies passing filter in evaluation order.
	List(ctx context.Context, filter domain.Filter) ([]*domain.AuthPolicy, error)
	Insert(ctx context.Context, p *domain.AuthPolicy, entry domain.AuditEntry) error
	// Update replaces the authored state of p. It returns a *domain.ConflictError when
	// the stored policy no longer matches expect.
	Update(ctx context.Context, p *domain.AuthPolicy, expect Expectation, entry domain.AuditEntry) error
	// ListAudit returns entries passing filter, oldest first.
	ListAudit(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error)

	// RecordEvaluation bumps the statistics counter matching outcome, or Errors when failed.
	RecordEvaluation(ctx context.Context, id string, outcome domain.Outcome, failed bool, at time.Time) error
	SetSyncStatus(ctx context.Context, id string, status domain.SyncStatus, syncErr string, at time.Time) error
	// ReplaceConflicts stores the conflicts involving each policy and clears all others.
	ReplaceConflicts(ctx context.Context, conflicts []domain.PolicyConflict) error
}

// Bump applies one evaluation to s.
func Bump(s *domain.Statistics, outcome domain.Outcome, failed bool, at time.Time) {
	switch {
	case failed:
		s.Errors++
	case outcome == domain.OutcomeDeny:
		s.Denied++
	case outcome == domain.OutcomeChallenge:
		s.Challenged++
	default:
		s.Applied++
	}
	t := at
	s.LastAppliedAt = &t
}

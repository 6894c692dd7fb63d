// Package postgres is the durable Repository: one row per policy holding the authored
// document as JSONB next to the counters, sync markers and conflicts the service
// maintains separately, plus an append-only audit table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/filipexyz/authpolicy/internal/domain"
	"github.com/filipexyz/authpolicy/internal/store"
)

var _ store.Repository = (*Repository)(nil)

type Repository struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const selectPolicy = `
	SELECT document, conflicts, sync_status, sync_error, synced_at,
	       applied, denied, challenged, errors, last_applied_at
	FROM auth_policies`

func scanPolicy(row pgx.Row) (*domain.AuthPolicy, error) {
	var (
		doc, conflicts []byte
		p              domain.AuthPolicy
		syncStatus     string
		applied        int64
		denied         int64
		challenged     int64
		errs           int64
	)
	if err := row.Scan(&doc, &conflicts, &syncStatus, &p.Integration.SyncError, &p.Integration.SyncedAt,
		&applied, &denied, &challenged, &errs, &p.Statistics.LastAppliedAt); err != nil {
		return nil, err
	}
	sync := p.Integration
	stats := p.Statistics
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("decode policy document: %w", err)
	}
	if err := json.Unmarshal(conflicts, &p.Conflicts); err != nil {
		return nil, fmt.Errorf("decode conflicts: %w", err)
	}
	p.Integration.SyncStatus = domain.SyncStatus(syncStatus)
	p.Integration.SyncError = sync.SyncError
	p.Integration.SyncedAt = sync.SyncedAt
	p.Statistics = domain.Statistics{
		Applied:       uint64(applied),
		Denied:        uint64(denied),
		Challenged:    uint64(challenged),
		Errors:        uint64(errs),
		LastAppliedAt: stats.LastAppliedAt,
	}
	return &p, nil
}

// document is the authored state persisted in the JSONB column.
func document(p *domain.AuthPolicy) ([]byte, error) {
	d := p.Clone()
	d.Statistics = domain.Statistics{}
	d.Conflicts = nil
	d.Integration.SyncStatus = ""
	d.Integration.SyncError = ""
	d.Integration.SyncedAt = nil
	return json.Marshal(d)
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.AuthPolicy, error) {
	p, err := scanPolicy(r.db.QueryRow(ctx, selectPolicy+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

func (r *Repository) List(ctx context.Context, filter domain.Filter) ([]*domain.AuthPolicy, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		args = append(args, types)
		where = append(where, fmt.Sprintf("type = ANY($%d)", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	q := selectPolicy
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var out []*domain.AuthPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		// Scope and sync filters are applied on the decoded document.
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return domain.Less(out[i], out[j]) })
	return out, nil
}

func (r *Repository) Insert(ctx context.Context, p *domain.AuthPolicy, entry domain.AuditEntry) error {
	doc, err := document(p)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO auth_policies (id, name, type, status, version, priority, document,
			                           sync_status, sync_error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO NOTHING`,
			p.ID, p.Name, string(p.Type), string(p.Status), p.Version, p.Priority, doc,
			string(p.Integration.SyncStatus), p.Integration.SyncError, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert policy: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.NewValidationError("id", "policy %s already exists", p.ID)
		}
		return appendAudit(ctx, tx, entry)
	})
}

func (r *Repository) Update(ctx context.Context, p *domain.AuthPolicy, expect store.Expectation, entry domain.AuditEntry) error {
	doc, err := document(p)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var (
			version int
			status  string
		)
		err := tx.QueryRow(ctx,
			`SELECT version, status FROM auth_policies WHERE id = $1 FOR UPDATE`, p.ID,
		).Scan(&version, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.NotFoundError{ID: p.ID}
		}
		if err != nil {
			return fmt.Errorf("lock policy: %w", err)
		}
		if version != expect.Version || domain.Status(status) != expect.Status {
			return &domain.ConflictError{ID: p.ID, Expected: expect.Version, Actual: version}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE auth_policies
			SET name = $2, type = $3, status = $4, version = $5, priority = $6, document = $7,
			    sync_status = $8, sync_error = $9, updated_at = $10
			WHERE id = $1`,
			p.ID, p.Name, string(p.Type), string(p.Status), p.Version, p.Priority, doc,
			string(p.Integration.SyncStatus), p.Integration.SyncError, p.UpdatedAt); err != nil {
			return fmt.Errorf("update policy: %w", err)
		}
		return appendAudit(ctx, tx, entry)
	})
}

func appendAudit(ctx context.Context, tx pgx.Tx, entry domain.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO policy_audit_log (id, policy_id, action, entry, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.PolicyID, string(entry.Action), data, entry.Timestamp); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (r *Repository) ListAudit(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.PolicyID != "" {
		args = append(args, filter.PolicyID)
		where = append(where, fmt.Sprintf("policy_id = $%d", len(args)))
	}
	if filter.Action != "" {
		args = append(args, string(filter.Action))
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	q := `SELECT entry FROM policy_audit_log`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	// Newest first so LIMIT keeps the most recent entries; reversed below.
	q += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e domain.AuditEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *Repository) RecordEvaluation(ctx context.Context, id string, outcome domain.Outcome, failed bool, at time.Time) error {
	column := "applied"
	switch {
	case failed:
		column = "errors"
	case outcome == domain.OutcomeDeny:
		column = "denied"
	case outcome == domain.OutcomeChallenge:
		column = "challenged"
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE auth_policies SET `+column+` = `+column+` + 1, last_applied_at = $2 WHERE id = $1`,
		id, at)
	if err != nil {
		return fmt.Errorf("record evaluation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{ID: id}
	}
	return nil
}

func (r *Repository) SetSyncStatus(ctx context.Context, id string, status domain.SyncStatus, syncErr string, at time.Time) error {
	var syncedAt *time.Time
	if status == domain.SyncSynced {
		syncedAt = &at
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE auth_policies
		SET sync_status = $2, sync_error = $3, synced_at = COALESCE($4, synced_at)
		WHERE id = $1`,
		id, string(status), syncErr, syncedAt)
	if err != nil {
		return fmt.Errorf("set sync status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{ID: id}
	}
	return nil
}

func (r *Repository) ReplaceConflicts(ctx context.Context, conflicts []domain.PolicyConflict) error {
	byPolicy := map[string][]domain.PolicyConflict{}
	for _, c := range conflicts {
		byPolicy[c.PolicyID] = append(byPolicy[c.PolicyID], c)
		if c.OtherPolicyID != "" && c.OtherPolicyID != c.PolicyID {
			byPolicy[c.OtherPolicyID] = append(byPolicy[c.OtherPolicyID], c)
		}
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE auth_policies SET conflicts = '[]' WHERE conflicts <> '[]'`); err != nil {
			return fmt.Errorf("clear conflicts: %w", err)
		}
		batch := &pgx.Batch{}
		for id, list := range byPolicy {
			data, err := json.Marshal(list)
			if err != nil {
				return err
			}
			batch.Queue(`UPDATE auth_policies SET conflicts = $2 WHERE id = $1`, id, data)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("store conflicts: %w", err)
		}
		return nil
	})
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

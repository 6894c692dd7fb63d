package domain

import (
	"encoding/json"
	"time"
)

// AuditAction names a policy lifecycle mutation.
type AuditAction string

const (
	ActionCreated     AuditAction = "policy.created"
	ActionUpdated     AuditAction = "policy.updated"
	ActionActivated   AuditAction = "policy.activated"
	ActionDeactivated AuditAction = "policy.deactivated"
	ActionReactivated AuditAction = "policy.reactivated"
	ActionArchived    AuditAction = "policy.archived"
)

func (a AuditAction) Valid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionActivated, ActionDeactivated, ActionReactivated, ActionArchived:
		return true
	}
	return false
}

// TransitionAction maps a status change to its audit action.
func TransitionAction(from, to Status) AuditAction {
	switch {
	case to == StatusArchived:
		return ActionArchived
	case to == StatusInactive:
		return ActionDeactivated
	case to == StatusActive && from == StatusInactive:
		return ActionReactivated
	default:
		return ActionActivated
	}
}

// AuditMetadata is caller-supplied context; the recorder never computes it.
type AuditMetadata struct {
	Actor     string `json:"actor"`
	IP        string `json:"ip,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// AuditEntry is an immutable record of one Store mutation.
type AuditEntry struct {
	ID         string                     `json:"id"`
	PolicyID   string                     `json:"policy_id"`
	Action     AuditAction                `json:"action"`
	FromStatus Status                     `json:"from_status,omitempty"`
	ToStatus   Status                     `json:"to_status"`
	Version    int                        `json:"version"`
	Before     map[string]json.RawMessage `json:"before,omitempty"`
	After      map[string]json.RawMessage `json:"after,omitempty"`
	Metadata   AuditMetadata              `json:"metadata"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// AuditFilter narrows an audit query. Zero values mean no restriction.
type AuditFilter struct {
	PolicyID string
	Action   AuditAction
	Since    time.Time
	Limit    int
}

// Matches reports whether e passes the filter (Limit is ignored).
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.PolicyID != "" && e.PolicyID != f.PolicyID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

package domain

import "time"

// ConflictKind classifies an interaction between two active policies.
type ConflictKind string

const (
	ConflictOverlap       ConflictKind = "overlap"
	ConflictContradiction ConflictKind = "contradiction"
	ConflictDependency    ConflictKind = "dependency"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// PolicyConflict is a detected interaction, reported for operator resolution.
type PolicyConflict struct {
	PolicyID      string       `json:"policy_id"`
	OtherPolicyID string       `json:"other_policy_id"`
	Kind          ConflictKind `json:"kind"`
	Severity      Severity     `json:"severity"`
	Targets       []string     `json:"targets,omitempty"`
	Fields        []string     `json:"fields,omitempty"`
	Description   string       `json:"description"`
	DetectedAt    time.Time    `json:"detected_at"`
}

// Involves reports whether the conflict concerns policy id.
func (c PolicyConflict) Involves(id string) bool {
	return c.PolicyID == id || c.OtherPolicyID == id
}

// Filter narrows policy listings. Zero values mean no restriction.
type Filter struct {
	Types       []PolicyType
	Statuses    []Status
	ScopeKind   ScopeKind
	ScopeTarget string
	SyncStatus  SyncStatus
}

// Matches reports whether p passes the filter.
func (f Filter) Matches(p *AuthPolicy) bool {
	if len(f.Types) > 0 && !containsType(f.Types, p.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, p.Status) {
		return false
	}
	if f.ScopeKind != "" && p.Scope.Kind != f.ScopeKind {
		return false
	}
	if f.ScopeTarget != "" {
		found := false
		for _, t := range p.Scope.Targets {
			if t == f.ScopeTarget {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.SyncStatus != "" && p.Integration.SyncStatus != f.SyncStatus {
		return false
	}
	return true
}

func containsType(ts []PolicyType, t PolicyType) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

func containsStatus(ss []Status, s Status) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

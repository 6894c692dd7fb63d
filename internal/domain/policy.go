package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// PolicyType classifies the authentication decision a policy governs.
type PolicyType string

const (
	TypePassword PolicyType = "password"
	TypeMFA      PolicyType = "mfa"
	TypeSession  PolicyType = "session"
	TypeProvider PolicyType = "provider"
	TypeRecovery PolicyType = "recovery"
)

// PolicyTypes lists every policy type in a stable order.
var PolicyTypes = []PolicyType{TypePassword, TypeMFA, TypeSession, TypeProvider, TypeRecovery}

func (t PolicyType) Valid() bool {
	switch t {
	case TypePassword, TypeMFA, TypeSession, TypeProvider, TypeRecovery:
		return true
	}
	return false
}

// Status is the lifecycle state of a policy.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusArchived Status = "archived"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusInactive, StatusArchived:
		return true
	}
	return false
}

// ScopeKind is the population a policy targets.
type ScopeKind string

const (
	ScopeGlobal ScopeKind = "global"
	ScopeRole   ScopeKind = "role"
	ScopeGroup  ScopeKind = "group"
	ScopeUser   ScopeKind = "user"
)

func (k ScopeKind) Valid() bool {
	switch k {
	case ScopeGlobal, ScopeRole, ScopeGroup, ScopeUser:
		return true
	}
	return false
}

// Scope selects the subjects a policy targets.
// Targets and exclusions accept identity patterns ("admin", "ops-*", "*-contractors", "*").
type Scope struct {
	Kind       ScopeKind `json:"kind"`
	Targets    []string  `json:"targets,omitempty"`
	Exclusions []string  `json:"exclusions,omitempty"`
}

func (s Scope) String() string {
	if s.Kind == ScopeGlobal {
		return string(ScopeGlobal)
	}
	return fmt.Sprintf("%s:%v", s.Kind, s.Targets)
}

// RolloutPhase is the stage of a staged activation.
type RolloutPhase string

const (
	PhaseTesting RolloutPhase = "testing"
	PhasePartial RolloutPhase = "partial"
	PhaseFull    RolloutPhase = "full"
)

// Rollout configures staged activation across the subject population.
type Rollout struct {
	Phase             RolloutPhase `json:"phase"`
	Percentage        int          `json:"percentage"`
	TargetGroups      []string     `json:"target_groups,omitempty"`
	AutoRollback      bool         `json:"auto_rollback,omitempty"`
	RollbackThreshold float64      `json:"rollback_threshold,omitempty"`
}

// FullRollout is the default rollout of a new policy.
func FullRollout() Rollout {
	return Rollout{Phase: PhaseFull, Percentage: 100}
}

// PolicyVersion is one entry of the append-only edit history.
type PolicyVersion struct {
	Version       int       `json:"version"`
	Author        string    `json:"author"`
	Summary       string    `json:"summary"`
	ChangedFields []string  `json:"changed_fields,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SyncStatus tracks reconciliation with the external identity-policy system.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// Integration holds distribution and external sync markers.
type Integration struct {
	SyncStatus      SyncStatus `json:"sync_status"`
	SyncError       string     `json:"sync_error,omitempty"`
	SyncedAt        *time.Time `json:"synced_at,omitempty"`
	CacheKey        string     `json:"cache_key"`
	CacheTTLSeconds int        `json:"cache_ttl_seconds"`
}

// CacheTTL returns the distribution TTL.
func (i Integration) CacheTTL() time.Duration {
	return time.Duration(i.CacheTTLSeconds) * time.Second
}

// Statistics are monotonically increasing evaluation counters.
type Statistics struct {
	Applied       uint64     `json:"applied"`
	Denied        uint64     `json:"denied"`
	Challenged    uint64     `json:"challenged"`
	Errors        uint64     `json:"errors"`
	LastAppliedAt *time.Time `json:"last_applied_at,omitempty"`
}

// Total is the number of evaluations counted.
func (s Statistics) Total() uint64 {
	return s.Applied + s.Denied + s.Challenged + s.Errors
}

// AuthPolicy is a named, versioned rule-set governing one authentication decision.
type AuthPolicy struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Version     int        `json:"version"`
	Type        PolicyType `json:"type"`
	Status      Status     `json:"status"`
	Scope       Scope      `json:"scope"`
	Conditions  Conditions `json:"conditions"`
	Rules       Rules      `json:"rules"`
	Priority    int        `json:"priority"`
	Rollout     Rollout    `json:"rollout"`

	Versions    []PolicyVersion  `json:"versions"`
	Conflicts   []PolicyConflict `json:"conflicts"`
	Integration Integration      `json:"integration"`
	Statistics  Statistics       `json:"statistics"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// UnmarshalJSON decodes the rules variant by its type tag.
func (p *AuthPolicy) UnmarshalJSON(data []byte) error {
	type alias AuthPolicy
	aux := struct {
		*alias
		Rules json.RawMessage `json:"rules"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	rules, err := decodeOptionalRules(aux.Rules)
	if err != nil {
		return err
	}
	p.Rules = rules
	return nil
}

// Clone returns a deep copy.
func (p *AuthPolicy) Clone() *AuthPolicy {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		panic(fmt.Sprintf("clone policy %s: %v", p.ID, err))
	}
	var out AuthPolicy
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("clone policy %s: %v", p.ID, err))
	}
	return &out
}

// Evaluable reports whether the policy takes part in evaluation.
func (p *AuthPolicy) Evaluable() bool {
	return p.Status == StatusActive
}

// Less orders policies by evaluation precedence:
// priority descending, then earlier creation, then id.
func Less(a, b *AuthPolicy) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Draft is the caller-authored part of a new policy.
type Draft struct {
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	Type            PolicyType `json:"type"`
	Scope           Scope      `json:"scope"`
	Conditions      Conditions `json:"conditions,omitempty"`
	Rules           Rules      `json:"rules"`
	Priority        int        `json:"priority"`
	Rollout         *Rollout   `json:"rollout,omitempty"`
	CacheKey        string     `json:"cache_key,omitempty"`
	CacheTTLSeconds int        `json:"cache_ttl_seconds,omitempty"`
}

func (d *Draft) UnmarshalJSON(data []byte) error {
	type alias Draft
	aux := struct {
		*alias
		Rules json.RawMessage `json:"rules"`
	}{alias: (*alias)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	rules, err := decodeOptionalRules(aux.Rules)
	if err != nil {
		return err
	}
	d.Rules = rules
	return nil
}

// Changes is a partial edit. Nil fields are left untouched.
type Changes struct {
	Name        *string     `json:"name,omitempty"`
	Description *string     `json:"description,omitempty"`
	Type        *PolicyType `json:"type,omitempty"`
	Scope       *Scope      `json:"scope,omitempty"`
	Conditions  *Conditions `json:"conditions,omitempty"`
	Rules       Rules       `json:"rules,omitempty"`
	Priority    *int        `json:"priority,omitempty"`
	Rollout     *Rollout    `json:"rollout,omitempty"`
}

func (c *Changes) UnmarshalJSON(data []byte) error {
	type alias Changes
	aux := struct {
		*alias
		Rules json.RawMessage `json:"rules"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	rules, err := decodeOptionalRules(aux.Rules)
	if err != nil {
		return err
	}
	c.Rules = rules
	return nil
}

// Empty reports whether no field is set.
func (c Changes) Empty() bool {
	return c.Name == nil && c.Description == nil && c.Type == nil && c.Scope == nil &&
		c.Conditions == nil && c.Rules == nil && c.Priority == nil && c.Rollout == nil
}

// Apply writes the set fields onto p.
func (c Changes) Apply(p *AuthPolicy) {
	if c.Name != nil {
		p.Name = *c.Name
	}
	if c.Description != nil {
		p.Description = *c.Description
	}
	if c.Type != nil {
		p.Type = *c.Type
	}
	if c.Scope != nil {
		p.Scope = *c.Scope
	}
	if c.Conditions != nil {
		p.Conditions = *c.Conditions
	}
	if c.Rules != nil {
		p.Rules = c.Rules
	}
	if c.Priority != nil {
		p.Priority = *c.Priority
	}
	if c.Rollout != nil {
		p.Rollout = *c.Rollout
	}
}

// Subject is the principal a policy is evaluated for.
type Subject struct {
	ID     string   `json:"id"`
	Roles  []string `json:"roles,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

// Outcome is the three-way evaluation result.
type Outcome string

const (
	OutcomeAllow     Outcome = "allow"
	OutcomeChallenge Outcome = "challenge"
	OutcomeDeny      Outcome = "deny"
)

func (o Outcome) rank() int {
	switch o {
	case OutcomeDeny:
		return 2
	case OutcomeChallenge:
		return 1
	}
	return 0
}

// Stricter returns the more restrictive of two outcomes (deny > challenge > allow).
func Stricter(a, b Outcome) Outcome {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

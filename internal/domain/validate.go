package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks every invariant of an authored policy.
func Validate(p *AuthPolicy) error {
	ve := &ValidationError{}

	name := strings.TrimSpace(p.Name)
	switch {
	case name == "":
		ve.Add("name", "is required")
	case len(name) > 200:
		ve.Add("name", "must be at most 200 characters")
	}

	if !p.Type.Valid() {
		ve.Add("type", "unknown policy type %q", p.Type)
	}
	if !p.Status.Valid() {
		ve.Add("status", "unknown status %q", p.Status)
	}

	ve.Merge("scope", ValidateScope(p.Scope))

	switch {
	case p.Rules == nil:
		ve.Add("rules", "is required")
	case p.Rules.PolicyType() != p.Type:
		ve.Add("rules", "rules of type %q do not match policy type %q", p.Rules.PolicyType(), p.Type)
	default:
		ve.Merge("rules", p.Rules.Validate())
		for i, dep := range p.Rules.Dependencies() {
			if dep == p.ID && p.ID != "" {
				ve.Add(fmt.Sprintf("rules.requires[%d]", i), "policy cannot depend on itself")
			}
		}
	}

	for i, c := range p.Conditions {
		if c == nil {
			ve.Add(fmt.Sprintf("conditions[%d]", i), "is null")
			continue
		}
		ve.Merge(fmt.Sprintf("conditions[%d]", i), c.Validate())
	}

	if p.Priority < 1 || p.Priority > 100 {
		ve.Add("priority", "must be between 1 and 100")
	}

	ve.Merge("rollout", ValidateRollout(p.Rollout))

	if p.Integration.CacheTTLSeconds < 0 {
		ve.Add("integration.cache_ttl_seconds", "must not be negative")
	}

	return ve.OrNil()
}

// ValidateScope checks a scope's shape.
func ValidateScope(s Scope) error {
	ve := &ValidationError{}
	if !s.Kind.Valid() {
		ve.Add("kind", "unknown scope kind %q", s.Kind)
		return ve
	}
	if s.Kind == ScopeGlobal {
		if len(s.Targets) > 0 {
			ve.Add("targets", "global scope takes no targets")
		}
	} else if len(s.Targets) == 0 {
		ve.Add("targets", "%s scope requires at least one target", s.Kind)
	}
	for i, t := range s.Targets {
		if strings.TrimSpace(t) == "" {
			ve.Add(fmt.Sprintf("targets[%d]", i), "target is empty")
		}
	}
	for i, t := range s.Exclusions {
		if strings.TrimSpace(t) == "" {
			ve.Add(fmt.Sprintf("exclusions[%d]", i), "exclusion is empty")
		}
	}
	return ve.OrNil()
}

// ValidateRollout enforces the phase/percentage invariants.
func ValidateRollout(r Rollout) error {
	ve := &ValidationError{}
	if r.Percentage < 0 || r.Percentage > 100 {
		ve.Add("percentage", "must be between 0 and 100")
	}
	switch r.Phase {
	case PhaseFull:
		if r.Percentage != 100 {
			ve.Add("percentage", "must be 100 when phase is full")
		}
	case PhasePartial:
		if r.Percentage <= 0 || r.Percentage >= 100 {
			ve.Add("percentage", "must be strictly between 0 and 100 when phase is partial")
		}
	case PhaseTesting:
		if r.Percentage == 100 {
			ve.Add("percentage", "100 requires phase full")
		}
		if len(r.TargetGroups) == 0 {
			ve.Add("target_groups", "testing phase requires at least one target group")
		}
	default:
		ve.Add("phase", "unknown rollout phase %q", r.Phase)
	}
	if r.AutoRollback && (r.RollbackThreshold <= 0 || r.RollbackThreshold > 1) {
		ve.Add("rollback_threshold", "must be in (0, 1] when auto rollback is enabled")
	}
	return ve.OrNil()
}

// transitions lists the allowed lifecycle moves besides archiving.
var transitions = map[Status][]Status{
	StatusDraft:    {StatusActive},
	StatusActive:   {StatusInactive},
	StatusInactive: {StatusActive},
}

// CanTransition reports whether a policy may move from one status to another.
// Any non-archived policy may be archived; archived is terminal.
func CanTransition(from, to Status) bool {
	if from == StatusArchived || from == to {
		return false
	}
	if to == StatusArchived {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an InvalidTransitionError for disallowed moves.
func CheckTransition(from, to Status) error {
	if !to.Valid() || !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// editableFields are the authored fields compared by Diff, in report order.
var editableFields = []string{"name", "description", "type", "scope", "conditions", "rules", "priority", "rollout"}

// FieldDiff holds before/after snapshots of the fields that changed between two policies.
type FieldDiff struct {
	Fields []string
	Before map[string]json.RawMessage
	After  map[string]json.RawMessage
}

// Diff compares the authored fields of two policies.
func Diff(before, after *AuthPolicy) FieldDiff {
	d := FieldDiff{
		Before: map[string]json.RawMessage{},
		After:  map[string]json.RawMessage{},
	}
	b, a := editableValues(before), editableValues(after)
	for _, f := range editableFields {
		if bytes.Equal(b[f], a[f]) {
			continue
		}
		d.Fields = append(d.Fields, f)
		d.Before[f] = b[f]
		d.After[f] = a[f]
	}
	return d
}

// Summary renders a one-line description of the diff.
func (d FieldDiff) Summary() string {
	if len(d.Fields) == 0 {
		return "no changes"
	}
	return "changed " + strings.Join(d.Fields, ", ")
}

func editableValues(p *AuthPolicy) map[string]json.RawMessage {
	enc := func(v any) json.RawMessage {
		data, err := json.Marshal(v)
		if err != nil {
			return json.RawMessage(`null`)
		}
		return data
	}
	conds := p.Conditions
	if conds == nil {
		conds = Conditions{}
	}
	return map[string]json.RawMessage{
		"name":        enc(p.Name),
		"description": enc(p.Description),
		"type":        enc(p.Type),
		"scope":       enc(p.Scope),
		"conditions":  enc(conds),
		"rules":       enc(p.Rules),
		"priority":    enc(p.Priority),
		"rollout":     enc(p.Rollout),
	}
}

// Snapshot returns every authored field, used as the "after" image of a creation.
func Snapshot(p *AuthPolicy) map[string]json.RawMessage {
	return editableValues(p)
}

package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func validPolicy() *AuthPolicy {
	return &AuthPolicy{
		ID:       "p1",
		Name:     "Admins need MFA",
		Version:  1,
		Type:     TypeMFA,
		Status:   StatusDraft,
		Scope:    Scope{Kind: ScopeRole, Targets: []string{"admin"}},
		Rules:    MFARules{Required: true, Methods: []string{"totp"}},
		Priority: 50,
		Rollout:  FullRollout(),
	}
}

func TestValidateAcceptsWellFormedPolicy(t *testing.T) {
	if err := Validate(validPolicy()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRulesMustMatchType(t *testing.T) {
	for _, pt := range PolicyTypes {
		if pt == TypeMFA {
			continue
		}
		t.Run(string(pt), func(t *testing.T) {
			p := validPolicy()
			p.Type = pt
			err := Validate(p)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation for mfa rules on %s policy, got %v", pt, err)
			}
		})
	}
}

func TestValidateMissingRules(t *testing.T) {
	p := validPolicy()
	p.Rules = nil
	if err := Validate(p); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestValidateRollout(t *testing.T) {
	tests := []struct {
		name    string
		rollout Rollout
		valid   bool
	}{
		{"full 100", Rollout{Phase: PhaseFull, Percentage: 100}, true},
		{"full 50", Rollout{Phase: PhaseFull, Percentage: 50}, false},
		{"partial 0", Rollout{Phase: PhasePartial, Percentage: 0}, false},
		{"partial 1", Rollout{Phase: PhasePartial, Percentage: 1}, true},
		{"partial 99", Rollout{Phase: PhasePartial, Percentage: 99}, true},
		{"partial 100", Rollout{Phase: PhasePartial, Percentage: 100}, false},
		{"testing 100", Rollout{Phase: PhaseTesting, Percentage: 100, TargetGroups: []string{"qa"}}, false},
		{"testing without groups", Rollout{Phase: PhaseTesting}, false},
		{"testing with groups", Rollout{Phase: PhaseTesting, TargetGroups: []string{"qa"}}, true},
		{"unknown phase", Rollout{Phase: "canary", Percentage: 10}, false},
		{"rollback without threshold", Rollout{Phase: PhaseFull, Percentage: 100, AutoRollback: true}, false},
		{"rollback with threshold", Rollout{Phase: PhaseFull, Percentage: 100, AutoRollback: true, RollbackThreshold: 0.2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRollout(tt.rollout)
			if tt.valid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestValidateScope(t *testing.T) {
	if err := ValidateScope(Scope{Kind: ScopeGlobal}); err != nil {
		t.Fatalf("global: %v", err)
	}
	if err := ValidateScope(Scope{Kind: ScopeGlobal, Targets: []string{"x"}}); err == nil {
		t.Fatal("global scope with targets should fail")
	}
	if err := ValidateScope(Scope{Kind: ScopeRole}); err == nil {
		t.Fatal("role scope without targets should fail")
	}
	if err := ValidateScope(Scope{Kind: "team", Targets: []string{"x"}}); err == nil {
		t.Fatal("unknown scope kind should fail")
	}
}

func TestValidatePriorityBounds(t *testing.T) {
	for _, prio := range []int{0, 101, -5} {
		p := validPolicy()
		p.Priority = prio
		if err := Validate(p); !errors.Is(err, ErrValidation) {
			t.Fatalf("priority %d: expected ErrValidation, got %v", prio, err)
		}
	}
}

func TestValidationErrorCollectsFields(t *testing.T) {
	p := validPolicy()
	p.Name = ""
	p.Priority = 0
	p.Conditions = Conditions{IPRangeCondition{Allow: []string{"not-an-ip"}}}

	var ve *ValidationError
	if !errors.As(Validate(p), &ve) {
		t.Fatal("expected *ValidationError")
	}
	fields := map[string]bool{}
	for _, pr := range ve.Problems {
		fields[pr.Field] = true
	}
	for _, want := range []string{"name", "priority", "conditions[0].allow[0]"} {
		if !fields[want] {
			t.Errorf("missing problem for %q in %v", want, ve.Problems)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusDraft, StatusActive, true},
		{StatusDraft, StatusInactive, false},
		{StatusDraft, StatusArchived, true},
		{StatusActive, StatusInactive, true},
		{StatusActive, StatusActive, false},
		{StatusActive, StatusArchived, true},
		{StatusActive, StatusDraft, false},
		{StatusInactive, StatusActive, true},
		{StatusInactive, StatusArchived, true},
		{StatusArchived, StatusActive, false},
		{StatusArchived, StatusInactive, false},
		{StatusArchived, StatusArchived, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}

	err := CheckTransition(StatusArchived, StatusActive)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransitionAction(t *testing.T) {
	if a := TransitionAction(StatusDraft, StatusActive); a != ActionActivated {
		t.Errorf("draft->active = %s", a)
	}
	if a := TransitionAction(StatusInactive, StatusActive); a != ActionReactivated {
		t.Errorf("inactive->active = %s", a)
	}
	if a := TransitionAction(StatusActive, StatusInactive); a != ActionDeactivated {
		t.Errorf("active->inactive = %s", a)
	}
	if a := TransitionAction(StatusDraft, StatusArchived); a != ActionArchived {
		t.Errorf("draft->archived = %s", a)
	}
}

func TestDiffReportsChangedFields(t *testing.T) {
	before := validPolicy()
	after := before.Clone()
	after.Priority = 80
	after.Rules = MFARules{Required: true, Methods: []string{"totp", "webauthn"}}

	d := Diff(before, after)
	if len(d.Fields) != 2 || d.Fields[0] != "rules" || d.Fields[1] != "priority" {
		t.Fatalf("unexpected fields: %v", d.Fields)
	}
	if string(d.Before["priority"]) != "50" || string(d.After["priority"]) != "80" {
		t.Fatalf("unexpected priority snapshots: %s -> %s", d.Before["priority"], d.After["priority"])
	}
	if d.Summary() != "changed rules, priority" {
		t.Fatalf("unexpected summary %q", d.Summary())
	}

	if d := Diff(before, before.Clone()); len(d.Fields) != 0 {
		t.Fatalf("identical policies reported changes: %v", d.Fields)
	}
}

func TestPolicyJSONKeepsVariants(t *testing.T) {
	p := validPolicy()
	p.Conditions = Conditions{
		IPRangeCondition{Block: []string{"10.0.0.0/8"}},
		RiskCondition{Allow: []RiskLevel{RiskLow}, RequireAdditionalAuth: true},
	}
	p.CreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got AuthPolicy
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if _, ok := got.Rules.(MFARules); !ok {
		t.Fatalf("rules decoded as %T", got.Rules)
	}
	if len(got.Conditions) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(got.Conditions))
	}
	if _, ok := got.Conditions[0].(IPRangeCondition); !ok {
		t.Errorf("condition 0 decoded as %T", got.Conditions[0])
	}
	risk, ok := got.Conditions[1].(RiskCondition)
	if !ok || !risk.RequireAdditionalAuth {
		t.Errorf("condition 1 decoded as %#v", got.Conditions[1])
	}
}

func TestDecodeRulesUnknownType(t *testing.T) {
	_, err := DecodeRules(json.RawMessage(`{"type":"biometric"}`))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	_, err = DecodeCondition(json.RawMessage(`{"allow":["1.2.3.4"]}`))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for untagged condition, got %v", err)
	}
}

func TestDiffRules(t *testing.T) {
	a := SessionRules{MaxDurationMinutes: 60, BindToIP: true, Requires: []string{"x"}}
	b := SessionRules{MaxDurationMinutes: 60, BindToIP: true}
	if d := DiffRules(a, b); len(d) != 0 {
		t.Fatalf("requires must not count as a difference: %v", d)
	}
	b.MaxDurationMinutes = 30
	b.BindToIP = false
	d := DiffRules(a, b)
	if len(d) != 2 || d[0] != "bind_to_ip" || d[1] != "max_duration_minutes" {
		t.Fatalf("unexpected diff %v", d)
	}
	if d := DiffRules(a, MFARules{}); len(d) != 1 || d[0] != "type" {
		t.Fatalf("cross-type diff = %v", d)
	}
}

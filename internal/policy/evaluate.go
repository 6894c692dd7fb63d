package policy

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/filipexyz/authpolicy/internal/domain"
)

// EvaluateRequest asks which outcome applies to a subject in a request context.
type EvaluateRequest struct {
	Subject domain.Subject        `json:"subject"`
	Context domain.RequestContext `json:"context"`
	// Types limits evaluation to these policy types; empty means all.
	Types []domain.PolicyType `json:"types,omitempty"`
}

// TypeResult is the decision for one policy type.
type TypeResult struct {
	Type       domain.PolicyType `json:"type"`
	PolicyID   string            `json:"policy_id,omitempty"`
	PolicyName string            `json:"policy_name,omitempty"`
	Version    int               `json:"version,omitempty"`
	Outcome    domain.Outcome    `json:"outcome"`
	Reason     string            `json:"reason"`
	Rules      domain.Rules      `json:"rules,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// EvaluateResult combines the per-type decisions. Outcome is the strictest of them.
type EvaluateResult struct {
	Outcome     domain.Outcome `json:"outcome"`
	Results     []TypeResult   `json:"results"`
	EvaluatedAt time.Time      `json:"evaluated_at"`
}

// Evaluate resolves, for each requested type, the winning applicable policy and checks
// its conditions. Types without an applicable policy allow.
func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveEvaluation(time.Since(start).Seconds()) }()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	types := uniqueTypes(req.Types)
	if len(types) == 0 {
		types = domain.PolicyTypes
	}
	now := s.now()
	rc := req.Context
	if rc.Time.IsZero() {
		rc.Time = now
	}

	active, err := s.repo.List(ctx, domain.Filter{Statuses: []domain.Status{domain.StatusActive}, Types: types})
	if err != nil {
		return nil, err
	}

	res := &EvaluateResult{Outcome: domain.OutcomeAllow, EvaluatedAt: now}
	for _, t := range types {
		tr := s.evaluateType(ctx, t, active, req.Subject, rc, now)
		res.Outcome = domain.Stricter(res.Outcome, tr.Outcome)
		res.Results = append(res.Results, tr)
	}
	return res, nil
}

func (s *Service) evaluateType(ctx context.Context, t domain.PolicyType, active []*domain.AuthPolicy,
	subject domain.Subject, rc domain.RequestContext, now time.Time) TypeResult {
	winner := Resolve(active, t, subject)
	if winner == nil {
		s.metrics.IncEvaluation(string(t), string(domain.OutcomeAllow))
		return TypeResult{Type: t, Outcome: domain.OutcomeAllow, Reason: "no applicable policy"}
	}

	tr := TypeResult{
		Type:       t,
		PolicyID:   winner.ID,
		PolicyName: winner.Name,
		Version:    winner.Version,
		Rules:      winner.Rules,
	}
	decision, err := EvaluateConditions(winner.Conditions, rc)
	failed := err != nil
	if failed {
		slog.Warn("policy evaluation failed", "policy_id", winner.ID, "error", err)
		tr.Outcome = domain.OutcomeDeny
		tr.Reason = "evaluation error"
		tr.Error = err.Error()
	} else {
		tr.Outcome = decision.Outcome
		tr.Reason = decision.Reason
	}

	if err := s.repo.RecordEvaluation(ctx, winner.ID, tr.Outcome, failed, now); err != nil {
		slog.Warn("record evaluation statistics", "policy_id", winner.ID, "error", err)
	}
	outcome := string(tr.Outcome)
	if failed {
		outcome = "error"
	}
	s.metrics.IncEvaluation(string(t), outcome)
	return tr
}

// Resolve returns the first policy of type t, in evaluation order, whose scope and
// rollout admit the subject. policies must already be sorted by domain.Less.
func Resolve(policies []*domain.AuthPolicy, t domain.PolicyType, subject domain.Subject) *domain.AuthPolicy {
	for _, p := range policies {
		if p.Type != t || !p.Evaluable() {
			continue
		}
		if ScopeApplies(p.Scope, subject) && RolloutApplies(p, subject) {
			return p
		}
	}
	return nil
}

// uniqueTypes drops repeated types, keeping first-seen order. A repeated type would
// otherwise be evaluated, and counted in the policy's statistics, more than once.
func uniqueTypes(types []domain.PolicyType) []domain.PolicyType {
	out := make([]domain.PolicyType, 0, len(types))
	for _, t := range types {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func validateRequest(req EvaluateRequest) error {
	ve := &domain.ValidationError{}
	if req.Subject.ID == "" {
		ve.Add("subject.id", "is required")
	}
	for i, t := range req.Types {
		if !t.Valid() {
			ve.Add("types", "unknown policy type %q at index %d", t, i)
		}
	}
	if rl := req.Context.RiskLevel; rl != "" && !rl.Valid() {
		ve.Add("context.risk_level", "unknown risk level %q", rl)
	}
	if rs := req.Context.RiskScore; rs < 0 || rs > 100 {
		ve.Add("context.risk_score", "must be between 0 and 100")
	}
	return ve.OrNil()
}

package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/filipexyz/authpolicy/internal/domain"
)

// DetectConflicts reports overlaps, contradictions and dependencies among active policies.
// Non-active policies in the input are ignored. Results are ordered deterministically.
func DetectConflicts(policies []*domain.AuthPolicy, now time.Time) []domain.PolicyConflict {
	active := make([]*domain.AuthPolicy, 0, len(policies))
	byID := make(map[string]*domain.AuthPolicy, len(policies))
	for _, p := range policies {
		if p.Evaluable() {
			active = append(active, p)
			byID[p.ID] = p
		}
	}
	sort.Slice(active, func(i, j int) bool { return domain.Less(active[i], active[j]) })

	var out []domain.PolicyConflict
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			if c, ok := comparePair(active[i], active[j], now); ok {
				out = append(out, c)
			}
		}
	}

	for _, p := range active {
		if p.Rules == nil {
			continue
		}
		for _, dep := range p.Rules.Dependencies() {
			c := domain.PolicyConflict{
				PolicyID:      p.ID,
				OtherPolicyID: dep,
				Kind:          domain.ConflictDependency,
				DetectedAt:    now,
			}
			if other, ok := byID[dep]; ok {
				c.Severity = domain.SeverityLow
				c.Description = fmt.Sprintf("%q depends on active policy %q", p.Name, other.Name)
			} else {
				c.Severity = domain.SeverityHigh
				c.Description = fmt.Sprintf("%q depends on policy %s which is not active", p.Name, dep)
			}
			out = append(out, c)
		}
	}
	return out
}

// comparePair classifies two active policies. a precedes b in evaluation order.
func comparePair(a, b *domain.AuthPolicy, now time.Time) (domain.PolicyConflict, bool) {
	if a.Type != b.Type {
		return domain.PolicyConflict{}, false
	}
	ok, shared, ratio := scopesOverlap(a.Scope, b.Scope)
	if !ok {
		return domain.PolicyConflict{}, false
	}

	c := domain.PolicyConflict{
		PolicyID:      a.ID,
		OtherPolicyID: b.ID,
		Targets:       shared,
		DetectedAt:    now,
	}
	where := "all subjects"
	if len(shared) > 0 {
		where = strings.Join(shared, ", ")
	}

	if fields := domain.DiffRules(a.Rules, b.Rules); len(fields) > 0 {
		c.Kind = domain.ConflictContradiction
		c.Fields = fields
		c.Description = fmt.Sprintf("%s policies %q and %q disagree on %s for %s; %q wins by priority",
			a.Type, a.Name, b.Name, strings.Join(fields, ", "), where, a.Name)
		if a.Type == domain.TypeMFA || a.Type == domain.TypeSession {
			c.Severity = domain.SeverityCritical
			return c, true
		}
	} else {
		c.Kind = domain.ConflictOverlap
		c.Description = fmt.Sprintf("%s policies %q and %q both apply to %s with identical rules",
			a.Type, a.Name, b.Name, where)
	}

	if ratio >= 0.5 {
		c.Severity = domain.SeverityMedium
	} else {
		c.Severity = domain.SeverityLow
	}
	return c, true
}

// ConflictsFor returns the conflicts involving id.
func ConflictsFor(all []domain.PolicyConflict, id string) []domain.PolicyConflict {
	var out []domain.PolicyConflict
	for _, c := range all {
		if c.Involves(id) {
			out = append(out, c)
		}
	}
	return out
}

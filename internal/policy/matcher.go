package policy

import (
	"strings"

	"github.com/filipexyz/authpolicy/internal/domain"
)

// MatchIdentity checks if an identity matches a scope pattern
// Patterns:
//   - "admin" - exact match
//   - "ops-*" - prefix match (matches "ops-", "ops-eu", etc.)
//   - "*-contractors" - suffix match (matches "eu-contractors", etc.)
//   - "*" - matches any identity
func MatchIdentity(pattern, id string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == id {
		return true
	}

	// The part before * must be a prefix of id
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(id, strings.TrimSuffix(pattern, "*"))
	}

	// The part after * must be a suffix of id
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(id, strings.TrimPrefix(pattern, "*"))
	}

	return false
}

func matchAny(patterns []string, id string) bool {
	for _, p := range patterns {
		if MatchIdentity(p, id) {
			return true
		}
	}
	return false
}

// subjectIdentities returns the identities of s a scope of the given kind is matched against.
func subjectIdentities(kind domain.ScopeKind, s domain.Subject) []string {
	switch kind {
	case domain.ScopeRole:
		return s.Roles
	case domain.ScopeGroup:
		return s.Groups
	case domain.ScopeUser:
		return []string{s.ID}
	}
	return nil
}

// ScopeApplies reports whether a scope targets the subject.
// Global scopes match everyone; exclusions are matched against the same identity kind.
func ScopeApplies(scope domain.Scope, s domain.Subject) bool {
	if scope.Kind == domain.ScopeGlobal {
		if len(scope.Exclusions) == 0 {
			return true
		}
		// Exclusions on a global scope may name a user, role or group.
		if matchAny(scope.Exclusions, s.ID) {
			return false
		}
		for _, id := range append(append([]string{}, s.Roles...), s.Groups...) {
			if matchAny(scope.Exclusions, id) {
				return false
			}
		}
		return true
	}

	for _, id := range subjectIdentities(scope.Kind, s) {
		if matchAny(scope.Targets, id) && !matchAny(scope.Exclusions, id) {
			return true
		}
	}
	return false
}

// patternsOverlap reports whether some identity could match both patterns.
func patternsOverlap(a, b string) bool {
	if a == "*" || b == "*" || a == b {
		return true
	}
	aPrefix, aSuffix := strings.HasSuffix(a, "*"), strings.HasPrefix(a, "*")
	bPrefix, bSuffix := strings.HasSuffix(b, "*"), strings.HasPrefix(b, "*")

	switch {
	case !aPrefix && !aSuffix:
		return MatchIdentity(b, a)
	case !bPrefix && !bSuffix:
		return MatchIdentity(a, b)
	case aPrefix && bPrefix:
		pa, pb := strings.TrimSuffix(a, "*"), strings.TrimSuffix(b, "*")
		return strings.HasPrefix(pa, pb) || strings.HasPrefix(pb, pa)
	case aSuffix && bSuffix:
		sa, sb := strings.TrimPrefix(a, "*"), strings.TrimPrefix(b, "*")
		return strings.HasSuffix(sa, sb) || strings.HasSuffix(sb, sa)
	}
	// One prefix pattern and one suffix pattern: "x*" and "*y" always share "xy".
	return true
}

// sharedTargets returns the targets of a that overlap a target of b and are not
// excluded by either scope.
func sharedTargets(a, b domain.Scope) []string {
	var shared []string
	for _, ta := range a.Targets {
		if matchAny(a.Exclusions, ta) || matchAny(b.Exclusions, ta) {
			continue
		}
		for _, tb := range b.Targets {
			if patternsOverlap(ta, tb) {
				shared = append(shared, ta)
				break
			}
		}
	}
	return shared
}

// scopesOverlap reports whether two scopes can select a common subject, the shared
// targets (nil for global), and the overlap ratio in [0, 1].
func scopesOverlap(a, b domain.Scope) (bool, []string, float64) {
	if a.Kind == domain.ScopeGlobal || b.Kind == domain.ScopeGlobal {
		return true, nil, 1
	}
	if a.Kind != b.Kind {
		return false, nil, 0
	}
	shared := sharedTargets(a, b)
	if len(shared) == 0 {
		return false, nil, 0
	}
	smaller := len(a.Targets)
	if len(b.Targets) < smaller {
		smaller = len(b.Targets)
	}
	ratio := float64(len(shared)) / float64(smaller)
	if ratio > 1 {
		ratio = 1
	}
	return true, shared, ratio
}

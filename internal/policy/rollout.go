package policy

import (
	"github.com/cespare/xxhash/v2"

	"github.com/filipexyz/authpolicy/internal/domain"
)

// Bucket places a subject in one of 100 stable buckets for a policy.
func Bucket(policyID, subjectID string) int {
	return int(xxhash.Sum64String(policyID+":"+subjectID) % 100)
}

// RolloutApplies decides whether a policy in rollout applies to the subject.
func RolloutApplies(p *domain.AuthPolicy, s domain.Subject) bool {
	r := p.Rollout
	switch r.Phase {
	case domain.PhaseFull:
		return true
	case domain.PhasePartial:
		return Bucket(p.ID, s.ID) < r.Percentage
	case domain.PhaseTesting:
		for _, g := range r.TargetGroups {
			if g == s.ID {
				return true
			}
			for _, sg := range s.Groups {
				if g == sg {
					return true
				}
			}
		}
	}
	return false
}

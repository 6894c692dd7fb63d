package policy

import (
	"fmt"
	"testing"

	"github.com/filipexyz/authpolicy/internal/domain"
)

func TestBucketStable(t *testing.T) {
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("user-%d", i)
		b := Bucket("policy-1", id)
		if b < 0 || b >= 100 {
			t.Fatalf("bucket %d out of range", b)
		}
		if Bucket("policy-1", id) != b {
			t.Fatalf("bucket for %s is not stable", id)
		}
	}
}

func TestRolloutApplies(t *testing.T) {
	p := &domain.AuthPolicy{ID: "p1"}

	p.Rollout = domain.FullRollout()
	if !RolloutApplies(p, domain.Subject{ID: "anyone"}) {
		t.Fatal("full rollout applies to everyone")
	}

	p.Rollout = domain.Rollout{Phase: domain.PhaseTesting, TargetGroups: []string{"qa", "u-7"}}
	if !RolloutApplies(p, domain.Subject{ID: "u-1", Groups: []string{"qa"}}) {
		t.Fatal("testing rollout applies to target group members")
	}
	if !RolloutApplies(p, domain.Subject{ID: "u-7"}) {
		t.Fatal("testing rollout applies to a listed subject id")
	}
	if RolloutApplies(p, domain.Subject{ID: "u-2", Groups: []string{"ops"}}) {
		t.Fatal("testing rollout must not apply outside target groups")
	}

	p.Rollout = domain.Rollout{Phase: domain.PhasePartial, Percentage: 30}
	in, out := 0, 0
	for i := 0; i < 1000; i++ {
		s := domain.Subject{ID: fmt.Sprintf("subject-%d", i)}
		got := RolloutApplies(p, s)
		if got != (Bucket(p.ID, s.ID) < 30) {
			t.Fatalf("partial rollout disagrees with bucket for %s", s.ID)
		}
		if got {
			in++
		} else {
			out++
		}
	}
	if in < 200 || in > 400 {
		t.Fatalf("30%% rollout admitted %d of 1000", in)
	}
}

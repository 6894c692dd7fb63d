package policy

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/filipexyz/authpolicy/internal/domain"
)

// Decision is the result of evaluating a policy's conditions.
type Decision struct {
	Outcome domain.Outcome `json:"outcome"`
	Reason  string         `json:"reason"`
}

func allow(reason string) Decision     { return Decision{Outcome: domain.OutcomeAllow, Reason: reason} }
func deny(reason string) Decision      { return Decision{Outcome: domain.OutcomeDeny, Reason: reason} }
func challenge(reason string) Decision { return Decision{Outcome: domain.OutcomeChallenge, Reason: reason} }

// EvaluateConditions checks every condition against the request context.
// Conditions are ANDed: the first deny wins, otherwise any challenge, otherwise allow.
// Malformed context or configuration returns an error and no decision.
func EvaluateConditions(conds domain.Conditions, rc domain.RequestContext) (Decision, error) {
	result := allow("all conditions satisfied")
	if len(conds) == 0 {
		result.Reason = "no conditions"
		return result, nil
	}
	for i, c := range conds {
		d, err := evaluateCondition(c, rc)
		if err != nil {
			return Decision{}, fmt.Errorf("condition %d (%s): %w", i, kindOf(c), err)
		}
		switch d.Outcome {
		case domain.OutcomeDeny:
			return d, nil
		case domain.OutcomeChallenge:
			if result.Outcome != domain.OutcomeChallenge {
				result = d
			}
		}
	}
	return result, nil
}

func kindOf(c domain.Condition) domain.ConditionKind {
	if c == nil {
		return ""
	}
	return c.Kind()
}

func evaluateCondition(c domain.Condition, rc domain.RequestContext) (Decision, error) {
	switch c := c.(type) {
	case domain.IPRangeCondition:
		return evaluateIP(c, rc.IP)
	case domain.GeoCondition:
		return evaluateSet("country", c.AllowCountries, c.BlockCountries, rc.Country), nil
	case domain.DeviceCondition:
		return evaluateSet("device type", c.AllowTypes, c.BlockTypes, rc.DeviceType), nil
	case domain.TimeWindowCondition:
		return evaluateTime(c, rc)
	case domain.RiskCondition:
		return evaluateRisk(c, rc)
	}
	return Decision{}, fmt.Errorf("unsupported condition %T", c)
}

func evaluateIP(c domain.IPRangeCondition, raw string) (Decision, error) {
	if raw == "" {
		if len(c.Allow) > 0 {
			return deny("ip address missing from context"), nil
		}
		return allow("no ip restriction"), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return Decision{}, fmt.Errorf("invalid ip address %q", raw)
	}
	addr = addr.Unmap()

	contains := func(ranges []string) (string, bool, error) {
		for _, r := range ranges {
			prefix, err := domain.ParseIPRange(r)
			if err != nil {
				return "", false, err
			}
			if prefix.Contains(addr) {
				return r, true, nil
			}
		}
		return "", false, nil
	}

	if r, ok, err := contains(c.Block); err != nil {
		return Decision{}, err
	} else if ok {
		return deny(fmt.Sprintf("ip %s is blocked by %s", raw, r)), nil
	}
	if len(c.Allow) == 0 {
		return allow("ip not blocked"), nil
	}
	if r, ok, err := contains(c.Allow); err != nil {
		return Decision{}, err
	} else if ok {
		return allow(fmt.Sprintf("ip %s allowed by %s", raw, r)), nil
	}
	return deny(fmt.Sprintf("ip %s is not in an allowed range", raw)), nil
}

// evaluateSet handles list conditions compared case-insensitively.
func evaluateSet(dimension string, allowList, blockList []string, value string) Decision {
	has := func(list []string) bool {
		for _, v := range list {
			if strings.EqualFold(v, value) {
				return true
			}
		}
		return false
	}
	if value == "" {
		if len(allowList) > 0 {
			return deny(dimension + " missing from context")
		}
		return allow("no " + dimension + " restriction")
	}
	if has(blockList) {
		return deny(fmt.Sprintf("%s %q is blocked", dimension, value))
	}
	if len(allowList) > 0 && !has(allowList) {
		return deny(fmt.Sprintf("%s %q is not allowed", dimension, value))
	}
	return allow(dimension + " permitted")
}

func evaluateTime(c domain.TimeWindowCondition, rc domain.RequestContext) (Decision, error) {
	loc, err := c.Location()
	if err != nil {
		return Decision{}, err
	}
	if rc.Time.IsZero() {
		if len(c.Allow) > 0 {
			return deny("time missing from context"), nil
		}
		return allow("no time restriction"), nil
	}
	local := rc.Time.In(loc)
	for _, w := range c.Block {
		if err := w.Validate(); err != nil {
			return Decision{}, err
		}
		if w.Contains(local) {
			return deny(fmt.Sprintf("%s falls in a blocked window %s-%s", local.Format("Mon 15:04"), w.Start, w.End)), nil
		}
	}
	if len(c.Allow) == 0 {
		return allow("time not blocked"), nil
	}
	for _, w := range c.Allow {
		if err := w.Validate(); err != nil {
			return Decision{}, err
		}
		if w.Contains(local) {
			return allow("time within allowed window"), nil
		}
	}
	return deny(fmt.Sprintf("%s is outside the allowed windows", local.Format("Mon 15:04"))), nil
}

func evaluateRisk(c domain.RiskCondition, rc domain.RequestContext) (Decision, error) {
	level := rc.EffectiveRisk()
	if !level.Valid() {
		return Decision{}, fmt.Errorf("unknown risk level %q", level)
	}
	for _, l := range c.Block {
		if l == level {
			return deny(fmt.Sprintf("risk level %s is blocked", level)), nil
		}
	}
	if len(c.Allow) == 0 {
		return allow("risk not blocked"), nil
	}
	for _, l := range c.Allow {
		if l == level {
			return allow(fmt.Sprintf("risk level %s allowed", level)), nil
		}
	}
	if c.RequireAdditionalAuth {
		return challenge(fmt.Sprintf("risk level %s requires additional authentication", level)), nil
	}
	return deny(fmt.Sprintf("risk level %s is not allowed", level)), nil
}

package domain

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// ConditionKind tags a condition variant.
type ConditionKind string

const (
	CondIPRange    ConditionKind = "ip_range"
	CondGeo        ConditionKind = "geo"
	CondDevice     ConditionKind = "device"
	CondTimeWindow ConditionKind = "time_window"
	CondRiskLevel  ConditionKind = "risk_level"
)

// Condition is one applicability constraint of a policy. The set of variants is closed:
// IPRangeCondition, GeoCondition, DeviceCondition, TimeWindowCondition, RiskCondition.
type Condition interface {
	Kind() ConditionKind
	Validate() error
	isCondition()
}

// IPRangeCondition restricts by client address. Entries are CIDRs or single addresses.
type IPRangeCondition struct {
	Allow []string `json:"allow,omitempty"`
	Block []string `json:"block,omitempty"`
}

// GeoCondition restricts by ISO 3166-1 alpha-2 country code.
type GeoCondition struct {
	AllowCountries []string `json:"allow_countries,omitempty"`
	BlockCountries []string `json:"block_countries,omitempty"`
}

// DeviceCondition restricts by device class.
type DeviceCondition struct {
	AllowTypes []string `json:"allow_types,omitempty"`
	BlockTypes []string `json:"block_types,omitempty"`
}

// TimeWindowCondition restricts by wall-clock time in Timezone (UTC when empty).
type TimeWindowCondition struct {
	Allow    []TimeWindow `json:"allow,omitempty"`
	Block    []TimeWindow `json:"block,omitempty"`
	Timezone string       `json:"timezone,omitempty"`
}

// RiskCondition restricts by computed risk level. When the level is not allowed and
// RequireAdditionalAuth is set, the outcome is a challenge instead of a deny.
type RiskCondition struct {
	Allow                 []RiskLevel `json:"allow,omitempty"`
	Block                 []RiskLevel `json:"block,omitempty"`
	RequireAdditionalAuth bool        `json:"require_additional_auth,omitempty"`
}

func (IPRangeCondition) Kind() ConditionKind    { return CondIPRange }
func (GeoCondition) Kind() ConditionKind        { return CondGeo }
func (DeviceCondition) Kind() ConditionKind     { return CondDevice }
func (TimeWindowCondition) Kind() ConditionKind { return CondTimeWindow }
func (RiskCondition) Kind() ConditionKind       { return CondRiskLevel }

func (IPRangeCondition) isCondition()    {}
func (GeoCondition) isCondition()        {}
func (DeviceCondition) isCondition()     {}
func (TimeWindowCondition) isCondition() {}
func (RiskCondition) isCondition()       {}

func (c IPRangeCondition) Validate() error {
	ve := &ValidationError{}
	for i, s := range c.Allow {
		if _, err := ParseIPRange(s); err != nil {
			ve.Add(fmt.Sprintf("allow[%d]", i), "%v", err)
		}
	}
	for i, s := range c.Block {
		if _, err := ParseIPRange(s); err != nil {
			ve.Add(fmt.Sprintf("block[%d]", i), "%v", err)
		}
	}
	return ve.OrNil()
}

func (c GeoCondition) Validate() error {
	ve := &ValidationError{}
	check := func(field string, codes []string) {
		for i, code := range codes {
			if len(code) != 2 {
				ve.Add(fmt.Sprintf("%s[%d]", field, i), "country code %q must be ISO 3166-1 alpha-2", code)
			}
		}
	}
	check("allow_countries", c.AllowCountries)
	check("block_countries", c.BlockCountries)
	return ve.OrNil()
}

func (c DeviceCondition) Validate() error {
	ve := &ValidationError{}
	for i, t := range c.AllowTypes {
		if strings.TrimSpace(t) == "" {
			ve.Add(fmt.Sprintf("allow_types[%d]", i), "device type is empty")
		}
	}
	for i, t := range c.BlockTypes {
		if strings.TrimSpace(t) == "" {
			ve.Add(fmt.Sprintf("block_types[%d]", i), "device type is empty")
		}
	}
	return ve.OrNil()
}

func (c TimeWindowCondition) Validate() error {
	ve := &ValidationError{}
	if _, err := c.Location(); err != nil {
		ve.Add("timezone", "%v", err)
	}
	for i, w := range c.Allow {
		ve.Merge(fmt.Sprintf("allow[%d]", i), w.Validate())
	}
	for i, w := range c.Block {
		ve.Merge(fmt.Sprintf("block[%d]", i), w.Validate())
	}
	return ve.OrNil()
}

// Location resolves the condition's timezone.
func (c TimeWindowCondition) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", c.Timezone)
	}
	return loc, nil
}

func (c RiskCondition) Validate() error {
	ve := &ValidationError{}
	for i, l := range c.Allow {
		if !l.Valid() {
			ve.Add(fmt.Sprintf("allow[%d]", i), "unknown risk level %q", l)
		}
	}
	for i, l := range c.Block {
		if !l.Valid() {
			ve.Add(fmt.Sprintf("block[%d]", i), "unknown risk level %q", l)
		}
	}
	return ve.OrNil()
}

// ParseIPRange parses a CIDR or a single address into a prefix.
func ParseIPRange(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid CIDR %q", s)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid address %q", s)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// TimeWindow is a daily wall-clock range. An End before Start wraps past midnight;
// Start equal to End covers the whole day. Empty Days means every day.
type TimeWindow struct {
	Days  []string `json:"days,omitempty"`
	Start string   `json:"start"`
	End   string   `json:"end"`
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func (w TimeWindow) Validate() error {
	ve := &ValidationError{}
	for i, d := range w.Days {
		if _, ok := weekdays[strings.ToLower(d)]; !ok {
			ve.Add(fmt.Sprintf("days[%d]", i), "unknown weekday %q", d)
		}
	}
	if _, err := parseClock(w.Start); err != nil {
		ve.Add("start", "%v", err)
	}
	if _, err := parseClock(w.End); err != nil {
		ve.Add("end", "%v", err)
	}
	return ve.OrNil()
}

// Contains reports whether t (already in the window's location) falls in the window.
func (w TimeWindow) Contains(t time.Time) bool {
	start, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	day := t.Weekday()

	switch {
	case start == end:
		return w.onDay(day)
	case start < end:
		return w.onDay(day) && minute >= start && minute < end
	default:
		// Overnight: the evening part belongs to today, the morning part to yesterday's window.
		if minute >= start {
			return w.onDay(day)
		}
		if minute < end {
			return w.onDay((day + 6) % 7)
		}
		return false
	}
}

func (w TimeWindow) onDay(d time.Weekday) bool {
	if len(w.Days) == 0 {
		return true
	}
	for _, name := range w.Days {
		if wd, ok := weekdays[strings.ToLower(name)]; ok && wd == d {
			return true
		}
	}
	return false
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// RiskLevel is a coarse risk classification.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// RiskFromScore maps a 0-100 risk score to a level.
func RiskFromScore(score int) RiskLevel {
	switch {
	case score < 30:
		return RiskLow
	case score < 60:
		return RiskMedium
	case score < 80:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// RequestContext carries the request attributes conditions are checked against.
type RequestContext struct {
	IP         string    `json:"ip,omitempty"`
	Country    string    `json:"country,omitempty"`
	DeviceType string    `json:"device_type,omitempty"`
	Time       time.Time `json:"time,omitempty"`
	RiskLevel  RiskLevel `json:"risk_level,omitempty"`
	RiskScore  int       `json:"risk_score,omitempty"`
}

// EffectiveRisk returns the explicit risk level, or the one computed from the score.
func (c RequestContext) EffectiveRisk() RiskLevel {
	if c.RiskLevel != "" {
		return c.RiskLevel
	}
	return RiskFromScore(c.RiskScore)
}

// Conditions is an ordered list of condition variants with a tagged JSON encoding.
type Conditions []Condition

func (c Conditions) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(c))
	for _, cond := range c {
		raw, err := marshalTagged("type", string(cond.Kind()), cond)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

func (c *Conditions) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(Conditions, 0, len(raws))
	for i, raw := range raws {
		cond, err := DecodeCondition(raw)
		if err != nil {
			return fmt.Errorf("conditions[%d]: %w", i, err)
		}
		out = append(out, cond)
	}
	*c = out
	return nil
}

// DecodeCondition decodes one tagged condition.
func DecodeCondition(raw json.RawMessage) (Condition, error) {
	kind, err := peekTag(raw)
	if err != nil {
		return nil, err
	}
	switch ConditionKind(kind) {
	case CondIPRange:
		var c IPRangeCondition
		err = json.Unmarshal(raw, &c)
		return c, err
	case CondGeo:
		var c GeoCondition
		err = json.Unmarshal(raw, &c)
		return c, err
	case CondDevice:
		var c DeviceCondition
		err = json.Unmarshal(raw, &c)
		return c, err
	case CondTimeWindow:
		var c TimeWindowCondition
		err = json.Unmarshal(raw, &c)
		return c, err
	case CondRiskLevel:
		var c RiskCondition
		err = json.Unmarshal(raw, &c)
		return c, err
	}
	return nil, NewValidationError("type", "unknown condition type %q", kind)
}

// marshalTagged encodes v as a JSON object with an extra discriminator key.
func marshalTagged(key, tag string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	fields[key], _ = json.Marshal(tag)
	return json.Marshal(fields)
}

func peekTag(raw json.RawMessage) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", err
	}
	if head.Type == "" {
		return "", NewValidationError("type", "missing type tag")
	}
	return head.Type, nil
}

package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Rules is the effect of a policy. The variant must match the policy type.
// The set of variants is closed: PasswordRules, MFARules, SessionRules,
// ProviderRules, RecoveryRules.
type Rules interface {
	PolicyType() PolicyType
	Validate() error
	// Dependencies lists ids of policies these rules rely on.
	Dependencies() []string
	isRules()
}

type PasswordRules struct {
	MinLength        int      `json:"min_length"`
	RequireUppercase bool     `json:"require_uppercase,omitempty"`
	RequireLowercase bool     `json:"require_lowercase,omitempty"`
	RequireNumbers   bool     `json:"require_numbers,omitempty"`
	RequireSymbols   bool     `json:"require_symbols,omitempty"`
	MaxAgeDays       int      `json:"max_age_days,omitempty"`
	HistoryCount     int      `json:"history_count,omitempty"`
	MaxAttempts      int      `json:"max_attempts,omitempty"`
	LockoutMinutes   int      `json:"lockout_minutes,omitempty"`
	Requires         []string `json:"requires,omitempty"`
}

type MFARules struct {
	Required           bool     `json:"required"`
	Methods            []string `json:"methods,omitempty"`
	GracePeriodHours   int      `json:"grace_period_hours,omitempty"`
	RememberDeviceDays int      `json:"remember_device_days,omitempty"`
	Requires           []string `json:"requires,omitempty"`
}

type SessionRules struct {
	MaxDurationMinutes int      `json:"max_duration_minutes"`
	IdleTimeoutMinutes int      `json:"idle_timeout_minutes,omitempty"`
	MaxConcurrent      int      `json:"max_concurrent,omitempty"`
	BindToIP           bool     `json:"bind_to_ip,omitempty"`
	Requires           []string `json:"requires,omitempty"`
}

type ProviderRules struct {
	AllowedProviders     []string `json:"allowed_providers"`
	AutoLinkAccounts     bool     `json:"auto_link_accounts,omitempty"`
	RequireVerifiedEmail bool     `json:"require_verified_email,omitempty"`
	Requires             []string `json:"requires,omitempty"`
}

type RecoveryRules struct {
	Methods              []string `json:"methods"`
	CodeTTLMinutes       int      `json:"code_ttl_minutes"`
	MaxAttempts          int      `json:"max_attempts,omitempty"`
	RequireAdminApproval bool     `json:"require_admin_approval,omitempty"`
	Requires             []string `json:"requires,omitempty"`
}

func (PasswordRules) PolicyType() PolicyType { return TypePassword }
func (MFARules) PolicyType() PolicyType      { return TypeMFA }
func (SessionRules) PolicyType() PolicyType  { return TypeSession }
func (ProviderRules) PolicyType() PolicyType { return TypeProvider }
func (RecoveryRules) PolicyType() PolicyType { return TypeRecovery }

func (r PasswordRules) Dependencies() []string { return r.Requires }
func (r MFARules) Dependencies() []string      { return r.Requires }
func (r SessionRules) Dependencies() []string  { return r.Requires }
func (r ProviderRules) Dependencies() []string { return r.Requires }
func (r RecoveryRules) Dependencies() []string { return r.Requires }

func (PasswordRules) isRules() {}
func (MFARules) isRules()      {}
func (SessionRules) isRules()  {}
func (ProviderRules) isRules() {}
func (RecoveryRules) isRules() {}

var (
	mfaMethods      = map[string]bool{"totp": true, "webauthn": true, "sms": true, "email": true, "push": true}
	recoveryMethods = map[string]bool{"email": true, "sms": true, "backup_codes": true, "security_questions": true, "admin": true}
)

func (r PasswordRules) Validate() error {
	ve := &ValidationError{}
	if r.MinLength < 8 || r.MinLength > 128 {
		ve.Add("min_length", "must be between 8 and 128")
	}
	if r.MaxAgeDays < 0 {
		ve.Add("max_age_days", "must not be negative")
	}
	if r.HistoryCount < 0 || r.HistoryCount > 24 {
		ve.Add("history_count", "must be between 0 and 24")
	}
	if r.MaxAttempts < 0 {
		ve.Add("max_attempts", "must not be negative")
	}
	if r.LockoutMinutes < 0 {
		ve.Add("lockout_minutes", "must not be negative")
	}
	return ve.OrNil()
}

func (r MFARules) Validate() error {
	ve := &ValidationError{}
	if r.Required && len(r.Methods) == 0 {
		ve.Add("methods", "at least one method is required when mfa is required")
	}
	for i, m := range r.Methods {
		if !mfaMethods[m] {
			ve.Add(fmt.Sprintf("methods[%d]", i), "unknown mfa method %q", m)
		}
	}
	if r.GracePeriodHours < 0 {
		ve.Add("grace_period_hours", "must not be negative")
	}
	if r.RememberDeviceDays < 0 {
		ve.Add("remember_device_days", "must not be negative")
	}
	return ve.OrNil()
}

func (r SessionRules) Validate() error {
	ve := &ValidationError{}
	if r.MaxDurationMinutes <= 0 {
		ve.Add("max_duration_minutes", "must be positive")
	}
	if r.IdleTimeoutMinutes < 0 || (r.MaxDurationMinutes > 0 && r.IdleTimeoutMinutes > r.MaxDurationMinutes) {
		ve.Add("idle_timeout_minutes", "must be between 0 and max_duration_minutes")
	}
	if r.MaxConcurrent < 0 {
		ve.Add("max_concurrent", "must not be negative")
	}
	return ve.OrNil()
}

func (r ProviderRules) Validate() error {
	ve := &ValidationError{}
	if len(r.AllowedProviders) == 0 {
		ve.Add("allowed_providers", "at least one provider is required")
	}
	for i, p := range r.AllowedProviders {
		if p == "" {
			ve.Add(fmt.Sprintf("allowed_providers[%d]", i), "provider is empty")
		}
	}
	return ve.OrNil()
}

func (r RecoveryRules) Validate() error {
	ve := &ValidationError{}
	if len(r.Methods) == 0 {
		ve.Add("methods", "at least one recovery method is required")
	}
	for i, m := range r.Methods {
		if !recoveryMethods[m] {
			ve.Add(fmt.Sprintf("methods[%d]", i), "unknown recovery method %q", m)
		}
	}
	if r.CodeTTLMinutes <= 0 {
		ve.Add("code_ttl_minutes", "must be positive")
	}
	if r.MaxAttempts < 0 {
		ve.Add("max_attempts", "must not be negative")
	}
	return ve.OrNil()
}

func (r PasswordRules) MarshalJSON() ([]byte, error) {
	type plain PasswordRules
	return marshalTagged("type", string(TypePassword), plain(r))
}

func (r MFARules) MarshalJSON() ([]byte, error) {
	type plain MFARules
	return marshalTagged("type", string(TypeMFA), plain(r))
}

func (r SessionRules) MarshalJSON() ([]byte, error) {
	type plain SessionRules
	return marshalTagged("type", string(TypeSession), plain(r))
}

func (r ProviderRules) MarshalJSON() ([]byte, error) {
	type plain ProviderRules
	return marshalTagged("type", string(TypeProvider), plain(r))
}

func (r RecoveryRules) MarshalJSON() ([]byte, error) {
	type plain RecoveryRules
	return marshalTagged("type", string(TypeRecovery), plain(r))
}

// DecodeRules decodes a tagged rules object.
func DecodeRules(raw json.RawMessage) (Rules, error) {
	tag, err := peekTag(raw)
	if err != nil {
		return nil, err
	}
	switch PolicyType(tag) {
	case TypePassword:
		var r PasswordRules
		err = json.Unmarshal(raw, &r)
		return r, err
	case TypeMFA:
		var r MFARules
		err = json.Unmarshal(raw, &r)
		return r, err
	case TypeSession:
		var r SessionRules
		err = json.Unmarshal(raw, &r)
		return r, err
	case TypeProvider:
		var r ProviderRules
		err = json.Unmarshal(raw, &r)
		return r, err
	case TypeRecovery:
		var r RecoveryRules
		err = json.Unmarshal(raw, &r)
		return r, err
	}
	return nil, NewValidationError("rules.type", "unknown rules type %q", tag)
}

func decodeOptionalRules(raw json.RawMessage) (Rules, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return DecodeRules(raw)
}

// DiffRules returns the sorted decision-relevant fields that differ between a and b.
// Dependencies are not decision-relevant. Rules of different types differ in "type".
func DiffRules(a, b Rules) []string {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return nil
		}
		return []string{"type"}
	}
	if a.PolicyType() != b.PolicyType() {
		return []string{"type"}
	}
	am, bm := rulesFields(a), rulesFields(b)
	keys := make(map[string]struct{}, len(am)+len(bm))
	for k := range am {
		keys[k] = struct{}{}
	}
	for k := range bm {
		keys[k] = struct{}{}
	}
	var diff []string
	for k := range keys {
		if !reflect.DeepEqual(am[k], bm[k]) {
			diff = append(diff, k)
		}
	}
	sort.Strings(diff)
	return diff
}

func rulesFields(r Rules) map[string]any {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	delete(m, "type")
	delete(m, "requires")
	return m
}

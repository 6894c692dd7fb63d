package schema

import (
	"errors"
	"testing"

	"github.com/filipexyz/authpolicy/internal/domain"
)

func TestValidateDraft(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		valid bool
	}{
		{
			name:  "minimal",
			doc:   `{"name":"n","type":"mfa","scope":{"kind":"global"},"rules":{"type":"mfa","required":true,"methods":["totp"]},"priority":10}`,
			valid: true,
		},
		{
			name:  "missing rules",
			doc:   `{"name":"n","type":"mfa","scope":{"kind":"global"},"priority":10}`,
			valid: false,
		},
		{
			name:  "unknown type",
			doc:   `{"name":"n","type":"biometric","scope":{"kind":"global"},"rules":{"type":"mfa"},"priority":10}`,
			valid: false,
		},
		{
			name:  "priority out of range",
			doc:   `{"name":"n","type":"mfa","scope":{"kind":"global"},"rules":{"type":"mfa"},"priority":500}`,
			valid: false,
		},
		{
			name:  "unknown field",
			doc:   `{"name":"n","type":"mfa","scope":{"kind":"global"},"rules":{"type":"mfa"},"priority":1,"status":"active"}`,
			valid: false,
		},
		{
			name:  "untagged condition",
			doc:   `{"name":"n","type":"mfa","scope":{"kind":"global"},"rules":{"type":"mfa"},"priority":1,"conditions":[{"allow":["10.0.0.0/8"]}]}`,
			valid: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDraft([]byte(tt.doc))
			if tt.valid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.valid && !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestValidateDraftReportsField(t *testing.T) {
	err := ValidateDraft([]byte(`{"name":"n","type":"mfa","scope":{"kind":"team"},"rules":{"type":"mfa"},"priority":1}`))
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	found := false
	for _, p := range ve.Problems {
		if p.Field == "scope.kind" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a scope.kind problem, got %+v", ve.Problems)
	}
}

func TestValidateCommit(t *testing.T) {
	if err := ValidateCommit([]byte(`{"version":3,"changes":{"priority":40}}`)); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	if err := ValidateCommit([]byte(`{"version":3,"changes":{}}`)); err == nil {
		t.Fatal("empty changes should be rejected")
	}
	if err := ValidateCommit([]byte(`{"changes":{"priority":40}}`)); err == nil {
		t.Fatal("missing version should be rejected")
	}
	if err := ValidateCommit([]byte(`{"version":3,"changes":{"status":"active"}}`)); err == nil {
		t.Fatal("status is not editable through commit")
	}
	if err := ValidateCommit([]byte(`not json`)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("malformed document: expected ErrValidation, got %v", err)
	}
}

func TestValidateDraftValue(t *testing.T) {
	doc := map[string]any{
		"name":     "from yaml",
		"type":     "session",
		"scope":    map[string]any{"kind": "role", "targets": []any{"admin"}},
		"rules":    map[string]any{"type": "session", "max_duration_minutes": 60},
		"priority": 20,
	}
	if err := ValidateDraftValue(doc); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/filipexyz/authpolicy/internal/domain"
	"github.com/filipexyz/authpolicy/internal/policy"
	"github.com/filipexyz/authpolicy/internal/store"
)

const baseline = `
api_version: "1.0.0"
policies:
  - name: "Admin MFA"
    type: mfa
    status: active
    scope:
      kind: role
      targets: ["admin"]
    rules:
      type: mfa
      required: true
      methods: ["totp", "webauthn"]
    priority: 80
  - name: "Corporate sessions"
    type: session
    scope:
      kind: global
    conditions:
      - type: ip_range
        block: ["203.0.113.0/24"]
    rules:
      type: session
      max_duration_minutes: 480
      idle_timeout_minutes: 30
    priority: 40
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write seed file: %v", err)
	}
}

func newService() *policy.Service {
	return policy.NewService(store.NewMemory(), policy.Options{})
}

func TestLoadAllCreatesAndActivates(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "baseline.yaml", baseline)

	svc := newService()
	l, err := NewLoader(dir, svc)
	if err != nil {
		t.Fatalf("failed to create loader: %v", err)
	}
	res, err := l.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Created != 2 || res.Transitions != 1 || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	list, _ := svc.List(ctx, domain.Filter{})
	if len(list) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(list))
	}
	byName := map[string]*domain.AuthPolicy{}
	for _, p := range list {
		byName[p.Name] = p
	}
	if byName["Admin MFA"].Status != domain.StatusActive {
		t.Fatalf("Admin MFA should be active, got %s", byName["Admin MFA"].Status)
	}
	sess := byName["Corporate sessions"]
	if sess.Status != domain.StatusDraft || len(sess.Conditions) != 1 {
		t.Fatalf("unexpected session policy %+v", sess)
	}
	if sess.CreatedBy != Actor {
		t.Fatalf("expected seed actor, got %q", sess.CreatedBy)
	}

	// Reapplying the same file changes nothing.
	res, _ = l.LoadAll(ctx)
	if res.Created != 0 || res.Updated != 0 || res.Transitions != 0 || res.Unchanged != 2 {
		t.Fatalf("second pass should be a no-op, got %+v", res)
	}
}

func TestLoadAllCommitsEdits(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "baseline.yaml", baseline)

	svc := newService()
	l, _ := NewLoader(dir, svc)
	if _, err := l.LoadAll(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	writeFile(t, dir, "baseline.yaml", strings.Replace(baseline, "priority: 80", "priority: 90", 1))
	res, _ := l.LoadAll(ctx)
	if res.Updated != 1 {
		t.Fatalf("expected one update, got %+v", res)
	}

	list, _ := svc.List(ctx, domain.Filter{Types: []domain.PolicyType{domain.TypeMFA}})
	if list[0].Priority != 90 || list[0].Version != 2 {
		t.Fatalf("edit not committed: priority %d version %d", list[0].Priority, list[0].Version)
	}
}

func TestParseFileRejects(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing version", "policies: []\n", "api_version is required"},
		{"future version", "api_version: \"2.1.0\"\npolicies: []\n", "unsupported api_version"},
		{"bad status", "api_version: \"1.0.0\"\npolicies:\n  - name: x\n    status: live\n", "unknown status"},
		{"schema violation", "api_version: \"1.0.0\"\npolicies:\n  - name: x\n    type: mfa\n", "policies[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := ParseFile(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadAllSkipsBadFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a-broken.yaml", "api_version: [\n")
	writeFile(t, dir, "b-good.yml", baseline)
	writeFile(t, dir, "notes.txt", "ignored")

	svc := newService()
	l, _ := NewLoader(dir, svc)
	res, err := l.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Failed != 1 || res.Created != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

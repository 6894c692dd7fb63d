package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestYAMLToJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{
			name: "yaml policy",
			in: `name: Admin MFA
type: mfa
scope:
  kind: roles
  targets: [admin]
rules:
  type: mfa
  required: true
  methods: [totp]
`,
			want: `{"name":"Admin MFA","rules":{"methods":["totp"],"required":true,"type":"mfa"},"scope":{"kind":"roles","targets":["admin"]},"type":"mfa"}`,
		},
		{
			name: "json passes through",
			in:   `{"priority": 70, "description": "tuned"}`,
			want: `{"description":"tuned","priority":70}`,
		},
		{name: "empty", in: "", wantErr: true},
		{name: "non-string key", in: "1: one\n", wantErr: true},
		{name: "invalid", in: "a: [1, 2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := yamlToJSON([]byte(tt.in))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("yamlToJSON: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestReadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.yaml")
	if err := os.WriteFile(path, []byte("priority: 40\n"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := readDocument(path)
	if err != nil {
		t.Fatalf("readDocument: %v", err)
	}
	var m map[string]int
	if err := json.Unmarshal(got, &m); err != nil || m["priority"] != 40 {
		t.Fatalf("unexpected document %s (%v)", got, err)
	}
}

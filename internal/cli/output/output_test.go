package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestJSONWithFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		want   string
	}{
		{"no filter", "", "{\n  \"count\": 2,\n  \"ids\": [\n    \"a\",\n    \"b\"\n  ]\n}\n"},
		{"field", ".count", "2\n"},
		{"iterate", ".ids[]", "\"a\"\n\"b\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			o := NewWriter(true, &buf)
			if tt.filter != "" {
				if err := o.SetFilter(tt.filter); err != nil {
					t.Fatalf("SetFilter: %v", err)
				}
			}
			o.JSON(map[string]any{"count": 2, "ids": []string{"a", "b"}})
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestSetFilterInvalid(t *testing.T) {
	o := NewWriter(false, &bytes.Buffer{})
	if err := o.SetFilter(".[[["); err == nil {
		t.Fatal("expected parse error")
	}
	if o.JSONMode() {
		t.Error("invalid filter should not switch to JSON mode")
	}
}

func TestJSONModeSuppressesText(t *testing.T) {
	var buf bytes.Buffer
	o := NewWriter(true, &buf)
	o.Success("saved")
	o.Header("Policies")
	o.KeyValue("ID", "p1")
	if buf.Len() != 0 {
		t.Errorf("expected no text output in JSON mode, got %q", buf.String())
	}
}

func TestTableAlignment(t *testing.T) {
	var buf bytes.Buffer
	o := NewWriter(false, &buf)

	tbl := NewTable("id", "status")
	tbl.Row("p1", "active")
	tbl.Row("policy-22", "draft")
	o.Table(tbl)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		"ID         STATUS",
		"p1         active",
		"policy-22  draft",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %q", len(lines), len(want), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestPadToWidth(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"abc", 5, "abc  "},
		{"abcdef", 5, "ab..."},
		{"ábc", 3, "ábc"},
		{"abcd", 2, "ab"},
	}
	for _, tt := range tests {
		if got := padToWidth(tt.in, tt.width); got != tt.want {
			t.Errorf("padToWidth(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestColorizerDisabled(t *testing.T) {
	c := NewColorizer(false)
	for _, s := range []string{c.Color("x", "red"), c.Value("deny"), c.Bold("x"), c.Dim("x")} {
		if s != "x" && s != "deny" {
			t.Errorf("disabled colorizer altered text: %q", s)
		}
	}
}

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_KEYS", "ak_one,ak_two")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.AuthMode != AuthModeNone || !cfg.IsSelfHosted() {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[1] != "ak_two" {
		t.Fatalf("API_KEYS not split: %v", cfg.APIKeys)
	}
	if cfg.CacheDefaultTTL != 5*time.Minute || cfg.SyncInterval != 30*time.Second {
		t.Fatalf("unexpected durations %v %v", cfg.CacheDefaultTTL, cfg.SyncInterval)
	}
	if cfg.DatabaseURL != "" {
		t.Fatal("database should default to in-memory")
	}
}

func TestLoadRejectsInvalidCombinations(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"no api keys", map[string]string{}},
		{"clerk without secret", map[string]string{"AUTH_MODE": "clerk"}},
		{"unknown mode", map[string]string{"AUTH_MODE": "ldap", "API_KEYS": "k"}},
		{"two nats sources", map[string]string{"API_KEYS": "k", "NATS_URL": "nats://x:4222", "NATS_EMBEDDED": "true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("API_KEYS", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

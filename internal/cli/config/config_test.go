package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	in := &Config{APIKey: "apk_0123456789abcdefghij", Server: "http://policy.internal:8080"}
	if err := Save(in, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *out != *in {
		t.Errorf("Load() = %+v, want %+v", out, in)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestResolveAppliesEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(&Config{APIKey: "apk_stored_key_0123456789", Server: "http://stored:8080"}, path); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvServer, "https://policy.example.com")

	cfg, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Server != "https://policy.example.com" || cfg.APIKey != "apk_stored_key_0123456789" {
		t.Fatalf("unexpected profile %+v", cfg)
	}
}

func TestResolveMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvAPIKey, "apk_from_env_0123456789")

	cfg, err := Resolve(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("missing profile should resolve, got %v", err)
	}
	if cfg.APIKey != "apk_from_env_0123456789" {
		t.Fatalf("expected key from environment, got %+v", cfg)
	}

	corrupt := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Resolve(corrupt); err == nil {
		t.Fatal("expected error for corrupt profile")
	}
}

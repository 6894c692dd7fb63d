package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Environment variables that override the stored profile, for CI jobs that push
// policies without a config file.
const (
	EnvAPIKey = "AUTHPOLICY_API_KEY"
	EnvServer = "AUTHPOLICY_SERVER"
)

// Config is the stored policyctl profile.
type Config struct {
	APIKey string `json:"api_key,omitempty"`
	Server string `json:"server,omitempty"`
}

// DefaultPath is ~/.authpolicy/config.json.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".authpolicy", "config.json")
}

// Load reads the profile at path, or at DefaultPath when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Resolve loads the profile if one exists and applies environment overrides.
// A missing file is an empty profile; a corrupt one is an error.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = &Config{}, nil
	}
	if err != nil {
		return nil, err
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(EnvServer); v != "" {
		cfg.Server = v
	}
	return cfg, nil
}

// Save writes the profile with owner-only permissions; it holds an API key.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

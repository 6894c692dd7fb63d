package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// AuthMode determines the authentication mode for the server.
type AuthMode string

const (
	// AuthModeClerk accepts Clerk session tokens (dashboard) as well as API keys.
	AuthModeClerk AuthMode = "clerk"
	// AuthModeNone disables Clerk auth and accepts only API keys.
	AuthModeNone AuthMode = "none"
)

type Config struct {
	// Server
	Port            string        `env:"PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	RateLimitPerSec int           `env:"RATE_LIMIT_PER_SEC" envDefault:"50"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST" envDefault:"100"`

	// POST /evaluate budget per caller, separate from policy management.
	EvaluateRatePerSec int `env:"EVALUATE_RATE_LIMIT_PER_SEC" envDefault:"500"`
	EvaluateRateBurst  int `env:"EVALUATE_RATE_LIMIT_BURST" envDefault:"1000"`

	// Database. Empty selects the in-memory store.
	DatabaseURL string `env:"DATABASE_URL"`

	// NATS. Empty NATS_URL with NATS_EMBEDDED=false disables the event bus.
	NatsURL      string `env:"NATS_URL"`
	NatsEmbedded bool   `env:"NATS_EMBEDDED" envDefault:"false"`
	NatsStoreDir string `env:"NATS_STORE_DIR" envDefault:"./data/nats"`
	NatsPort     int    `env:"NATS_PORT" envDefault:"4222"`

	// Redis distribution cache. Empty disables distribution.
	RedisURL        string        `env:"REDIS_URL"`
	CacheDefaultTTL time.Duration `env:"CACHE_DEFAULT_TTL" envDefault:"5m"`

	// Upper bound between rewrites of the active set; shorter TTLs refresh sooner.
	CacheRefreshInterval time.Duration `env:"CACHE_REFRESH_INTERVAL" envDefault:"1m"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	LogFile   string `env:"LOG_FILE"`

	// Authentication
	AuthMode       AuthMode `env:"AUTH_MODE" envDefault:"none"`
	APIKeys        []string `env:"API_KEYS" envSeparator:","`
	ClerkSecretKey string   `env:"CLERK_SECRET_KEY"`

	// CORS
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`

	// Seed policies. Empty disables the loader.
	PolicyDir   string `env:"POLICY_DIR"`
	PolicyWatch bool   `env:"POLICY_WATCH" envDefault:"true"`

	// Identity provider sync. Empty SYNC_URL keeps markers pending.
	SyncURL          string        `env:"SYNC_URL"`
	SyncSecret       string        `env:"SYNC_SECRET"`
	SyncInterval     time.Duration `env:"SYNC_INTERVAL" envDefault:"30s"`
	SyncTimeout      time.Duration `env:"SYNC_TIMEOUT" envDefault:"10s"`
	SyncRatePerSec   float64       `env:"SYNC_RATE_PER_SEC" envDefault:"5"`
	SyncAllowPrivate bool          `env:"SYNC_ALLOW_PRIVATE" envDefault:"true"`

	// Auto-rollback monitor
	RollbackEnabled    bool          `env:"ROLLBACK_ENABLED" envDefault:"true"`
	RollbackInterval   time.Duration `env:"ROLLBACK_INTERVAL" envDefault:"1m"`
	RollbackMinSamples uint64        `env:"ROLLBACK_MIN_SAMPLES" envDefault:"20"`
}

// IsSelfHosted returns true if running without Clerk.
func (c *Config) IsSelfHosted() bool {
	return c.AuthMode == AuthModeNone
}

// Validate checks combinations env tags cannot express.
func (c *Config) Validate() error {
	switch c.AuthMode {
	case AuthModeNone:
		if len(c.APIKeys) == 0 {
			return fmt.Errorf("API_KEYS is required when AUTH_MODE=none")
		}
	case AuthModeClerk:
		if c.ClerkSecretKey == "" {
			return fmt.Errorf("CLERK_SECRET_KEY is required when AUTH_MODE=clerk")
		}
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}
	if c.NatsEmbedded && c.NatsURL != "" {
		return fmt.Errorf("NATS_URL and NATS_EMBEDDED are mutually exclusive")
	}
	return nil
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

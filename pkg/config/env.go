package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "TINYBEACON_"

// Config is the process configuration, read from TINYBEACON_* variables.
type Config struct {
	Port            string        `env:"PORT"              envDefault:"3000"`
	Host            string        `env:"HOST"              envDefault:"127.0.0.1"`
	DBPath          string        `env:"DB_PATH"           envDefault:"./tinybeacon.db"`
	Backend         string        `env:"BACKEND"           envDefault:"sqlite"`
	BusyTimeout     time.Duration `env:"BUSY_TIMEOUT"      envDefault:"5s"`
	MaxStorageGB    int64         `env:"MAX_STORAGE_GB"    envDefault:"1"`
	MaxMemoryMB     int64         `env:"MAX_MEMORY_MB"     envDefault:"48"`
	CORSOrigins     []string      `env:"CORS_ORIGINS"      envDefault:"*"    envSeparator:","`
	IngestRateLimit int           `env:"INGEST_RATE_LIMIT" envDefault:"600"`
	LogLevel        string        `env:"LOG_LEVEL"         envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT"        envDefault:"text"`
	WebDir          string        `env:"WEB_DIR"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Backend {
	case "sqlite", "badger", "memory":
	default:
		return fmt.Errorf("unknown storage backend %q (want sqlite, badger or memory)", c.Backend)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat)
	}
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.Backend != "memory" && c.DBPath == "" {
		return fmt.Errorf("db path is required for the %s backend", c.Backend)
	}
	if c.IngestRateLimit < 0 {
		return fmt.Errorf("ingest rate limit must not be negative")
	}
	return nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

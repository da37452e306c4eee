package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "3000", cfg.Port)
	require.Equal(t, "127.0.0.1", cfg.Host)
	require.Equal(t, "./tinybeacon.db", cfg.DBPath)
	require.Equal(t, "sqlite", cfg.Backend)
	require.EqualValues(t, 1, cfg.MaxStorageGB)
	require.EqualValues(t, 48, cfg.MaxMemoryMB)
	require.Equal(t, 5*time.Second, cfg.BusyTimeout)
	require.Equal(t, []string{"*"}, cfg.CORSOrigins)
	require.Equal(t, "127.0.0.1:3000", cfg.Addr())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TINYBEACON_PORT", "9000")
	t.Setenv("TINYBEACON_BACKEND", "badger")
	t.Setenv("TINYBEACON_BUSY_TIMEOUT", "250ms")
	t.Setenv("TINYBEACON_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("TINYBEACON_LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9000", cfg.Port)
	require.Equal(t, "badger", cfg.Backend)
	require.Equal(t, 250*time.Millisecond, cfg.BusyTimeout)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	require.Equal(t, "json", cfg.LogFormat)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown backend", "TINYBEACON_BACKEND", "postgres"},
		{"unknown log format", "TINYBEACON_LOG_FORMAT", "xml"},
		{"negative rate", "TINYBEACON_INGEST_RATE_LIMIT", "-1"},
		{"bad duration", "TINYBEACON_BUSY_TIMEOUT", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestValidateMemoryNeedsNoPath(t *testing.T) {
	cfg := Config{Port: "3000", Backend: "memory", LogFormat: "text"}
	require.NoError(t, cfg.Validate())

	cfg.Backend = "sqlite"
	require.Error(t, cfg.Validate())
}

func TestServerTimeouts(t *testing.T) {
	require.Greater(t, WriteTimeout, QueryTimeout)
	require.Greater(t, ExportTimeout, WriteTimeout)
	require.Positive(t, ReadTimeout)
	require.Positive(t, IdleTimeout)
}

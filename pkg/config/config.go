package config

import "time"

// Server timeouts. Defaults for the tunable settings live in the
// envDefault tags on Config.
const (
	ShutdownTimeout   = 10 * time.Second
	ReadHeaderTimeout = 5 * time.Second
	ReadTimeout       = 10 * time.Second
	IdleTimeout       = 60 * time.Second

	// WriteTimeout covers the slowest stats query. Export sets its own
	// deadline from ExportTimeout.
	WriteTimeout = QueryTimeout + 15*time.Second
)

// Background task intervals
const (
	StorageProbeInterval = 1 * time.Minute
	BadgerGCInterval     = 10 * time.Minute
	DiskCheckInterval    = 5 * time.Minute
)

// Stats query timeouts and defaults
const (
	QueryTimeout       = 30 * time.Second
	QueryDefaultWindow = 7 * 24 * time.Hour
	QueryDefaultLimit  = 10
	QueryMaxLimit      = 1000
)

// Ingest timeouts and limits
const (
	IngestTimeout      = 5 * time.Second
	IngestMaxBodyBytes = 16 << 10
	IngestRateWindow   = 1 * time.Minute
)

// Export defaults and limits
const (
	DefaultExportWindow = 24 * time.Hour
	MaxExportWindow     = 31 * 24 * time.Hour
	ExportTimeout       = 2 * time.Minute
)

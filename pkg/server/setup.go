package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/config"
	"github.com/nicktill/tinybeacon/pkg/export"
	"github.com/nicktill/tinybeacon/pkg/ingest"
	"github.com/nicktill/tinybeacon/pkg/observability"
	"github.com/nicktill/tinybeacon/pkg/query"
	"github.com/nicktill/tinybeacon/pkg/server/monitor"
	"github.com/nicktill/tinybeacon/pkg/storage"
	"github.com/nicktill/tinybeacon/pkg/storage/badger"
	"github.com/nicktill/tinybeacon/pkg/storage/memory"
	"github.com/nicktill/tinybeacon/pkg/storage/sqlite"
)

// InitializeStorage opens the configured backend. It also returns the
// on-disk paths the backend occupies, for the storage monitor.
func InitializeStorage(cfg config.Config, clock analytics.Clock, log logrus.FieldLogger) (storage.Storage, []string, error) {
	switch cfg.Backend {
	case "sqlite":
		log.WithField("path", cfg.DBPath).Info("Initializing SQLite storage (WAL mode)...")
		if err := ensureDir(filepath.Dir(cfg.DBPath)); err != nil {
			return nil, nil, err
		}
		store, err := sqlite.Open(cfg.DBPath,
			sqlite.WithClock(clock),
			sqlite.WithBusyTimeout(cfg.BusyTimeout),
		)
		if err != nil {
			return nil, nil, err
		}
		log.Info("SQLite storage initialized successfully")
		return store, monitor.SQLitePaths(cfg.DBPath), nil

	case "badger":
		log.WithFields(logrus.Fields{
			"path":          cfg.DBPath,
			"max_memory_mb": cfg.MaxMemoryMB,
		}).Info("Initializing BadgerDB storage with Snappy compression...")
		if err := ensureDir(cfg.DBPath); err != nil {
			return nil, nil, err
		}
		store, err := badger.New(badger.Config{
			Path:        cfg.DBPath,
			MaxMemoryMB: cfg.MaxMemoryMB,
			Clock:       clock,
			Logger:      log.WithField("component", "badger"),
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("BadgerDB storage initialized successfully")
		return store, []string{cfg.DBPath}, nil

	case "memory":
		log.Warn("Using in-memory storage, events are lost on shutdown")
		return memory.New(clock), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// Handlers groups the request handlers.
type Handlers struct {
	Ingest *ingest.Handler
	Query  *query.Handler
	Export *export.Handler
}

// InitializeHandlers creates and configures all request handlers.
// storageMonitor may be nil (memory backend).
func InitializeHandlers(
	store storage.Storage,
	clock analytics.Clock,
	log logrus.FieldLogger,
	metrics *observability.Metrics,
	storageMonitor *monitor.StorageMonitor,
) *Handlers {
	ingestHandler := ingest.NewHandler(store, log, metrics)
	if storageMonitor != nil {
		ingestHandler.SetStorageChecker(storageMonitor)
		log.WithField("limit_bytes", storageMonitor.GetLimit()).Info("Ingest handler created with storage limit enforcement")
	} else {
		log.Info("Ingest handler created")
	}

	queryHandler := query.NewHandler(store, clock, log)
	log.Info("Stats handler created")

	exportHandler := export.NewHandler(store, clock, log)
	log.Info("Export handler created (JSON & CSV)")

	return &Handlers{
		Ingest: ingestHandler,
		Query:  queryHandler,
		Export: exportHandler,
	}
}

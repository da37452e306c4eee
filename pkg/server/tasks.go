package server

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinybeacon/pkg/config"
	"github.com/nicktill/tinybeacon/pkg/observability"
	"github.com/nicktill/tinybeacon/pkg/server/monitor"
	"github.com/nicktill/tinybeacon/pkg/storage"
	"github.com/nicktill/tinybeacon/pkg/storage/badger"
)

const (
	probeMaxRetries = 3
	probeBaseDelay  = 5 * time.Second
	probeTimeout    = 10 * time.Second

	// badgerDiscardRatio: rewrite a value log file once half of it is garbage.
	badgerDiscardRatio = 0.5

	// diskWarnFraction of the storage limit triggers a warning.
	diskWarnFraction = 0.9
)

// ProbeStorage asks the store for its stats once and records the outcome.
func ProbeStorage(ctx context.Context, store storage.Storage, pm *monitor.ProbeMonitor, metrics *observability.Metrics) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	stats, err := store.Stats(ctx)
	if err != nil {
		pm.RecordFailure(err)
		metrics.SetStorageHealth(store.Backend(), false, 0)
		return err
	}
	pm.RecordSuccess()
	metrics.SetStorageHealth(store.Backend(), true, stats.SizeBytes)
	return nil
}

// RunStorageProbe probes the store on startup and every
// config.StorageProbeInterval until ctx is done. Failed probes are retried
// with exponential backoff.
func RunStorageProbe(ctx context.Context, store storage.Storage, pm *monitor.ProbeMonitor, metrics *observability.Metrics, log logrus.FieldLogger) error {
	ticker := time.NewTicker(config.StorageProbeInterval)
	defer ticker.Stop()

	runWithRetry := func() {
		for attempt := 0; attempt <= probeMaxRetries; attempt++ {
			if attempt > 0 {
				delay := probeBaseDelay * time.Duration(1<<(attempt-1)) // 5s, 10s, 20s
				log.WithField("attempt", attempt+1).Infof("Retrying storage probe in %v", delay)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}

			err := ProbeStorage(ctx, store, pm, metrics)
			if err == nil {
				return
			}
			if ctx.Err() != nil {
				return
			}

			entry := log.WithError(err).WithField("attempt", attempt+1)
			if n := pm.ConsecutiveErrors(); n > probeMaxRetries {
				entry.WithField("consecutive_errors", n).Error("ALERT: storage probe keeps failing")
			} else {
				entry.Warn("Storage probe failed")
			}
		}
		log.Warnf("Storage probe failed after %d attempts, will retry on next schedule", probeMaxRetries+1)
	}

	log.Infof("Storage probe started (runs every %v)", config.StorageProbeInterval)
	runWithRetry()

	for {
		select {
		case <-ticker.C:
			runWithRetry()
		case <-ctx.Done():
			log.Info("Stopping storage probe")
			return nil
		}
	}
}

// unwrapper is implemented by storage decorators.
type unwrapper interface {
	Unwrap() storage.Storage
}

// badgerBackend finds a *badger.Storage behind any decorators.
func badgerBackend(store storage.Storage) (*badger.Storage, bool) {
	for {
		switch s := store.(type) {
		case *badger.Storage:
			return s, true
		case unwrapper:
			store = s.Unwrap()
		default:
			return nil, false
		}
	}
}

// RunBadgerGC runs BadgerDB value log garbage collection every
// config.BadgerGCInterval to reclaim disk space. It returns at once for
// other backends.
func RunBadgerGC(ctx context.Context, store storage.Storage, log logrus.FieldLogger) error {
	badgerStore, ok := badgerBackend(store)
	if !ok {
		log.Debug("Storage is not BadgerDB, skipping GC")
		return nil
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	log.Infof("BadgerDB GC scheduler started (runs every %v)", config.BadgerGCInterval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			if err := badgerStore.RunGC(badgerDiscardRatio); err != nil {
				log.WithError(err).Warn("BadgerDB GC failed")
				continue
			}
			log.WithField("duration", time.Since(start).Round(time.Millisecond).String()).Debug("BadgerDB GC completed")
		case <-ctx.Done():
			log.Info("Stopping BadgerDB GC scheduler")
			return nil
		}
	}
}

// CheckDisk refreshes disk usage and logs when it nears or passes the
// limit. It reports whether the limit is reached.
func CheckDisk(sm *monitor.StorageMonitor, log logrus.FieldLogger) bool {
	sm.Refresh()
	used, err := sm.GetUsage()
	if err != nil {
		log.WithError(err).Warn("Failed to calculate storage usage")
		return false
	}
	limit := sm.GetLimit()
	if limit <= 0 {
		return false
	}

	entry := log.WithFields(logrus.Fields{
		"used_bytes": used,
		"max_bytes":  limit,
	})
	switch {
	case used >= limit:
		entry.Error("Storage limit reached, new events are refused")
		return true
	case float64(used) >= diskWarnFraction*float64(limit):
		entry.Warn("Storage usage above 90% of limit")
	}
	return false
}

// RunDiskCheck runs CheckDisk every config.DiskCheckInterval.
func RunDiskCheck(ctx context.Context, sm *monitor.StorageMonitor, log logrus.FieldLogger) error {
	if sm == nil {
		return nil
	}
	ticker := time.NewTicker(config.DiskCheckInterval)
	defer ticker.Stop()

	CheckDisk(sm, log)
	for {
		select {
		case <-ticker.C:
			CheckDisk(sm, log)
		case <-ctx.Done():
			return nil
		}
	}
}

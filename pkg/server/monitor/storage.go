package monitor

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// usageTTL bounds how often the filesystem is walked.
const usageTTL = 10 * time.Second

// StorageMonitor reports how many bytes the event store occupies on disk.
// Results are cached for usageTTL. It satisfies ingest.StorageChecker.
type StorageMonitor struct {
	paths    []string
	maxBytes int64

	mu      sync.Mutex
	used    int64
	expires time.Time
	now     func() time.Time
}

// NewStorageMonitor watches paths, each a file or a directory tree.
// Missing paths count as empty. maxBytes <= 0 means no limit.
func NewStorageMonitor(paths []string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		paths:    paths,
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

// SQLitePaths lists the files a SQLite database in WAL mode occupies.
func SQLitePaths(dbPath string) []string {
	return []string{dbPath, dbPath + "-wal", dbPath + "-shm"}
}

// GetUsage returns the bytes allocated to the watched paths.
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := sm.now()
	if now.Before(sm.expires) {
		return sm.used, nil
	}

	var total int64
	for _, p := range sm.paths {
		n, err := diskUsage(p)
		if err != nil {
			return 0, err
		}
		total += n
	}
	sm.used, sm.expires = total, now.Add(usageTTL)
	return total, nil
}

// Refresh expires the cached value.
func (sm *StorageMonitor) Refresh() {
	sm.mu.Lock()
	sm.expires = time.Time{}
	sm.mu.Unlock()
}

// GetLimit returns the configured limit in bytes, <= 0 when unlimited.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// diskUsage sums allocated bytes under root. Entries that vanish during the
// walk (WAL checkpoints, badger value log rotation) are skipped.
func diskUsage(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		total += allocatedSize(path, info)
		return nil
	})
	return total, err
}

// allocatedSize prefers the platform's allocated size and falls back to the
// logical size.
func allocatedSize(path string, info os.FileInfo) int64 {
	if n, err := getActualFileSize(path, info); err == nil {
		return n
	}
	return info.Size()
}

package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/storage"
)

const backendName = "badger"

// Key prefixes, one per event stream.
const (
	prefixPageView byte = 'p'
	prefixDownload byte = 'd'
)

var sequenceKey = []byte("!seq/events")

// endOfTime bounds open-ended scans.
var endOfTime = time.Unix(math.MaxInt64/2, 0)

// Storage implements storage.Storage using BadgerDB (LSM tree).
// Events are keyed by [prefix][unix seconds][id] so an interval query is
// a single ordered range scan.
type Storage struct {
	mu     sync.Mutex
	db     *badger.DB
	seq    *badger.Sequence
	clock  analytics.Clock
	closed bool
}

var _ storage.Storage = (*Storage)(nil)

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults based on environment)
	// Recommended: 64-128 MB for local dev, 256-512 MB for production
	MaxMemoryMB int64

	// Clock assigns created_at; nil means the system clock.
	Clock analytics.Clock

	// Logger receives BadgerDB's internal logs; nil silences them.
	Logger logrus.FieldLogger
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// BadgerDB defaults: 64 MB memtable, 5 x 64 MB = 320 MB total
	// We use 48 MB total (16 MB memtable + 32 MB cache) for self-hosted
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3 // ~33% for memtable
	}
	blockCacheSize := memTableSize / 2 // Block cache: 50% of memtable
	indexCacheSize := memTableSize / 4 // Index cache: 25% of memtable

	opts = opts.
		// Every insert is durable before it returns
		WithSyncWrites(true).
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).

		// Memory table configuration
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).

		// Block and index caching (CRITICAL for memory bounds)
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).

		// LSM tree configuration (reduces memory and disk usage)
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).

		// 64 MB value log files instead of default 2GB
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	if cfg.Logger != nil {
		opts = opts.WithLogger(cfg.Logger)
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := db.GetSequence(sequenceKey, 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = analytics.SystemClock{}
	}
	return &Storage{db: db, seq: seq, clock: clock}, nil
}

// Backend returns "badger".
func (s *Storage) Backend() string { return backendName }

func (s *Storage) acquire(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return storage.Wrap(backendName, op, storage.ErrClosed)
	}
	return nil
}

// makeKey creates a sortable key
// Format: [prefix (1 byte)][unix seconds (8 bytes)][id (8 bytes)]
func makeKey(prefix byte, ts time.Time, id int64) []byte {
	key := make([]byte, 17)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:9], uint64(clampSeconds(ts.Unix())))
	binary.BigEndian.PutUint64(key[9:17], uint64(id))
	return key
}

// parseKey extracts the timestamp and id from a storage key
func parseKey(key []byte) (time.Time, int64) {
	secs := binary.BigEndian.Uint64(key[1:9])
	id := binary.BigEndian.Uint64(key[9:17])
	return time.Unix(int64(secs), 0).UTC(), int64(id)
}

// Pre-epoch times collapse to zero so keys stay ordered as unsigned ints.
func clampSeconds(secs int64) int64 {
	if secs < 0 {
		return 0
	}
	return secs
}

func (s *Storage) nextID() (int64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, err
	}
	return int64(n) + 1, nil
}

func (s *Storage) put(op string, prefix byte, assign func(id int64, at time.Time) (any, time.Time)) error {
	id, err := s.nextID()
	if err != nil {
		return storage.Wrap(backendName, op, err)
	}
	record, at := assign(id, s.clock.Now().UTC().Truncate(time.Second))
	value, err := json.Marshal(record)
	if err != nil {
		return storage.Wrap(backendName, op, fmt.Errorf("failed to encode event: %w", err))
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(prefix, at, id), value)
	})
	return storage.Wrap(backendName, op, err)
}

// InsertPageView stores a page view
func (s *Storage) InsertPageView(ctx context.Context, pv analytics.PageView) (analytics.PageView, error) {
	const op = "insert_pageview"
	if err := s.acquire(ctx, op); err != nil {
		return analytics.PageView{}, err
	}
	defer s.mu.Unlock()

	err := s.put(op, prefixPageView, func(id int64, at time.Time) (any, time.Time) {
		pv.ID, pv.CreatedAt = id, at
		return pv, at
	})
	if err != nil {
		return analytics.PageView{}, err
	}
	return pv, nil
}

// InsertDownload stores a download event
func (s *Storage) InsertDownload(ctx context.Context, d analytics.Download) (analytics.Download, error) {
	const op = "insert_download"
	if err := s.acquire(ctx, op); err != nil {
		return analytics.Download{}, err
	}
	defer s.mu.Unlock()

	err := s.put(op, prefixDownload, func(id int64, at time.Time) (any, time.Time) {
		d.ID, d.CreatedAt = id, at
		return d, at
	})
	if err != nil {
		return analytics.Download{}, err
	}
	return d, nil
}

// scanRange visits every value under prefix with from <= ts < to, in key
// order.
func (s *Storage) scanRange(prefix byte, from, to time.Time, fn func(val []byte) error) error {
	lo := clampSeconds(from.Unix())
	hi := clampSeconds(to.Unix())
	if lo >= hi {
		return nil
	}

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 100
		opts.Prefix = []byte{prefix}

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(makeKey(prefix, time.Unix(lo, 0), 0)); it.Valid(); it.Next() {
			item := it.Item()
			ts, _ := parseKey(item.Key())
			if ts.Unix() >= hi {
				break
			}
			if err := item.Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Storage) pageViews(iv analytics.Interval) ([]analytics.PageView, error) {
	var views []analytics.PageView
	err := s.scanRange(prefixPageView, iv.From, iv.To, func(val []byte) error {
		var pv analytics.PageView
		if err := json.Unmarshal(val, &pv); err != nil {
			return fmt.Errorf("failed to decode page view: %w", err)
		}
		views = append(views, pv)
		return nil
	})
	return views, err
}

func (s *Storage) downloads(iv analytics.Interval) ([]analytics.Download, error) {
	var downloads []analytics.Download
	err := s.scanRange(prefixDownload, iv.From, iv.To, func(val []byte) error {
		var d analytics.Download
		if err := json.Unmarshal(val, &d); err != nil {
			return fmt.Errorf("failed to decode download: %w", err)
		}
		downloads = append(downloads, d)
		return nil
	})
	return downloads, err
}

// readViews loads the page views in iv under the store lock and hands them
// to compute.
func readViews[T any](s *Storage, ctx context.Context, op string, iv analytics.Interval, compute func([]analytics.PageView) T) (T, error) {
	var zero T
	if err := s.acquire(ctx, op); err != nil {
		return zero, err
	}
	defer s.mu.Unlock()

	views, err := s.pageViews(iv)
	if err != nil {
		return zero, storage.Wrap(backendName, op, err)
	}
	return compute(views), nil
}

// Overview returns the headline counters for iv
func (s *Storage) Overview(ctx context.Context, iv analytics.Interval) (analytics.OverviewStats, error) {
	const op = "overview"
	if err := s.acquire(ctx, op); err != nil {
		return analytics.OverviewStats{}, err
	}
	defer s.mu.Unlock()

	views, err := s.pageViews(iv)
	if err != nil {
		return analytics.OverviewStats{}, storage.Wrap(backendName, op, err)
	}
	downloads, err := s.downloads(iv)
	if err != nil {
		return analytics.OverviewStats{}, storage.Wrap(backendName, op, err)
	}
	return analytics.Overview(views, int64(len(downloads)), iv), nil
}

func (s *Storage) PageviewsByDay(ctx context.Context, iv analytics.Interval) ([]analytics.DailyStat, error) {
	return readViews(s, ctx, "pageviews_by_day", iv, analytics.PageviewsByDay)
}

func (s *Storage) UniqueVisitorsByDay(ctx context.Context, iv analytics.Interval) ([]analytics.DailyStat, error) {
	return readViews(s, ctx, "unique_visitors_by_day", iv, analytics.UniqueVisitorsByDay)
}

func (s *Storage) TopPages(ctx context.Context, iv analytics.Interval, limit int) ([]analytics.PageStat, error) {
	return readViews(s, ctx, "top_pages", iv, func(views []analytics.PageView) []analytics.PageStat {
		return analytics.TopPages(views, limit)
	})
}

func (s *Storage) TopReferrers(ctx context.Context, iv analytics.Interval, limit int) ([]analytics.ReferrerStat, error) {
	return readViews(s, ctx, "top_referrers", iv, func(views []analytics.PageView) []analytics.ReferrerStat {
		return analytics.TopReferrers(views, limit)
	})
}

func (s *Storage) BrowserBreakdown(ctx context.Context, iv analytics.Interval) ([]analytics.BrowserStat, error) {
	return readViews(s, ctx, "browser_breakdown", iv, analytics.BrowserBreakdown)
}

func (s *Storage) OSBreakdown(ctx context.Context, iv analytics.Interval) ([]analytics.OSStat, error) {
	return readViews(s, ctx, "os_breakdown", iv, analytics.OSBreakdown)
}

// DownloadStats returns the download series and per-app ranking for iv
func (s *Storage) DownloadStats(ctx context.Context, iv analytics.Interval) (analytics.DownloadStats, error) {
	const op = "download_stats"
	if err := s.acquire(ctx, op); err != nil {
		return analytics.DownloadStats{}, err
	}
	defer s.mu.Unlock()

	downloads, err := s.downloads(iv)
	if err != nil {
		return analytics.DownloadStats{}, storage.Wrap(backendName, op, err)
	}
	return analytics.Downloads(downloads), nil
}

// RealtimeActiveVisitors counts distinct visitors in the trailing window
func (s *Storage) RealtimeActiveVisitors(ctx context.Context) (int64, error) {
	const op = "realtime_visitors"
	if err := s.acquire(ctx, op); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	since := s.clock.Now().Add(-analytics.RealtimeWindow).Truncate(time.Second)
	views, err := s.pageViews(analytics.Interval{From: since, To: endOfTime})
	if err != nil {
		return 0, storage.Wrap(backendName, op, err)
	}
	return analytics.ActiveVisitors(views, since), nil
}

// ScanPageViews calls fn for each page view in iv, ordered by time then id
func (s *Storage) ScanPageViews(ctx context.Context, iv analytics.Interval, fn func(analytics.PageView) error) error {
	const op = "scan_pageviews"
	if err := s.acquire(ctx, op); err != nil {
		return err
	}
	defer s.mu.Unlock()

	var stopped error
	err := s.scanRange(prefixPageView, iv.From, iv.To, func(val []byte) error {
		var pv analytics.PageView
		if err := json.Unmarshal(val, &pv); err != nil {
			return fmt.Errorf("failed to decode page view: %w", err)
		}
		if err := fn(pv); err != nil {
			stopped = err
			return err
		}
		return nil
	})
	if stopped != nil {
		return stopped
	}
	return storage.Wrap(backendName, op, err)
}

// ScanDownloads calls fn for each download in iv, ordered by time then id
func (s *Storage) ScanDownloads(ctx context.Context, iv analytics.Interval, fn func(analytics.Download) error) error {
	const op = "scan_downloads"
	if err := s.acquire(ctx, op); err != nil {
		return err
	}
	defer s.mu.Unlock()

	var stopped error
	err := s.scanRange(prefixDownload, iv.From, iv.To, func(val []byte) error {
		var d analytics.Download
		if err := json.Unmarshal(val, &d); err != nil {
			return fmt.Errorf("failed to decode download: %w", err)
		}
		if err := fn(d); err != nil {
			stopped = err
			return err
		}
		return nil
	})
	if stopped != nil {
		return stopped
	}
	return storage.Wrap(backendName, op, err)
}

// Close releases the id lease and shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("failed to release id sequence: %w", err)
	}
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// This reclaims disk space from deleted/updated values
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns error only if GC failed, nil if GC not needed or succeeded
func (s *Storage) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	const op = "stats"
	if err := s.acquire(ctx, op); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	stats := &storage.Stats{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			if len(key) != 17 {
				continue // sequence and other bookkeeping keys
			}
			switch key[0] {
			case prefixPageView:
				stats.TotalPageViews++
			case prefixDownload:
				stats.TotalDownloads++
			default:
				continue
			}
			ts, _ := parseKey(key)
			stats.Observe(ts)
		}
		return nil
	})
	if err != nil {
		return nil, storage.Wrap(backendName, op, err)
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

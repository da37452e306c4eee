// Package sqlite is the primary event store: a single SQLite database in
// WAL mode, accessed through one connection guarded by one mutex.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/storage"
)

const backendName = "sqlite"

// DefaultBusyTimeout is how long a statement waits on a locked database
// before failing.
const DefaultBusyTimeout = 5 * time.Second

// Option configures a Store.
type Option func(*options)

type options struct {
	clock       analytics.Clock
	busyTimeout time.Duration
}

// WithClock sets the clock used for created_at and the realtime window.
func WithClock(c analytics.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithBusyTimeout overrides DefaultBusyTimeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:       analytics.SystemClock{},
		busyTimeout: DefaultBusyTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Store implements storage.Storage on SQLite.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	clock  analytics.Clock
	closed bool
}

var _ storage.Storage = (*Store)(nil)

// Open opens (creating if needed) the database at path, applies the schema
// and returns a ready store. Reopening an existing file leaves its rows and
// schema unchanged.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	o := buildOptions(opts)

	db, err := sql.Open("sqlite", dsn(path, o.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// Pragmas are per connection; keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}
	if err := applyMigrations(ctx, db, migrationFS, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}

	return newStore(db, o), nil
}

// New wraps an already-open handle. The schema is assumed to exist.
func New(db *sql.DB, opts ...Option) *Store {
	return newStore(db, buildOptions(opts))
}

func newStore(db *sql.DB, o options) *Store {
	return &Store{db: db, clock: o.clock}
}

func dsn(path string, busyTimeout time.Duration) string {
	if path != ":memory:" {
		path = filepath.Clean(path)
	}
	return fmt.Sprintf(
		"%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)",
		path, busyTimeout.Milliseconds(),
	)
}

// acquire fails fast on a done context, then takes the store lock. The
// returned context is detached from cancellation so a statement, once
// issued, runs to completion.
func (s *Store) acquire(ctx context.Context, op string) (context.Context, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, storage.Wrap(backendName, op, storage.ErrClosed)
	}
	return context.WithoutCancel(ctx), s.mu.Unlock, nil
}

// Backend returns "sqlite".
func (s *Store) Backend() string { return backendName }

// Close closes the database handle. Further operations fail with
// storage.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// InsertPageView appends one page view.
func (s *Store) InsertPageView(ctx context.Context, pv analytics.PageView) (analytics.PageView, error) {
	const op = "insert_pageview"
	ctx, release, err := s.acquire(ctx, op)
	if err != nil {
		return analytics.PageView{}, err
	}
	defer release()

	createdAt := s.clock.Now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO page_views (domain, path, referrer, browser, os, screen, visitor_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pv.Domain, pv.Path, pv.Referrer, pv.Browser, pv.OS, pv.Screen, pv.VisitorID,
		analytics.FormatTimestamp(createdAt),
	)
	if err != nil {
		return analytics.PageView{}, storage.Wrap(backendName, op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return analytics.PageView{}, storage.Wrap(backendName, op, err)
	}

	pv.ID = id
	pv.CreatedAt = createdAt
	return pv, nil
}

// InsertDownload appends one download event.
func (s *Store) InsertDownload(ctx context.Context, d analytics.Download) (analytics.Download, error) {
	const op = "insert_download"
	ctx, release, err := s.acquire(ctx, op)
	if err != nil {
		return analytics.Download{}, err
	}
	defer release()

	createdAt := s.clock.Now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO download_events (app_name, version, platform, referrer, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		d.AppName, d.Version, d.Platform, d.Referrer,
		analytics.FormatTimestamp(createdAt),
	)
	if err != nil {
		return analytics.Download{}, storage.Wrap(backendName, op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return analytics.Download{}, storage.Wrap(backendName, op, err)
	}

	d.ID = id
	d.CreatedAt = createdAt
	return d, nil
}

// Stats reports row counts, the event time range and the database size.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	const op = "stats"
	ctx, release, err := s.acquire(ctx, op)
	if err != nil {
		return nil, err
	}
	defer release()

	stats := &storage.Stats{}
	for _, table := range []string{"page_views", "download_events"} {
		var (
			count          int64
			oldest, newest sql.NullString
		)
		row := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*), MIN(created_at), MAX(created_at) FROM `+table)
		if err := row.Scan(&count, &oldest, &newest); err != nil {
			return nil, storage.Wrap(backendName, op, err)
		}
		if table == "page_views" {
			stats.TotalPageViews = uint64(count)
		} else {
			stats.TotalDownloads = uint64(count)
		}
		for _, ts := range []sql.NullString{oldest, newest} {
			if !ts.Valid {
				continue
			}
			t, err := analytics.ParseTimestamp(ts.String)
			if err != nil {
				return nil, storage.Wrap(backendName, op, err)
			}
			stats.Observe(t)
		}
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return nil, storage.Wrap(backendName, op, err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return nil, storage.Wrap(backendName, op, err)
	}
	stats.SizeBytes = uint64(pageCount * pageSize)

	return stats, nil
}

// journalMode reports the active journal mode, "wal" once Open succeeded
// on a file database.
func (s *Store) journalMode(ctx context.Context) (string, error) {
	const op = "journal_mode"
	ctx, release, err := s.acquire(ctx, op)
	if err != nil {
		return "", err
	}
	defer release()

	var mode string
	if err := s.db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode); err != nil {
		return "", storage.Wrap(backendName, op, err)
	}
	return strings.ToLower(mode), nil
}

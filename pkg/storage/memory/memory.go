package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/storage"
)

const backendName = "memory"

// Storage keeps events in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	views     []analytics.PageView
	downloads []analytics.Download
	nextID    int64
	clock     analytics.Clock
	closed    bool
	mu        sync.RWMutex
}

var _ storage.Storage = (*Storage)(nil)

// New creates an in-memory storage backend. A nil clock means the system
// clock.
func New(clock analytics.Clock) *Storage {
	if clock == nil {
		clock = analytics.SystemClock{}
	}
	return &Storage{
		views:     make([]analytics.PageView, 0, 1024),
		downloads: make([]analytics.Download, 0, 256),
		clock:     clock,
	}
}

func (s *Storage) lock(ctx context.Context, op string) error {
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

func (s *Storage) rlock(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return storage.Wrap(backendName, op, storage.ErrClosed)
	}
	return nil
}

// Backend returns "memory".
func (s *Storage) Backend() string { return backendName }

// InsertPageView appends a page view
func (s *Storage) InsertPageView(ctx context.Context, pv analytics.PageView) (analytics.PageView, error) {
	if err := s.lock(ctx, "insert_pageview"); err != nil {
		return analytics.PageView{}, err
	}
	defer s.mu.Unlock()

	s.nextID++
	pv.ID = s.nextID
	pv.CreatedAt = s.clock.Now().UTC().Truncate(time.Second)
	s.views = append(s.views, pv)
	return pv, nil
}

// InsertDownload appends a download event
func (s *Storage) InsertDownload(ctx context.Context, d analytics.Download) (analytics.Download, error) {
	if err := s.lock(ctx, "insert_download"); err != nil {
		return analytics.Download{}, err
	}
	defer s.mu.Unlock()

	s.nextID++
	d.ID = s.nextID
	d.CreatedAt = s.clock.Now().UTC().Truncate(time.Second)
	s.downloads = append(s.downloads, d)
	return d, nil
}

// viewsIn returns the page views inside iv. Caller holds the lock.
func (s *Storage) viewsIn(iv analytics.Interval) []analytics.PageView {
	var out []analytics.PageView
	for _, v := range s.views {
		if iv.Contains(v.CreatedAt) {
			out = append(out, v)
		}
	}
	return out
}

func (s *Storage) downloadsIn(iv analytics.Interval) []analytics.Download {
	var out []analytics.Download
	for _, d := range s.downloads {
		if iv.Contains(d.CreatedAt) {
			out = append(out, d)
		}
	}
	return out
}

// Overview returns the headline counters for iv
func (s *Storage) Overview(ctx context.Context, iv analytics.Interval) (analytics.OverviewStats, error) {
	if err := s.rlock(ctx, "overview"); err != nil {
		return analytics.OverviewStats{}, err
	}
	defer s.mu.RUnlock()

	return analytics.Overview(s.viewsIn(iv), int64(len(s.downloadsIn(iv))), iv), nil
}

func (s *Storage) PageviewsByDay(ctx context.Context, iv analytics.Interval) ([]analytics.DailyStat, error) {
	if err := s.rlock(ctx, "pageviews_by_day"); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	return analytics.PageviewsByDay(s.viewsIn(iv)), nil
}

func (s *Storage) UniqueVisitorsByDay(ctx context.Context, iv analytics.Interval) ([]analytics.DailyStat, error) {
	if err := s.rlock(ctx, "unique_visitors_by_day"); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	return analytics.UniqueVisitorsByDay(s.viewsIn(iv)), nil
}

func (s *Storage) TopPages(ctx context.Context, iv analytics.Interval, limit int) ([]analytics.PageStat, error) {
	if err := s.rlock(ctx, "top_pages"); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	return analytics.TopPages(s.viewsIn(iv), limit), nil
}

func (s *Storage) TopReferrers(ctx context.Context, iv analytics.Interval, limit int) ([]analytics.ReferrerStat, error) {
	if err := s.rlock(ctx, "top_referrers"); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	return analytics.TopReferrers(s.viewsIn(iv), limit), nil
}

func (s *Storage) BrowserBreakdown(ctx context.Context, iv analytics.Interval) ([]analytics.BrowserStat, error) {
	if err := s.rlock(ctx, "browser_breakdown"); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	return analytics.BrowserBreakdown(s.viewsIn(iv)), nil
}

func (s *Storage) OSBreakdown(ctx context.Context, iv analytics.Interval) ([]analytics.OSStat, error) {
	if err := s.rlock(ctx, "os_breakdown"); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	return analytics.OSBreakdown(s.viewsIn(iv)), nil
}

func (s *Storage) DownloadStats(ctx context.Context, iv analytics.Interval) (analytics.DownloadStats, error) {
	if err := s.rlock(ctx, "download_stats"); err != nil {
		return analytics.DownloadStats{}, err
	}
	defer s.mu.RUnlock()

	return analytics.Downloads(s.downloadsIn(iv)), nil
}

// RealtimeActiveVisitors counts distinct visitors in the trailing window
func (s *Storage) RealtimeActiveVisitors(ctx context.Context) (int64, error) {
	if err := s.rlock(ctx, "realtime_visitors"); err != nil {
		return 0, err
	}
	defer s.mu.RUnlock()

	since := s.clock.Now().Add(-analytics.RealtimeWindow).Truncate(time.Second)
	return analytics.ActiveVisitors(s.views, since), nil
}

// ScanPageViews calls fn for each page view in iv, in insertion order
func (s *Storage) ScanPageViews(ctx context.Context, iv analytics.Interval, fn func(analytics.PageView) error) error {
	if err := s.rlock(ctx, "scan_pageviews"); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	for _, v := range s.views {
		if !iv.Contains(v.CreatedAt) {
			continue
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// ScanDownloads calls fn for each download in iv, in insertion order
func (s *Storage) ScanDownloads(ctx context.Context, iv analytics.Interval, fn func(analytics.Download) error) error {
	if err := s.rlock(ctx, "scan_downloads"); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	for _, d := range s.downloads {
		if !iv.Contains(d.CreatedAt) {
			continue
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

// Close drops all events
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.views = nil
	s.downloads = nil
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := s.rlock(ctx, "stats"); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		TotalPageViews: uint64(len(s.views)),
		TotalDownloads: uint64(len(s.downloads)),
	}
	for _, v := range s.views {
		stats.Observe(v.CreatedAt)
	}
	for _, d := range s.downloads {
		stats.Observe(d.CreatedAt)
	}

	// Rough size estimate (each event ~200 bytes)
	stats.SizeBytes = uint64(len(s.views)+len(s.downloads)) * 200

	return stats, nil
}

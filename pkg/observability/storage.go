package observability

import (
	"context"
	"time"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/storage"
)

// InstrumentedStorage records latency and outcome of every storage call.
type InstrumentedStorage struct {
	next    storage.Storage
	metrics *Metrics
}

var _ storage.Storage = (*InstrumentedStorage)(nil)

// InstrumentStorage wraps s. With nil metrics s is returned unchanged.
func InstrumentStorage(s storage.Storage, m *Metrics) storage.Storage {
	if m == nil {
		return s
	}
	return &InstrumentedStorage{next: s, metrics: m}
}

// Unwrap returns the wrapped backend, for backend-specific maintenance.
func (s *InstrumentedStorage) Unwrap() storage.Storage { return s.next }

func (s *InstrumentedStorage) observe(op string, start time.Time, err error) {
	s.metrics.observeStorage(op, s.next.Backend(), start, err)
}

func (s *InstrumentedStorage) InsertPageView(ctx context.Context, pv analytics.PageView) (analytics.PageView, error) {
	start := time.Now()
	out, err := s.next.InsertPageView(ctx, pv)
	s.observe("insert_pageview", start, err)
	return out, err
}

func (s *InstrumentedStorage) InsertDownload(ctx context.Context, d analytics.Download) (analytics.Download, error) {
	start := time.Now()
	out, err := s.next.InsertDownload(ctx, d)
	s.observe("insert_download", start, err)
	return out, err
}

func (s *InstrumentedStorage) Overview(ctx context.Context, iv analytics.Interval) (analytics.OverviewStats, error) {
	start := time.Now()
	out, err := s.next.Overview(ctx, iv)
	s.observe("overview", start, err)
	return out, err
}

func (s *InstrumentedStorage) PageviewsByDay(ctx context.Context, iv analytics.Interval) ([]analytics.DailyStat, error) {
	start := time.Now()
	out, err := s.next.PageviewsByDay(ctx, iv)
	s.observe("pageviews_by_day", start, err)
	return out, err
}

func (s *InstrumentedStorage) UniqueVisitorsByDay(ctx context.Context, iv analytics.Interval) ([]analytics.DailyStat, error) {
	start := time.Now()
	out, err := s.next.UniqueVisitorsByDay(ctx, iv)
	s.observe("unique_visitors_by_day", start, err)
	return out, err
}

func (s *InstrumentedStorage) TopPages(ctx context.Context, iv analytics.Interval, limit int) ([]analytics.PageStat, error) {
	start := time.Now()
	out, err := s.next.TopPages(ctx, iv, limit)
	s.observe("top_pages", start, err)
	return out, err
}

func (s *InstrumentedStorage) TopReferrers(ctx context.Context, iv analytics.Interval, limit int) ([]analytics.ReferrerStat, error) {
	start := time.Now()
	out, err := s.next.TopReferrers(ctx, iv, limit)
	s.observe("top_referrers", start, err)
	return out, err
}

func (s *InstrumentedStorage) BrowserBreakdown(ctx context.Context, iv analytics.Interval) ([]analytics.BrowserStat, error) {
	start := time.Now()
	out, err := s.next.BrowserBreakdown(ctx, iv)
	s.observe("browser_breakdown", start, err)
	return out, err
}

func (s *InstrumentedStorage) OSBreakdown(ctx context.Context, iv analytics.Interval) ([]analytics.OSStat, error) {
	start := time.Now()
	out, err := s.next.OSBreakdown(ctx, iv)
	s.observe("os_breakdown", start, err)
	return out, err
}

func (s *InstrumentedStorage) DownloadStats(ctx context.Context, iv analytics.Interval) (analytics.DownloadStats, error) {
	start := time.Now()
	out, err := s.next.DownloadStats(ctx, iv)
	s.observe("download_stats", start, err)
	return out, err
}

func (s *InstrumentedStorage) RealtimeActiveVisitors(ctx context.Context) (int64, error) {
	start := time.Now()
	out, err := s.next.RealtimeActiveVisitors(ctx)
	s.observe("realtime_visitors", start, err)
	return out, err
}

func (s *InstrumentedStorage) ScanPageViews(ctx context.Context, iv analytics.Interval, fn func(analytics.PageView) error) error {
	start := time.Now()
	err := s.next.ScanPageViews(ctx, iv, fn)
	s.observe("scan_pageviews", start, err)
	return err
}

func (s *InstrumentedStorage) ScanDownloads(ctx context.Context, iv analytics.Interval, fn func(analytics.Download) error) error {
	start := time.Now()
	err := s.next.ScanDownloads(ctx, iv, fn)
	s.observe("scan_downloads", start, err)
	return err
}

func (s *InstrumentedStorage) Stats(ctx context.Context) (*storage.Stats, error) {
	start := time.Now()
	out, err := s.next.Stats(ctx)
	s.observe("stats", start, err)
	return out, err
}

func (s *InstrumentedStorage) Backend() string { return s.next.Backend() }

func (s *InstrumentedStorage) Close() error { return s.next.Close() }

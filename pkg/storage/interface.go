package storage

import (
	"context"
	"time"

	"github.com/nicktill/tinybeacon/pkg/analytics"
)

// Writer is the append-only write side of the event store.
type Writer interface {
	// InsertPageView appends one page view. The store assigns ID and
	// CreatedAt and returns the stored row.
	InsertPageView(ctx context.Context, pv analytics.PageView) (analytics.PageView, error)

	// InsertDownload appends one download event.
	InsertDownload(ctx context.Context, d analytics.Download) (analytics.Download, error)
}

// Querier answers the aggregate stats queries. All interval queries cover
// the half-open range [iv.From, iv.To).
type Querier interface {
	Overview(ctx context.Context, iv analytics.Interval) (analytics.OverviewStats, error)
	PageviewsByDay(ctx context.Context, iv analytics.Interval) ([]analytics.DailyStat, error)
	UniqueVisitorsByDay(ctx context.Context, iv analytics.Interval) ([]analytics.DailyStat, error)
	TopPages(ctx context.Context, iv analytics.Interval, limit int) ([]analytics.PageStat, error)
	TopReferrers(ctx context.Context, iv analytics.Interval, limit int) ([]analytics.ReferrerStat, error)
	BrowserBreakdown(ctx context.Context, iv analytics.Interval) ([]analytics.BrowserStat, error)
	OSBreakdown(ctx context.Context, iv analytics.Interval) ([]analytics.OSStat, error)
	DownloadStats(ctx context.Context, iv analytics.Interval) (analytics.DownloadStats, error)

	// RealtimeActiveVisitors counts distinct known visitors in the trailing
	// analytics.RealtimeWindow of the store's own clock.
	RealtimeActiveVisitors(ctx context.Context) (int64, error)
}

// Scanner streams raw events in insertion order. Returning an error from fn
// stops the scan and is returned unchanged.
type Scanner interface {
	ScanPageViews(ctx context.Context, iv analytics.Interval, fn func(analytics.PageView) error) error
	ScanDownloads(ctx context.Context, iv analytics.Interval, fn func(analytics.Download) error) error
}

// Storage is implemented by every backend: sqlite (production), badger
// (alternative persistent store) and memory (testing).
type Storage interface {
	Writer
	Querier
	Scanner

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Backend names the implementation, for logs and metrics.
	Backend() string

	// Close cleanly shuts down the storage
	Close() error
}

// Stats provides storage health and usage info
type Stats struct {
	TotalPageViews uint64    `json:"total_pageviews"`
	TotalDownloads uint64    `json:"total_downloads"`
	OldestEvent    time.Time `json:"oldest_event,omitempty"`
	NewestEvent    time.Time `json:"newest_event,omitempty"`
	SizeBytes      uint64    `json:"size_bytes"`
}

// Observe widens the oldest/newest bounds to include t.
func (s *Stats) Observe(t time.Time) {
	if s.OldestEvent.IsZero() || t.Before(s.OldestEvent) {
		s.OldestEvent = t
	}
	if s.NewestEvent.IsZero() || t.After(s.NewestEvent) {
		s.NewestEvent = t
	}
}

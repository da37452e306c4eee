// Package analytics defines the beacon event records, the aggregate result
// rows returned by the stats queries, and the in-process aggregation used by
// the storage backends that have no query engine of their own.
package analytics

import "time"

// EventKind identifies one of the two append-only event streams.
type EventKind string

const (
	KindPageView EventKind = "pageview"
	KindDownload EventKind = "download"
)

// PageView is one page load. ID and CreatedAt are assigned by the store.
type PageView struct {
	ID        int64     `json:"id"`
	Domain    string    `json:"domain"`
	Path      string    `json:"path"`
	Referrer  string    `json:"referrer"`
	Browser   string    `json:"browser"`
	OS        string    `json:"os"`
	Screen    string    `json:"screen"`
	VisitorID string    `json:"visitor_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Download is one download of a released artifact.
type Download struct {
	ID        int64     `json:"id"`
	AppName   string    `json:"app_name"`
	Version   string    `json:"version"`
	Platform  string    `json:"platform"`
	Referrer  string    `json:"referrer"`
	CreatedAt time.Time `json:"created_at"`
}

// OverviewStats are the headline counters for an interval.
type OverviewStats struct {
	TotalViews     int64   `json:"total_views"`
	UniqueVisitors int64   `json:"unique_visitors"`
	AvgViewsPerDay float64 `json:"avg_views_per_day"`
	TotalDownloads int64   `json:"total_downloads"`
}

// DailyStat is a count for one UTC calendar day (YYYY-MM-DD).
type DailyStat struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// PageStat is one row of the top pages ranking.
type PageStat struct {
	Path           string `json:"path"`
	Views          int64  `json:"views"`
	UniqueVisitors int64  `json:"unique_visitors"`
}

// ReferrerStat is one row of the top referrers ranking.
type ReferrerStat struct {
	Referrer string `json:"referrer"`
	Count    int64  `json:"count"`
}

// BrowserStat is one row of the browser breakdown.
type BrowserStat struct {
	Browser string `json:"browser"`
	Count   int64  `json:"count"`
}

// OSStat is one row of the operating system breakdown.
type OSStat struct {
	OS    string `json:"os"`
	Count int64  `json:"count"`
}

// DownloadDailyStat counts downloads of one app on one day.
type DownloadDailyStat struct {
	Date    string `json:"date"`
	AppName string `json:"app_name"`
	Count   int64  `json:"count"`
}

// DownloadAppStat counts downloads of one app on one platform.
type DownloadAppStat struct {
	AppName  string `json:"app_name"`
	Platform string `json:"platform"`
	Count    int64  `json:"count"`
}

// DownloadStats groups the two download aggregations.
type DownloadStats struct {
	Daily []DownloadDailyStat `json:"daily"`
	ByApp []DownloadAppStat   `json:"by_app"`
}

// RealtimeStats is the polled realtime counter.
type RealtimeStats struct {
	ActiveVisitors int64 `json:"active_visitors"`
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/storage"
)

const (
	pageViewsInRange = `FROM page_views WHERE created_at >= ? AND created_at < ?`
	downloadsInRange = `FROM download_events WHERE created_at >= ? AND created_at < ?`
)

func bounds(iv analytics.Interval) (string, string) {
	return analytics.FormatTimestamp(iv.From), analytics.FormatTimestamp(iv.To)
}

// SQLite treats a negative LIMIT as unbounded.
func clampLimit(limit int) int {
	if limit < 0 {
		return 0
	}
	return limit
}

// queryRows runs query and scans every row with scan. The result is never
// nil.
func queryRows[T any](ctx context.Context, db *sql.DB, scan func(*sql.Rows) (T, error), query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanDaily(rows *sql.Rows) (analytics.DailyStat, error) {
	var d analytics.DailyStat
	err := rows.Scan(&d.Date, &d.Count)
	return d, err
}

// Overview returns the headline counters for iv.
func (s *Store) Overview(ctx context.Context, iv analytics.Interval) (analytics.OverviewStats, error) {
	const op = "overview"
	ctx, release, err := s.acquire(ctx, op)
	if err != nil {
		return analytics.OverviewStats{}, err
	}
	defer release()

	from, to := bounds(iv)
	var stats analytics.OverviewStats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT NULLIF(visitor_id, '')) `+pageViewsInRange, from, to,
	).Scan(&stats.TotalViews, &stats.UniqueVisitors); err != nil {
		return analytics.OverviewStats{}, storage.Wrap(backendName, op, err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) `+downloadsInRange, from, to,
	).Scan(&stats.TotalDownloads); err != nil {
		return analytics.OverviewStats{}, storage.Wrap(backendName, op, err)
	}
	stats.AvgViewsPerDay = analytics.AvgViewsPerDay(stats.TotalViews, iv)
	return stats, nil
}

// PageviewsByDay counts views per UTC day, ascending.
func (s *Store) PageviewsByDay(ctx context.Context, iv analytics.Interval) ([]analytics.DailyStat, error) {
	const op = "pageviews_by_day"
	ctx, release, err := s.acquire(ctx, op)
	if err != nil {
		return nil, err
	}
	defer release()

	from, to := bounds(iv)
	days, err := queryRows(ctx, s.db, scanDaily,
		`SELECT date(created_at) AS day, COUNT(*) `+pageViewsInRange+`
		 GROUP BY day ORDER BY day ASC`, from, to)
	if err != nil {
		return nil, storage.Wrap(backendName, op, err)
	}
	return days, nil
}

// UniqueVisitorsByDay counts distinct known visitors per UTC day.
func (s *Store) UniqueVisitorsByDay(ctx context.Context, iv analytics.Interval) ([]analytics.DailyStat, error) {
	const op = "unique_visitors_by_day"
	ctx, release, err := s.acquire(ctx, op)
	if err != nil {
		return nil, err
	}
	defer release()

	from, to := bounds(iv)
	days, err := queryRows(ctx, s.db, scanDaily,
		`SELECT date(created_at) AS day, COUNT(DISTINCT visitor_id) `+pageViewsInRange+`
		 AND visitor_id != '' GROUP BY day ORDER BY day ASC`, from, to)
	if err != nil {
		return nil, storage.Wrap(backendName, op, err)
	}
	return days, nil
}

// TopPages ranks paths by views, ties broken by path.
func (s *Store) TopPages(ctx context.Context, iv analytics.Interval, limit int) ([]analytics.PageStat, error) {
	const op = "top_pages"
	ctx, release, err := s.acquire(ctx, op)
	if err != nil {
		return nil, err
	}
	defer release()

	from, to := bounds(iv)
	pages, err := queryRows(ctx, s.db, func(rows *sql.Rows) (analytics.PageStat, error) {
		var p analytics.PageStat
		err := rows.Scan(&p.Path, &p.Views, &p.UniqueVisitors)
		return p, err
	},
		`SELECT path, COUNT(*) AS views, COUNT(DISTINCT NULLIF(visitor_id, '')) `+pageViewsInRange+`
		 GROUP BY path ORDER BY views DESC, path ASC LIMIT ?`, from, to, clampLimit(limit))
	if err != nil {
		return nil, storage.Wrap(backendName, op, err)
	}
	return pages, nil
}

// TopReferrers ranks non-empty referrers by count, ties broken by referrer.
func (s *Store) TopReferrers(ctx context.Context, iv analytics.Interval, limit int) ([]analytics.ReferrerStat, error) {
	const op = "top_referrers"
	ctx, release, err := s.acquire(ctx, op)
	if err != nil {
		return nil, err
	}
	defer release()

	from, to := bounds(iv)
	refs, err := queryRows(ctx, s.db, func(rows *sql.Rows) (analytics.ReferrerStat, error) {
		var r analytics.ReferrerStat
		err := rows.Scan(&r.Referrer, &r.Count)
		return r, err
	},
		`SELECT referrer, COUNT(*) AS count `+pageViewsInRange+`
		 AND referrer != '' GROUP BY referrer ORDER BY count DESC, referrer ASC LIMIT ?`,
		from, to, clampLimit(limit))
	if err != nil {
		return nil, storage.Wrap(backendName, op, err)
	}
	return refs, nil
}

// BrowserBreakdown counts views per non-empty browser.
func (s *Store) BrowserBreakdown(ctx context.Context, iv analytics.Interval) ([]analytics.BrowserStat, error) {
	const op = "browser_breakdown"
	ctx, release, err := s.acquire(ctx, op)
	if err != nil {
		return nil, err
	}
	defer release()

	from, to := bounds(iv)
	browsers, err := queryRows(ctx, s.db, func(rows *sql.Rows) (analytics.BrowserStat, error) {
		var b analytics.BrowserStat
		err := rows.Scan(&b.Browser, &b.Count)
		return b, err
	},
		`SELECT browser, COUNT(*) AS count `+pageViewsInRange+`
		 AND browser != '' GROUP BY browser ORDER BY count DESC, browser ASC`, from, to)
	if err != nil {
		return nil, storage.Wrap(backendName, op, err)
	}
	return browsers, nil
}

// OSBreakdown counts views per non-empty operating system.
func (s *Store) OSBreakdown(ctx context.Context, iv analytics.Interval) ([]analytics.OSStat, error) {
	const op = "os_breakdown"
	ctx, release, err := s.acquire(ctx, op)
	if err != nil {
		return nil, err
	}
	defer release()

	from, to := bounds(iv)
	systems, err := queryRows(ctx, s.db, func(rows *sql.Rows) (analytics.OSStat, error) {
		var o analytics.OSStat
		err := rows.Scan(&o.OS, &o.Count)
		return o, err
	},
		`SELECT os, COUNT(*) AS count `+pageViewsInRange+`
		 AND os != '' GROUP BY os ORDER BY count DESC, os ASC`, from, to)
	if err != nil {
		return nil, storage.Wrap(backendName, op, err)
	}
	return systems, nil
}

// DownloadStats returns the per-day-per-app series and the per-app-per-
// platform ranking.
func (s *Store) DownloadStats(ctx context.Context, iv analytics.Interval) (analytics.DownloadStats, error) {
	const op = "download_stats"
	ctx, release, err := s.acquire(ctx, op)
	if err != nil {
		return analytics.DownloadStats{}, err
	}
	defer release()

	from, to := bounds(iv)
	daily, err := queryRows(ctx, s.db, func(rows *sql.Rows) (analytics.DownloadDailyStat, error) {
		var d analytics.DownloadDailyStat
		err := rows.Scan(&d.Date, &d.AppName, &d.Count)
		return d, err
	},
		`SELECT date(created_at) AS day, app_name, COUNT(*) `+downloadsInRange+`
		 GROUP BY day, app_name ORDER BY day ASC, app_name ASC`, from, to)
	if err != nil {
		return analytics.DownloadStats{}, storage.Wrap(backendName, op, err)
	}

	byApp, err := queryRows(ctx, s.db, func(rows *sql.Rows) (analytics.DownloadAppStat, error) {
		var a analytics.DownloadAppStat
		err := rows.Scan(&a.AppName, &a.Platform, &a.Count)
		return a, err
	},
		`SELECT app_name, platform, COUNT(*) AS count `+downloadsInRange+`
		 GROUP BY app_name, platform ORDER BY count DESC, app_name ASC, platform ASC`, from, to)
	if err != nil {
		return analytics.DownloadStats{}, storage.Wrap(backendName, op, err)
	}

	return analytics.DownloadStats{Daily: daily, ByApp: byApp}, nil
}

// RealtimeActiveVisitors counts distinct known visitors in the trailing
// analytics.RealtimeWindow.
func (s *Store) RealtimeActiveVisitors(ctx context.Context) (int64, error) {
	const op = "realtime_visitors"
	ctx, release, err := s.acquire(ctx, op)
	if err != nil {
		return 0, err
	}
	defer release()

	cutoff := analytics.FormatTimestamp(s.clock.Now().Add(-analytics.RealtimeWindow))
	var active int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT visitor_id) FROM page_views
		 WHERE created_at >= ? AND visitor_id != ''`, cutoff,
	).Scan(&active); err != nil {
		return 0, storage.Wrap(backendName, op, err)
	}
	return active, nil
}

// errStop distinguishes a callback error from a storage error in scans.
type errStop struct{ err error }

func (e errStop) Error() string { return e.err.Error() }

// ScanPageViews calls fn for every page view in iv, in id order.
func (s *Store) ScanPageViews(ctx context.Context, iv analytics.Interval, fn func(analytics.PageView) error) error {
	const op = "scan_pageviews"
	ctx, release, err := s.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	from, to := bounds(iv)
	err = s.scan(ctx, func(rows *sql.Rows) error {
		var (
			pv        analytics.PageView
			createdAt string
		)
		if err := rows.Scan(&pv.ID, &pv.Domain, &pv.Path, &pv.Referrer, &pv.Browser,
			&pv.OS, &pv.Screen, &pv.VisitorID, &createdAt); err != nil {
			return err
		}
		t, err := analytics.ParseTimestamp(createdAt)
		if err != nil {
			return err
		}
		pv.CreatedAt = t
		if err := fn(pv); err != nil {
			return errStop{err}
		}
		return nil
	},
		`SELECT id, domain, path, referrer, browser, os, screen, visitor_id, created_at `+
			pageViewsInRange+` ORDER BY id ASC`, from, to)
	return unwrapScan(op, err)
}

// ScanDownloads calls fn for every download in iv, in id order.
func (s *Store) ScanDownloads(ctx context.Context, iv analytics.Interval, fn func(analytics.Download) error) error {
	const op = "scan_downloads"
	ctx, release, err := s.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	from, to := bounds(iv)
	err = s.scan(ctx, func(rows *sql.Rows) error {
		var (
			d         analytics.Download
			createdAt string
		)
		if err := rows.Scan(&d.ID, &d.AppName, &d.Version, &d.Platform, &d.Referrer, &createdAt); err != nil {
			return err
		}
		t, err := analytics.ParseTimestamp(createdAt)
		if err != nil {
			return err
		}
		d.CreatedAt = t
		if err := fn(d); err != nil {
			return errStop{err}
		}
		return nil
	},
		`SELECT id, app_name, version, platform, referrer, created_at `+
			downloadsInRange+` ORDER BY id ASC`, from, to)
	return unwrapScan(op, err)
}

func (s *Store) scan(ctx context.Context, each func(*sql.Rows) error, query string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := each(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func unwrapScan(op string, err error) error {
	var stop errStop
	if errors.As(err, &stop) {
		return stop.err
	}
	return storage.Wrap(backendName, op, err)
}

package analytics

import (
	"cmp"
	"slices"
	"time"

	"github.com/cespare/xxhash/v2"
)

// The functions in this file compute the stats queries over events that
// have already been filtered to an interval. Backends without a query
// engine (memory, badger) use them; their orderings match the SQL backend:
// counts descending with the grouping key ascending as tie-break, and day
// series ascending.

// visitorSet tracks distinct visitor ids by hash. The empty id is the
// unknown-visitor sentinel and is never added.
type visitorSet map[uint64]struct{}

func (s visitorSet) add(id string) {
	if id == "" {
		return
	}
	s[xxhash.Sum64String(id)] = struct{}{}
}

func (s visitorSet) len() int64 {
	return int64(len(s))
}

type keyCount struct {
	key   string
	count int64
}

// rankBy counts views per key, drops empty keys when skipEmpty is set, and
// sorts by count descending then key ascending.
func rankBy(views []PageView, key func(PageView) string, skipEmpty bool) []keyCount {
	counts := make(map[string]int64)
	for _, v := range views {
		k := key(v)
		if skipEmpty && k == "" {
			continue
		}
		counts[k]++
	}

	ranked := make([]keyCount, 0, len(counts))
	for k, c := range counts {
		ranked = append(ranked, keyCount{key: k, count: c})
	}
	slices.SortFunc(ranked, func(a, b keyCount) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.key, b.key)
	})
	return ranked
}

func truncate[T any](rows []T, limit int) []T {
	if limit <= 0 {
		return rows[:0]
	}
	if len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

// Overview computes the headline counters. downloads is the number of
// download events in the same interval.
func Overview(views []PageView, downloads int64, iv Interval) OverviewStats {
	visitors := make(visitorSet)
	for _, v := range views {
		visitors.add(v.VisitorID)
	}
	total := int64(len(views))
	return OverviewStats{
		TotalViews:     total,
		UniqueVisitors: visitors.len(),
		AvgViewsPerDay: AvgViewsPerDay(total, iv),
		TotalDownloads: downloads,
	}
}

// PageviewsByDay counts views per UTC day, ascending. Days without views are
// omitted.
func PageviewsByDay(views []PageView) []DailyStat {
	counts := make(map[string]int64)
	for _, v := range views {
		counts[DayOf(v.CreatedAt)]++
	}
	return dailySeries(counts)
}

// UniqueVisitorsByDay counts distinct known visitors per UTC day, ascending.
func UniqueVisitorsByDay(views []PageView) []DailyStat {
	perDay := make(map[string]visitorSet)
	for _, v := range views {
		if v.VisitorID == "" {
			continue
		}
		day := DayOf(v.CreatedAt)
		set, ok := perDay[day]
		if !ok {
			set = make(visitorSet)
			perDay[day] = set
		}
		set.add(v.VisitorID)
	}

	counts := make(map[string]int64, len(perDay))
	for day, set := range perDay {
		counts[day] = set.len()
	}
	return dailySeries(counts)
}

func dailySeries(counts map[string]int64) []DailyStat {
	series := make([]DailyStat, 0, len(counts))
	for day, c := range counts {
		series = append(series, DailyStat{Date: day, Count: c})
	}
	slices.SortFunc(series, func(a, b DailyStat) int {
		return cmp.Compare(a.Date, b.Date)
	})
	return series
}

// TopPages ranks paths by views, at most limit rows.
func TopPages(views []PageView, limit int) []PageStat {
	visitors := make(map[string]visitorSet)
	for _, v := range views {
		set, ok := visitors[v.Path]
		if !ok {
			set = make(visitorSet)
			visitors[v.Path] = set
		}
		set.add(v.VisitorID)
	}

	ranked := truncate(rankBy(views, func(v PageView) string { return v.Path }, false), limit)
	pages := make([]PageStat, 0, len(ranked))
	for _, r := range ranked {
		pages = append(pages, PageStat{
			Path:           r.key,
			Views:          r.count,
			UniqueVisitors: visitors[r.key].len(),
		})
	}
	return pages
}

// TopReferrers ranks non-empty referrers by count, at most limit rows.
func TopReferrers(views []PageView, limit int) []ReferrerStat {
	ranked := truncate(rankBy(views, func(v PageView) string { return v.Referrer }, true), limit)
	refs := make([]ReferrerStat, 0, len(ranked))
	for _, r := range ranked {
		refs = append(refs, ReferrerStat{Referrer: r.key, Count: r.count})
	}
	return refs
}

// BrowserBreakdown counts views per non-empty browser.
func BrowserBreakdown(views []PageView) []BrowserStat {
	ranked := rankBy(views, func(v PageView) string { return v.Browser }, true)
	browsers := make([]BrowserStat, 0, len(ranked))
	for _, r := range ranked {
		browsers = append(browsers, BrowserStat{Browser: r.key, Count: r.count})
	}
	return browsers
}

// OSBreakdown counts views per non-empty operating system.
func OSBreakdown(views []PageView) []OSStat {
	ranked := rankBy(views, func(v PageView) string { return v.OS }, true)
	systems := make([]OSStat, 0, len(ranked))
	for _, r := range ranked {
		systems = append(systems, OSStat{OS: r.key, Count: r.count})
	}
	return systems
}

// Downloads computes the per-day-per-app series and the per-app-per-platform
// ranking.
func Downloads(downloads []Download) DownloadStats {
	type dayApp struct{ day, app string }
	type appPlatform struct{ app, platform string }

	daily := make(map[dayApp]int64)
	byApp := make(map[appPlatform]int64)
	for _, d := range downloads {
		daily[dayApp{DayOf(d.CreatedAt), d.AppName}]++
		byApp[appPlatform{d.AppName, d.Platform}]++
	}

	stats := DownloadStats{
		Daily: make([]DownloadDailyStat, 0, len(daily)),
		ByApp: make([]DownloadAppStat, 0, len(byApp)),
	}
	for k, c := range daily {
		stats.Daily = append(stats.Daily, DownloadDailyStat{Date: k.day, AppName: k.app, Count: c})
	}
	for k, c := range byApp {
		stats.ByApp = append(stats.ByApp, DownloadAppStat{AppName: k.app, Platform: k.platform, Count: c})
	}

	slices.SortFunc(stats.Daily, func(a, b DownloadDailyStat) int {
		if c := cmp.Compare(a.Date, b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.AppName, b.AppName)
	})
	slices.SortFunc(stats.ByApp, func(a, b DownloadAppStat) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := cmp.Compare(a.AppName, b.AppName); c != 0 {
			return c
		}
		return cmp.Compare(a.Platform, b.Platform)
	})
	return stats
}

// ActiveVisitors counts distinct known visitors seen at or after since.
func ActiveVisitors(views []PageView, since time.Time) int64 {
	visitors := make(visitorSet)
	for _, v := range views {
		if v.CreatedAt.Before(since) {
			continue
		}
		visitors.add(v.VisitorID)
	}
	return visitors.len()
}

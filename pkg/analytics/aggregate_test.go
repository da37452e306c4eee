package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func view(path, visitor string, at time.Time) PageView {
	return PageView{Domain: "example.com", Path: path, VisitorID: visitor, CreatedAt: at}
}

func TestOverview(t *testing.T) {
	views := []PageView{
		view("/", "v1", day0),
		view("/", "v1", day0.Add(time.Hour)),
		view("/a", "v2", day0.Add(2*time.Hour)),
		view("/a", "", day0.Add(3*time.Hour)),
	}

	stats := Overview(views, 3, NewInterval(day0, day0.Add(48*time.Hour)))

	require.Equal(t, int64(4), stats.TotalViews)
	require.Equal(t, int64(2), stats.UniqueVisitors, "empty visitor id must not be counted")
	require.Equal(t, 2.0, stats.AvgViewsPerDay)
	require.Equal(t, int64(3), stats.TotalDownloads)
}

func TestPageviewsByDay_AscendingWithoutGaps(t *testing.T) {
	views := []PageView{
		view("/", "v1", day0.Add(72*time.Hour)),
		view("/", "v1", day0),
		view("/", "v2", day0.Add(time.Hour)),
	}

	series := PageviewsByDay(views)

	require.Equal(t, []DailyStat{
		{Date: "2024-03-01", Count: 2},
		{Date: "2024-03-04", Count: 1},
	}, series)
}

func TestUniqueVisitorsByDay_SkipsUnknownVisitors(t *testing.T) {
	views := []PageView{
		view("/", "v1", day0),
		view("/b", "v1", day0.Add(time.Hour)),
		view("/", "", day0.Add(2*time.Hour)),
		view("/", "", day0.Add(25*time.Hour)),
		view("/", "v2", day0.Add(26*time.Hour)),
	}

	require.Equal(t, []DailyStat{
		{Date: "2024-03-01", Count: 1},
		{Date: "2024-03-02", Count: 1},
	}, UniqueVisitorsByDay(views))
}

func TestTopPages_OrderAndLimit(t *testing.T) {
	var views []PageView
	for i := 0; i < 3; i++ {
		views = append(views, view("/a", "v1", day0))
	}
	views = append(views, view("/b", "v2", day0), view("/c", "v3", day0))

	pages := TopPages(views, 10)
	require.Equal(t, []PageStat{
		{Path: "/a", Views: 3, UniqueVisitors: 1},
		{Path: "/b", Views: 1, UniqueVisitors: 1},
		{Path: "/c", Views: 1, UniqueVisitors: 1},
	}, pages)

	require.Len(t, TopPages(views, 2), 2)
	require.Empty(t, TopPages(views, 0))
	require.NotNil(t, TopPages(views, 0))
	require.Empty(t, TopPages(views, -5))
}

func TestTopReferrers_ExcludesEmpty(t *testing.T) {
	views := []PageView{
		{Path: "/", Referrer: ""},
		{Path: "/", Referrer: "https://news.ycombinator.com"},
		{Path: "/", Referrer: "https://news.ycombinator.com"},
		{Path: "/", Referrer: "https://example.org"},
	}

	require.Equal(t, []ReferrerStat{
		{Referrer: "https://news.ycombinator.com", Count: 2},
		{Referrer: "https://example.org", Count: 1},
	}, TopReferrers(views, 10))
}

func TestBreakdowns(t *testing.T) {
	views := []PageView{
		{Browser: "Firefox", OS: "Linux"},
		{Browser: "Chrome", OS: "macOS"},
		{Browser: "Chrome", OS: ""},
		{Browser: "", OS: "Linux"},
	}

	require.Equal(t, []BrowserStat{{"Chrome", 2}, {"Firefox", 1}}, BrowserBreakdown(views))
	require.Equal(t, []OSStat{{"Linux", 2}, {"macOS", 1}}, OSBreakdown(views))
}

func TestDownloads(t *testing.T) {
	downloads := []Download{
		{AppName: "cli", Platform: "linux", CreatedAt: day0.Add(25 * time.Hour)},
		{AppName: "cli", Platform: "linux", CreatedAt: day0},
		{AppName: "cli", Platform: "darwin", CreatedAt: day0},
		{AppName: "app", Platform: "windows", CreatedAt: day0},
	}

	stats := Downloads(downloads)

	require.Equal(t, []DownloadDailyStat{
		{Date: "2024-03-01", AppName: "app", Count: 1},
		{Date: "2024-03-01", AppName: "cli", Count: 2},
		{Date: "2024-03-02", AppName: "cli", Count: 1},
	}, stats.Daily)
	require.Equal(t, []DownloadAppStat{
		{AppName: "cli", Platform: "linux", Count: 2},
		{AppName: "app", Platform: "windows", Count: 1},
		{AppName: "cli", Platform: "darwin", Count: 1},
	}, stats.ByApp)
}

func TestActiveVisitors(t *testing.T) {
	now := day0.Add(12 * time.Hour)
	views := []PageView{
		view("/", "v1", now.Add(-10*time.Minute)),
		view("/", "v2", now.Add(-4*time.Minute)),
		view("/", "v2", now.Add(-time.Minute)),
		view("/", "", now),
	}

	require.Equal(t, int64(1), ActiveVisitors(views, now.Add(-RealtimeWindow)))
	require.Equal(t, int64(0), ActiveVisitors(nil, now))
}

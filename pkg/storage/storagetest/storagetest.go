// Package storagetest is a behaviour suite every storage.Storage backend
// must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/storage"
)

// Factory returns a fresh, empty store driven by clock. The suite closes it.
type Factory func(t *testing.T, clock analytics.Clock) storage.Storage

// Base is the instant every suite clock starts at.
var Base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	setup := func(t *testing.T) (storage.Storage, *analytics.ManualClock) {
		clock := analytics.NewManualClock(Base)
		s := newStore(t, clock)
		t.Cleanup(func() { _ = s.Close() })
		return s, clock
	}

	t.Run("OverviewSingleView", func(t *testing.T) {
		s, _ := setup(t)
		ctx := context.Background()

		pv, err := s.InsertPageView(ctx, analytics.PageView{Domain: "example.com", Path: "/", VisitorID: "v1"})
		require.NoError(t, err)
		require.Equal(t, Base, pv.CreatedAt)
		require.NotZero(t, pv.ID)

		got, err := s.Overview(ctx, analytics.NewInterval(Base, Base.Add(24*time.Hour)))
		require.NoError(t, err)
		require.Equal(t, int64(1), got.TotalViews)
		require.Equal(t, int64(1), got.UniqueVisitors)
		require.Equal(t, int64(0), got.TotalDownloads)
		require.Equal(t, 1.0, got.AvgViewsPerDay)
	})

	t.Run("OverviewCountsEachInsertOnce", func(t *testing.T) {
		s, clock := setup(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			_, err := s.InsertPageView(ctx, analytics.PageView{Path: "/", VisitorID: fmt.Sprintf("v%d", i%2)})
			require.NoError(t, err)
			clock.Advance(time.Hour)
		}
		_, err := s.InsertDownload(ctx, analytics.Download{AppName: "app"})
		require.NoError(t, err)

		got, err := s.Overview(ctx, analytics.NewInterval(Base, Base.Add(48*time.Hour)))
		require.NoError(t, err)
		require.Equal(t, int64(5), got.TotalViews)
		require.Equal(t, int64(2), got.UniqueVisitors)
		require.Equal(t, int64(1), got.TotalDownloads)
		require.InDelta(t, 2.5, got.AvgViewsPerDay, 1e-9)

		// Only the first two views fall in [Base, Base+2h).
		got, err = s.Overview(ctx, analytics.NewInterval(Base, Base.Add(2*time.Hour)))
		require.NoError(t, err)
		require.Equal(t, int64(2), got.TotalViews)
	})

	t.Run("IntervalIsHalfOpen", func(t *testing.T) {
		s, _ := setup(t)
		ctx := context.Background()

		_, err := s.InsertPageView(ctx, analytics.PageView{Path: "/"})
		require.NoError(t, err)

		got, err := s.Overview(ctx, analytics.NewInterval(Base, Base.Add(time.Second)))
		require.NoError(t, err)
		require.Equal(t, int64(1), got.TotalViews)

		got, err = s.Overview(ctx, analytics.NewInterval(Base.Add(-time.Hour), Base))
		require.NoError(t, err)
		require.Equal(t, int64(0), got.TotalViews)
	})

	t.Run("AverageIsFiniteForDegenerateIntervals", func(t *testing.T) {
		s, _ := setup(t)
		ctx := context.Background()

		_, err := s.InsertPageView(ctx, analytics.PageView{Path: "/"})
		require.NoError(t, err)

		for _, iv := range []analytics.Interval{
			analytics.NewInterval(Base, Base),
			analytics.NewInterval(Base.Add(time.Hour), Base),
		} {
			got, err := s.Overview(ctx, iv)
			require.NoError(t, err)
			require.False(t, math.IsNaN(got.AvgViewsPerDay), iv.String())
			require.False(t, math.IsInf(got.AvgViewsPerDay, 0), iv.String())
			require.Equal(t, int64(0), got.TotalViews)
		}
	})

	t.Run("EmptyVisitorNeverCounted", func(t *testing.T) {
		s, _ := setup(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			_, err := s.InsertPageView(ctx, analytics.PageView{Path: "/", VisitorID: ""})
			require.NoError(t, err)
		}
		iv := analytics.NewInterval(Base, Base.Add(time.Hour))

		overview, err := s.Overview(ctx, iv)
		require.NoError(t, err)
		require.Equal(t, int64(3), overview.TotalViews)
		require.Equal(t, int64(0), overview.UniqueVisitors)

		days, err := s.UniqueVisitorsByDay(ctx, iv)
		require.NoError(t, err)
		require.NotNil(t, days)
		require.Empty(t, days)

		pages, err := s.TopPages(ctx, iv, 10)
		require.NoError(t, err)
		require.Equal(t, []analytics.PageStat{{Path: "/", Views: 3, UniqueVisitors: 0}}, pages)

		active, err := s.RealtimeActiveVisitors(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(0), active)
	})

	t.Run("DailySeries", func(t *testing.T) {
		s, clock := setup(t)
		ctx := context.Background()

		insert := func(visitor string) {
			_, err := s.InsertPageView(ctx, analytics.PageView{Path: "/", VisitorID: visitor})
			require.NoError(t, err)
		}
		insert("a")
		insert("a")
		insert("b")
		clock.Advance(24 * time.Hour)
		insert("a")
		clock.Advance(24 * time.Hour)
		insert("")

		iv := analytics.NewInterval(Base.Add(-time.Hour), Base.Add(72*time.Hour))
		views, err := s.PageviewsByDay(ctx, iv)
		require.NoError(t, err)
		require.Equal(t, []analytics.DailyStat{
			{Date: "2025-03-10", Count: 3},
			{Date: "2025-03-11", Count: 1},
			{Date: "2025-03-12", Count: 1},
		}, views)

		visitors, err := s.UniqueVisitorsByDay(ctx, iv)
		require.NoError(t, err)
		require.Equal(t, []analytics.DailyStat{
			{Date: "2025-03-10", Count: 2},
			{Date: "2025-03-11", Count: 1},
		}, visitors)
	})

	t.Run("TopPagesRankingAndLimit", func(t *testing.T) {
		s, _ := setup(t)
		ctx := context.Background()

		for path, n := range map[string]int{"/a": 3, "/b": 1} {
			for i := 0; i < n; i++ {
				_, err := s.InsertPageView(ctx, analytics.PageView{Path: path, VisitorID: fmt.Sprintf("%s-%d", path, i)})
				require.NoError(t, err)
			}
		}
		iv := analytics.NewInterval(Base, Base.Add(time.Hour))

		pages, err := s.TopPages(ctx, iv, 10)
		require.NoError(t, err)
		require.Equal(t, []analytics.PageStat{
			{Path: "/a", Views: 3, UniqueVisitors: 3},
			{Path: "/b", Views: 1, UniqueVisitors: 1},
		}, pages)

		for _, p := range []string{"/d", "/c", "/c"} {
			_, err := s.InsertPageView(ctx, analytics.PageView{Path: p})
			require.NoError(t, err)
		}

		pages, err = s.TopPages(ctx, iv, 3)
		require.NoError(t, err)
		require.Len(t, pages, 3)
		require.Equal(t, "/a", pages[0].Path)
		require.Equal(t, "/c", pages[1].Path)
		require.Equal(t, "/b", pages[2].Path) // ties with /d, broken by path

		for _, limit := range []int{0, -1} {
			pages, err = s.TopPages(ctx, iv, limit)
			require.NoError(t, err)
			require.NotNil(t, pages)
			require.Empty(t, pages)
		}
	})

	t.Run("TopReferrersExcludesEmpty", func(t *testing.T) {
		s, _ := setup(t)
		ctx := context.Background()

		for _, ref := range []string{"", "", "", "https://b.example", "https://a.example", "https://b.example"} {
			_, err := s.InsertPageView(ctx, analytics.PageView{Path: "/", Referrer: ref})
			require.NoError(t, err)
		}
		iv := analytics.NewInterval(Base, Base.Add(time.Hour))

		refs, err := s.TopReferrers(ctx, iv, 10)
		require.NoError(t, err)
		require.Equal(t, []analytics.ReferrerStat{
			{Referrer: "https://b.example", Count: 2},
			{Referrer: "https://a.example", Count: 1},
		}, refs)

		refs, err = s.TopReferrers(ctx, iv, 1)
		require.NoError(t, err)
		require.Len(t, refs, 1)
	})

	t.Run("Breakdowns", func(t *testing.T) {
		s, _ := setup(t)
		ctx := context.Background()

		views := []analytics.PageView{
			{Path: "/", Browser: "Firefox", OS: "Linux"},
			{Path: "/", Browser: "Chrome", OS: "macOS"},
			{Path: "/", Browser: "Chrome", OS: "Windows"},
			{Path: "/", Browser: "", OS: ""},
		}
		for _, pv := range views {
			_, err := s.InsertPageView(ctx, pv)
			require.NoError(t, err)
		}
		iv := analytics.NewInterval(Base, Base.Add(time.Hour))

		browsers, err := s.BrowserBreakdown(ctx, iv)
		require.NoError(t, err)
		require.Equal(t, []analytics.BrowserStat{
			{Browser: "Chrome", Count: 2},
			{Browser: "Firefox", Count: 1},
		}, browsers)

		systems, err := s.OSBreakdown(ctx, iv)
		require.NoError(t, err)
		require.Equal(t, []analytics.OSStat{
			{OS: "Linux", Count: 1},
			{OS: "Windows", Count: 1},
			{OS: "macOS", Count: 1},
		}, systems)
	})

	t.Run("DownloadStats", func(t *testing.T) {
		s, clock := setup(t)
		ctx := context.Background()

		insert := func(app, platform string) {
			_, err := s.InsertDownload(ctx, analytics.Download{AppName: app, Version: "1.0.0", Platform: platform})
			require.NoError(t, err)
		}
		insert("zeta", "linux")
		insert("alpha", "macos")
		insert("alpha", "macos")
		clock.Advance(24 * time.Hour)
		insert("alpha", "windows")

		got, err := s.DownloadStats(ctx, analytics.NewInterval(Base, Base.Add(48*time.Hour)))
		require.NoError(t, err)
		require.Equal(t, []analytics.DownloadDailyStat{
			{Date: "2025-03-10", AppName: "alpha", Count: 2},
			{Date: "2025-03-10", AppName: "zeta", Count: 1},
			{Date: "2025-03-11", AppName: "alpha", Count: 1},
		}, got.Daily)
		require.Equal(t, []analytics.DownloadAppStat{
			{AppName: "alpha", Platform: "macos", Count: 2},
			{AppName: "alpha", Platform: "windows", Count: 1},
			{AppName: "zeta", Platform: "linux", Count: 1},
		}, got.ByApp)
	})

	t.Run("RealtimeWindow", func(t *testing.T) {
		s, clock := setup(t)
		ctx := context.Background()

		_, err := s.InsertPageView(ctx, analytics.PageView{Path: "/", VisitorID: "v1"})
		require.NoError(t, err)

		active, err := s.RealtimeActiveVisitors(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), active)

		clock.Advance(4 * time.Minute)
		_, err = s.InsertPageView(ctx, analytics.PageView{Path: "/", VisitorID: "v2"})
		require.NoError(t, err)
		active, err = s.RealtimeActiveVisitors(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(2), active)

		clock.Advance(2 * time.Minute)
		active, err = s.RealtimeActiveVisitors(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), active)

		clock.Advance(10 * time.Minute)
		active, err = s.RealtimeActiveVisitors(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(0), active)
	})

	t.Run("ConcurrentInserts", func(t *testing.T) {
		s, _ := setup(t)
		ctx := context.Background()
		const n = 50

		var wg sync.WaitGroup
		ids := make(chan int64, n)
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				pv, err := s.InsertPageView(ctx, analytics.PageView{Path: fmt.Sprintf("/p%d", i)})
				if err != nil {
					errs <- err
					return
				}
				ids <- pv.ID
			}(i)
		}
		wg.Wait()
		close(ids)
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}
		seen := make(map[int64]bool, n)
		for id := range ids {
			require.False(t, seen[id], "duplicate id %d", id)
			seen[id] = true
		}
		require.Len(t, seen, n)

		scanned := 0
		err := s.ScanPageViews(ctx, analytics.NewInterval(Base, Base.Add(time.Second)), func(pv analytics.PageView) error {
			require.True(t, seen[pv.ID])
			scanned++
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, n, scanned)

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(n), stats.TotalPageViews)
	})

	t.Run("ScanOrderAndStop", func(t *testing.T) {
		s, clock := setup(t)
		ctx := context.Background()

		var want []int64
		for i := 0; i < 4; i++ {
			d, err := s.InsertDownload(ctx, analytics.Download{AppName: "app", Version: fmt.Sprintf("1.%d", i)})
			require.NoError(t, err)
			want = append(want, d.ID)
			clock.Advance(time.Minute)
		}
		iv := analytics.NewInterval(Base, Base.Add(time.Hour))

		var got []int64
		require.NoError(t, s.ScanDownloads(ctx, iv, func(d analytics.Download) error {
			got = append(got, d.ID)
			return nil
		}))
		require.Equal(t, want, got)

		stop := errors.New("stop")
		calls := 0
		err := s.ScanDownloads(ctx, iv, func(analytics.Download) error {
			calls++
			return stop
		})
		require.ErrorIs(t, err, stop)
		require.NotErrorIs(t, err, storage.ErrStorage)
		require.Equal(t, 1, calls)
	})

	t.Run("EmptyStoreReturnsEmptySlices", func(t *testing.T) {
		s, _ := setup(t)
		ctx := context.Background()
		iv := analytics.NewInterval(Base.Add(-time.Hour), Base)

		days, err := s.PageviewsByDay(ctx, iv)
		require.NoError(t, err)
		require.NotNil(t, days)
		refs, err := s.TopReferrers(ctx, iv, 10)
		require.NoError(t, err)
		require.NotNil(t, refs)
		browsers, err := s.BrowserBreakdown(ctx, iv)
		require.NoError(t, err)
		require.NotNil(t, browsers)
		systems, err := s.OSBreakdown(ctx, iv)
		require.NoError(t, err)
		require.NotNil(t, systems)
		downloads, err := s.DownloadStats(ctx, iv)
		require.NoError(t, err)
		require.NotNil(t, downloads.Daily)
		require.NotNil(t, downloads.ByApp)
	})

	t.Run("CancelledContextFailsFast", func(t *testing.T) {
		s, _ := setup(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.InsertPageView(ctx, analytics.PageView{Path: "/"})
		require.ErrorIs(t, err, context.Canceled)

		stats, err := s.Stats(context.Background())
		require.NoError(t, err)
		require.Zero(t, stats.TotalPageViews)
	})

	t.Run("ClosedStoreFails", func(t *testing.T) {
		s, _ := setup(t)
		require.NoError(t, s.Close())

		_, err := s.InsertPageView(context.Background(), analytics.PageView{Path: "/"})
		require.ErrorIs(t, err, storage.ErrStorage)
		require.ErrorIs(t, err, storage.ErrClosed)
	})

	t.Run("Stats", func(t *testing.T) {
		s, clock := setup(t)
		ctx := context.Background()

		_, err := s.InsertPageView(ctx, analytics.PageView{Path: "/"})
		require.NoError(t, err)
		clock.Advance(time.Hour)
		_, err = s.InsertDownload(ctx, analytics.Download{AppName: "app"})
		require.NoError(t, err)

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), stats.TotalPageViews)
		require.Equal(t, uint64(1), stats.TotalDownloads)
		require.Equal(t, Base, stats.OldestEvent)
		require.Equal(t, Base.Add(time.Hour), stats.NewestEvent)
	})
}

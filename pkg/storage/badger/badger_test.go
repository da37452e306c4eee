package badger

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/storage"
	"github.com/nicktill/tinybeacon/pkg/storage/storagetest"
)

func TestBadgerStorage_Behaviour(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, clock analytics.Clock) storage.Storage {
		// Use in-memory mode for tests
		store, err := New(Config{InMemory: true, Clock: clock})
		require.NoError(t, err)
		return store
	})
}

func TestBadgerStorage_Persistence(t *testing.T) {
	dir := t.TempDir()
	clock := analytics.NewManualClock(storagetest.Base)
	ctx := context.Background()
	iv := analytics.NewInterval(storagetest.Base, storagetest.Base.Add(time.Hour))

	// Write to first instance
	store, err := New(Config{Path: dir, Clock: clock})
	require.NoError(t, err)
	first, err := store.InsertPageView(ctx, analytics.PageView{Domain: "example.com", Path: "/", VisitorID: "v1"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Read from second instance (reopens same directory)
	store, err = New(Config{Path: dir, Clock: clock})
	require.NoError(t, err)
	defer store.Close()

	overview, err := store.Overview(ctx, iv)
	require.NoError(t, err)
	require.Equal(t, int64(1), overview.TotalViews)
	require.Equal(t, int64(1), overview.UniqueVisitors)

	second, err := store.InsertPageView(ctx, analytics.PageView{Path: "/"})
	require.NoError(t, err)
	require.Greater(t, second.ID, first.ID)

	var paths []string
	require.NoError(t, store.ScanPageViews(ctx, iv, func(pv analytics.PageView) error {
		paths = append(paths, pv.Domain+pv.Path)
		return nil
	}))
	require.Equal(t, []string{"example.com/", "/"}, paths)
}

func TestBadgerStorage_KeysSortByTime(t *testing.T) {
	early := makeKey(prefixPageView, storagetest.Base, 99)
	late := makeKey(prefixPageView, storagetest.Base.Add(time.Second), 1)
	require.Equal(t, -1, bytes.Compare(early, late))

	ts, id := parseKey(late)
	require.Equal(t, storagetest.Base.Add(time.Second), ts)
	require.Equal(t, int64(1), id)
}

func TestBadgerStorage_StreamsAreSeparate(t *testing.T) {
	store, err := New(Config{InMemory: true, Clock: analytics.NewManualClock(storagetest.Base)})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.InsertDownload(ctx, analytics.Download{AppName: "app"})
	require.NoError(t, err)

	iv := analytics.NewInterval(storagetest.Base, storagetest.Base.Add(time.Minute))
	calls := 0
	require.NoError(t, store.ScanPageViews(ctx, iv, func(analytics.PageView) error {
		calls++
		return nil
	}))
	require.Zero(t, calls)
}

func TestBadgerStorage_RunGC(t *testing.T) {
	store, err := New(Config{Path: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	// Nothing to rewrite on a fresh store.
	require.NoError(t, store.RunGC(0.5))
}

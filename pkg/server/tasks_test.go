package server

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinybeacon/pkg/observability"
	"github.com/nicktill/tinybeacon/pkg/server/monitor"
	"github.com/nicktill/tinybeacon/pkg/storage/badger"
	"github.com/nicktill/tinybeacon/pkg/storage/memory"
)

func TestProbeStorage(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store := memory.New(nil)
	pm := monitor.NewProbeMonitor(nil)

	require.NoError(t, ProbeStorage(context.Background(), store, pm, metrics))
	require.True(t, pm.IsHealthy())
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.StorageHealthy))

	require.NoError(t, store.Close())
	require.Error(t, ProbeStorage(context.Background(), store, pm, metrics))
	require.Equal(t, 1, pm.ConsecutiveErrors())
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.StorageHealthy))
}

func TestRunStorageProbe_StopsOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := memory.New(nil)
	defer store.Close()
	pm := monitor.NewProbeMonitor(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunStorageProbe(ctx, store, pm, nil, logger) }()

	require.Eventually(t, pm.IsHealthy, testTimeout, testTick)
	cancel()
	require.NoError(t, <-done)
}

func TestBadgerBackend_Unwraps(t *testing.T) {
	store, err := badger.New(badger.Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	wrapped := observability.InstrumentStorage(store, metrics)

	got, ok := badgerBackend(wrapped)
	require.True(t, ok)
	require.Same(t, store, got)

	_, ok = badgerBackend(memory.New(nil))
	require.False(t, ok)
}

func TestRunBadgerGC_SkipsOtherBackends(t *testing.T) {
	logger, _ := test.NewNullLogger()
	require.NoError(t, RunBadgerGC(context.Background(), memory.New(nil), logger))
}

func TestRunBadgerGC_StopsOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store, err := badger.New(badger.Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, RunBadgerGC(ctx, store, logger))
}

func TestCheckDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tinybeacon.db"), []byte(strings.Repeat("x", 8192)), 0o644))

	logger, hook := test.NewNullLogger()

	full := monitor.NewStorageMonitor([]string{dir}, 1024)
	require.True(t, CheckDisk(full, logger))
	require.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)

	hook.Reset()
	roomy := monitor.NewStorageMonitor([]string{dir}, 1<<30)
	require.False(t, CheckDisk(roomy, logger))
	require.Empty(t, hook.AllEntries())

	unlimited := monitor.NewStorageMonitor([]string{dir}, 0)
	require.False(t, CheckDisk(unlimited, logger))
}

package main

import (
	"context"
	"flag"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/config"
	"github.com/nicktill/tinybeacon/pkg/sdk"
	"github.com/nicktill/tinybeacon/pkg/storage/sqlite"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

const day = "from=2025-03-10&to=2025-03-11"

func testConfig(backend, dbPath string) config.Config {
	return config.Config{
		Port:         "0",
		Host:         "127.0.0.1",
		DBPath:       dbPath,
		Backend:      backend,
		BusyTimeout:  5 * time.Second,
		MaxStorageGB: 1,
		MaxMemoryMB:  16,
		CORSOrigins:  []string{"*"},
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// TestE2E_SQLite drives a real listener: beacons go in through the SDK,
// stats and exports come back out, and the rows survive a restart.
func TestE2E_SQLite(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := testConfig("sqlite", filepath.Join(t.TempDir(), "data", "tinybeacon.db"))
	clock := analytics.NewManualClock(base)

	a, err := newApp(cfg, clock, logger)
	require.NoError(t, err)
	require.NotNil(t, a.storageMonitor, "sqlite runs with a disk monitor")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- a.serve(ctx, ln) }()

	baseURL := "http://" + ln.Addr().String()

	client, err := sdk.New(sdk.ClientConfig{Endpoint: baseURL, FlushEvery: time.Hour})
	require.NoError(t, err)
	require.NoError(t, client.Start(context.Background()))

	for _, pv := range []analytics.PageView{
		{Domain: "example.com", Path: "/", Browser: "Firefox", OS: "Linux", VisitorID: "v1"},
		{Domain: "example.com", Path: "/docs", Browser: "Firefox", OS: "Linux", VisitorID: "v1"},
		{Domain: "example.com", Path: "/", Browser: "Safari", OS: "iOS", VisitorID: "v2", Referrer: "https://news.ycombinator.com"},
	} {
		require.NoError(t, client.TrackPageView(pv))
	}
	require.NoError(t, client.TrackDownload(analytics.Download{AppName: "app", Version: "1.2.0", Platform: "linux"}))
	require.NoError(t, client.Stop())

	var overview struct {
		Data analytics.OverviewStats `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, baseURL+"/api/stats/overview?"+day, &overview))
	assert.Equal(t, int64(3), overview.Data.TotalViews)
	assert.Equal(t, int64(2), overview.Data.UniqueVisitors)
	assert.Equal(t, int64(1), overview.Data.TotalDownloads)

	var pages struct {
		Data []analytics.PageStat `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, baseURL+"/api/stats/pages?"+day, &pages))
	require.Len(t, pages.Data, 2)
	assert.Equal(t, analytics.PageStat{Path: "/", Views: 2, UniqueVisitors: 2}, pages.Data[0])

	resp, err := http.Get(baseURL + "/api/export?kind=downloads&format=csv&" + day)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "app,1.2.0,linux")

	require.Eventually(t, func() bool {
		return getJSON(t, baseURL+"/api/health", nil) == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	require.Equal(t, http.StatusOK, getJSON(t, baseURL+"/tracker.js", nil))

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(config.ShutdownTimeout + 5*time.Second):
		t.Fatal("server did not shut down")
	}

	reopened, err := sqlite.Open(cfg.DBPath)
	require.NoError(t, err)
	defer reopened.Close()

	stats, err := reopened.Overview(context.Background(),
		analytics.NewInterval(base.Add(-time.Hour), base.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalViews)
	assert.Equal(t, int64(1), stats.TotalDownloads)
}

func TestE2E_InvalidRequests(t *testing.T) {
	logger, _ := test.NewNullLogger()
	a, err := newApp(testConfig("memory", ""), analytics.NewManualClock(base), logger)
	require.NoError(t, err)
	defer a.store.Close()
	assert.Nil(t, a.storageMonitor)

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	post := func(path, body string) int {
		resp, err := http.Post(srv.URL+path, "text/plain", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusBadRequest, post("/api/event", "{"))
	assert.Equal(t, http.StatusUnprocessableEntity, post("/api/event", `{"domain":"example.com"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, post("/api/download", `{"version":"1.0"}`))
	assert.Equal(t, http.StatusAccepted, post("/api/event", `{"domain":"","path":"/"}`))

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/stats/pages?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/stats/overview?from=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/export?kind=metrics", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/stats/unknown", nil))
}

func TestApplyFlags(t *testing.T) {
	cfg := testConfig("sqlite", "./tinybeacon.db")
	fs := flag.NewFlagSet("tinybeacon", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	require.NoError(t, applyFlags(fs, []string{"--port", "8080", "--backend", "badger", "--db", "/var/lib/tb"}, &cfg))
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "badger", cfg.Backend)
	assert.Equal(t, "/var/lib/tb", cfg.DBPath)
}

func TestApplyFlags_KeepsEnvWithoutFlags(t *testing.T) {
	cfg := testConfig("sqlite", "./tinybeacon.db")
	fs := flag.NewFlagSet("tinybeacon", flag.ContinueOnError)

	require.NoError(t, applyFlags(fs, nil, &cfg))
	assert.Equal(t, "0", cfg.Port)
	assert.Equal(t, "sqlite", cfg.Backend)
}

func TestApplyFlags_Invalid(t *testing.T) {
	cfg := testConfig("sqlite", "./tinybeacon.db")
	fs := flag.NewFlagSet("tinybeacon", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	assert.Error(t, applyFlags(fs, []string{"--backend", "postgres"}, &cfg))
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig("memory", "")
	cfg.LogLevel = "debug"
	cfg.LogFormat = "json"

	log, err := newLogger(cfg)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	cfg.LogLevel = "loud"
	_, err = newLogger(cfg)
	assert.Error(t, err)
}

func TestNewHTTPServer_Timeouts(t *testing.T) {
	srv := newHTTPServer(http.NotFoundHandler())

	require.Equal(t, config.ReadHeaderTimeout, srv.ReadHeaderTimeout)
	require.Equal(t, config.ReadTimeout, srv.ReadTimeout)
	require.Equal(t, config.WriteTimeout, srv.WriteTimeout)
	require.Equal(t, config.IdleTimeout, srv.IdleTimeout)
}

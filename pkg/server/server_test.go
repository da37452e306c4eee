package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/observability"
	"github.com/nicktill/tinybeacon/pkg/server/monitor"
	"github.com/nicktill/tinybeacon/pkg/storage"
	"github.com/nicktill/tinybeacon/pkg/storage/memory"
	"github.com/nicktill/tinybeacon/web"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

const (
	testTimeout = 2 * time.Second
	testTick    = 10 * time.Millisecond
)

type testServer struct {
	handler http.Handler
	store   storage.Storage
	probe   *monitor.ProbeMonitor
}

func newTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	clock := analytics.NewManualClock(base)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	store := observability.InstrumentStorage(memory.New(clock), metrics)
	t.Cleanup(func() { _ = store.Close() })

	assets, err := web.FS("")
	require.NoError(t, err)

	probe := monitor.NewProbeMonitor(nil)
	handler := NewHandler(Routes{
		Store:           store,
		Handlers:        InitializeHandlers(store, clock, logger, metrics, nil),
		ProbeMonitor:    probe,
		Metrics:         metrics,
		Assets:          assets,
		IngestRateLimit: rateLimit,
		Log:             logger,
	}, []string{"*"})

	return &testServer{handler: handler, store: store, probe: probe}
}

func (s *testServer) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func TestEndToEnd_BeaconThenStats(t *testing.T) {
	s := newTestServer(t, 0)

	for _, visitor := range []string{"v1", "v2", "v1"} {
		rr := s.do(http.MethodPost, "/api/event",
			`{"domain":"example.com","path":"/","browser":"Firefox","os":"Linux","visitor_id":"`+visitor+`"}`,
			map[string]string{"Content-Type": "text/plain;charset=UTF-8"})
		require.Equal(t, http.StatusAccepted, rr.Code)
	}

	rr := s.do(http.MethodGet, "/api/stats/overview", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data analytics.OverviewStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, int64(3), resp.Data.TotalViews)
	require.Equal(t, int64(2), resp.Data.UniqueVisitors)

	rr = s.do(http.MethodGet, "/api/stats/realtime", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"data":{"active_visitors":2}}`, rr.Body.String())
}

func TestRoutesRegistered(t *testing.T) {
	s := newTestServer(t, 0)

	for _, path := range []string{
		"/api/stats/overview",
		"/api/stats/pageviews",
		"/api/stats/visitors",
		"/api/stats/pages",
		"/api/stats/referrers",
		"/api/stats/browsers",
		"/api/stats/os",
		"/api/stats/downloads",
		"/api/stats/realtime",
		"/api/export",
		"/api/storage",
		"/metrics",
	} {
		rr := s.do(http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, rr.Code, path)
	}

	rr := s.do(http.MethodPost, "/api/download", `{"app_name":"app"}`, nil)
	require.Equal(t, http.StatusAccepted, rr.Code)

	rr = s.do(http.MethodGet, "/api/event", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, 0)

	rr := s.do(http.MethodOptions, "/api/event", "", map[string]string{
		"Origin":                        "https://blog.example",
		"Access-Control-Request-Method": http.MethodPost,
	})
	require.Less(t, rr.Code, 300)
	require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = s.do(http.MethodPost, "/api/event", `{"domain":"d","path":"/"}`, map[string]string{
		"Origin": "https://blog.example",
	})
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, 0)

	rr := s.do(http.MethodGet, "/api/stats/os", "", nil)
	require.Len(t, rr.Header().Get(RequestIDHeader), 36)

	rr = s.do(http.MethodGet, "/api/stats/os", "", map[string]string{RequestIDHeader: "abc-123"})
	require.Equal(t, "abc-123", rr.Header().Get(RequestIDHeader))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 0)

	rr := s.do(http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	require.NoError(t, ProbeStorage(context.Background(), s.store, s.probe, nil))

	rr = s.do(http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp.Status)
	require.Equal(t, "memory", resp.Backend)
	require.True(t, resp.Storage.Healthy)
}

func TestStorageEndpoint(t *testing.T) {
	s := newTestServer(t, 0)
	s.do(http.MethodPost, "/api/event", `{"domain":"d","path":"/"}`, nil)

	rr := s.do(http.MethodGet, "/api/storage", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var usage StorageUsage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &usage))
	require.Equal(t, "memory", usage.Backend)
	require.Equal(t, uint64(1), usage.Stats.TotalPageViews)
	require.Zero(t, usage.MaxBytes)
}

func TestMetricsExposition(t *testing.T) {
	s := newTestServer(t, 0)
	s.do(http.MethodPost, "/api/event", `{"domain":"d","path":"/"}`, nil)

	rr := s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	require.Contains(t, body, `tinybeacon_events_ingested_total{kind="pageview"} 1`)
	require.Contains(t, body, `route="/api/event"`)
}

func TestStaticAssets(t *testing.T) {
	s := newTestServer(t, 0)

	rr := s.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "<title>TinyBeacon</title>")

	rr = s.do(http.MethodGet, "/tracker.js", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "sendBeacon")

	rr = s.do(http.MethodGet, "/web/app.js", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestIngestRateLimit(t *testing.T) {
	s := newTestServer(t, 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := s.do(http.MethodPost, "/api/event", `{"domain":"d","path":"/"}`, nil)
		codes = append(codes, rr.Code)
	}
	require.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)

	// Stats routes are not limited.
	rr := s.do(http.MethodGet, "/api/stats/overview", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

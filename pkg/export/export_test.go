package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/storage/memory"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type exportDoc struct {
	Metadata Metadata             `json:"metadata"`
	Events   []analytics.PageView `json:"events"`
}

func seededStore(t *testing.T) (*memory.Storage, *analytics.ManualClock) {
	t.Helper()
	clock := analytics.NewManualClock(base)
	store := memory.New(clock)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	for _, path := range []string{"/", "/pricing", "/docs"} {
		_, err := store.InsertPageView(ctx, analytics.PageView{Domain: "example.com", Path: path, VisitorID: "v1"})
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}
	_, err := store.InsertDownload(ctx, analytics.Download{AppName: "app", Version: "1.2.0", Platform: "linux"})
	require.NoError(t, err)
	return store, clock
}

func TestExportJSON(t *testing.T) {
	store, clock := seededStore(t)
	exporter := NewExporter(store, clock)

	buf := &bytes.Buffer{}
	result, err := exporter.Export(context.Background(), buf, ExportOptions{
		Kind:     analytics.KindPageView,
		Interval: analytics.NewInterval(base, base.Add(2*time.Minute)),
		Format:   FormatJSON,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.EventsExported)

	var doc exportDoc
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.Equal(t, analytics.KindPageView, doc.Metadata.Kind)
	require.Equal(t, Version, doc.Metadata.Version)
	require.Len(t, doc.Events, 2)
	require.Equal(t, "/", doc.Events[0].Path)
	require.Equal(t, "/pricing", doc.Events[1].Path)
	require.Equal(t, base, doc.Events[0].CreatedAt)
}

func TestExportJSON_Empty(t *testing.T) {
	store := memory.New(nil)
	defer store.Close()

	buf := &bytes.Buffer{}
	result, err := NewExporter(store, nil).Export(context.Background(), buf, ExportOptions{
		Kind:     analytics.KindDownload,
		Interval: analytics.NewInterval(base, base.Add(time.Hour)),
		Format:   FormatJSON,
	})
	require.NoError(t, err)
	require.Zero(t, result.EventsExported)

	var doc struct {
		Events []json.RawMessage `json:"events"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.NotNil(t, doc.Events)
	require.Empty(t, doc.Events)
}

func TestExportCSV(t *testing.T) {
	store, clock := seededStore(t)
	exporter := NewExporter(store, clock)

	buf := &bytes.Buffer{}
	_, err := exporter.Export(context.Background(), buf, ExportOptions{
		Kind:     analytics.KindDownload,
		Interval: analytics.NewInterval(base, base.Add(time.Hour)),
		Format:   FormatCSV,
	})
	require.NoError(t, err)

	records, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{
		downloadHeader,
		{"4", "2025-03-10T12:03:00Z", "app", "1.2.0", "linux", ""},
	}, records)
}

func TestExportCSV_PageViewColumns(t *testing.T) {
	store, clock := seededStore(t)

	buf := &bytes.Buffer{}
	result, err := NewExporter(store, clock).Export(context.Background(), buf, ExportOptions{
		Kind:     analytics.KindPageView,
		Interval: analytics.NewInterval(base, base.Add(time.Hour)),
		Format:   FormatCSV,
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.EventsExported)

	records, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.Equal(t, pageViewHeader, records[0])
	require.Equal(t, "/docs", records[3][3])
}

func TestExport_UnsupportedFormat(t *testing.T) {
	store := memory.New(nil)
	defer store.Close()

	_, err := NewExporter(store, nil).Export(context.Background(), &bytes.Buffer{}, ExportOptions{
		Kind:   analytics.KindPageView,
		Format: "xml",
	})
	require.Error(t, err)
}

func newHandler(t *testing.T) (*Handler, *memory.Storage) {
	t.Helper()
	store, clock := seededStore(t)
	logger, _ := test.NewNullLogger()
	return NewHandler(store, clock, logger), store
}

func TestHandleExport_DefaultsToJSONPageViews(t *testing.T) {
	handler, _ := newHandler(t)

	rr := httptest.NewRecorder()
	handler.HandleExport(rr, httptest.NewRequest(http.MethodGet, "/api/export", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Header().Get("Content-Disposition"), "tinybeacon-pageviews-")

	var doc exportDoc
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	require.Len(t, doc.Events, 3)
}

func TestHandleExport_CSV(t *testing.T) {
	handler, _ := newHandler(t)

	rr := httptest.NewRecorder()
	handler.HandleExport(rr, httptest.NewRequest(http.MethodGet, "/api/export?kind=downloads&format=csv", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	require.True(t, strings.HasPrefix(rr.Body.String(), "id,created_at,app_name"))
}

func TestHandleExport_BadRequests(t *testing.T) {
	handler, _ := newHandler(t)

	for _, target := range []string{
		"/api/export?kind=sessions",
		"/api/export?format=xml",
		"/api/export?from=2025-03-10&to=2025-03-10",
		"/api/export?from=2025-01-01&to=2025-03-01",
		"/api/export?from=soon",
	} {
		rr := httptest.NewRecorder()
		handler.HandleExport(rr, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
}

func TestHandleExport_ClosedStore(t *testing.T) {
	handler, store := newHandler(t)
	require.NoError(t, store.Close())

	rr := httptest.NewRecorder()
	handler.HandleExport(rr, httptest.NewRequest(http.MethodGet, "/api/export", nil))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Empty(t, rr.Header().Get("Content-Disposition"))
}

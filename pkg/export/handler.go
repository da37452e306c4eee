package export

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/config"
	"github.com/nicktill/tinybeacon/pkg/httpx"
	"github.com/nicktill/tinybeacon/pkg/query"
	"github.com/nicktill/tinybeacon/pkg/storage"
)

// Handler handles the export HTTP endpoint
type Handler struct {
	exporter *Exporter
	clock    analytics.Clock
	log      logrus.FieldLogger
}

// NewHandler creates a new export handler
func NewHandler(store storage.Scanner, clock analytics.Clock, log logrus.FieldLogger) *Handler {
	if clock == nil {
		clock = analytics.SystemClock{}
	}
	return &Handler{
		exporter: NewExporter(store, clock),
		clock:    clock,
		log:      log,
	}
}

var kinds = map[string]analytics.EventKind{
	"pageviews": analytics.KindPageView,
	"downloads": analytics.KindDownload,
}

// HandleExport handles GET /api/export
// Query params:
//   - kind: "pageviews" or "downloads" (default: pageviews)
//   - format: "json" or "csv" (default: json)
//   - from, to: RFC 3339 or YYYY-MM-DD (default: last 24 hours)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	kindParam := q.Get("kind")
	if kindParam == "" {
		kindParam = "pageviews"
	}
	kind, ok := kinds[kindParam]
	if !ok {
		httpx.RespondErrorString(w, http.StatusBadRequest, "kind must be 'pageviews' or 'downloads'")
		return
	}

	format := q.Get("format")
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV {
		httpx.RespondErrorString(w, http.StatusBadRequest, "format must be 'json' or 'csv'")
		return
	}

	iv, err := query.ParseInterval(q, h.clock.Now(), config.DefaultExportWindow)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if !iv.From.Before(iv.To) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "from must be before to")
		return
	}
	if iv.To.Sub(iv.From) > config.MaxExportWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest,
			fmt.Sprintf("time range too large, maximum is %v", config.MaxExportWindow))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.ExportTimeout)
	defer cancel()

	// Exports may outlive the server's WriteTimeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(config.ExportTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.log.WithError(err).Debug("Failed to extend export write deadline")
	}

	// Buffer the head of the stream so an early storage failure can still
	// be answered with a clean 500.
	out := &countingWriter{w: w}
	buf := bufio.NewWriterSize(out, 32<<10)

	filename := fmt.Sprintf("tinybeacon-%s-%s.%s", kindParam, h.clock.Now().UTC().Format("20060102-150405"), format)
	contentType := "application/json"
	if format == FormatCSV {
		contentType = "text/csv"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)

	result, err := h.exporter.Export(ctx, buf, ExportOptions{Kind: kind, Interval: iv, Format: format})
	if err == nil {
		err = buf.Flush()
	}
	if err != nil {
		if out.n == 0 {
			w.Header().Del("Content-Disposition")
			httpx.RespondStorageError(w, h.log, "export", err)
			return
		}
		h.log.WithFields(logrus.Fields{
			"op":    "export",
			"error": err,
		}).Error("Export aborted mid-stream")
		panic(http.ErrAbortHandler)
	}

	h.log.WithFields(logrus.Fields{
		"kind":   result.Kind,
		"format": result.Format,
		"events": result.EventsExported,
		"range":  result.TimeRange,
	}).Info("Exported events")
}

// countingWriter records how many bytes reached the client.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

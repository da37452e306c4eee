// Package ingest implements the beacon write endpoints.
package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/config"
	"github.com/nicktill/tinybeacon/pkg/httpx"
	"github.com/nicktill/tinybeacon/pkg/observability"
	"github.com/nicktill/tinybeacon/pkg/storage"
)

// StorageChecker reports disk usage against the configured limit.
type StorageChecker interface {
	GetUsage() (int64, error)
	GetLimit() int64
}

// Handler handles beacon ingestion
type Handler struct {
	store          storage.Writer
	log            logrus.FieldLogger
	metrics        *observability.Metrics
	storageChecker StorageChecker
}

// NewHandler creates a new ingest handler. metrics may be nil.
func NewHandler(store storage.Writer, log logrus.FieldLogger, metrics *observability.Metrics) *Handler {
	return &Handler{
		store:   store,
		log:     log,
		metrics: metrics,
	}
}

// SetStorageChecker enables refusing writes once the disk limit is reached.
func (h *Handler) SetStorageChecker(checker StorageChecker) {
	h.storageChecker = checker
}

// IngestResponse is the 202 body.
type IngestResponse struct {
	Status string `json:"status"`
	ID     int64  `json:"id"`
}

// HandlePageView handles POST /api/event. Any content type is accepted
// since navigator.sendBeacon posts text/plain.
func (h *Handler) HandlePageView(w http.ResponseWriter, r *http.Request) {
	var req PageViewRequest
	if !h.decode(w, r, analytics.KindPageView, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	pv, err := h.store.InsertPageView(ctx, req.PageView())
	if err != nil {
		h.metrics.EventRejected(string(analytics.KindPageView), "storage")
		httpx.RespondStorageError(w, h.log, "insert_pageview", err)
		return
	}

	h.metrics.EventIngested(string(analytics.KindPageView))
	httpx.RespondJSON(w, http.StatusAccepted, IngestResponse{Status: "accepted", ID: pv.ID})
}

// HandleDownload handles POST /api/download.
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if !h.decode(w, r, analytics.KindDownload, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	d, err := h.store.InsertDownload(ctx, req.Download())
	if err != nil {
		h.metrics.EventRejected(string(analytics.KindDownload), "storage")
		httpx.RespondStorageError(w, h.log, "insert_download", err)
		return
	}

	h.metrics.EventIngested(string(analytics.KindDownload))
	httpx.RespondJSON(w, http.StatusAccepted, IngestResponse{Status: "accepted", ID: d.ID})
}

// decode reads, parses and validates the body into req. On failure it
// writes the response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, kind analytics.EventKind, req interface{}) bool {
	if h.overLimit() {
		h.metrics.EventRejected(string(kind), "storage_full")
		httpx.RespondErrorString(w, http.StatusInsufficientStorage, "storage limit reached")
		return false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, config.IngestMaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.EventRejected(string(kind), "too_large")
			httpx.RespondErrorString(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.metrics.EventRejected(string(kind), "read")
		httpx.RespondErrorString(w, http.StatusBadRequest, "failed to read request body")
		return false
	}

	if err := json.Unmarshal(body, req); err != nil {
		h.metrics.EventRejected(string(kind), "malformed")
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid JSON")
		return false
	}

	if err := Validate(req); err != nil {
		h.metrics.EventRejected(string(kind), "validation")
		var verr *ValidationError
		if errors.As(err, &verr) {
			httpx.RespondFieldErrors(w, verr.Fields)
			return false
		}
		httpx.RespondError(w, http.StatusUnprocessableEntity, err)
		return false
	}
	return true
}

func (h *Handler) overLimit() bool {
	if h.storageChecker == nil {
		return false
	}
	limit := h.storageChecker.GetLimit()
	if limit <= 0 {
		return false
	}
	usage, err := h.storageChecker.GetUsage()
	if err != nil {
		h.log.WithError(err).Warn("Failed to check storage usage")
		return false
	}
	return usage >= limit
}

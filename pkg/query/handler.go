// Package query serves the read-only stats endpoints under /api/stats.
package query

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/config"
	"github.com/nicktill/tinybeacon/pkg/httpx"
	"github.com/nicktill/tinybeacon/pkg/storage"
)

// Handler handles stats requests
type Handler struct {
	store storage.Querier
	clock analytics.Clock
	log   logrus.FieldLogger
}

// NewHandler creates a new stats handler. clock supplies "now" for the
// default interval; nil means the system clock.
func NewHandler(store storage.Querier, clock analytics.Clock, log logrus.FieldLogger) *Handler {
	if clock == nil {
		clock = analytics.SystemClock{}
	}
	return &Handler{
		store: store,
		clock: clock,
		log:   log,
	}
}

// intervalQuery adapts an interval-only store query into a handler.
func intervalQuery[T any](h *Handler, op string, fn func(context.Context, analytics.Interval) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		iv, err := ParseInterval(r.URL.Query(), h.clock.Now(), config.QueryDefaultWindow)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
		defer cancel()

		result, err := fn(ctx, iv)
		if err != nil {
			httpx.RespondStorageError(w, h.log, op, err)
			return
		}
		httpx.RespondData(w, result)
	}
}

// rankedQuery is intervalQuery plus the limit parameter.
func rankedQuery[T any](h *Handler, op string, fn func(context.Context, analytics.Interval, int) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		iv, err := ParseInterval(q, h.clock.Now(), config.QueryDefaultWindow)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		limit, err := ParseLimit(q)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
		defer cancel()

		result, err := fn(ctx, iv, limit)
		if err != nil {
			httpx.RespondStorageError(w, h.log, op, err)
			return
		}
		httpx.RespondData(w, result)
	}
}

// HandleOverview handles GET /api/stats/overview.
func (h *Handler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	intervalQuery(h, "overview", h.store.Overview)(w, r)
}

// HandlePageviews handles GET /api/stats/pageviews.
func (h *Handler) HandlePageviews(w http.ResponseWriter, r *http.Request) {
	intervalQuery(h, "pageviews_by_day", h.store.PageviewsByDay)(w, r)
}

// HandleVisitors handles GET /api/stats/visitors.
func (h *Handler) HandleVisitors(w http.ResponseWriter, r *http.Request) {
	intervalQuery(h, "unique_visitors_by_day", h.store.UniqueVisitorsByDay)(w, r)
}

// HandlePages handles GET /api/stats/pages.
func (h *Handler) HandlePages(w http.ResponseWriter, r *http.Request) {
	rankedQuery(h, "top_pages", h.store.TopPages)(w, r)
}

// HandleReferrers handles GET /api/stats/referrers.
func (h *Handler) HandleReferrers(w http.ResponseWriter, r *http.Request) {
	rankedQuery(h, "top_referrers", h.store.TopReferrers)(w, r)
}

// HandleBrowsers handles GET /api/stats/browsers.
func (h *Handler) HandleBrowsers(w http.ResponseWriter, r *http.Request) {
	intervalQuery(h, "browser_breakdown", h.store.BrowserBreakdown)(w, r)
}

// HandleOS handles GET /api/stats/os.
func (h *Handler) HandleOS(w http.ResponseWriter, r *http.Request) {
	intervalQuery(h, "os_breakdown", h.store.OSBreakdown)(w, r)
}

// HandleDownloads handles GET /api/stats/downloads.
func (h *Handler) HandleDownloads(w http.ResponseWriter, r *http.Request) {
	intervalQuery(h, "download_stats", h.store.DownloadStats)(w, r)
}

// HandleRealtime handles GET /api/stats/realtime. It takes no interval;
// the window trails the store's clock.
func (h *Handler) HandleRealtime(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	n, err := h.store.RealtimeActiveVisitors(ctx)
	if err != nil {
		httpx.RespondStorageError(w, h.log, "realtime_active_visitors", err)
		return
	}
	httpx.RespondData(w, analytics.RealtimeStats{ActiveVisitors: n})
}

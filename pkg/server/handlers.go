package server

import (
	"context"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinybeacon/pkg/config"
	"github.com/nicktill/tinybeacon/pkg/httpx"
	"github.com/nicktill/tinybeacon/pkg/observability"
	"github.com/nicktill/tinybeacon/pkg/server/monitor"
	"github.com/nicktill/tinybeacon/pkg/storage"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	Backend   string         `json:"backend"`
	UsedBytes int64          `json:"used_bytes"`
	MaxBytes  int64          `json:"max_bytes"`
	Stats     *storage.Stats `json:"stats"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string              `json:"status"`
	Version string              `json:"version"`
	Uptime  string              `json:"uptime"`
	Backend string              `json:"backend"`
	Storage monitor.ProbeStatus `json:"storage"`
}

// handleHealth returns service health status.
func handleHealth(backend string, probe *monitor.ProbeMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK

		if !probe.IsHealthy() {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:  overallStatus,
			Version: Version,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Backend: backend,
			Storage: probe.Status(),
		}

		httpx.RespondJSON(w, statusCode, response)
	}
}

// handleStorageUsage returns current storage usage. Without a disk monitor
// the store's own size estimate is reported.
func handleStorageUsage(store storage.Storage, sm *monitor.StorageMonitor, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
		defer cancel()

		stats, err := store.Stats(ctx)
		if err != nil {
			httpx.RespondStorageError(w, log, "stats", err)
			return
		}

		usage := StorageUsage{
			Backend:   store.Backend(),
			UsedBytes: int64(stats.SizeBytes),
			Stats:     stats,
		}
		if sm != nil {
			used, err := sm.GetUsage()
			if err != nil {
				log.WithError(err).Error("Failed to calculate storage usage")
				httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to calculate storage usage")
				return
			}
			usage.UsedBytes = used
			usage.MaxBytes = sm.GetLimit()
		}

		httpx.RespondJSON(w, http.StatusOK, usage)
	}
}

// Routes is everything SetupRoutes wires.
type Routes struct {
	Store           storage.Storage
	Handlers        *Handlers
	StorageMonitor  *monitor.StorageMonitor
	ProbeMonitor    *monitor.ProbeMonitor
	Metrics         *observability.Metrics
	Assets          fs.FS
	IngestRateLimit int
	Log             logrus.FieldLogger
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, rt Routes) {
	router.Use(requestIDMiddleware)
	router.Use(accessLogMiddleware(rt.Log))
	router.Use(observability.HTTPMiddleware(rt.Metrics))

	api := router.PathPrefix("/api").Subrouter()

	// Beacon ingestion
	ingestRoutes := api.NewRoute().Subrouter()
	ingestRoutes.Use(ingestRateLimit(rt.IngestRateLimit))
	ingestRoutes.HandleFunc("/event", rt.Handlers.Ingest.HandlePageView).Methods(http.MethodPost)
	ingestRoutes.HandleFunc("/download", rt.Handlers.Ingest.HandleDownload).Methods(http.MethodPost)

	// Stats
	stats := api.PathPrefix("/stats").Subrouter()
	stats.HandleFunc("/overview", rt.Handlers.Query.HandleOverview).Methods(http.MethodGet)
	stats.HandleFunc("/pageviews", rt.Handlers.Query.HandlePageviews).Methods(http.MethodGet)
	stats.HandleFunc("/visitors", rt.Handlers.Query.HandleVisitors).Methods(http.MethodGet)
	stats.HandleFunc("/pages", rt.Handlers.Query.HandlePages).Methods(http.MethodGet)
	stats.HandleFunc("/referrers", rt.Handlers.Query.HandleReferrers).Methods(http.MethodGet)
	stats.HandleFunc("/browsers", rt.Handlers.Query.HandleBrowsers).Methods(http.MethodGet)
	stats.HandleFunc("/os", rt.Handlers.Query.HandleOS).Methods(http.MethodGet)
	stats.HandleFunc("/downloads", rt.Handlers.Query.HandleDownloads).Methods(http.MethodGet)
	stats.HandleFunc("/realtime", rt.Handlers.Query.HandleRealtime).Methods(http.MethodGet)

	// Operations
	api.HandleFunc("/export", rt.Handlers.Export.HandleExport).Methods(http.MethodGet)
	api.HandleFunc("/storage", handleStorageUsage(rt.Store, rt.StorageMonitor, rt.Log)).Methods(http.MethodGet)
	api.HandleFunc("/health", handleHealth(rt.Store.Backend(), rt.ProbeMonitor)).Methods(http.MethodGet)

	if rt.Metrics != nil {
		router.Handle("/metrics", rt.Metrics.Handler()).Methods(http.MethodGet)
	}

	// Dashboard and tracker script
	if rt.Assets != nil {
		fileServer := http.FileServer(http.FS(rt.Assets))
		router.PathPrefix("/web/").Handler(http.StripPrefix("/web/", fileServer)).Methods(http.MethodGet, http.MethodHead)
		router.PathPrefix("/").Handler(fileServer).Methods(http.MethodGet, http.MethodHead)
	}
}

// NewHandler builds the complete HTTP handler. CORS wraps the router so
// preflight requests are answered before route matching.
func NewHandler(rt Routes, corsOrigins []string) http.Handler {
	router := mux.NewRouter()
	SetupRoutes(router, rt)
	return corsMiddleware(corsOrigins)(router)
}

// Package observability holds the Prometheus metrics exported on /metrics
// and the instrumentation that feeds them.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ingest metrics
	EventsIngestedTotal *prometheus.CounterVec
	EventsRejectedTotal *prometheus.CounterVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	StorageSizeBytes         *prometheus.GaugeVec
	StorageHealthy           prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all metrics on registry, plus the Go
// runtime and process collectors.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinybeacon_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tinybeacon_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		EventsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinybeacon_events_ingested_total",
				Help: "Total number of beacon events stored",
			},
			[]string{"kind"},
		),
		EventsRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinybeacon_events_rejected_total",
				Help: "Total number of beacon events rejected at ingest",
			},
			[]string{"kind", "reason"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tinybeacon_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tinybeacon_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 5},
			},
			[]string{"operation", "backend"},
		),
		StorageSizeBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tinybeacon_storage_size_bytes",
				Help: "Event store size on disk in bytes",
			},
			[]string{"backend"},
		),
		StorageHealthy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tinybeacon_storage_healthy",
				Help: "1 when the last storage probe succeeded",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EventsIngestedTotal,
		m.EventsRejectedTotal,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.StorageSizeBytes,
		m.StorageHealthy,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventIngested counts one stored event of kind.
func (m *Metrics) EventIngested(kind string) {
	if m == nil {
		return
	}
	m.EventsIngestedTotal.WithLabelValues(kind).Inc()
}

// EventRejected counts one event of kind refused for reason.
func (m *Metrics) EventRejected(kind, reason string) {
	if m == nil {
		return
	}
	m.EventsRejectedTotal.WithLabelValues(kind, reason).Inc()
}

// SetStorageHealth records the outcome of the latest storage probe.
func (m *Metrics) SetStorageHealth(backend string, healthy bool, sizeBytes uint64) {
	if m == nil {
		return
	}
	if healthy {
		m.StorageHealthy.Set(1)
		m.StorageSizeBytes.WithLabelValues(backend).Set(float64(sizeBytes))
		return
	}
	m.StorageHealthy.Set(0)
}

func (m *Metrics) observeStorage(op, backend string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StorageOperationsTotal.WithLabelValues(op, backend, status).Inc()
	m.StorageOperationDuration.WithLabelValues(op, backend).Observe(time.Since(start).Seconds())
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers (export) flush through the wrapper.
func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// HTTPMiddleware instruments requests. Routes are labelled by their mux
// path template to keep cardinality bounded.
func HTTPMiddleware(m *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

package internal

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection for HTTP requests and
// the console's business events
type Metrics struct {
	reqTotal        *prometheus.CounterVec
	reqLatency      *prometheus.HistogramVec
	bookingsCreated *prometheus.CounterVec
	stockOperations *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	registry        *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with a private Prometheus registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	reqTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	reqLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	bookingsCreated := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookings_created_total",
			Help: "Bookings created, by initial status",
		},
		[]string{"status"},
	)

	stockOperations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_operations_total",
			Help: "Stock ledger operations applied, by type",
		},
		[]string{"type"},
	)

	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_cache_total",
			Help: "Analytics cache lookups, by result",
		},
		[]string{"result"},
	)

	registry.MustRegister(reqTotal, reqLatency, bookingsCreated, stockOperations, cacheLookups)

	return &Metrics{
		reqTotal:        reqTotal,
		reqLatency:      reqLatency,
		bookingsCreated: bookingsCreated,
		stockOperations: stockOperations,
		cacheLookups:    cacheLookups,
		registry:        registry,
	}
}

func (m *Metrics) BookingCreated(status string) { m.bookingsCreated.WithLabelValues(status).Inc() }
func (m *Metrics) StockOperation(opType string) { m.stockOperations.WithLabelValues(opType).Inc() }
func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Middleware returns a Chi middleware that collects metrics
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rw, r)

			status := http.StatusText(rw.code)
			path := routePattern(r)
			m.reqTotal.WithLabelValues(r.Method, path, status).Inc()
			m.reqLatency.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler returns an http.Handler that serves Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// routePattern prefers Chi's route pattern over the raw path to keep label
// cardinality bounded.
func routePattern(r *http.Request) string {
	if chiCtx := chi.RouteContext(r.Context()); chiCtx != nil {
		if p := chiCtx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// statusRecorder captures the HTTP status code for metrics and access logs
type statusRecorder struct {
	http.ResponseWriter
	code  int
	bytes int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.code = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

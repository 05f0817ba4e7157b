package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "backoffice"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec
	DatabaseTierTotal  *prometheus.CounterVec
	FallbacksTotal     *prometheus.CounterVec
	GuardDecisions     *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CachePurgesTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics on registry
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "resolutions_total",
				Help:      "Authorization resolutions by outcome",
			},
			[]string{"outcome"},
		),
		ResolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "resolution_duration_seconds",
				Help:      "Time spent resolving an authorization context",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"outcome"},
		),
		DatabaseTierTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "database_tier_total",
				Help:      "Database permission lookups by the tier that produced the result",
			},
			[]string{"tier"},
		),
		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "fallbacks_total",
				Help:      "Static catalog fallback activations by role",
			},
			[]string{"role"},
		),
		GuardDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "guard_decisions_total",
				Help:      "Guard checks by guard kind and result",
			},
			[]string{"guard", "result"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Role permission cache hits",
			},
			[]string{"layer"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Role permission cache misses",
			},
			[]string{"layer"},
		),
		CachePurgesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "purges_total",
				Help:      "Role permission cache purges",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ResolutionsTotal,
		m.ResolutionDuration,
		m.DatabaseTierTotal,
		m.FallbacksTotal,
		m.GuardDecisions,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CachePurgesTotal,
	)

	return m
}

// RegisterDBStats exports connection pool statistics for db
func RegisterDBStats(registry *prometheus.Registry, db *sql.DB) {
	registry.MustRegister(collectors.NewDBStatsCollector(db, namespace))
}

// ObserveResolution records one engine resolution
func (m *Metrics) ObserveResolution(outcome string, elapsed time.Duration) {
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
	m.ResolutionDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveDatabaseTier records which cascade tier answered a lookup
func (m *Metrics) ObserveDatabaseTier(tier string) {
	m.DatabaseTierTotal.WithLabelValues(tier).Inc()
}

// ObserveFallback records a catalog fallback for roleCode
func (m *Metrics) ObserveFallback(roleCode string) {
	m.FallbacksTotal.WithLabelValues(roleCode).Inc()
}

// ObserveGuardDecision records a guard check
func (m *Metrics) ObserveGuardDecision(guard string, allowed bool) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.GuardDecisions.WithLabelValues(guard, result).Inc()
}

// ObserveCacheLookup records a hit or miss on a cache layer
func (m *Metrics) ObserveCacheLookup(layer string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(layer).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(layer).Inc()
}

// ObserveCachePurge records a cache purge
func (m *Metrics) ObserveCachePurge() {
	m.CachePurgesTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. pathLabel maps a request onto a
// bounded label value; nil uses the raw URL path.
func HTTPMetricsMiddleware(metrics *Metrics, pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	if pathLabel == nil {
		pathLabel = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := pathLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

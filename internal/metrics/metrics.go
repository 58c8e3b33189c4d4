// Package metrics exposes Prometheus collectors for the HTTP API, the
// balance engine, and the export pipeline, served on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application collectors on a private registry so
// tests can construct instances independently.
type Metrics struct {
	registry *prometheus.Registry
	started  time.Time

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	ExpensesTotal            prometheus.Counter
	TripsTotal               prometheus.Counter
	BalanceCalculationsTotal prometheus.Counter

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	RateLimitHitsTotal      prometheus.Counter
	SuspiciousRequestsTotal *prometheus.CounterVec
	EventsPublishedTotal    *prometheus.CounterVec
	EventsConsumedTotal     *prometheus.CounterVec
	ExportsTotal            *prometheus.CounterVec
	SnapshotsTotal          *prometheus.CounterVec
}

// New creates a metrics set with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	m := &Metrics{
		registry: registry,
		started:  time.Now(),

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		RequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Requests currently being served",
		}),

		ExpensesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "expenses_total",
			Help: "Total number of expenses created",
		}),

		TripsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "trips_total",
			Help: "Total number of trips created",
		}),

		BalanceCalculationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "balance_calculations_total",
			Help: "Balance and settlement computations performed",
		}),

		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits",
		}),

		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses",
		}),

		RateLimitHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rate_limit_hits_total",
			Help: "Total rate limit hits",
		}),

		SuspiciousRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "suspicious_requests_total",
			Help: "Total suspicious requests detected",
		}, []string{"reason"}),

		EventsPublishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amqp_events_published_total",
			Help: "Expense events published to the broker",
		}, []string{"type", "result"}),

		EventsConsumedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amqp_events_consumed_total",
			Help: "Expense events consumed from the broker",
		}, []string{"type", "result"}),

		ExportsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exports_total",
			Help: "Expense rows written to export targets",
		}, []string{"target", "result"}),

		SnapshotsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "snapshots_total",
			Help: "Trip snapshot runs",
		}, []string{"result"}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "uptime_seconds",
		Help: "Application uptime in seconds",
	}, func() float64 {
		return time.Since(m.started).Seconds()
	})

	return m
}

// RegisterCacheSize exposes a cache's entry count as a gauge labeled
// with the cache name.
func (m *Metrics) RegisterCacheSize(name string, size func() int) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "cache_entries",
		Help:        "Current cache entries",
		ConstLabels: prometheus.Labels{"type": name},
	}, func() float64 {
		return float64(size())
	})
}

// RegisterRateLimitClients exposes the limiter's tracked client count.
func (m *Metrics) RegisterRateLimitClients(count func() int) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "active_rate_limit_clients",
		Help: "Currently tracked rate limit clients",
	}, func() float64 {
		return float64(count())
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request count, latency, and in-flight gauge. Run it
// inside the router so the mux route template is available as the label,
// keeping cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := routeTemplate(r)
		m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

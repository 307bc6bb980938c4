package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the HTTP instruments. They are registered on the registry passed to NewMetrics
// so tests can use a private registry.
type Metrics struct {
	inFlight    prometheus.Gauge
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rateLimited prometheus.Counter
	authDenied  *prometheus.CounterVec
}

// NewMetrics creates and registers the HTTP metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "API requests rejected by the rate limiter.",
		}),
		authDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_guard_denied_total",
			Help: "Requests rejected by the routing guard.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.inFlight, m.requests, m.duration, m.rateLimited, m.authDenied)
	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Instrument records in-flight, count and latency per method, route and status.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := routeLabel(r.URL.Path)
		status := strconv.Itoa(sw.code)
		m.duration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.requests.WithLabelValues(r.Method, route, status).Inc()
	})
}

func (m *Metrics) incRateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) incDenied(reason string) {
	if m != nil {
		m.authDenied.WithLabelValues(reason).Inc()
	}
}

// routeLabel keeps label cardinality bounded: the first segment for pages, the first three for API paths.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	n := 1
	if parts[0] == "api" {
		n = 3
	}
	if len(parts) > n {
		parts = parts[:n]
	}
	return "/" + strings.Join(parts, "/")
}

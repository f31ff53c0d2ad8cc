// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets, sized for page fetches rather than API calls.
var defaultBuckets = []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	UpstreamErrors    prometheus.Counter

	Documents *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloak_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "route"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloak_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "route"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cloak_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloak_upstream_request_duration_seconds",
			Help:    "Upstream fetch latency in seconds, redirects and body included.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloak_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		UpstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cloak_upstream_errors_total",
			Help: "Upstream fetches that failed without a usable response.",
		}),

		Documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloak_documents_rewritten_total",
			Help: "Responses served, by whether the HTML rewriter ran.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.UpstreamErrors,
		m.Documents,
	)

	return m
}

// ObserveUpstream records one upstream fetch. It satisfies cloak.Observer.
func (m *Metrics) ObserveUpstream(method string, status int, elapsed time.Duration, err error) {
	method = NormalizeMethod(method)
	m.UpstreamDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	if err != nil && status == 0 {
		m.UpstreamErrors.Inc()
		return
	}
	m.UpstreamResponses.WithLabelValues(method, strconv.Itoa(status)).Inc()
	if err != nil {
		m.UpstreamErrors.Inc()
	}
}

// ObserveDocument counts a served response by kind.
func (m *Metrics) ObserveDocument(kind string) {
	m.Documents.WithLabelValues(kind).Inc()
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownRoutes lists the allowed route label values (bounded cardinality).
var knownRoutes = map[string]bool{
	"/proxy": true, "/raw": true, "/api": true, "/ruleset": true,
	"/test": true, "/healthz": true, "/status": true, "/metrics": true,
}

// NormalizeRoute returns a bounded route label for Prometheus metrics.
// Static files and unmatched paths are reported as "other".
func NormalizeRoute(route string) string {
	if knownRoutes[route] {
		return route
	}
	return "other"
}

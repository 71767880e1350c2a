// Package metrics provides Prometheus instrumentation for the socio backend.
// It exposes counters for match outcomes and chat throughput, gauges for
// relay connections, and histograms for HTTP and store latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PassionMatches counts match requests by outcome tier and corpus source.
	PassionMatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socio_passion_matches_total",
		Help: "Passion match requests by outcome and corpus",
	}, []string{"outcome", "corpus"}) // outcome = success, store_failure, scoring_failure

	// PassionSkippedProfiles counts corpus entries skipped for malformed tags.
	PassionSkippedProfiles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "socio_passion_skipped_profiles_total",
		Help: "Profiles skipped during scoring because their tags were malformed",
	})

	// AnalyticsWrites counts analytics persistence attempts by result.
	AnalyticsWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socio_passion_analytics_writes_total",
		Help: "Passion analytics writes by result",
	}, []string{"result"}) // result = ok, error

	// MessagesTotal counts chat messages, labeled by result.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socio_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"result"}) // result = sent, blocked, rejected

	// RelayConnections tracks the current number of websocket relay clients.
	RelayConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "socio_relay_connections",
		Help: "Current number of websocket relay connections",
	})

	// ContentRefreshes counts external content refresh runs by source and result.
	ContentRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socio_content_refreshes_total",
		Help: "External content refresh runs",
	}, []string{"source", "result"})

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "socio_circuit_breaker_state",
		Help: "Circuit breaker state per upstream",
	}, []string{"name"})

	// CircuitBreakerRequests counts calls through a breaker by result.
	CircuitBreakerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socio_circuit_breaker_requests_total",
		Help: "Calls made through a circuit breaker",
	}, []string{"name", "result"}) // result = success, failure, rejected

	// HTTPDuration records API latency by route pattern and status class.
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "socio_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"method", "route", "status"})

	// StoreDuration records document store call latency.
	StoreDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "socio_store_duration_seconds",
		Help:    "Document store call latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"driver", "op"})
)

func init() {
	prometheus.MustRegister(
		PassionMatches,
		PassionSkippedProfiles,
		AnalyticsWrites,
		MessagesTotal,
		RelayConnections,
		ContentRefreshes,
		CircuitBreakerState,
		CircuitBreakerRequests,
		HTTPDuration,
		StoreDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

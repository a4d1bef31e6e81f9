// Package telemetry holds the Prometheus collectors and tracing setup shared
// by the crawl engine and the HTTP API.
package telemetry

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Breaker states as exported on the state gauge.
var breakerStates = []string{"closed", "open", "half_open"}

var (
	crawlerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humancrawl_requests_total",
			Help: "Total number of crawl attempts, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	crawlerBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humancrawl_bytes_total",
			Help: "Total number of body bytes fetched, labeled by site.",
		},
		[]string{"site"},
	)

	crawlerFetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "humancrawl_fetch_duration_seconds",
			Help:    "Histogram of upstream fetch latencies, labeled by site.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"site"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "humancrawl_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	humanDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "humancrawl_human_delay_seconds",
			Help:    "Histogram of simulated human pauses, labeled by action.",
			Buckets: []float64{0.2, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"action"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "humancrawl_circuit_breaker_state",
			Help: "1 for the current circuit breaker state of a domain, 0 otherwise.",
		},
		[]string{"domain", "state"},
	)

	breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humancrawl_circuit_breaker_transitions_total",
			Help: "Total circuit breaker transitions, labeled by domain and target state.",
		},
		[]string{"domain", "state"},
	)

	detectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humancrawl_bot_protection_detections_total",
			Help: "Total responses classified as protected, labeled by system.",
		},
		[]string{"system"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// SanitizeSite extracts the lowercase hostname from a URL.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveCrawl records one completed crawl attempt.
func ObserveCrawl(site, outcome string, bytesFetched int, duration time.Duration) {
	sanitizedSite := SanitizeSite(site)
	crawlerRequestsTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
	if duration > 0 {
		crawlerFetchDurationSeconds.WithLabelValues(sanitizedSite).Observe(duration.Seconds())
	}
}

// ObserveHTTPRequest records metrics for an API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHumanDelay records a simulated pause before action.
func ObserveHumanDelay(action string, duration time.Duration) {
	humanDelaySeconds.WithLabelValues(action).Observe(duration.Seconds())
}

// SetBreakerState records a transition of domain into state.
func SetBreakerState(domain, state string) {
	SetBreakerGauge(domain, state)
	breakerTransitionsTotal.WithLabelValues(domain, state).Inc()
}

// SetBreakerGauge marks state as the current breaker state of domain
// without counting a transition.
func SetBreakerGauge(domain, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		breakerState.WithLabelValues(domain, s).Set(v)
	}
}

// ObserveDetection counts a response classified as protected by system.
func ObserveDetection(system string) {
	detectionsTotal.WithLabelValues(system).Inc()
}

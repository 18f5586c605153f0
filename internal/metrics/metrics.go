// Package metrics exposes Prometheus collectors for the sourcing service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	searchRequestsTotal        *prometheus.CounterVec
	searchCandidatesTotal      *prometheus.CounterVec
	downloadsTotal             *prometheus.CounterVec
	downloadBytesTotal         *prometheus.CounterVec
	publicationCallsTotal      *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeRuns                 prometheus.Gauge

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcer_search_requests_total",
				Help: "Search backend calls, labeled by backend and result.",
			},
			[]string{"backend", "result"},
		)

		searchCandidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcer_search_candidates_total",
				Help: "Usable candidates returned, labeled by backend.",
			},
			[]string{"backend"},
		)

		downloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcer_downloads_total",
				Help: "Image downloads, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		downloadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcer_download_bytes_total",
				Help: "Image bytes downloaded, labeled by site.",
			},
			[]string{"site"},
		)

		publicationCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcer_publication_calls_total",
				Help: "Content-management API calls, labeled by operation and result.",
			},
			[]string{"operation", "result"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sourcer_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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

		activeRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sourcer_active_runs",
				Help: "Number of catalog runs in progress.",
			},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Result labels.
const (
	ResultOK    = "ok"
	ResultEmpty = "empty"
	ResultError = "error"
)

// ObserveSearch records one backend call and its usable candidates.
func ObserveSearch(backend, result string, candidates int) {
	if searchRequestsTotal == nil {
		return
	}
	searchRequestsTotal.WithLabelValues(backend, result).Inc()
	if candidates > 0 {
		searchCandidatesTotal.WithLabelValues(backend).Add(float64(candidates))
	}
}

// ObserveDownload records an image download.
func ObserveDownload(rawURL, result string, bytesFetched int) {
	if downloadsTotal == nil {
		return
	}
	site := SanitizeSite(rawURL)
	downloadsTotal.WithLabelValues(site, result).Inc()
	if bytesFetched > 0 {
		downloadBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObservePublication records a content-management API call.
func ObservePublication(operation string, err error) {
	if publicationCallsTotal == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	publicationCallsTotal.WithLabelValues(operation, result).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	if rateLimitDelaysSeconds == nil {
		return
	}
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest records an API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RunStarted increments the active runs gauge.
func RunStarted() {
	if activeRuns != nil {
		activeRuns.Inc()
	}
}

// RunFinished decrements the active runs gauge.
func RunFinished() {
	if activeRuns != nil {
		activeRuns.Dec()
	}
}

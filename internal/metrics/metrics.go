// Package metrics exposes Prometheus collectors for the scanner service.
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
	scannerPagesTotal             *prometheus.CounterVec
	scannerChunksTotal            *prometheus.CounterVec
	scannerChunkDurationSeconds   *prometheus.HistogramVec
	scannerAuthWallsTotal         prometheus.Counter
	scannerScansTotal             *prometheus.CounterVec
	scannerStreamsActive          prometheus.Gauge
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	scannerRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scannerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_pages_total",
				Help: "Total number of pages fetched, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		scannerChunksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_chunks_total",
				Help: "Total number of chunk invocations, labeled by phase and outcome.",
			},
			[]string{"phase", "outcome"},
		)

		scannerChunkDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scanner_chunk_duration_seconds",
				Help:    "Histogram of chunk processing durations, labeled by phase.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40},
			},
			[]string{"phase"},
		)

		scannerAuthWallsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scanner_auth_walls_total",
				Help: "Total authentication walls encountered during crawls.",
			},
		)

		scannerScansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_scans_total",
				Help: "Total scans reaching a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		scannerStreamsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scanner_streams_active",
				Help: "Number of open progress streams.",
			},
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

		scannerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scanner_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
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

// ObserveFetch increments the page fetch counter for the given outcome.
func ObserveFetch(site string, outcome string) {
	scannerPagesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveChunk records one chunk invocation and its duration.
func ObserveChunk(phase string, outcome string, duration time.Duration) {
	scannerChunksTotal.WithLabelValues(phase, outcome).Inc()
	scannerChunkDurationSeconds.WithLabelValues(phase).Observe(duration.Seconds())
}

// ObserveAuthWall increments the auth wall counter.
func ObserveAuthWall() {
	scannerAuthWallsTotal.Inc()
}

// ObserveScanFinished increments the terminal-status scan counter.
func ObserveScanFinished(status string) {
	scannerScansTotal.WithLabelValues(status).Inc()
}

// IncActiveStreams increments the open progress stream gauge.
func IncActiveStreams() {
	scannerStreamsActive.Inc()
}

// DecActiveStreams decrements the open progress stream gauge.
func DecActiveStreams() {
	scannerStreamsActive.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a per-host rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	scannerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

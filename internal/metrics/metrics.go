// Package metrics exposes Prometheus collectors for fetchers, the record
// store and the collector pipeline.
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

// Fetch attempt outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchResultsTotal          *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	storeWritesTotal           *prometheus.CounterVec
	storeRowsTotal             *prometheus.CounterVec
	storeConnectAttemptsTotal  *prometheus.CounterVec
	collectorActiveWorkers     prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_fetch_attempts_total",
				Help: "Fetch and post attempts, labeled by mode, site and outcome.",
			},
			[]string{"mode", "site", "outcome"},
		)

		fetchResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_fetch_results_total",
				Help: "Fetch and post calls after retries, labeled by mode and status.",
			},
			[]string{"mode", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_fetch_bytes_total",
				Help: "Bytes of page content received, labeled by site.",
			},
			[]string{"site"},
		)

		storeWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_store_writes_total",
				Help: "Record store write operations, labeled by operation and status.",
			},
			[]string{"op", "status"},
		)

		storeRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_store_rows_total",
				Help: "Rows written by successful store operations, labeled by table.",
			},
			[]string{"table"},
		)

		storeConnectAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_store_connect_attempts_total",
				Help: "Database connection attempts, labeled by status.",
			},
			[]string{"status"},
		)

		collectorActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "collector_active_workers",
				Help: "Number of fetch workers currently processing a job.",
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

// ObserveFetchAttempt counts one attempt against rawURL.
func ObserveFetchAttempt(mode, rawURL, outcome string, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	fetchAttemptsTotal.WithLabelValues(mode, site, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveFetchResult counts a finished fetch or post.
func ObserveFetchResult(mode string, ok bool) {
	Init()
	fetchResultsTotal.WithLabelValues(mode, status(ok)).Inc()
}

// ObserveStoreWrite counts one store operation and, on success, its rows.
func ObserveStoreWrite(op, table string, rows int, err error) {
	Init()
	storeWritesTotal.WithLabelValues(op, status(err == nil)).Inc()
	if err == nil && rows > 0 {
		storeRowsTotal.WithLabelValues(table).Add(float64(rows))
	}
}

// ObserveConnectAttempt counts one database connection attempt.
func ObserveConnectAttempt(err error) {
	Init()
	storeConnectAttemptsTotal.WithLabelValues(status(err == nil)).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	collectorActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	collectorActiveWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

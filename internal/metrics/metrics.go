// Package metrics exposes Prometheus collectors for the icon service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	resolutionsTotal           *prometheus.CounterVec
	resolutionDurationSeconds  prometheus.Histogram
	cacheEventsTotal           *prometheus.CounterVec
	cacheEntries               prometheus.Gauge
	candidateFailuresTotal     *prometheus.CounterVec
	discoverySoftMissesTotal   *prometheus.CounterVec
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	internalErrorsTotal        prometheus.Counter
	recorderFailuresTotal      *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		resolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geticon_resolutions_total",
				Help: "Total number of resolutions run, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		resolutionDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "geticon_resolution_duration_seconds",
				Help:    "Histogram of end-to-end resolution latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		cacheEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geticon_cache_events_total",
				Help: "Resolution cache events, labeled by event (hit, miss, shared, stored, evicted).",
			},
			[]string{"event"},
		)

		cacheEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "geticon_cache_entries",
				Help: "Number of entries currently held by the resolution cache.",
			},
		)

		candidateFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geticon_candidate_failures_total",
				Help: "Candidates dropped during fallback, labeled by kind and reason.",
			},
			[]string{"kind", "reason"},
		)

		discoverySoftMissesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geticon_discovery_soft_misses_total",
				Help: "Discovery sources that produced nothing, labeled by source.",
			},
			[]string{"source"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geticon_fetches_total",
				Help: "Outbound fetches, labeled by request type and status class.",
			},
			[]string{"type", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geticon_fetch_bytes_total",
				Help: "Bytes fetched from upstream sites, labeled by request type.",
			},
			[]string{"type"},
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
				Name:    "geticon_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		internalErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "geticon_internal_errors_total",
				Help: "Unexpected internal failures surfaced to callers.",
			},
		)

		recorderFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geticon_recorder_failures_total",
				Help: "Failed writes to recording sinks, labeled by sink.",
			},
			[]string{"sink"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveResolution records a finished resolution.
func ObserveResolution(outcome string, duration time.Duration) {
	Init()
	resolutionsTotal.WithLabelValues(outcome).Inc()
	resolutionDurationSeconds.Observe(duration.Seconds())
}

// ObserveCacheEvent increments the cache event counter.
func ObserveCacheEvent(event string) {
	Init()
	cacheEventsTotal.WithLabelValues(event).Inc()
}

// SetCacheEntries sets the cache size gauge.
func SetCacheEntries(n int) {
	Init()
	cacheEntries.Set(float64(n))
}

// ObserveCandidateFailure records a candidate dropped by the fallback chain.
func ObserveCandidateFailure(kind, reason string) {
	Init()
	candidateFailuresTotal.WithLabelValues(kind, reason).Inc()
}

// ObserveSoftMiss records a discovery source that produced nothing.
func ObserveSoftMiss(source string) {
	Init()
	discoverySoftMissesTotal.WithLabelValues(source).Inc()
}

// ObserveFetch records an outbound fetch.
func ObserveFetch(requestType string, status int, bytesFetched int) {
	Init()
	fetchesTotal.WithLabelValues(requestType, statusClass(status)).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(requestType).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// IncInternalErrors counts an internal failure.
func IncInternalErrors() {
	Init()
	internalErrorsTotal.Inc()
}

// ObserveRecorderFailure counts a failed sink write.
func ObserveRecorderFailure(sink string) {
	Init()
	recorderFailuresTotal.WithLabelValues(sink).Inc()
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

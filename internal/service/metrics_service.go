package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP, cache,
// edit-lock and course-fetch activity.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheLookups    *prometheus.CounterVec
	lockClaims      *prometheus.CounterVec
	lockReleases    *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	fetchDuration   prometheus.Observer
	fetchFailures   prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	lockClaims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "center_lock_claims_total",
		Help: "Edit lock claims by outcome (acquired, resumed, refused)",
	}, []string{"outcome"})

	lockReleases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "center_lock_releases_total",
		Help: "Edit lock releases by reason (abandon, expired, commit, stale)",
	}, []string{"reason"})

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "edit_sessions_active",
		Help: "Countdown sessions currently running",
	})

	fetchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "course_fetch_duration_seconds",
		Help:    "Duration of external course fetches including retries",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
	})

	fetchFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "course_fetch_failures_total",
		Help: "External course fetches that failed after retries",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheLookups,
		lockClaims, lockReleases, activeSessions, fetchDuration, fetchFailures, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheLookups:    cacheLookups,
		lockClaims:      lockClaims,
		lockReleases:    lockReleases,
		activeSessions:  activeSessions,
		fetchDuration:   fetchDuration,
		fetchFailures:   fetchFailures,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry (used by tests).
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup and its latency.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordLockClaim counts a claim by outcome.
func (m *MetricsService) RecordLockClaim(outcome string) {
	if m == nil {
		return
	}
	m.lockClaims.WithLabelValues(outcome).Inc()
}

// RecordLockRelease counts a release by reason.
func (m *MetricsService) RecordLockRelease(reason string) {
	if m == nil {
		return
	}
	m.lockReleases.WithLabelValues(reason).Inc()
}

// SessionStarted and SessionEnded track running countdowns.
func (m *MetricsService) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *MetricsService) SessionEnded() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// ObserveCourseFetch records an external fetch and whether it failed.
func (m *MetricsService) ObserveCourseFetch(duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(duration.Seconds())
	if failed {
		m.fetchFailures.Inc()
	}
}

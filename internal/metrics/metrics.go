// Package metrics exposes Prometheus collectors for the analysis service.
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
	engineRunsTotal           *prometheus.CounterVec
	engineDurationSeconds     *prometheus.HistogramVec
	cacheOpsTotal             *prometheus.CounterVec
	jobsTotal                 *prometheus.CounterVec
	activeWorkers             prometheus.Gauge
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDurationSecond *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		engineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analysis_engine_runs_total",
				Help: "Total engine invocations, labeled by engine and outcome status.",
			},
			[]string{"engine", "status"},
		)

		engineDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "analysis_engine_duration_seconds",
				Help:    "Histogram of engine execution times, labeled by engine.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"engine"},
		)

		cacheOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analysis_cache_ops_total",
				Help: "Total cache operations, labeled by op (get/put) and result (hit/miss/stored/error).",
			},
			[]string{"op", "result"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analysis_jobs_total",
				Help: "Total analysis jobs reaching a terminal state, labeled by state.",
			},
			[]string{"state"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "analysis_active_workers",
				Help: "Number of workers currently executing a job.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEngineRun records one engine invocation.
func ObserveEngineRun(engine, status string, duration time.Duration) {
	engineRunsTotal.WithLabelValues(engine, status).Inc()
	engineDurationSeconds.WithLabelValues(engine).Observe(duration.Seconds())
}

// ObserveCacheGet records a cache read result.
func ObserveCacheGet(hit bool, failed bool) {
	switch {
	case failed:
		cacheOpsTotal.WithLabelValues("get", "error").Inc()
	case hit:
		cacheOpsTotal.WithLabelValues("get", "hit").Inc()
	default:
		cacheOpsTotal.WithLabelValues("get", "miss").Inc()
	}
}

// ObserveCachePut records a cache write result.
func ObserveCachePut(failed bool) {
	if failed {
		cacheOpsTotal.WithLabelValues("put", "error").Inc()
		return
	}
	cacheOpsTotal.WithLabelValues("put", "stored").Inc()
}

// ObserveJob increments the job counter for the given terminal state.
func ObserveJob(state string) {
	jobsTotal.WithLabelValues(state).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecond.WithLabelValues(method, route).Observe(duration.Seconds())
}

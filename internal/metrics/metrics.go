// Package metrics exposes Prometheus collectors for the ingest pipeline.
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
	unitsTotal                 *prometheus.CounterVec
	gateWaitSeconds            *prometheus.HistogramVec
	fetchDurationSeconds       *prometheus.HistogramVec
	commitDurationSeconds      *prometheus.HistogramVec
	inflightUnits              *prometheus.GaugeVec
	rowsWrittenTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		unitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "menuingest_units_total",
				Help: "Total number of pending units settled, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		gateWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "menuingest_gate_wait_seconds",
				Help:    "Histogram of rate gate admission waits.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "menuingest_fetch_duration_seconds",
				Help:    "Histogram of upstream fetch latencies, labeled by kind.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"kind"},
		)

		commitDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "menuingest_commit_duration_seconds",
				Help:    "Histogram of per-unit transaction durations, labeled by kind.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"kind"},
		)

		inflightUnits = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "menuingest_inflight_units",
				Help: "Number of units currently between session acquire and release.",
			},
			[]string{"kind"},
		)

		rowsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "menuingest_rows_submitted_total",
				Help: "Child rows submitted for conflict-skip insert, labeled by table.",
			},
			[]string{"table"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUnit counts a settled unit.
func ObserveUnit(kind, outcome string) {
	Init()
	unitsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveGateWait records how long a call waited for gate admission.
func ObserveGateWait(kind string, d time.Duration) {
	Init()
	gateWaitSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveFetch records an upstream call duration.
func ObserveFetch(kind string, d time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveCommit records a transaction duration.
func ObserveCommit(kind string, d time.Duration) {
	Init()
	commitDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveRows counts rows submitted to a table.
func ObserveRows(table string, n int) {
	if n <= 0 {
		return
	}
	Init()
	rowsWrittenTotal.WithLabelValues(table).Add(float64(n))
}

// IncInflight increments the in-flight gauge for a kind.
func IncInflight(kind string) {
	Init()
	inflightUnits.WithLabelValues(kind).Inc()
}

// DecInflight decrements the in-flight gauge for a kind.
func DecInflight(kind string) {
	Init()
	inflightUnits.WithLabelValues(kind).Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

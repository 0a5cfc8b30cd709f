// Package metrics provides Prometheus metrics for sync runs and Drive API
// traffic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes used as the "outcome" label.
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

var (
	// Run metrics
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notesync_runs_total",
			Help: "Total number of sync runs by outcome",
		},
		[]string{"outcome"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notesync_run_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
	)

	lastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notesync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful sync run",
		},
	)

	consecutiveRetries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notesync_consecutive_retries",
			Help: "Number of consecutive runs that ended in a retry",
		},
	)

	// File operation metrics
	fileOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notesync_file_operations_total",
			Help: "Total file operations performed by sync runs",
		},
		[]string{"op"},
	)

	// Drive API metrics
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notesync_api_requests_total",
			Help: "Total Drive API requests by method and status code",
		},
		[]string{"method", "code"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notesync_api_request_duration_seconds",
			Help:    "Drive API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	apiInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notesync_api_requests_in_flight",
			Help: "Drive API requests currently in flight",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRun records one finished sync run.
func RecordRun(outcome string, duration time.Duration, finished time.Time) {
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(duration.Seconds())

	if outcome == OutcomeSuccess {
		lastSuccess.Set(float64(finished.Unix()))
	}
}

// RecordFileOps adds n operations of kind op ("upload", "download", ...).
func RecordFileOps(op string, n int) {
	if n <= 0 {
		return
	}

	fileOpsTotal.WithLabelValues(op).Add(float64(n))
}

// SetConsecutiveRetries sets the current retry streak.
func SetConsecutiveRetries(n int) {
	consecutiveRetries.Set(float64(n))
}

// InstrumentTransport wraps rt so every Drive API request is counted and
// timed. A nil rt wraps http.DefaultTransport.
func InstrumentTransport(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}

	return promhttp.InstrumentRoundTripperInFlight(apiInFlight,
		promhttp.InstrumentRoundTripperCounter(apiRequestsTotal,
			promhttp.InstrumentRoundTripperDuration(apiRequestDuration, rt),
		),
	)
}

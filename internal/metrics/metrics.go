// Package metrics exposes Prometheus instrumentation for the sync pipeline
// and the operational HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync Metrics
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total number of sync job runs",
		},
		[]string{"job", "trigger", "status"}, // status: completed, failed, skipped, disabled
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of sync job runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"job"},
	)

	SyncLastSuccessTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of the last completed sync",
		},
		[]string{"job"},
	)

	SyncInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_in_progress",
			Help: "1 while a MySideline sync is running",
		},
	)

	// Reconciliation Metrics
	ReconcileEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_events_total",
			Help: "Incoming events by reconciliation outcome",
		},
		[]string{"action"}, // created, updated, skipped, failed
	)

	CarnivalsDeactivatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "carnivals_deactivated_total",
			Help: "Total number of past carnivals deactivated",
		},
	)

	// Logo Metrics
	LogoDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logo_downloads_total",
			Help: "Logo download results",
		},
		[]string{"result"}, // success, failure
	)

	LogoDownloadAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logo_download_attempts",
			Help:    "Attempts needed per logo download",
			Buckets: []float64{1, 2, 3, 5},
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Retention Metrics
	ContactRepliesDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contact_replies_deleted_total",
			Help: "Total number of contact replies removed by retention",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordSyncRun records the outcome of one sync job run.
func RecordSyncRun(job, trigger, status string, duration time.Duration) {
	SyncRunsTotal.WithLabelValues(job, trigger, status).Inc()
	if status == "completed" || status == "failed" {
		SyncDuration.WithLabelValues(job).Observe(duration.Seconds())
	}
	if status == "completed" {
		SyncLastSuccessTimestamp.WithLabelValues(job).Set(float64(time.Now().Unix()))
	}
}

// RecordReconcile counts one reconciliation outcome.
func RecordReconcile(action string) {
	ReconcileEventsTotal.WithLabelValues(action).Inc()
}

// RecordLogoDownload counts one logo download result.
func RecordLogoDownload(success bool, attempts int) {
	result := "failure"
	if success {
		result = "success"
	}
	LogoDownloadsTotal.WithLabelValues(result).Inc()
	if attempts > 0 {
		LogoDownloadAttempts.Observe(float64(attempts))
	}
}

// RecordAPIRequest records one HTTP request.
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Package metrics exposes the Prometheus counters and histograms the sync
// process emits, and a tiny HTTP server to scrape them from.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRunsTotal counts completed cascade runs by kind and terminal state.
	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logikal_sync_runs_total",
		Help: "Total cascade sync runs, by target kind and terminal state.",
	}, []string{"kind", "state"})

	// SyncAttemptDurationSeconds gets one zero-duration observation per
	// entity-level SyncAttempt the Cascade Orchestrator records, and one
	// observation of the whole run's wall-clock time (outcome done/failed) per
	// scoped run the scheduler executes.
	SyncAttemptDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "logikal_sync_attempt_duration_seconds",
		Help:    "Sync attempt durations by kind and outcome: zero for each recorded entity outcome, wall-clock time for each scheduled scoped run.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "outcome"})

	// StaleObjectsGauge reports the last health-sweep staleness count per kind.
	StaleObjectsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "logikal_sync_stale_objects",
		Help: "Count of objects whose local_synced_at exceeded the configured staleness threshold, as of the last health sweep.",
	}, []string{"kind"})

	// AlertsRaisedTotal counts every AlertEvent emitted by the scheduler,
	// regardless of whether a Notifier delivery succeeded.
	AlertsRaisedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logikal_sync_alerts_raised_total",
		Help: "Total alert events raised, by category and severity.",
	}, []string{"category", "severity"})

	// PartsParsedTotal counts Parts Parser Worker outcomes.
	PartsParsedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logikal_sync_parts_parsed_total",
		Help: "Total elevations processed by the parts parser worker, by outcome.",
	}, []string{"outcome"})

	// QueueDepthGauge reports the scheduler's job queue depth after each tick.
	QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logikal_sync_queue_depth",
		Help: "Number of jobs waiting in the scheduler's reliable queue.",
	})

	// HTTPRequestDurationSeconds measures downstream API latency.
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "logikal_sync_http_request_duration_seconds",
		Help:    "Downstream HTTP API request latency, by route, method and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)

// RecordSyncRun increments SyncRunsTotal for one finished cascade run.
func RecordSyncRun(kind, state string) {
	SyncRunsTotal.WithLabelValues(kind, state).Inc()
}

// RecordSyncAttempt observes one duration into SyncAttemptDurationSeconds.
func RecordSyncAttempt(kind, outcome string, d time.Duration) {
	SyncAttemptDurationSeconds.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

// RecordAlert increments AlertsRaisedTotal for one raised alert.
func RecordAlert(category, severity string) {
	AlertsRaisedTotal.WithLabelValues(category, severity).Inc()
}

// RecordPartsParsed increments PartsParsedTotal for one worker outcome.
func RecordPartsParsed(outcome string) {
	PartsParsedTotal.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest observes one downstream API request's latency.
func RecordHTTPRequest(route, method, status string, d time.Duration) {
	HTTPRequestDurationSeconds.WithLabelValues(route, method, status).Observe(d.Seconds())
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Consumer pipeline metrics
	messagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judged_messages_processed_total",
			Help: "Messages pulled from a queue, by final handler outcome",
		},
		[]string{"queue", "outcome"},
	)

	messageProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "judged_message_processing_seconds",
			Help:    "Handler duration per message, including retry sleeps",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"queue"},
	)

	// Retry metrics
	retryAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "judged_retry_attempts_total",
			Help: "In-process retry attempts across all messages",
		},
	)

	retriesExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "judged_retries_exhausted_total",
			Help: "Messages whose retry budget ran out",
		},
	)

	retryTrackerEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "judged_retry_tracker_entries",
			Help: "Live entries in the retry tracker, sampled by the cleaner",
		},
	)

	// Dead-letter metrics
	dlqEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judged_dlq_entries_total",
			Help: "Dead-letter rows written, by error code",
		},
		[]string{"error_code"},
	)

	stuckJobsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "judged_stuck_jobs_total",
			Help: "Pending submissions reaped by the stuck-job detector",
		},
	)

	// Publisher metrics
	publishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judged_publish_total",
			Help: "Publish attempts, by queue and outcome",
		},
		[]string{"queue", "outcome"},
	)

	// Blob store metrics
	blobOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judged_blob_store_operations_total",
			Help: "Blob store operations, by op and outcome",
		},
		[]string{"op", "outcome"},
	)
)

// RecordMessageProcessed records a message's final handler outcome
// (ok, redelivered, discarded).
func RecordMessageProcessed(queue, outcome string, duration time.Duration) {
	messagesProcessedTotal.WithLabelValues(queue, outcome).Inc()
	messageProcessingDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// RecordRetryAttempt records one in-process retry.
func RecordRetryAttempt() {
	retryAttemptsTotal.Inc()
}

// RecordRetriesExhausted records a message that ran out of retries.
func RecordRetriesExhausted() {
	retriesExhaustedTotal.Inc()
}

// SetRetryTrackerEntries samples the tracker size.
func SetRetryTrackerEntries(count int) {
	retryTrackerEntries.Set(float64(count))
}

// RecordDLQEntry records a dead-letter row write.
func RecordDLQEntry(errorCode string) {
	dlqEntriesTotal.WithLabelValues(errorCode).Inc()
}

// RecordStuckJob records one submission flagged by the detector.
func RecordStuckJob() {
	stuckJobsTotal.Inc()
}

// RecordPublish records a publish attempt (ok, failed, returned).
func RecordPublish(queue, outcome string) {
	publishTotal.WithLabelValues(queue, outcome).Inc()
}

// RecordBlobOperation records a blob store operation (put, get, delete).
func RecordBlobOperation(op, outcome string) {
	blobOperationsTotal.WithLabelValues(op, outcome).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

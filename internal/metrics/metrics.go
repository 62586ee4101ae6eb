// Package metrics provides Prometheus metrics for the MagicFolder driver.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Vanish state machine metrics
	filesObservedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "magicfolder_files_observed_total",
			Help: "Total number of root files observed (hidden pending classification)",
		},
	)

	filesClassifiedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magicfolder_files_classified_total",
			Help: "Total number of files classified, by category",
		},
		[]string{"category"},
	)

	filesRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "magicfolder_files_rejected_total",
			Help: "Total number of files the classifier rejected or omitted",
		},
	)

	// Worker metrics
	batchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magicfolder_classify_batches_total",
			Help: "Total classification batches sent",
		},
		[]string{"status"},
	)

	batchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "magicfolder_classify_batch_size",
			Help:    "Number of files per classification batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	classifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "magicfolder_classify_duration_seconds",
			Help:    "Round-trip time of classifier requests",
			Buckets: prometheus.DefBuckets,
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "magicfolder_pending_queue_depth",
			Help: "Filenames queued for classification",
		},
	)

	hiddenFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "magicfolder_hidden_files",
			Help: "Filenames currently suppressed from the root listing",
		},
	)

	categoryFiles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "magicfolder_category_files",
			Help: "Filenames bound to each category",
		},
		[]string{"category"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordObserved records a file entering the hidden set.
func RecordObserved() {
	filesObservedTotal.Inc()
}

// RecordClassified records a successful classification.
func RecordClassified(category string) {
	filesClassifiedTotal.WithLabelValues(category).Inc()
}

// RecordRejected records classifier rejections.
func RecordRejected(count int) {
	filesRejectedTotal.Add(float64(count))
}

// RecordBatch records a classification batch round trip.
func RecordBatch(size int, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	batchesTotal.WithLabelValues(status).Inc()
	batchSize.Observe(float64(size))
	classifyDuration.Observe(duration.Seconds())
}

// SetQueueDepth sets the pending queue depth.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// SetHiddenFiles sets the hidden set size.
func SetHiddenFiles(n int) {
	hiddenFiles.Set(float64(n))
}

// SetCategoryFiles sets the size of one category's sequence.
func SetCategoryFiles(category string, n int) {
	categoryFiles.WithLabelValues(category).Set(float64(n))
}

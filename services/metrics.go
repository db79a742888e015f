package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/waops/wadispatch/storage"
)

// Metrics holds every instrument the dispatch pipeline and media manager
// report into.
type Metrics struct {
	JobsTotal  *prometheus.CounterVec
	JobsFailed *prometheus.CounterVec

	DispatchDuration prometheus.Histogram
	ActiveJobs       prometheus.Gauge
	RetriesTotal     prometheus.Counter
	DLQPublished     prometheus.Counter

	StorageFailovers *prometheus.CounterVec
	MediaOpDuration  *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		JobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wadispatch_jobs_total",
				Help: "Total number of jobs processed",
			},
			[]string{"status"}, // sent, failed, dropped
		),

		JobsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wadispatch_jobs_failed_total",
				Help: "Total number of failed jobs by error type",
			},
			[]string{"error_type"}, // validation, not_found, upstream, parse, system
		),

		DispatchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wadispatch_dispatch_duration_seconds",
				Help:    "Time taken to dispatch a job, including retries",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
			},
		),

		ActiveJobs: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "wadispatch_active_jobs",
				Help: "Number of jobs currently being dispatched",
			},
		),

		RetriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wadispatch_retries_total",
				Help: "Total number of dispatch retries after transient errors",
			},
		),

		DLQPublished: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wadispatch_dlq_published_total",
				Help: "Total number of jobs published to the dead-letter queue",
			},
		),

		StorageFailovers: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wadispatch_storage_failovers_total",
				Help: "Storage operations retried against the fallback provider",
			},
			[]string{"operation"}, // upload, get, delete, url
		),

		MediaOpDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wadispatch_media_op_duration_seconds",
				Help:    "Time taken for storage backend operations",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"operation", "provider"},
		),
	}
}

// ManagerMetrics adapts the instruments the media manager consumes.
func (m *Metrics) ManagerMetrics() storage.ManagerMetrics {
	return storage.ManagerMetrics{
		Failovers:  m.StorageFailovers,
		OpDuration: m.MediaOpDuration,
	}
}

package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stagefs/stagefs/pkg/metrics"
	"github.com/stagefs/stagefs/pkg/staging/jobs"
)

// jobMetrics is the Prometheus implementation of jobs.JobMetrics.
type jobMetrics struct {
	submitted  *prometheus.CounterVec
	processed  *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
	queueDepth *prometheus.GaugeVec
}

// NewJobMetrics creates a new Prometheus-backed job metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewJobMetrics() jobs.JobMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &jobMetrics{
		submitted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagefs_jobs_submitted_total",
				Help: "Jobs enqueued by kind",
			},
			[]string{"kind"},
		),
		processed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagefs_jobs_processed_total",
				Help: "Terminally settled jobs by kind and outcome",
			},
			[]string{"kind", "outcome"}, // outcome: "succeeded", "failed"
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "stagefs_jobs_duration_milliseconds",
				Help: "Handler duration of terminally settled jobs",
				Buckets: []float64{
					10,      // trivial jobs
					100,     // small finalizes
					1000,    // 1s
					10000,   // 10s
					60000,   // 1m - large finalizes
					300000,  // 5m
					1800000, // 30m - big archives
					3600000, // 1h
				},
			},
			[]string{"kind"},
		),
		retries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagefs_jobs_retries_total",
				Help: "Failed attempts returned to their queue",
			},
			[]string{"kind"},
		),
		queueDepth: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stagefs_jobs_queue_depth",
				Help: "Ready jobs per queue, sampled on the recovery tick",
			},
			[]string{"queue"},
		),
	}
}

// RecordSubmitted records an enqueued job.
func (m *jobMetrics) RecordSubmitted(kind string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(kind).Inc()
}

// ObserveJob records a terminally settled job with its handler duration.
func (m *jobMetrics) ObserveJob(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(kind, outcome).Inc()
	m.duration.WithLabelValues(kind).Observe(duration.Seconds() * 1000)
}

// RecordRetry records a requeued attempt.
func (m *jobMetrics) RecordRetry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}

// SetQueueDepth records the current ready depth of a queue.
func (m *jobMetrics) SetQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func init() {
	metrics.RegisterJobMetricsConstructor(NewJobMetrics)
}

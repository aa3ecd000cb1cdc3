package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stagefs/stagefs/pkg/metrics"
	"github.com/stagefs/stagefs/pkg/staging/upload"
)

// uploadMetrics is the Prometheus implementation of upload.UploadMetrics.
type uploadMetrics struct {
	admitted      *prometheus.CounterVec
	receivedBytes prometheus.Counter
	settled       *prometheus.CounterVec
}

// NewUploadMetrics creates a new Prometheus-backed upload metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewUploadMetrics() upload.UploadMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &uploadMetrics{
		admitted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagefs_upload_sessions_admitted_total",
				Help: "Opened upload sessions by kind",
			},
			[]string{"kind"}, // "file", "archive"
		),
		receivedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "stagefs_upload_received_bytes_total",
				Help: "Payload bytes accepted into upload workspaces",
			},
		),
		settled: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagefs_upload_sessions_settled_total",
				Help: "Closed upload sessions by kind and outcome",
			},
			[]string{"kind", "outcome"}, // outcome: "completed", "abandoned"
		),
	}
}

// RecordAdmitted records an opened session.
func (m *uploadMetrics) RecordAdmitted(kind string) {
	if m == nil {
		return
	}
	m.admitted.WithLabelValues(kind).Inc()
}

// RecordBytes records accepted payload bytes.
func (m *uploadMetrics) RecordBytes(n int64) {
	if m == nil || n < 0 {
		return
	}
	m.receivedBytes.Add(float64(n))
}

// RecordSettled records a closed session.
func (m *uploadMetrics) RecordSettled(kind, outcome string) {
	if m == nil {
		return
	}
	m.settled.WithLabelValues(kind, outcome).Inc()
}

func init() {
	metrics.RegisterUploadMetricsConstructor(NewUploadMetrics)
}

package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stagefs/stagefs/pkg/metrics"
	"github.com/stagefs/stagefs/pkg/staging/sweep"
)

// sweepMetrics is the Prometheus implementation of sweep.SweepMetrics.
type sweepMetrics struct {
	reclaimed   *prometheus.CounterVec
	purgedBytes prometheus.Counter
	passes      prometheus.Counter
}

// NewSweepMetrics creates a new Prometheus-backed sweep metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewSweepMetrics() sweep.SweepMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &sweepMetrics{
		reclaimed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagefs_sweep_reclaimed_total",
				Help: "Artifacts reclaimed by retention passes, by artifact type",
			},
			[]string{"artifact"},
		),
		purgedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "stagefs_sweep_purged_bytes_total",
				Help: "Committed bytes removed by file purges",
			},
		),
		passes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "stagefs_sweep_passes_total",
				Help: "Completed sweep passes",
			},
		),
	}
}

// RecordPass records the artifact counts one pass reclaimed.
func (m *sweepMetrics) RecordPass(report *sweep.Report) {
	if m == nil || report == nil {
		return
	}
	m.passes.Inc()
	m.reclaimed.WithLabelValues("file").Add(float64(report.FilesPurged))
	m.reclaimed.WithLabelValues("session").Add(float64(report.SessionsExpired))
	m.reclaimed.WithLabelValues("task").Add(float64(report.TasksPruned))
	m.reclaimed.WithLabelValues("reservation").Add(float64(report.ReservationsReclaimed))
	m.reclaimed.WithLabelValues("workspace").Add(float64(report.WorkspacesRemoved))
	m.reclaimed.WithLabelValues("trash").Add(float64(report.TrashPurged))
	m.reclaimed.WithLabelValues("lease").Add(float64(report.LeasesSwept))
	m.purgedBytes.Add(float64(report.BytesPurged))
}

func init() {
	metrics.RegisterSweepMetricsConstructor(NewSweepMetrics)
}

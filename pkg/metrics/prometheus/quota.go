package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stagefs/stagefs/pkg/metrics"
	"github.com/stagefs/stagefs/pkg/staging/quota"
)

// quotaMetrics is the Prometheus implementation of quota.QuotaMetrics.
type quotaMetrics struct {
	reservedBytes  prometheus.Counter
	committedBytes prometheus.Counter
	releasedBytes  prometheus.Counter
	rejections     prometheus.Counter
}

// NewQuotaMetrics creates a new Prometheus-backed quota metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewQuotaMetrics() quota.QuotaMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &quotaMetrics{
		reservedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "stagefs_quota_reserved_bytes_total",
				Help: "Bytes placed on hold by admitted operations",
			},
		),
		committedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "stagefs_quota_committed_bytes_total",
				Help: "Bytes settled into committed usage",
			},
		),
		releasedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "stagefs_quota_released_bytes_total",
				Help: "Bytes returned to project budgets, from cancelled holds and deleted files",
			},
		),
		rejections: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "stagefs_quota_rejections_total",
				Help: "Admissions refused for lack of budget",
			},
		),
	}
}

// RecordReserve records an opened hold.
func (m *quotaMetrics) RecordReserve(bytes int64) {
	if m == nil || bytes < 0 {
		return
	}
	m.reservedBytes.Add(float64(bytes))
}

// RecordRejection records a refused admission.
func (m *quotaMetrics) RecordRejection() {
	if m == nil {
		return
	}
	m.rejections.Inc()
}

// RecordCommit records a settled hold.
func (m *quotaMetrics) RecordCommit(bytes int64) {
	if m == nil || bytes < 0 {
		return
	}
	m.committedBytes.Add(float64(bytes))
}

// RecordRelease records bytes returned to a budget.
func (m *quotaMetrics) RecordRelease(bytes int64) {
	if m == nil || bytes < 0 {
		return
	}
	m.releasedBytes.Add(float64(bytes))
}

func init() {
	metrics.RegisterQuotaMetricsConstructor(NewQuotaMetrics)
}

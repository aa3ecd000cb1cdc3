package metrics

import (
	"github.com/stagefs/stagefs/pkg/staging/quota"
)

// NewQuotaMetrics creates a Prometheus-backed quota.QuotaMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewQuotaMetrics() quota.QuotaMetrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusQuotaMetrics()
}

var newPrometheusQuotaMetrics func() quota.QuotaMetrics

// RegisterQuotaMetricsConstructor registers the Prometheus quota metrics
// constructor. Called by pkg/metrics/prometheus during package
// initialization.
func RegisterQuotaMetricsConstructor(constructor func() quota.QuotaMetrics) {
	newPrometheusQuotaMetrics = constructor
}

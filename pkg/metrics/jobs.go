package metrics

import (
	"github.com/stagefs/stagefs/pkg/staging/jobs"
)

// NewJobMetrics creates a Prometheus-backed jobs.JobMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewJobMetrics() jobs.JobMetrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusJobMetrics()
}

var newPrometheusJobMetrics func() jobs.JobMetrics

// RegisterJobMetricsConstructor registers the Prometheus job metrics
// constructor. Called by pkg/metrics/prometheus during package
// initialization.
func RegisterJobMetricsConstructor(constructor func() jobs.JobMetrics) {
	newPrometheusJobMetrics = constructor
}

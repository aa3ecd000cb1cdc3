package metrics

import (
	"github.com/stagefs/stagefs/pkg/staging/upload"
)

// NewUploadMetrics creates a Prometheus-backed upload.UploadMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewUploadMetrics() upload.UploadMetrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusUploadMetrics()
}

var newPrometheusUploadMetrics func() upload.UploadMetrics

// RegisterUploadMetricsConstructor registers the Prometheus upload metrics
// constructor. Called by pkg/metrics/prometheus during package
// initialization.
func RegisterUploadMetricsConstructor(constructor func() upload.UploadMetrics) {
	newPrometheusUploadMetrics = constructor
}

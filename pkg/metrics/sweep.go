package metrics

import (
	"github.com/stagefs/stagefs/pkg/staging/sweep"
)

// NewSweepMetrics creates a Prometheus-backed sweep.SweepMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewSweepMetrics() sweep.SweepMetrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusSweepMetrics()
}

var newPrometheusSweepMetrics func() sweep.SweepMetrics

// RegisterSweepMetricsConstructor registers the Prometheus sweep metrics
// constructor. Called by pkg/metrics/prometheus during package
// initialization.
func RegisterSweepMetricsConstructor(constructor func() sweep.SweepMetrics) {
	newPrometheusSweepMetrics = constructor
}

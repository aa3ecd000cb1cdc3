package metrics

import (
	"github.com/stagefs/stagefs/pkg/staging/lock"
)

// NewLockMetrics creates a Prometheus-backed lock.LockMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called). When
// nil is returned, callers pass nil to lock.NewManager, which results in
// zero overhead.
//
// Example usage:
//
//	metrics.InitRegistry()
//	locks := lock.NewManager(leases, cfg, metrics.NewLockMetrics())
func NewLockMetrics() lock.LockMetrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusLockMetrics()
}

// newPrometheusLockMetrics is implemented in pkg/metrics/prometheus. The
// indirection keeps this package free of the client library while the
// implementation imports both sides.
var newPrometheusLockMetrics func() lock.LockMetrics

// RegisterLockMetricsConstructor registers the Prometheus lock metrics
// constructor. Called by pkg/metrics/prometheus during package
// initialization.
func RegisterLockMetricsConstructor(constructor func() lock.LockMetrics) {
	newPrometheusLockMetrics = constructor
}

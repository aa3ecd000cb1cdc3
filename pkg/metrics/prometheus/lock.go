package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stagefs/stagefs/pkg/metrics"
	"github.com/stagefs/stagefs/pkg/staging/lock"
)

// lockMetrics is the Prometheus implementation of lock.LockMetrics.
type lockMetrics struct {
	acquireWait prometheus.Histogram
	timeouts    prometheus.Counter
	lost        prometheus.Counter
}

// NewLockMetrics creates a new Prometheus-backed lock metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewLockMetrics() lock.LockMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &lockMetrics{
		acquireWait: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "stagefs_lock_acquire_wait_milliseconds",
				Help: "Time spent waiting for a lease before it was granted",
				Buckets: []float64{
					1,     // uncontended
					10,    // one poll
					100,   // brief contention
					500,   // a few polls
					1000,  // 1s
					5000,  // 5s
					10000, // 10s
					30000, // 30s - near the acquire window
				},
			},
		),
		timeouts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "stagefs_lock_acquire_timeouts_total",
				Help: "Acquisitions that waited out the acquire window against a busy resource",
			},
		),
		lost: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "stagefs_lock_leases_lost_total",
				Help: "Leases that expired under their holder and could not be renewed",
			},
		),
	}
}

// ObserveAcquire records a granted lease and the wait before the grant.
func (m *lockMetrics) ObserveAcquire(wait time.Duration) {
	if m == nil {
		return
	}
	m.acquireWait.Observe(wait.Seconds() * 1000)
}

// RecordTimeout records an acquisition that gave up.
func (m *lockMetrics) RecordTimeout() {
	if m == nil {
		return
	}
	m.timeouts.Inc()
}

// RecordLost records a lease lost under its holder.
func (m *lockMetrics) RecordLost() {
	if m == nil {
		return
	}
	m.lost.Inc()
}

func init() {
	metrics.RegisterLockMetricsConstructor(NewLockMetrics)
}

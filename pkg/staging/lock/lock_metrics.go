package lock

import "time"

// LockMetrics provides observability for lease traffic.
//
// Implementations collect acquisition latency and failure counts. The
// interface is optional: a nil value disables collection entirely.
type LockMetrics interface {
	// ObserveAcquire records a successful acquisition and how long the
	// caller waited for it.
	ObserveAcquire(wait time.Duration)

	// RecordTimeout records an acquisition that gave up after waiting out
	// the acquire window against a busy resource.
	RecordTimeout()

	// RecordLost records a lease that expired under its holder and could
	// not be renewed.
	RecordLost()
}

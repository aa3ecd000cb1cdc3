package jobs

import "time"

// JobMetrics provides observability for the dispatcher.
//
// The interface is optional: a nil value disables collection entirely.
type JobMetrics interface {
	// RecordSubmitted records an enqueued job by kind.
	RecordSubmitted(kind string)

	// ObserveJob records a terminally settled job, "succeeded" or
	// "failed", with its handler duration.
	ObserveJob(kind, outcome string, duration time.Duration)

	// RecordRetry records an attempt that failed and was requeued.
	RecordRetry(kind string)

	// SetQueueDepth records the current ready depth of a queue.
	SetQueueDepth(queue string, depth int)
}

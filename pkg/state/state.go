// Package state defines the backing store for lock leases and background-job
// queues. The staging core talks to these interfaces only; implementations
// live in the badger (embedded, single node) and postgres (shared, multi
// node) subpackages.
//
// Both stores promise the same discipline: mutations are atomic
// compare-and-update transactions. A caller that loses a race gets
// ErrTxnConflict and retries; nothing is ever half-applied.
package state

import (
	"context"
	"errors"
	"time"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrLeaseHeld is returned by TryAcquire when a live conflicting lease
	// exists.
	ErrLeaseHeld = errors.New("conflicting lease is held")

	// ErrLeaseNotFound is returned when the named lease does not exist.
	ErrLeaseNotFound = errors.New("lease not found")

	// ErrNotHolder is returned when a renew or release names a holder token
	// that does not own the lease.
	ErrNotHolder = errors.New("lease held by another holder")

	// ErrJobNotFound is returned when the named job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrNotClaimed is returned when an ack or nack names a worker that does
	// not hold the job's claim.
	ErrNotClaimed = errors.New("job claimed by another worker")

	// ErrTxnConflict is returned when an optimistic transaction lost a race
	// and should be retried by the caller.
	ErrTxnConflict = errors.New("transaction conflict")
)

// ============================================================================
// Lock Leases
// ============================================================================

// Lease is a persisted lock lease: (project, path) owned by a holder token
// until expiry. Path is prefix-scoped; the empty path covers the whole
// project.
type Lease struct {
	// ID uniquely identifies the lease.
	ID string `json:"id"`

	// Project scopes the lease.
	Project string `json:"project"`

	// Path is the normalized project-relative resource path ("" = root).
	Path string `json:"path"`

	// Holder is the opaque token of the owning operation. Only the holder
	// may renew or release; anyone may reclaim after expiry.
	Holder string `json:"holder"`

	// AcquiredAt is the issuance time.
	AcquiredAt time.Time `json:"acquired_at"`

	// ExpiresAt is the lease deadline. A lease with ExpiresAt in the past
	// is dead: it blocks nobody and may be deleted by any transaction that
	// notices it.
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lease is dead at now.
func (l *Lease) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// LeaseStore persists lock leases.
type LeaseStore interface {
	// TryAcquire atomically inserts the lease if no live lease with a
	// prefix-conflicting path exists in the same project. Expired
	// conflicting leases are removed in the same transaction. Returns
	// ErrLeaseHeld when a live conflict blocks the acquisition.
	TryAcquire(ctx context.Context, lease Lease) error

	// Renew extends the lease's expiry, provided it still exists and is
	// owned by holder. Returns ErrLeaseNotFound or ErrNotHolder otherwise;
	// the caller must treat either as a lost lease.
	Renew(ctx context.Context, leaseID, holder string, expiresAt time.Time) error

	// Release deletes the lease, provided it is owned by holder. Releasing
	// a missing lease returns ErrLeaseNotFound.
	Release(ctx context.Context, leaseID, holder string) error

	// Get returns the lease by ID.
	Get(ctx context.Context, leaseID string) (*Lease, error)

	// ListProject returns all leases recorded for a project, live and
	// expired alike.
	ListProject(ctx context.Context, project string) ([]Lease, error)

	// DeleteExpired removes every lease dead at now and reports how many
	// were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// ============================================================================
// Job Queue
// ============================================================================

// Job is a queued unit of background work. Payload is an opaque encoded job
// description; the queue never inspects it.
type Job struct {
	// ID uniquely identifies the job across all queues.
	ID string `json:"id"`

	// Queue names the delivery channel. One queue per job kind class keeps
	// worker pools independently sizable.
	Queue string `json:"queue"`

	// Kind is the job kind carried to the handler registry.
	Kind string `json:"kind"`

	// Payload is the encoded job description.
	Payload []byte `json:"payload"`

	// EnqueuedAt orders ready jobs, oldest first.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Attempts counts deliveries, including the current one. At-least-once:
	// a job abandoned by a crashed worker comes back with Attempts+1.
	Attempts int `json:"attempts"`

	// ClaimedBy is the worker holding the job, empty while ready.
	ClaimedBy string `json:"claimed_by,omitempty"`

	// ClaimDeadline is when the claim lapses and the job becomes
	// recoverable. Zero while ready.
	ClaimDeadline time.Time `json:"claim_deadline,omitempty"`
}

// Ready reports whether the job is claimable at now: never claimed, or its
// claim deadline has passed.
func (j *Job) Ready(now time.Time) bool {
	return j.ClaimedBy == "" || !j.ClaimDeadline.After(now)
}

// Queue is an at-least-once delivery channel for background jobs.
type Queue interface {
	// Enqueue adds the job to its queue.
	Enqueue(ctx context.Context, job Job) error

	// Dequeue atomically claims the oldest ready job from any of the named
	// queues for workerID, holding the claim for claimTTL. Returns
	// (nil, nil) when no job is ready.
	Dequeue(ctx context.Context, queues []string, workerID string, claimTTL time.Duration) (*Job, error)

	// Ack removes a completed job. The claim must still be held by
	// workerID, otherwise ErrNotClaimed: the job was already recovered and
	// handed to someone else, and this worker's outcome must be discarded.
	Ack(ctx context.Context, jobID, workerID string) error

	// Nack returns a failed job to its queue (requeue=true) or drops it
	// (requeue=false). Same claim discipline as Ack.
	Nack(ctx context.Context, jobID, workerID string, requeue bool) error

	// ExtendClaim pushes the claim deadline for a long-running job.
	ExtendClaim(ctx context.Context, jobID, workerID string, deadline time.Time) error

	// RequeueAbandoned makes every job whose claim deadline passed claimable
	// again and reports how many were recovered.
	RequeueAbandoned(ctx context.Context, now time.Time) (int, error)

	// Depth reports how many jobs sit in the queue, claimed ones included.
	Depth(ctx context.Context, queue string) (int, error)
}

// ============================================================================
// Combined Store
// ============================================================================

// Store is the full state backing store handed to the staging core.
type Store interface {
	LeaseStore
	Queue

	// Close releases the underlying resources.
	Close() error
}

// RetryConflicts runs fn up to attempts times, retrying while it returns
// ErrTxnConflict. Every store mutation in the staging core goes through a
// loop like this one.
func RetryConflicts(attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if !errors.Is(err, ErrTxnConflict) {
			return err
		}
	}
	return err
}

package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stagefs/stagefs/pkg/state"
)

// ============================================================================
// Job Queue
// ============================================================================

// Enqueue adds the job to its queue.
func (s *Store) Enqueue(ctx context.Context, job state.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (id, queue, kind, payload, enqueued_at, attempts, claimed_by, claim_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, '', to_timestamp(0))
	`
	_, err := s.pool.Exec(ctx, query,
		job.ID,
		job.Queue,
		job.Kind,
		job.Payload,
		job.EnqueuedAt,
		job.Attempts,
	)
	return err
}

// Dequeue claims the oldest ready job from any of the named queues. FOR
// UPDATE SKIP LOCKED lets concurrent workers pick distinct rows without
// blocking each other.
func (s *Store) Dequeue(ctx context.Context, queues []string, workerID string, claimTTL time.Duration) (*state.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	query := `
		UPDATE jobs
		SET claimed_by = $1, claim_deadline = $2, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = ANY($3)
			  AND (claimed_by = '' OR claim_deadline <= $4)
			ORDER BY enqueued_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue, kind, payload, enqueued_at, attempts, claimed_by, claim_deadline
	`

	var job state.Job
	err := s.pool.QueryRow(ctx, query, workerID, now.Add(claimTTL), queues, now).Scan(
		&job.ID,
		&job.Queue,
		&job.Kind,
		&job.Payload,
		&job.EnqueuedAt,
		&job.Attempts,
		&job.ClaimedBy,
		&job.ClaimDeadline,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapTxnError(err)
	}
	return &job, nil
}

// Ack removes a completed job.
func (s *Store) Ack(ctx context.Context, jobID, workerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	result, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1 AND claimed_by = $2`, jobID, workerID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return s.classifyJobMiss(ctx, jobID)
	}
	return nil
}

// Nack returns a failed job to its queue or drops it.
func (s *Store) Nack(ctx context.Context, jobID, workerID string, requeue bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var query string
	if requeue {
		query = `
			UPDATE jobs
			SET claimed_by = '', claim_deadline = to_timestamp(0)
			WHERE id = $1 AND claimed_by = $2
		`
	} else {
		query = `DELETE FROM jobs WHERE id = $1 AND claimed_by = $2`
	}

	result, err := s.pool.Exec(ctx, query, jobID, workerID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return s.classifyJobMiss(ctx, jobID)
	}
	return nil
}

// ExtendClaim pushes the claim deadline for a long-running job.
func (s *Store) ExtendClaim(ctx context.Context, jobID, workerID string, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	query := `
		UPDATE jobs
		SET claim_deadline = $3
		WHERE id = $1 AND claimed_by = $2
	`
	result, err := s.pool.Exec(ctx, query, jobID, workerID, deadline)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return s.classifyJobMiss(ctx, jobID)
	}
	return nil
}

// classifyJobMiss distinguishes a missing job from one claimed by someone
// else after a conditional update matched no rows.
func (s *Store) classifyJobMiss(ctx context.Context, jobID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return state.ErrNotClaimed
	}
	return state.ErrJobNotFound
}

// RequeueAbandoned makes every job whose claim deadline passed claimable
// again.
func (s *Store) RequeueAbandoned(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	query := `
		UPDATE jobs
		SET claimed_by = '', claim_deadline = to_timestamp(0)
		WHERE claimed_by <> '' AND claim_deadline <= $1
	`
	result, err := s.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return int(result.RowsAffected()), nil
}

// Depth reports how many jobs sit in the queue, claimed ones included.
func (s *Store) Depth(ctx context.Context, queue string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE queue = $1`, queue).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

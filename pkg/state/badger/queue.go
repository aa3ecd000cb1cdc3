package badger

import (
	"context"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/stagefs/stagefs/pkg/state"
)

// ============================================================================
// Job Queue
// ============================================================================

// Enqueue adds the job to its queue. The ordering index key embeds the
// enqueue time so dequeues walk the queue oldest first.
func (s *Store) Enqueue(ctx context.Context, job state.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		data, err := encodeJob(&job)
		if err != nil {
			return err
		}
		if err := txn.Set(keyJob(job.ID), data); err != nil {
			return err
		}
		return txn.Set(keyQueueIndex(job.Queue, job.EnqueuedAt, job.ID), []byte(job.ID))
	})
	return mapTxnError(err)
}

// Dequeue claims the oldest ready job from any of the named queues. The
// claim is recorded on the job record, so a crash between claim and ack
// leaves the job recoverable once the claim deadline lapses.
func (s *Store) Dequeue(ctx context.Context, queues []string, workerID string, claimTTL time.Duration) (*state.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	var claimed *state.Job

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		claimed = nil

		// Oldest ready job across all named queues.
		var oldest *state.Job
		for _, queue := range queues {
			job, err := s.firstReadyTx(txn, queue, now)
			if err != nil {
				return err
			}
			if job == nil {
				continue
			}
			if oldest == nil || job.EnqueuedAt.Before(oldest.EnqueuedAt) {
				oldest = job
			}
		}
		if oldest == nil {
			return nil
		}

		oldest.ClaimedBy = workerID
		oldest.ClaimDeadline = now.Add(claimTTL)
		oldest.Attempts++

		data, err := encodeJob(oldest)
		if err != nil {
			return err
		}
		if err := txn.Set(keyJob(oldest.ID), data); err != nil {
			return err
		}

		claimed = oldest
		return nil
	})
	if err != nil {
		return nil, mapTxnError(err)
	}
	return claimed, nil
}

// firstReadyTx walks the queue's ordering index and returns the oldest job
// that is claimable at now, or nil when none is.
func (s *Store) firstReadyTx(txn *badgerdb.Txn, queue string, now time.Time) (*state.Job, error) {
	prefix := keyQueuePrefix(queue)
	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var jobID string
		err := it.Item().Value(func(val []byte) error {
			jobID = string(val)
			return nil
		})
		if err != nil {
			return nil, err
		}

		job, err := s.getJobTx(txn, jobID)
		if err == state.ErrJobNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if job.Ready(now) {
			return job, nil
		}
	}
	return nil, nil
}

// getJobTx retrieves a job record within an existing transaction.
func (s *Store) getJobTx(txn *badgerdb.Txn, jobID string) (*state.Job, error) {
	item, err := txn.Get(keyJob(jobID))
	if err == badgerdb.ErrKeyNotFound {
		return nil, state.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	var job *state.Job
	err = item.Value(func(val []byte) error {
		j, decErr := decodeJob(val)
		if decErr != nil {
			return decErr
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// claimedJobTx loads the job and verifies the worker still holds its claim.
func (s *Store) claimedJobTx(txn *badgerdb.Txn, jobID, workerID string) (*state.Job, error) {
	job, err := s.getJobTx(txn, jobID)
	if err != nil {
		return nil, err
	}
	if job.ClaimedBy != workerID {
		return nil, state.ErrNotClaimed
	}
	return job, nil
}

// deleteJobTx removes a job record and its ordering index within an
// existing transaction.
func (s *Store) deleteJobTx(txn *badgerdb.Txn, job *state.Job) error {
	if err := txn.Delete(keyJob(job.ID)); err != nil && err != badgerdb.ErrKeyNotFound {
		return err
	}
	key := keyQueueIndex(job.Queue, job.EnqueuedAt, job.ID)
	if err := txn.Delete(key); err != nil && err != badgerdb.ErrKeyNotFound {
		return err
	}
	return nil
}

// Ack removes a completed job.
func (s *Store) Ack(ctx context.Context, jobID, workerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		job, err := s.claimedJobTx(txn, jobID, workerID)
		if err != nil {
			return err
		}
		return s.deleteJobTx(txn, job)
	})
	return mapTxnError(err)
}

// Nack returns a failed job to its queue or drops it.
func (s *Store) Nack(ctx context.Context, jobID, workerID string, requeue bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		job, err := s.claimedJobTx(txn, jobID, workerID)
		if err != nil {
			return err
		}
		if !requeue {
			return s.deleteJobTx(txn, job)
		}

		job.ClaimedBy = ""
		job.ClaimDeadline = time.Time{}
		data, err := encodeJob(job)
		if err != nil {
			return err
		}
		return txn.Set(keyJob(job.ID), data)
	})
	return mapTxnError(err)
}

// ExtendClaim pushes the claim deadline for a long-running job.
func (s *Store) ExtendClaim(ctx context.Context, jobID, workerID string, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		job, err := s.claimedJobTx(txn, jobID, workerID)
		if err != nil {
			return err
		}
		job.ClaimDeadline = deadline
		data, err := encodeJob(job)
		if err != nil {
			return err
		}
		return txn.Set(keyJob(job.ID), data)
	})
	return mapTxnError(err)
}

// RequeueAbandoned makes every job whose claim deadline passed claimable
// again.
func (s *Store) RequeueAbandoned(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		prefix := []byte(prefixJob)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		var abandoned []*state.Job
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				job, decErr := decodeJob(val)
				if decErr != nil {
					return decErr
				}
				if job.ClaimedBy != "" && !job.ClaimDeadline.After(now) {
					abandoned = append(abandoned, job)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}

		for _, job := range abandoned {
			job.ClaimedBy = ""
			job.ClaimDeadline = time.Time{}
			data, err := encodeJob(job)
			if err != nil {
				return err
			}
			if err := txn.Set(keyJob(job.ID), data); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, mapTxnError(err)
	}
	return count, nil
}

// Depth reports how many jobs sit in the queue, claimed ones included.
func (s *Store) Depth(ctx context.Context, queue string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.View(func(txn *badgerdb.Txn) error {
		prefix := keyQueuePrefix(queue)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

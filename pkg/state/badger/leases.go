package badger

import (
	"context"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/stagefs/stagefs/pkg/staging/resource"
	"github.com/stagefs/stagefs/pkg/state"
)

// ============================================================================
// Lease Store
// ============================================================================

// TryAcquire atomically inserts the lease unless a live conflicting lease
// exists in the project. Expired conflicting leases found along the way are
// deleted inside the same transaction, so a crashed holder never blocks
// beyond its TTL.
func (s *Store) TryAcquire(ctx context.Context, lease state.Lease) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()
	path := resource.Path(lease.Path)

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		prefix := keyLeasePrefix(lease.Project)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		var expired [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			var existing *state.Lease
			err := item.Value(func(val []byte) error {
				l, decErr := decodeLease(val)
				if decErr != nil {
					return decErr
				}
				existing = l
				return nil
			})
			if err != nil {
				return err
			}

			if !path.ConflictsWith(resource.Path(existing.Path)) {
				continue
			}
			if existing.Expired(now) {
				expired = append(expired, item.KeyCopy(nil))
				expired = append(expired, keyLeaseIndex(existing.ID))
				continue
			}
			return state.ErrLeaseHeld
		}

		for _, key := range expired {
			if err := txn.Delete(key); err != nil && err != badgerdb.ErrKeyNotFound {
				return err
			}
		}

		return s.putLeaseTx(txn, &lease)
	})
	return mapTxnError(err)
}

// putLeaseTx persists a lease and its ID index within an existing
// transaction.
func (s *Store) putLeaseTx(txn *badgerdb.Txn, lease *state.Lease) error {
	data, err := encodeLease(lease)
	if err != nil {
		return err
	}
	if err := txn.Set(keyLease(lease.Project, lease.ID), data); err != nil {
		return err
	}
	return txn.Set(keyLeaseIndex(lease.ID), []byte(lease.Project))
}

// getLeaseTx retrieves a lease by ID within an existing transaction,
// resolving the project through the ID index first.
func (s *Store) getLeaseTx(txn *badgerdb.Txn, leaseID string) (*state.Lease, error) {
	item, err := txn.Get(keyLeaseIndex(leaseID))
	if err == badgerdb.ErrKeyNotFound {
		return nil, state.ErrLeaseNotFound
	}
	if err != nil {
		return nil, err
	}

	var project string
	if err := item.Value(func(val []byte) error {
		project = string(val)
		return nil
	}); err != nil {
		return nil, err
	}

	item, err = txn.Get(keyLease(project, leaseID))
	if err == badgerdb.ErrKeyNotFound {
		return nil, state.ErrLeaseNotFound
	}
	if err != nil {
		return nil, err
	}

	var lease *state.Lease
	err = item.Value(func(val []byte) error {
		l, decErr := decodeLease(val)
		if decErr != nil {
			return decErr
		}
		lease = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// deleteLeaseTx removes a lease record and its ID index within an existing
// transaction.
func (s *Store) deleteLeaseTx(txn *badgerdb.Txn, lease *state.Lease) error {
	if err := txn.Delete(keyLease(lease.Project, lease.ID)); err != nil && err != badgerdb.ErrKeyNotFound {
		return err
	}
	if err := txn.Delete(keyLeaseIndex(lease.ID)); err != nil && err != badgerdb.ErrKeyNotFound {
		return err
	}
	return nil
}

// Renew extends the lease deadline, provided the caller still owns it.
func (s *Store) Renew(ctx context.Context, leaseID, holder string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		lease, err := s.getLeaseTx(txn, leaseID)
		if err != nil {
			return err
		}
		if lease.Holder != holder {
			return state.ErrNotHolder
		}
		lease.ExpiresAt = expiresAt
		return s.putLeaseTx(txn, lease)
	})
	return mapTxnError(err)
}

// Release removes the lease, provided the caller owns it.
func (s *Store) Release(ctx context.Context, leaseID, holder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		lease, err := s.getLeaseTx(txn, leaseID)
		if err != nil {
			return err
		}
		if lease.Holder != holder {
			return state.ErrNotHolder
		}
		return s.deleteLeaseTx(txn, lease)
	})
	return mapTxnError(err)
}

// Get returns the lease by ID.
func (s *Store) Get(ctx context.Context, leaseID string) (*state.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var lease *state.Lease
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		lease, err = s.getLeaseTx(txn, leaseID)
		return err
	})
	return lease, err
}

// ListProject returns all leases recorded for a project.
func (s *Store) ListProject(ctx context.Context, project string) ([]state.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var leases []state.Lease
	err := s.db.View(func(txn *badgerdb.Txn) error {
		prefix := keyLeasePrefix(project)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				lease, decErr := decodeLease(val)
				if decErr != nil {
					return decErr
				}
				leases = append(leases, *lease)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return leases, err
}

// DeleteExpired removes every lease dead at now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		prefix := []byte(prefixLease)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		var dead []*state.Lease
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				lease, decErr := decodeLease(val)
				if decErr != nil {
					return decErr
				}
				if lease.Expired(now) {
					dead = append(dead, lease)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}

		for _, lease := range dead {
			if err := s.deleteLeaseTx(txn, lease); err != nil {
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

package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stagefs/stagefs/pkg/state"
)

// ============================================================================
// Lease Store
// ============================================================================

// conflictPredicate matches leases whose path prefix-conflicts with $2:
// equal paths, one a path prefix of the other, or either being the project
// root (empty path).
const conflictPredicate = `(
	path = $2
	OR path = ''
	OR $2 = ''
	OR path LIKE $2 || '/%'
	OR $2 LIKE path || '/%'
)`

// TryAcquire atomically inserts the lease unless a live conflicting lease
// exists in the project. Lease transactions for the same project serialize
// on a transaction-scoped advisory lock, so two concurrent acquires can
// never both miss each other's uncommitted insert.
func (s *Store) TryAcquire(ctx context.Context, lease state.Lease) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()

	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := lockProject(ctx, tx, lease.Project); err != nil {
			return err
		}

		// Reclaim expired conflicting leases before the conflict check.
		deleteQuery := `
			DELETE FROM leases
			WHERE project = $1 AND ` + conflictPredicate + ` AND expires_at <= $3
		`
		if _, err := tx.Exec(ctx, deleteQuery, lease.Project, lease.Path, now); err != nil {
			return err
		}

		checkQuery := `
			SELECT id FROM leases
			WHERE project = $1 AND ` + conflictPredicate + ` AND expires_at > $3
			LIMIT 1
		`
		var conflictID string
		err := tx.QueryRow(ctx, checkQuery, lease.Project, lease.Path, now).Scan(&conflictID)
		if err == nil {
			return state.ErrLeaseHeld
		}
		if err != pgx.ErrNoRows {
			return err
		}

		insertQuery := `
			INSERT INTO leases (id, project, path, holder, acquired_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		_, err = tx.Exec(ctx, insertQuery,
			lease.ID,
			lease.Project,
			lease.Path,
			lease.Holder,
			lease.AcquiredAt,
			lease.ExpiresAt,
		)
		return err
	})
}

// lockProject takes the project's transaction-scoped advisory lock. It is
// released automatically at commit or rollback.
func lockProject(ctx context.Context, tx pgx.Tx, project string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('lease:' || $1))`, project)
	return err
}

// Renew extends the lease deadline, provided the caller still owns it.
func (s *Store) Renew(ctx context.Context, leaseID, holder string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	query := `
		UPDATE leases
		SET expires_at = $3
		WHERE id = $1 AND holder = $2
	`
	result, err := s.pool.Exec(ctx, query, leaseID, holder, expiresAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return s.classifyMiss(ctx, leaseID)
	}
	return nil
}

// Release removes the lease, provided the caller owns it.
func (s *Store) Release(ctx context.Context, leaseID, holder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	result, err := s.pool.Exec(ctx, `DELETE FROM leases WHERE id = $1 AND holder = $2`, leaseID, holder)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return s.classifyMiss(ctx, leaseID)
	}
	return nil
}

// classifyMiss distinguishes a missing lease from one owned by someone else
// after a conditional update matched no rows.
func (s *Store) classifyMiss(ctx context.Context, leaseID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM leases WHERE id = $1)`, leaseID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return state.ErrNotHolder
	}
	return state.ErrLeaseNotFound
}

// Get returns the lease by ID.
func (s *Store) Get(ctx context.Context, leaseID string) (*state.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, project, path, holder, acquired_at, expires_at
		FROM leases
		WHERE id = $1
	`
	var lease state.Lease
	err := s.pool.QueryRow(ctx, query, leaseID).Scan(
		&lease.ID,
		&lease.Project,
		&lease.Path,
		&lease.Holder,
		&lease.AcquiredAt,
		&lease.ExpiresAt,
	)
	if err == pgx.ErrNoRows {
		return nil, state.ErrLeaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lease, nil
}

// ListProject returns all leases recorded for a project.
func (s *Store) ListProject(ctx context.Context, project string) ([]state.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, project, path, holder, acquired_at, expires_at
		FROM leases
		WHERE project = $1
		ORDER BY acquired_at
	`
	rows, err := s.pool.Query(ctx, query, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leases []state.Lease
	for rows.Next() {
		var lease state.Lease
		if err := rows.Scan(
			&lease.ID,
			&lease.Project,
			&lease.Path,
			&lease.Holder,
			&lease.AcquiredAt,
			&lease.ExpiresAt,
		); err != nil {
			return nil, err
		}
		leases = append(leases, lease)
	}
	return leases, rows.Err()
}

// DeleteExpired removes every lease dead at now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	result, err := s.pool.Exec(ctx, `DELETE FROM leases WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(result.RowsAffected()), nil
}

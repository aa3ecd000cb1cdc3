// Package lock coordinates exclusive access to project resources through
// prefix-scoped lock leases.
//
// A lease on a path excludes every operation whose path is equal to it,
// beneath it or above it; sibling subtrees proceed in parallel. Leases are
// leases, not locks: they expire, so a crashed holder blocks its subtree for
// at most the TTL. Holders renew long operations and release on every exit
// path.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/internal/telemetry"
	stagingerrors "github.com/stagefs/stagefs/pkg/staging/errors"
	"github.com/stagefs/stagefs/pkg/staging/resource"
	"github.com/stagefs/stagefs/pkg/state"
)

// Config holds lock manager configuration.
type Config struct {
	// TTL is how long a lease lives between renewals. It bounds how long a
	// crashed holder can block a subtree.
	// Default: 12h (longer than any expected single operation).
	TTL time.Duration `mapstructure:"ttl" json:"ttl" yaml:"ttl"`

	// AcquireTimeout is how long Acquire keeps retrying against a busy
	// resource before giving up.
	// Default: 3s
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" json:"acquire_timeout" yaml:"acquire_timeout"`

	// PollInterval is the delay between acquire attempts.
	// Default: 200ms
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval" yaml:"poll_interval"`

	// RetryAttempts bounds optimistic-transaction retries per store call.
	// Default: 5
	RetryAttempts int `mapstructure:"retry_attempts" json:"retry_attempts" yaml:"retry_attempts"`
}

// DefaultConfig returns the default lock manager configuration.
func DefaultConfig() Config {
	return Config{
		TTL:            12 * time.Hour,
		AcquireTimeout: 3 * time.Second,
		PollInterval:   200 * time.Millisecond,
		RetryAttempts:  5,
	}
}

// Guard is a held lease. The owning operation keeps the guard for its whole
// duration, renews it when running long, and releases it on every exit path.
type Guard struct {
	// LeaseID identifies the lease in the state store.
	LeaseID string

	// Holder is the token proving ownership for renew and release.
	Holder string

	// Project and Path are the guarded resource.
	Project string
	Path    resource.Path

	// ExpiresAt is the current lease deadline, moved forward by Renew.
	ExpiresAt time.Time
}

// Manager acquires and maintains lock leases on top of a state.LeaseStore.
type Manager struct {
	store          state.LeaseStore
	metrics        LockMetrics
	ttl            time.Duration
	acquireTimeout time.Duration
	pollInterval   time.Duration
	retryAttempts  int
}

// NewManager creates a lock manager. Zero config fields fall back to
// defaults; a nil metrics disables collection.
func NewManager(store state.LeaseStore, cfg Config, metrics LockMetrics) *Manager {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}

	return &Manager{
		store:          store,
		metrics:        metrics,
		ttl:            cfg.TTL,
		acquireTimeout: cfg.AcquireTimeout,
		pollInterval:   cfg.PollInterval,
		retryAttempts:  cfg.RetryAttempts,
	}
}

// Acquire obtains an exclusive lease on (project, path), retrying against a
// busy resource until the acquire timeout. Returns a LockTimeout error when
// a conflicting lease was held for the whole window.
func (m *Manager) Acquire(ctx context.Context, project string, path resource.Path) (_ *Guard, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanLockAcquire)
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()
	span.SetAttributes(
		telemetry.Project(project),
		telemetry.Path(path.String()),
	)

	start := time.Now()
	deadline := start.Add(m.acquireTimeout)

	for {
		guard, err := m.tryOnce(ctx, project, path)
		if err == nil {
			if m.metrics != nil {
				m.metrics.ObserveAcquire(time.Since(start))
			}
			return guard, nil
		}
		if !errors.Is(err, state.ErrLeaseHeld) {
			return nil, err
		}

		if !time.Now().Before(deadline) {
			logger.Debug("Lease acquisition timed out",
				"project", project,
				"path", path.String())
			if m.metrics != nil {
				m.metrics.RecordTimeout()
			}
			return nil, stagingerrors.NewLockTimeoutError(path.String())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

// TryAcquire attempts the lease exactly once. A busy resource returns a
// LockTimeout error immediately; the sweeper uses this to skip contended
// subtrees instead of stalling.
func (m *Manager) TryAcquire(ctx context.Context, project string, path resource.Path) (*Guard, error) {
	guard, err := m.tryOnce(ctx, project, path)
	if errors.Is(err, state.ErrLeaseHeld) {
		return nil, stagingerrors.NewLockTimeoutError(path.String())
	}
	if err == nil && m.metrics != nil {
		m.metrics.ObserveAcquire(0)
	}
	return guard, err
}

func (m *Manager) tryOnce(ctx context.Context, project string, path resource.Path) (*Guard, error) {
	now := time.Now()
	lease := state.Lease{
		ID:         uuid.New().String(),
		Project:    project,
		Path:       path.String(),
		Holder:     uuid.New().String(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.ttl),
	}

	err := state.RetryConflicts(m.retryAttempts, func() error {
		return m.store.TryAcquire(ctx, lease)
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Acquired lease",
		"project", project,
		"path", path.String(),
		"lease_id", lease.ID)

	return &Guard{
		LeaseID:   lease.ID,
		Holder:    lease.Holder,
		Project:   project,
		Path:      path,
		ExpiresAt: lease.ExpiresAt,
	}, nil
}

// Renew extends the guard's lease by the configured TTL. A lease that can no
// longer be renewed is lost: the holder must abort its operation and roll
// back, because another operation may already own the subtree.
func (m *Manager) Renew(ctx context.Context, guard *Guard) (err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanLockRenew)
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()
	span.SetAttributes(telemetry.LeaseID(guard.LeaseID))

	expiresAt := time.Now().Add(m.ttl)

	err = state.RetryConflicts(m.retryAttempts, func() error {
		return m.store.Renew(ctx, guard.LeaseID, guard.Holder, expiresAt)
	})
	switch {
	case err == nil:
		guard.ExpiresAt = expiresAt
		return nil
	case errors.Is(err, state.ErrLeaseNotFound), errors.Is(err, state.ErrNotHolder):
		logger.Warn("Lease lost",
			"project", guard.Project,
			"path", guard.Path.String(),
			"lease_id", guard.LeaseID)
		if m.metrics != nil {
			m.metrics.RecordLost()
		}
		return stagingerrors.NewLockLostError(guard.Path.String())
	default:
		return err
	}
}

// Release drops the lease. A lease that already expired and was reclaimed is
// not an error here; the operation is ending either way.
func (m *Manager) Release(ctx context.Context, guard *Guard) (err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanLockRelease)
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()
	span.SetAttributes(telemetry.LeaseID(guard.LeaseID))

	err = state.RetryConflicts(m.retryAttempts, func() error {
		return m.store.Release(ctx, guard.LeaseID, guard.Holder)
	})
	if errors.Is(err, state.ErrLeaseNotFound) || errors.Is(err, state.ErrNotHolder) {
		logger.Debug("Lease already gone at release",
			"project", guard.Project,
			"lease_id", guard.LeaseID)
		return nil
	}
	return err
}

// List returns all leases recorded for a project, live and expired alike.
func (m *Manager) List(ctx context.Context, project string) ([]state.Lease, error) {
	return m.store.ListProject(ctx, project)
}

// SweepExpired removes every dead lease and reports how many were removed.
// Expired leases block nobody, so this is pure housekeeping.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	return m.store.DeleteExpired(ctx, time.Now())
}

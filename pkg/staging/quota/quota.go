// Package quota enforces per-project byte budgets through a
// reserve/commit/release ledger.
//
// Every operation that will add bytes reserves them before accepting any
// data. When the bytes are durable the reservation is committed at the size
// that actually landed; when the operation dies it is released. Either way
// the reservation always settles exactly once: settlement deletes the
// backing row, so a second settle of the same hold is a visible no-op
// instead of a double count.
package quota

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/internal/telemetry"
	"github.com/stagefs/stagefs/pkg/catalog/models"
	stagingerrors "github.com/stagefs/stagefs/pkg/staging/errors"
)

// Store is the slice of the catalog the ledger drives. All mutations are
// version-guarded compare-and-swap updates; a lost race surfaces as
// models.ErrStaleProject and the ledger retries from a fresh read.
type Store interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ReserveBytes(ctx context.Context, projectID, reservationID string, bytes int64) error
	CommitReservation(ctx context.Context, projectID, reservationID string, actualBytes int64) error
	ReleaseReservation(ctx context.Context, projectID, reservationID string) error
	ReleaseCommitted(ctx context.Context, projectID string, bytes int64) error
}

// Hold is an open reservation. The owning operation carries it until commit
// or release; long-lived operations persist the ID and restore the hold
// later.
type Hold struct {
	// ID identifies the reservation in the catalog.
	ID string

	// Project is the budget the bytes are held against.
	Project string

	// Bytes is the reserved amount.
	Bytes int64
}

// RestoreHold rebuilds a hold handle from fields persisted with an upload
// session, so a background job can settle a reservation opened by the
// admission path.
func RestoreHold(id, project string, bytes int64) *Hold {
	return &Hold{ID: id, Project: project, Bytes: bytes}
}

// Ledger hands out and settles quota holds.
type Ledger struct {
	store         Store
	metrics       QuotaMetrics
	retryAttempts int
}

// defaultRetryAttempts bounds compare-and-swap retries per ledger call.
const defaultRetryAttempts = 5

// NewLedger creates a quota ledger over the catalog store. A nil metrics
// disables collection.
func NewLedger(store Store, metrics QuotaMetrics) *Ledger {
	return &Ledger{
		store:         store,
		metrics:       metrics,
		retryAttempts: defaultRetryAttempts,
	}
}

// Reserve opens a hold for bytes against the project's budget. Admission is
// refused with a QuotaExceeded error naming the shortfall when the free
// budget cannot cover the request.
func (l *Ledger) Reserve(ctx context.Context, project string, bytes int64) (_ *Hold, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanQuotaReserve)
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()
	span.SetAttributes(
		telemetry.Project(project),
		telemetry.Size(bytes),
	)

	if bytes < 0 {
		return nil, stagingerrors.NewInvalidArgumentError("cannot reserve a negative amount")
	}

	id := uuid.New().String()
	err = l.retryStale(func() error {
		return l.store.ReserveBytes(ctx, project, id, bytes)
	})
	switch {
	case err == nil:
		logger.Debug("Reserved quota",
			"project", project,
			"bytes", bytes,
			"reservation_id", id)
		if l.metrics != nil {
			l.metrics.RecordReserve(bytes)
		}
		return &Hold{ID: id, Project: project, Bytes: bytes}, nil
	case errors.Is(err, models.ErrInsufficientQuota):
		if l.metrics != nil {
			l.metrics.RecordRejection()
		}
		return nil, l.quotaExceeded(ctx, project, bytes)
	case errors.Is(err, models.ErrProjectNotFound):
		return nil, stagingerrors.NewNotFoundError(project, "project")
	case errors.Is(err, models.ErrStaleProject):
		return nil, stagingerrors.NewConflictError("quota reservation lost repeated races")
	default:
		return nil, err
	}
}

// Commit settles the hold at the size that actually landed on disk. The
// actual size may fall short of the reserved one (the shortfall returns to
// the free budget) but never exceed it: callers reserve pessimistically
// before admitting data, so an over-commit is a programming error, not a
// quota condition.
//
// Settling an already-settled hold is a no-op. At-least-once job delivery
// means a finalize can run twice, and the second settlement must not double
// count.
func (l *Ledger) Commit(ctx context.Context, hold *Hold, actualBytes int64) (err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanQuotaCommit)
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()
	span.SetAttributes(
		telemetry.Project(hold.Project),
		telemetry.ReservationID(hold.ID),
		telemetry.Size(actualBytes),
	)

	err = l.retryStale(func() error {
		return l.store.CommitReservation(ctx, hold.Project, hold.ID, actualBytes)
	})
	switch {
	case err == nil:
		logger.Debug("Committed quota",
			"project", hold.Project,
			"bytes", actualBytes,
			"reservation_id", hold.ID)
		if l.metrics != nil {
			l.metrics.RecordCommit(actualBytes)
		}
		return nil
	case errors.Is(err, models.ErrReservationNotFound):
		logger.Debug("Reservation already settled",
			"project", hold.Project,
			"reservation_id", hold.ID)
		return nil
	case errors.Is(err, models.ErrOverCommit):
		return stagingerrors.NewInternalError(err)
	case errors.Is(err, models.ErrStaleProject):
		return stagingerrors.NewConflictError("quota commit lost repeated races")
	case errors.Is(err, models.ErrProjectNotFound):
		return stagingerrors.NewNotFoundError(hold.Project, "project")
	default:
		return err
	}
}

// Release cancels the hold without committing anything. Like Commit it is a
// no-op when the hold was already settled.
func (l *Ledger) Release(ctx context.Context, hold *Hold) (err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanQuotaRelease)
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()
	span.SetAttributes(
		telemetry.Project(hold.Project),
		telemetry.ReservationID(hold.ID),
	)

	err = l.retryStale(func() error {
		return l.store.ReleaseReservation(ctx, hold.Project, hold.ID)
	})
	switch {
	case err == nil:
		logger.Debug("Released quota",
			"project", hold.Project,
			"bytes", hold.Bytes,
			"reservation_id", hold.ID)
		if l.metrics != nil {
			l.metrics.RecordRelease(hold.Bytes)
		}
		return nil
	case errors.Is(err, models.ErrReservationNotFound):
		logger.Debug("Reservation already settled",
			"project", hold.Project,
			"reservation_id", hold.ID)
		return nil
	case errors.Is(err, models.ErrStaleProject):
		return stagingerrors.NewConflictError("quota release lost repeated races")
	case errors.Is(err, models.ErrProjectNotFound):
		return stagingerrors.NewNotFoundError(hold.Project, "project")
	default:
		return err
	}
}

// ReleaseCommitted returns committed bytes to the budget after durable files
// are deleted.
func (l *Ledger) ReleaseCommitted(ctx context.Context, project string, bytes int64) (err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanQuotaRelease)
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()
	span.SetAttributes(
		telemetry.Project(project),
		telemetry.Size(bytes),
	)

	err = l.retryStale(func() error {
		return l.store.ReleaseCommitted(ctx, project, bytes)
	})
	switch {
	case err == nil:
		if l.metrics != nil {
			l.metrics.RecordRelease(bytes)
		}
		return nil
	case errors.Is(err, models.ErrProjectNotFound):
		return stagingerrors.NewNotFoundError(project, "project")
	case errors.Is(err, models.ErrStaleProject):
		return stagingerrors.NewConflictError("quota release lost repeated races")
	default:
		return err
	}
}

// quotaExceeded builds the client-facing refusal; the free number is read
// fresh and is informational.
func (l *Ledger) quotaExceeded(ctx context.Context, project string, wanted int64) error {
	var free int64
	if p, err := l.store.GetProject(ctx, project); err == nil {
		free = p.FreeBytes()
	}
	return stagingerrors.NewQuotaExceededError(project, wanted, free)
}

// retryStale runs fn a bounded number of times, retrying while the
// underlying compare-and-swap reports a stale read.
func (l *Ledger) retryStale(fn func() error) error {
	var err error
	for i := 0; i < l.retryAttempts; i++ {
		err = fn()
		if !errors.Is(err, models.ErrStaleProject) {
			return err
		}
	}
	return err
}

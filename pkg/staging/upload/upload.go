// Package upload admits, assembles and settles uploads.
//
// An upload session owns three pieces of state for its whole life: a lock
// lease on the target path, a quota reservation for the declared size, and
// a spool workspace accumulating the bytes. Every exit path settles all
// three. The happy path hands them to the finalizer, inline for small
// files or through a background job for large ones and archives; every
// failure path releases the reservation, discards the workspace and
// releases the lease.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/stagefs/stagefs/internal/bytesize"
	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/internal/telemetry"
	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/catalog/store"
	"github.com/stagefs/stagefs/pkg/staging/checksum"
	stagingerrors "github.com/stagefs/stagefs/pkg/staging/errors"
	"github.com/stagefs/stagefs/pkg/staging/finalize"
	"github.com/stagefs/stagefs/pkg/staging/jobs"
	"github.com/stagefs/stagefs/pkg/staging/lock"
	"github.com/stagefs/stagefs/pkg/staging/quota"
	"github.com/stagefs/stagefs/pkg/staging/resource"
	"github.com/stagefs/stagefs/pkg/staging/spool"
)

// Job kinds submitted by the upload service. The finalize handler lives
// here; the extract handler lives in the archive package.
const (
	KindFinalize = "finalize-large"
	KindExtract  = "extract-archive"
)

// Config holds upload service configuration.
type Config struct {
	// MaxSize is the largest accepted upload. Sessions without a declared
	// size reserve quota against this bound.
	// Default: 50GiB
	MaxSize bytesize.Size `mapstructure:"max_size" json:"max_size" yaml:"max_size"`

	// AsyncThreshold is the payload size at which finalization moves to a
	// background job instead of running inside the request.
	// Default: 1GiB
	AsyncThreshold bytesize.Size `mapstructure:"async_threshold" json:"async_threshold" yaml:"async_threshold"`
}

// DefaultConfig returns the default upload service configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:        50 * bytesize.GiB,
		AsyncThreshold: bytesize.GiB,
	}
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.MaxSize <= 0 {
		c.MaxSize = def.MaxSize
	}
	if c.AsyncThreshold <= 0 {
		c.AsyncThreshold = def.AsyncThreshold
	}
}

// Service is the upload assembler.
type Service struct {
	catalog    store.Store
	spool      *spool.Spool
	locks      *lock.Manager
	ledger     *quota.Ledger
	finalizer  *finalize.Finalizer
	dispatcher *jobs.Dispatcher
	metrics    UploadMetrics

	maxSize        int64
	asyncThreshold int64
}

// NewService creates the upload service. A nil metrics disables collection.
func NewService(
	catalog store.Store,
	sp *spool.Spool,
	locks *lock.Manager,
	ledger *quota.Ledger,
	fin *finalize.Finalizer,
	dispatcher *jobs.Dispatcher,
	cfg Config,
	metrics UploadMetrics,
) *Service {
	cfg.ApplyDefaults()
	return &Service{
		catalog:        catalog,
		spool:          sp,
		locks:          locks,
		ledger:         ledger,
		finalizer:      fin,
		dispatcher:     dispatcher,
		metrics:        metrics,
		maxSize:        int64(cfg.MaxSize),
		asyncThreshold: int64(cfg.AsyncThreshold),
	}
}

// RegisterHandlers registers this service's job kinds on the dispatcher.
func (s *Service) RegisterHandlers(d *jobs.Dispatcher) {
	d.Register(KindFinalize, s.handleFinalize)
}

// AdmitRequest asks for a new upload session.
type AdmitRequest struct {
	// Project receives the upload.
	Project string

	// Path is the target file, or the extraction directory for archives.
	Path resource.Path

	// Kind says whether the payload is a file or an archive.
	Kind models.UploadKind

	// Size is the declared total length, models.UnknownSize when the
	// client cannot declare one.
	Size int64

	// Checksum is the client-declared digest, verified at finalize. Zero
	// means none.
	Checksum checksum.Checksum
}

// Admit opens an upload session: path validated, lock held, quota
// reserved. From here on the session must be driven to an end; idle
// sessions are abandoned by the sweeper after the expiry window.
func (s *Service) Admit(ctx context.Context, req AdmitRequest) (_ *models.UploadSession, err error) {
	ctx, span := telemetry.StartUploadSpan(ctx, telemetry.SpanUploadAdmit, req.Project, req.Path.String(),
		telemetry.Size(req.Size))
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()
	ctx = telemetry.InjectTraceContext(ctx)

	if err := resource.ValidateProjectID(req.Project); err != nil {
		return nil, err
	}
	if !req.Kind.IsValid() {
		return nil, stagingerrors.NewInvalidArgumentError(fmt.Sprintf("invalid upload kind %q", req.Kind))
	}
	if req.Size < models.UnknownSize {
		return nil, stagingerrors.NewInvalidArgumentError(fmt.Sprintf("invalid size %d", req.Size))
	}
	if req.Size > s.maxSize {
		return nil, stagingerrors.NewTooLargeError(req.Size, s.maxSize)
	}

	if _, err := s.catalog.GetProject(ctx, req.Project); err != nil {
		if errors.Is(err, models.ErrProjectNotFound) {
			return nil, stagingerrors.NewNotFoundError(req.Project, "project")
		}
		return nil, err
	}

	// Unknown-size sessions reserve pessimistically against the maximum;
	// commit returns the unused part when the real size is known.
	reserve := req.Size
	if req.Size == models.UnknownSize {
		reserve = s.maxSize
	}

	if err := s.spool.CheckFree(reserve); err != nil {
		return nil, err
	}

	if err := s.checkTarget(ctx, req); err != nil {
		return nil, err
	}

	guard, err := s.locks.Acquire(ctx, req.Project, req.Path)
	if err != nil {
		return nil, err
	}

	hold, err := s.ledger.Reserve(ctx, req.Project, reserve)
	if err != nil {
		_ = s.locks.Release(context.WithoutCancel(ctx), guard)
		return nil, err
	}

	session := &models.UploadSession{
		ID:            uuid.NewString(),
		ProjectID:     req.Project,
		Path:          req.Path.String(),
		Kind:          string(req.Kind),
		State:         string(models.UploadStateActive),
		Offset:        0,
		Size:          req.Size,
		ReservedBytes: reserve,
		LeaseID:       guard.LeaseID,
		Holder:        guard.Holder,
		ReservationID: hold.ID,
	}
	if !req.Checksum.IsZero() {
		session.Checksum = req.Checksum.String()
	}

	if err := s.catalog.CreateUpload(ctx, session); err != nil {
		cleanupCtx := context.WithoutCancel(ctx)
		_ = s.ledger.Release(cleanupCtx, hold)
		_ = s.locks.Release(cleanupCtx, guard)
		return nil, err
	}

	logger.InfoCtx(ctx, "Admitted upload",
		logger.UploadID(session.ID),
		logger.Project(req.Project),
		logger.Path(req.Path.String()),
		logger.Size(req.Size),
	)
	if s.metrics != nil {
		s.metrics.RecordAdmitted(session.Kind)
	}
	return session, nil
}

// checkTarget rejects admissions that could never finalize: uploads onto
// existing files or directories, extractions into an existing file.
func (s *Service) checkTarget(ctx context.Context, req AdmitRequest) error {
	if req.Path.IsRoot() {
		if req.Kind == models.UploadKindFile {
			return stagingerrors.NewInvalidPathError("", "file target cannot be the project root")
		}
		return nil
	}

	_, err := s.catalog.GetFile(ctx, req.Project, req.Path.String())
	switch {
	case err == nil:
		if req.Kind == models.UploadKindArchive {
			return stagingerrors.NewConflictError(
				fmt.Sprintf("extraction target %q is an existing file", req.Path))
		}
		return stagingerrors.NewAlreadyExistsError(req.Path.String())
	case !errors.Is(err, models.ErrFileNotFound):
		return err
	}

	if req.Kind == models.UploadKindFile {
		if info, err := s.spool.Stat(req.Project, req.Path); err == nil && info.IsDir() {
			return stagingerrors.NewConflictError(fmt.Sprintf("%q is a directory", req.Path))
		}
	}
	return nil
}

// Head returns the session so the client can learn the next append offset.
func (s *Service) Head(ctx context.Context, project, uploadID string) (*models.UploadSession, error) {
	return s.getSession(ctx, project, uploadID)
}

// List returns a project's open sessions.
func (s *Service) List(ctx context.Context, project string) ([]*models.UploadSession, error) {
	return s.catalog.ListUploads(ctx, project)
}

// AppendResult reports an append: the refreshed session, and the outcome
// when the append was terminal.
type AppendResult struct {
	Session *models.UploadSession

	// Outcome is non-nil when this append completed the upload.
	Outcome *Outcome
}

// Append writes a chunk at exactly offset. A mismatched offset fails
// without touching anything and leaves the session open; the client
// re-reads the offset and resumes. The final flag is the completion signal
// for sessions without a declared size; sessions with one complete when
// the declared size is reached.
func (s *Service) Append(ctx context.Context, project, uploadID string, offset int64, body io.Reader, final bool) (_ *AppendResult, err error) {
	ctx, span := telemetry.StartUploadSpan(ctx, telemetry.SpanUploadAppend, project, "",
		telemetry.UploadID(uploadID),
		telemetry.Offset(offset))
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()
	ctx = telemetry.InjectTraceContext(ctx)

	session, err := s.getSession(ctx, project, uploadID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(telemetry.Path(session.Path))

	if session.State != string(models.UploadStateActive) {
		return nil, stagingerrors.NewConflictError("upload is already finalizing")
	}
	if offset != session.Offset {
		return nil, stagingerrors.NewOffsetMismatchError(session.Offset, offset)
	}

	guard := s.guardFor(session)
	if err := s.locks.Renew(ctx, guard); err != nil {
		if stagingerrors.IsLockLost(err) {
			// The lease expired and the subtree may already belong to
			// someone else. The session is unrecoverable.
			s.abandon(ctx, session, nil)
		}
		return nil, err
	}

	// The cap is what the declaration (or the configured maximum) still
	// allows. One extra byte detects overruns without reading the world.
	capacity := session.Size - offset
	if !session.SizeKnown() {
		capacity = s.maxSize - offset
	}

	ws := s.spool.Workspace(session.ID)
	n, err := ws.AppendAt(offset, io.LimitReader(body, capacity+1))
	if err != nil {
		return nil, err
	}
	if n > capacity {
		limit := session.Size
		if !session.SizeKnown() {
			limit = s.maxSize
		}
		return nil, stagingerrors.NewTooLargeError(offset+n, limit)
	}

	newOffset := offset + n
	if err := s.catalog.AdvanceUploadOffset(ctx, session.ID, offset, newOffset); err != nil {
		if errors.Is(err, models.ErrStaleUpload) {
			// A concurrent append won the offset race. Report the fresh
			// offset; the replayed bytes are truncated away on resume.
			if fresh, ferr := s.catalog.GetUpload(ctx, session.ID); ferr == nil {
				return nil, stagingerrors.NewOffsetMismatchError(fresh.Offset, offset)
			}
			return nil, stagingerrors.NewOffsetMismatchError(session.Offset, offset)
		}
		return nil, err
	}
	session.Offset = newOffset
	if s.metrics != nil {
		s.metrics.RecordBytes(n)
	}

	terminal := false
	switch {
	case session.SizeKnown():
		terminal = newOffset == session.Size
		if final && !terminal {
			return nil, stagingerrors.NewInvalidArgumentError(
				fmt.Sprintf("completion signalled at %d of %d declared bytes", newOffset, session.Size))
		}
	default:
		terminal = final
	}

	if !terminal {
		logger.DebugCtx(ctx, "Accepted chunk",
			logger.UploadID(session.ID),
			logger.Offset(newOffset),
		)
		return &AppendResult{Session: session}, nil
	}

	outcome, err := s.complete(ctx, session, guard)
	if err != nil {
		return nil, err
	}
	return &AppendResult{Session: session, Outcome: outcome}, nil
}

// Abort ends an active session: reservation released, workspace discarded,
// lease released. Sessions already handed to a finalize job cannot be
// aborted.
func (s *Service) Abort(ctx context.Context, project, uploadID string) (err error) {
	ctx, span := telemetry.StartUploadSpan(ctx, telemetry.SpanUploadAbort, project, "",
		telemetry.UploadID(uploadID))
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()
	ctx = telemetry.InjectTraceContext(ctx)

	session, err := s.getSession(ctx, project, uploadID)
	if err != nil {
		return err
	}
	if session.State != string(models.UploadStateActive) {
		return stagingerrors.NewConflictError("upload is already finalizing")
	}

	s.abandon(ctx, session, s.guardFor(session))

	logger.InfoCtx(ctx, "Aborted upload",
		logger.UploadID(session.ID),
		logger.Project(project),
		logger.Path(session.Path),
	)
	return nil
}

// getSession loads a session and scopes it to the project.
func (s *Service) getSession(ctx context.Context, project, uploadID string) (*models.UploadSession, error) {
	session, err := s.catalog.GetUpload(ctx, uploadID)
	if err != nil {
		if errors.Is(err, models.ErrUploadNotFound) {
			return nil, stagingerrors.NewNotFoundError(uploadID, "upload")
		}
		return nil, err
	}
	if session.ProjectID != project {
		return nil, stagingerrors.NewNotFoundError(uploadID, "upload")
	}
	return session, nil
}

// guardFor rebuilds the lock guard persisted with the session.
func (s *Service) guardFor(session *models.UploadSession) *lock.Guard {
	return &lock.Guard{
		LeaseID: session.LeaseID,
		Holder:  session.Holder,
		Project: session.ProjectID,
		Path:    resource.Path(session.Path),
	}
}

// holdFor rebuilds the quota hold persisted with the session.
func (s *Service) holdFor(session *models.UploadSession) *quota.Hold {
	return quota.RestoreHold(session.ReservationID, session.ProjectID, session.ReservedBytes)
}

// abandon tears a session down on a failure path: workspace, reservation,
// session row, and the lease last. Every step tolerates having already
// happened, so abandon can run after a partial previous abandon.
func (s *Service) abandon(ctx context.Context, session *models.UploadSession, guard *lock.Guard) {
	cleanupCtx := context.WithoutCancel(ctx)

	if s.metrics != nil {
		s.metrics.RecordSettled(session.Kind, "abandoned")
	}

	if err := s.spool.Workspace(session.ID).Remove(); err != nil {
		logger.WarnCtx(ctx, "Failed to remove workspace",
			logger.UploadID(session.ID),
			logger.Err(err),
		)
	}
	if err := s.ledger.Release(cleanupCtx, s.holdFor(session)); err != nil {
		logger.WarnCtx(ctx, "Failed to release reservation",
			logger.UploadID(session.ID),
			logger.ReservationID(session.ReservationID),
			logger.Err(err),
		)
	}
	if err := s.catalog.DeleteUpload(cleanupCtx, session.ID); err != nil && !errors.Is(err, models.ErrUploadNotFound) {
		logger.WarnCtx(ctx, "Failed to delete session",
			logger.UploadID(session.ID),
			logger.Err(err),
		)
	}
	if guard != nil {
		if err := s.locks.Release(cleanupCtx, guard); err != nil {
			logger.WarnCtx(ctx, "Failed to release lease",
				logger.UploadID(session.ID),
				logger.LeaseID(guard.LeaseID),
				logger.Err(err),
			)
		}
	}
}

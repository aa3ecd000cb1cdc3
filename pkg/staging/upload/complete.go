package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/internal/telemetry"
	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/staging/checksum"
	stagingerrors "github.com/stagefs/stagefs/pkg/staging/errors"
	"github.com/stagefs/stagefs/pkg/staging/finalize"
	"github.com/stagefs/stagefs/pkg/staging/jobs"
	"github.com/stagefs/stagefs/pkg/staging/lock"
	"github.com/stagefs/stagefs/pkg/state"
)

// Outcome reports how an upload ended: inline with a durable record, or
// accepted with a task to poll.
type Outcome struct {
	// Record is the durable file, set when finalization ran inline.
	Record *models.FileRecord

	// TaskID is the background task to poll, set when finalization was
	// handed off.
	TaskID string
}

// Async reports whether the caller has to poll for the result.
func (o *Outcome) Async() bool {
	return o.TaskID != ""
}

// SessionJob is the payload of finalize and extract jobs. Everything else
// the worker needs rides on the session row.
type SessionJob struct {
	UploadID string `json:"upload_id"`
}

// complete runs the finalize decision for a session that has all its
// bytes. Small files finalize inline; large files and archives become
// background jobs, with the lease and the reservation transferring to the
// worker through the session row.
func (s *Service) complete(ctx context.Context, session *models.UploadSession, guard *lock.Guard) (_ *Outcome, err error) {
	ctx, span := telemetry.StartUploadSpan(ctx, telemetry.SpanUploadComplete, session.ProjectID, session.Path,
		telemetry.UploadID(session.ID),
		telemetry.Size(session.Offset))
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()

	if err := s.catalog.SetUploadState(ctx, session.ID, models.UploadStateFinalizing); err != nil {
		return nil, err
	}
	session.State = string(models.UploadStateFinalizing)

	if session.Kind == string(models.UploadKindArchive) || session.Offset >= s.asyncThreshold {
		return s.submitCompletion(ctx, session)
	}

	record, err := s.finalizer.Publish(ctx, finalize.PublishRequest{
		Project:  session.ProjectID,
		Path:     s.guardFor(session).Path,
		Payload:  s.spool.Workspace(session.ID).PayloadPath(),
		Expected: s.expectedChecksum(session),
		Hold:     s.holdFor(session),
		Source:   models.FileSourceUpload,
	})
	if err != nil {
		// Inline finalization has no retry story: the whole upload
		// aborts and the client goes again.
		s.abandon(ctx, session, guard)
		return nil, err
	}

	s.settle(ctx, session, guard)
	return &Outcome{Record: record}, nil
}

// submitCompletion enqueues the background job that finishes the session.
func (s *Service) submitCompletion(ctx context.Context, session *models.UploadSession) (*Outcome, error) {
	kind, queue := KindFinalize, jobs.QueueFinalize
	if session.Kind == string(models.UploadKindArchive) {
		kind, queue = KindExtract, jobs.QueueExtract
	}

	task := &models.Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		State:     string(models.TaskStateQueued),
		ProjectID: session.ProjectID,
		Path:      session.Path,
	}

	taskID, err := s.dispatcher.Submit(ctx, queue, task, SessionJob{UploadID: session.ID})
	if err != nil {
		// Reopen the session so the client can retry the completion.
		if stateErr := s.catalog.SetUploadState(ctx, session.ID, models.UploadStateActive); stateErr != nil {
			logger.ErrorCtx(ctx, "Failed to reopen session after submit failure",
				logger.UploadID(session.ID),
				logger.Err(stateErr),
			)
		}
		return nil, fmt.Errorf("failed to submit %s job: %w", kind, err)
	}

	logger.InfoCtx(ctx, "Handed upload to background finalization",
		logger.UploadID(session.ID),
		logger.TaskID(taskID),
		logger.Size(session.Offset),
	)
	return &Outcome{TaskID: taskID}, nil
}

// settle cleans up after a successful publish: workspace, session row,
// lease. The reservation was already committed by the finalizer.
func (s *Service) settle(ctx context.Context, session *models.UploadSession, guard *lock.Guard) {
	cleanupCtx := context.WithoutCancel(ctx)

	if s.metrics != nil {
		s.metrics.RecordSettled(session.Kind, "completed")
	}

	if err := s.spool.Workspace(session.ID).Remove(); err != nil {
		logger.WarnCtx(ctx, "Failed to remove workspace",
			logger.UploadID(session.ID),
			logger.Err(err),
		)
	}
	if err := s.catalog.DeleteUpload(cleanupCtx, session.ID); err != nil && !errors.Is(err, models.ErrUploadNotFound) {
		logger.WarnCtx(ctx, "Failed to delete session",
			logger.UploadID(session.ID),
			logger.Err(err),
		)
	}
	if err := s.locks.Release(cleanupCtx, guard); err != nil {
		logger.WarnCtx(ctx, "Failed to release lease",
			logger.UploadID(session.ID),
			logger.LeaseID(guard.LeaseID),
			logger.Err(err),
		)
	}
}

// expectedChecksum parses the session's declared digest. The string was
// validated at admission; a corrupt row falls back to no expectation.
func (s *Service) expectedChecksum(session *models.UploadSession) checksum.Checksum {
	if session.Checksum == "" {
		return checksum.Checksum{}
	}
	sum, err := checksum.Parse(session.Checksum)
	if err != nil {
		logger.Warn("Ignoring malformed session checksum",
			logger.UploadID(session.ID),
			logger.Err(err),
		)
		return checksum.Checksum{}
	}
	return sum
}

// handleFinalize is the finalize-large job. It re-runs safely: a vanished
// session means a previous delivery finished the epilogue, adopted content
// means a previous delivery crashed mid-publish.
func (s *Service) handleFinalize(ctx context.Context, job *state.Job) error {
	payload, err := jobs.Decode[SessionJob](job)
	if err != nil {
		return jobs.Permanent(err)
	}

	session, err := s.catalog.GetUpload(ctx, payload.UploadID)
	if err != nil {
		if errors.Is(err, models.ErrUploadNotFound) {
			// A previous delivery completed the whole epilogue.
			return nil
		}
		return err
	}

	guard := s.guardFor(session)
	if err := s.locks.Renew(ctx, guard); err != nil {
		if stagingerrors.IsLockLost(err) {
			s.abandon(ctx, session, nil)
			return jobs.Permanent(err)
		}
		return err
	}

	// Touching the state stamps the session as alive so the idle sweep
	// leaves a long-running finalization alone.
	if err := s.catalog.SetUploadState(ctx, session.ID, models.UploadStateFinalizing); err != nil {
		return err
	}

	record, err := s.finalizer.Publish(ctx, finalize.PublishRequest{
		Project:  session.ProjectID,
		Path:     guard.Path,
		Payload:  s.spool.Workspace(session.ID).PayloadPath(),
		Expected: s.expectedChecksum(session),
		Hold:     s.holdFor(session),
		Source:   models.FileSourceUpload,
	})
	if err != nil {
		if permanentPublishFailure(err) {
			s.abandon(ctx, session, guard)
			return jobs.Permanent(err)
		}
		// Transient failure: keep the lease, the reservation and the
		// workspace for the next delivery.
		return err
	}

	s.settle(ctx, session, guard)

	logger.InfoCtx(ctx, "Finalized upload in background",
		logger.UploadID(session.ID),
		logger.Project(session.ProjectID),
		logger.Path(session.Path),
		logger.Size(record.Size),
	)
	return nil
}

// permanentPublishFailure separates failures another delivery cannot fix
// from transient infrastructure trouble.
func permanentPublishFailure(err error) bool {
	switch stagingerrors.CodeOf(err) {
	case stagingerrors.ErrChecksumMismatch,
		stagingerrors.ErrConflict,
		stagingerrors.ErrAlreadyExists,
		stagingerrors.ErrNotFound,
		stagingerrors.ErrInvalidArgument,
		stagingerrors.ErrInvalidPath,
		stagingerrors.ErrTooLarge:
		return true
	default:
		return false
	}
}

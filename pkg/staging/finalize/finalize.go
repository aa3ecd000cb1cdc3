// Package finalize turns verified payloads into durable files and retracts
// durable files again.
//
// Publishing is the commit point of every upload: checksum verification,
// the rename into the durable tree, the catalog record and the quota
// settlement happen here, in that order. The rename goes first so that a
// crash can only ever leave content without a record, never a record
// without content; a retried publish finds the content already in place and
// converges instead of failing.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/internal/telemetry"
	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/catalog/store"
	"github.com/stagefs/stagefs/pkg/staging/checksum"
	stagingerrors "github.com/stagefs/stagefs/pkg/staging/errors"
	"github.com/stagefs/stagefs/pkg/staging/events"
	"github.com/stagefs/stagefs/pkg/staging/lock"
	"github.com/stagefs/stagefs/pkg/staging/quota"
	"github.com/stagefs/stagefs/pkg/staging/resource"
	"github.com/stagefs/stagefs/pkg/staging/spool"
)

// Finalizer publishes payloads and removes durable files. It is stateless;
// all state lives in the catalog, the spool and the quota ledger.
type Finalizer struct {
	catalog store.Store
	spool   *spool.Spool
	ledger  *quota.Ledger
	locks   *lock.Manager
	events  events.Publisher
}

// New creates a finalizer. A nil publisher disables events.
func New(catalog store.Store, sp *spool.Spool, ledger *quota.Ledger, locks *lock.Manager, pub events.Publisher) *Finalizer {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Finalizer{
		catalog: catalog,
		spool:   sp,
		ledger:  ledger,
		locks:   locks,
		events:  pub,
	}
}

// PublishRequest describes one payload ready to become durable. The caller
// holds the lock lease on Path for the whole call.
type PublishRequest struct {
	// Project and Path name the destination.
	Project string
	Path    resource.Path

	// Payload is the location of the payload file on the spool filesystem.
	Payload string

	// Expected is the client-declared digest. Zero means none was declared
	// and the default algorithm is computed for the record.
	Expected checksum.Checksum

	// Hold is the quota reservation backing the payload. It is settled
	// here: committed on success, left to the caller on failure.
	Hold *quota.Hold

	// Source notes how the file arrived, for the catalog record.
	Source string
}

// Publish verifies, renames, records and settles one payload. Calling it
// again after a crash converges: content already renamed is adopted, an
// existing identical record is returned as-is, and an already-settled
// reservation stays settled.
func (f *Finalizer) Publish(ctx context.Context, req PublishRequest) (_ *models.FileRecord, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanFinalize, trace.WithAttributes(
		telemetry.Project(req.Project),
		telemetry.Path(req.Path.String()),
	))
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()

	if req.Hold == nil {
		return nil, stagingerrors.NewInvalidArgumentError("publish without a quota hold")
	}

	src, sum, err := f.verify(ctx, req)
	if err != nil {
		return nil, err
	}

	verified := src
	if verified == "" {
		verified = f.spool.FilePath(req.Project, req.Path)
	}
	info, err := os.Stat(verified)
	if err != nil {
		return nil, fmt.Errorf("failed to stat payload: %w", err)
	}
	size := info.Size()
	span.SetAttributes(
		telemetry.Size(size),
		telemetry.Checksum(sum.String()),
	)

	if src != "" {
		if err := f.spool.Publish(src, req.Project, req.Path); err != nil {
			return nil, err
		}
	}

	record := &models.FileRecord{
		ID:        uuid.NewString(),
		ProjectID: req.Project,
		Path:      req.Path.String(),
		Size:      size,
		Checksum:  sum.String(),
		Source:    req.Source,
		StoredAt:  time.Now().UTC(),
	}

	if _, err := f.catalog.CreateFile(ctx, record); err != nil {
		if !errors.Is(err, models.ErrDuplicateFile) {
			return nil, err
		}
		existing, getErr := f.catalog.GetFile(ctx, req.Project, req.Path.String())
		if getErr != nil {
			return nil, getErr
		}
		if existing.Checksum != sum.String() {
			return nil, stagingerrors.NewConflictError(
				fmt.Sprintf("%q already stored with different content", req.Path))
		}
		record = existing
	}

	if err := f.ledger.Commit(ctx, req.Hold, size); err != nil {
		return nil, err
	}

	f.events.FileCommitted(ctx, req.Project, req.Path.String(), record.Checksum, size)

	logger.InfoCtx(ctx, "Published file",
		logger.Project(req.Project),
		logger.Path(req.Path.String()),
		logger.Size(size),
	)
	return record, nil
}

// verify checks the payload digest. A payload missing from the workspace
// means a previous attempt already renamed it; the durable tree is
// verified instead and an empty src tells the caller to skip the rename.
func (f *Finalizer) verify(ctx context.Context, req PublishRequest) (src string, sum checksum.Checksum, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanFinalizeVerify)
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()

	src = req.Payload
	sum, err = checksum.VerifyFile(src, req.Expected)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		src = ""
		sum, err = checksum.VerifyFile(f.spool.FilePath(req.Project, req.Path), req.Expected)
		if err != nil && errors.Is(err, os.ErrNotExist) {
			return "", checksum.Checksum{}, stagingerrors.NewNotFoundError(req.Path.String(), "payload")
		}
	}
	if err != nil {
		return "", checksum.Checksum{}, err
	}
	return src, sum, nil
}

// RemoveResult reports what a Remove call deleted.
type RemoveResult struct {
	// Files is how many catalog records were removed.
	Files int64

	// Bytes is how many committed bytes were returned to the project.
	Bytes int64
}

// Remove deletes the file at path, or the whole subtree when path names a
// directory prefix. It takes the lock itself; a busy subtree surfaces as a
// lock timeout. The content moves through the trash so readers never see a
// half-deleted file, and the committed bytes flow back to the project.
func (f *Finalizer) Remove(ctx context.Context, project string, path resource.Path) (*RemoveResult, error) {
	guard, err := f.locks.Acquire(ctx, project, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.locks.Release(context.WithoutCancel(ctx), guard)
	}()

	record, err := f.catalog.GetFile(ctx, project, path.String())
	switch {
	case err == nil:
		return f.removeFile(ctx, project, path, record)
	case errors.Is(err, models.ErrFileNotFound):
		return f.removeTree(ctx, project, path)
	default:
		return nil, err
	}
}

// removeFile deletes a single durable file under an already-held lock.
func (f *Finalizer) removeFile(ctx context.Context, project string, path resource.Path, record *models.FileRecord) (*RemoveResult, error) {
	if err := f.catalog.DeleteFile(ctx, project, path.String()); err != nil && !errors.Is(err, models.ErrFileNotFound) {
		return nil, err
	}

	trashID, err := f.spool.Retract(project, path)
	if err != nil {
		return nil, err
	}
	if err := f.spool.PurgeTrash(trashID); err != nil {
		logger.WarnCtx(ctx, "Failed to purge trash entry, leaving it for the sweeper",
			logger.Project(project),
			logger.Path(path.String()),
			logger.Err(err),
		)
	}

	if err := f.ledger.ReleaseCommitted(ctx, project, record.Size); err != nil {
		return nil, err
	}

	f.events.FileDeleted(ctx, project, path.String())

	logger.InfoCtx(ctx, "Deleted file",
		logger.Project(project),
		logger.Path(path.String()),
		logger.Size(record.Size),
	)
	return &RemoveResult{Files: 1, Bytes: record.Size}, nil
}

// removeTree deletes every file under the prefix under an already-held
// lock.
func (f *Finalizer) removeTree(ctx context.Context, project string, prefix resource.Path) (*RemoveResult, error) {
	files, err := f.catalog.ListFiles(ctx, project, prefix.String())
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, stagingerrors.NewNotFoundError(prefix.String(), "file")
	}

	var bytes int64
	for _, file := range files {
		bytes += file.Size
	}

	deleted, err := f.catalog.DeleteFilesByPrefix(ctx, project, prefix.String())
	if err != nil {
		return nil, err
	}

	trashID, err := f.spool.Retract(project, prefix)
	if err != nil {
		return nil, err
	}
	if err := f.spool.PurgeTrash(trashID); err != nil {
		logger.WarnCtx(ctx, "Failed to purge trash entry, leaving it for the sweeper",
			logger.Project(project),
			logger.Path(prefix.String()),
			logger.Err(err),
		)
	}

	if err := f.ledger.ReleaseCommitted(ctx, project, bytes); err != nil {
		return nil, err
	}

	for _, file := range files {
		f.events.FileDeleted(ctx, project, file.Path)
	}

	logger.InfoCtx(ctx, "Deleted subtree",
		logger.Project(project),
		logger.Path(prefix.String()),
		logger.Size(bytes),
	)
	return &RemoveResult{Files: deleted, Bytes: bytes}, nil
}

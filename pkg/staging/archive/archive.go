// Package archive turns an uploaded archive into individual durable files.
//
// Extraction runs as a background job under the upload session's umbrella
// lease. Members are admitted one at a time, each with its own quota
// reservation measured against the declared uncompressed size; a failure on
// any member rolls back every file the job already published, so an archive
// lands wholly or not at all. The archive's own reservation is released at
// the end because the container itself is never kept.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/stagefs/stagefs/internal/bufpool"
	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/internal/telemetry"
	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/catalog/store"
	"github.com/stagefs/stagefs/pkg/staging/checksum"
	stagingerrors "github.com/stagefs/stagefs/pkg/staging/errors"
	"github.com/stagefs/stagefs/pkg/staging/events"
	"github.com/stagefs/stagefs/pkg/staging/jobs"
	"github.com/stagefs/stagefs/pkg/staging/lock"
	"github.com/stagefs/stagefs/pkg/staging/quota"
	"github.com/stagefs/stagefs/pkg/staging/resource"
	"github.com/stagefs/stagefs/pkg/staging/spool"
	"github.com/stagefs/stagefs/pkg/staging/upload"
	"github.com/stagefs/stagefs/pkg/state"
)

// renewEvery is how many members are processed between lease renewals and
// session liveness stamps.
const renewEvery = 256

// scratchName is the workspace file each member is staged in before the
// publish rename.
const scratchName = "entry.tmp"

// Extractor handles extract-archive jobs.
type Extractor struct {
	catalog store.Store
	spool   *spool.Spool
	locks   *lock.Manager
	ledger  *quota.Ledger
	events  events.Publisher
}

// New creates an extractor. A nil publisher disables events.
func New(catalog store.Store, sp *spool.Spool, locks *lock.Manager, ledger *quota.Ledger, pub events.Publisher) *Extractor {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Extractor{
		catalog: catalog,
		spool:   sp,
		locks:   locks,
		ledger:  ledger,
		events:  pub,
	}
}

// RegisterHandlers registers the extract-archive handler on d.
func (e *Extractor) RegisterHandlers(d *jobs.Dispatcher) {
	d.Register(upload.KindExtract, e.handleExtract)
}

// publishedEntry is one member this job made durable, kept for rollback.
type publishedEntry struct {
	path resource.Path
	size int64
}

// handleExtract runs one extract-archive delivery. The session row carries
// the lease and the archive's reservation across redeliveries; a vanished
// session means an earlier delivery finished the whole epilogue.
//
// Extraction failures are terminal. The handler rolls back what it
// published and discards the workspace, so there is nothing left for a
// redelivery to continue from.
func (e *Extractor) handleExtract(ctx context.Context, job *state.Job) (err error) {
	payload, err := jobs.Decode[upload.SessionJob](job)
	if err != nil {
		return jobs.Permanent(err)
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanExtract)
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()
	span.SetAttributes(telemetry.UploadID(payload.UploadID))
	ctx = telemetry.InjectTraceContext(ctx)

	session, err := e.catalog.GetUpload(ctx, payload.UploadID)
	if errors.Is(err, models.ErrUploadNotFound) {
		logger.InfoCtx(ctx, "Upload session already settled, nothing to extract",
			logger.TaskID(job.ID),
		)
		return nil
	}
	if err != nil {
		return err
	}
	span.SetAttributes(
		telemetry.Project(session.ProjectID),
		telemetry.Path(session.Path),
	)

	guard := e.guardFor(session)
	if err := e.locks.Renew(ctx, guard); err != nil {
		if stagingerrors.IsLockLost(err) {
			e.abandon(ctx, session, nil)
			return jobs.Permanent(err)
		}
		return err
	}
	// Stamps the session as alive so the idle sweep leaves a long
	// extraction alone.
	if err := e.catalog.SetUploadState(ctx, session.ID, models.UploadStateFinalizing); err != nil {
		logger.WarnCtx(ctx, "Failed to touch session",
			logger.UploadID(session.ID),
			logger.Err(err),
		)
	}

	published, err := e.extract(ctx, session, guard)
	if err != nil {
		if stagingerrors.IsLockLost(err) {
			// The subtree may already have a new owner; published members
			// are consistent durable files and stay in place.
			e.abandon(ctx, session, nil)
			if len(published) > 0 {
				err = fmt.Errorf("%d already extracted files were kept: %w", len(published), err)
			}
			return jobs.Permanent(err)
		}
		e.rollback(ctx, session, published)
		e.abandon(ctx, session, guard)
		return jobs.Permanent(err)
	}

	e.settle(ctx, session, guard)

	var total int64
	for _, p := range published {
		total += p.size
	}
	logger.InfoCtx(ctx, "Extracted archive",
		logger.UploadID(session.ID),
		logger.Project(session.ProjectID),
		logger.Path(session.Path),
		"files", len(published),
		"bytes", total,
	)
	return nil
}

// extract verifies the archive and admits its members one by one. It
// returns every member made durable so far, including members adopted from
// an earlier delivery, whether or not it also returns an error.
func (e *Extractor) extract(ctx context.Context, session *models.UploadSession, guard *lock.Guard) ([]publishedEntry, error) {
	ws := e.spool.Workspace(session.ID)

	if session.Checksum != "" {
		expected, err := checksum.Parse(session.Checksum)
		if err != nil {
			return nil, stagingerrors.NewInvalidArgumentError(fmt.Sprintf("malformed session checksum: %v", err))
		}
		if _, err := checksum.VerifyFile(ws.PayloadPath(), expected); err != nil {
			return nil, err
		}
	}

	format, err := DetectFormat(ws.PayloadPath())
	if err != nil {
		return nil, err
	}

	it, err := openArchive(ws.PayloadPath(), format)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	base := resource.Path(session.Path)
	var published []publishedEntry
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		if i > 0 && i%renewEvery == 0 {
			if err := e.locks.Renew(ctx, guard); err != nil {
				return published, err
			}
			if err := e.catalog.SetUploadState(ctx, session.ID, models.UploadStateFinalizing); err != nil {
				logger.WarnCtx(ctx, "Failed to touch session",
					logger.UploadID(session.ID),
					logger.Err(err),
				)
			}
		}

		ent, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return published, err
		}

		target, err := entryTarget(base, ent.name)
		if err != nil {
			return published, err
		}

		pub, err := e.processEntry(ctx, session, ws, ent, target)
		if err != nil {
			return published, err
		}
		published = append(published, pub)
	}
	return published, nil
}

// entryTarget maps a member name to its project path under base. Escaping
// names are rejected rather than clamped.
func entryTarget(base resource.Path, name string) (resource.Path, error) {
	target, err := base.Join(name)
	if err != nil {
		return resource.Root, stagingerrors.NewInvalidPathError(name, "archive member escapes the extraction root")
	}
	if !target.HasPrefix(base) || target == base {
		return resource.Root, stagingerrors.NewInvalidPathError(name, "archive member escapes the extraction root")
	}
	return target, nil
}

// processEntry admits one member: reserve, stage, publish, record, commit.
// A member already recorded by an earlier delivery of this job is verified
// and adopted without charging quota again.
func (e *Extractor) processEntry(ctx context.Context, session *models.UploadSession, ws *spool.Workspace, ent *entry, target resource.Path) (_ publishedEntry, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanExtractEntry)
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()
	span.SetAttributes(
		telemetry.Path(target.String()),
		telemetry.Size(ent.size),
	)

	if ent.size < 0 {
		return publishedEntry{}, stagingerrors.NewInvalidArgumentError(fmt.Sprintf("archive member %q declares a negative size", ent.name))
	}

	existing, err := e.catalog.GetFile(ctx, session.ProjectID, target.String())
	switch {
	case err == nil:
		return e.adoptEntry(ctx, session, ent, target, existing)
	case errors.Is(err, models.ErrFileNotFound):
	default:
		return publishedEntry{}, err
	}

	hold, err := e.ledger.Reserve(ctx, session.ProjectID, ent.size)
	if err != nil {
		return publishedEntry{}, fmt.Errorf("archive member %q: %w", ent.name, err)
	}

	scratch, sum, n, err := e.stageEntry(ws, ent)
	if err != nil {
		e.releaseHold(ctx, session, hold)
		return publishedEntry{}, err
	}

	if err := e.spool.Publish(scratch, session.ProjectID, target); err != nil {
		os.Remove(scratch)
		e.releaseHold(ctx, session, hold)
		return publishedEntry{}, fmt.Errorf("archive member %q: %w", ent.name, err)
	}

	record := &models.FileRecord{
		ID:        uuid.NewString(),
		ProjectID: session.ProjectID,
		Path:      target.String(),
		Size:      n,
		Checksum:  sum.String(),
		Source:    models.FileSourceArchive,
		StoredAt:  time.Now().UTC(),
	}
	if _, err := e.catalog.CreateFile(ctx, record); err != nil {
		e.retractEntry(ctx, session, target)
		e.releaseHold(ctx, session, hold)
		return publishedEntry{}, fmt.Errorf("archive member %q: %w", ent.name, err)
	}
	if err := e.ledger.Commit(ctx, hold, n); err != nil {
		if derr := e.catalog.DeleteFile(ctx, session.ProjectID, target.String()); derr != nil && !errors.Is(derr, models.ErrFileNotFound) {
			logger.WarnCtx(ctx, "Failed to delete record while unwinding member",
				logger.Project(session.ProjectID),
				logger.Path(target.String()),
				logger.Err(derr),
			)
		}
		e.retractEntry(ctx, session, target)
		e.releaseHold(ctx, session, hold)
		return publishedEntry{}, fmt.Errorf("archive member %q: %w", ent.name, err)
	}

	e.events.FileCommitted(ctx, session.ProjectID, target.String(), record.Checksum, n)
	logger.DebugCtx(ctx, "Extracted archive member",
		logger.Project(session.ProjectID),
		logger.Path(target.String()),
		logger.Size(n),
	)
	return publishedEntry{path: target, size: n}, nil
}

// adoptEntry handles a member whose path is already recorded. A record this
// job wrote on an earlier delivery is verified against the member and kept;
// anything older than the session is a collision with existing project
// content.
func (e *Extractor) adoptEntry(ctx context.Context, session *models.UploadSession, ent *entry, target resource.Path, existing *models.FileRecord) (publishedEntry, error) {
	ours := existing.Source == models.FileSourceArchive && !existing.StoredAt.Before(session.CreatedAt)
	if !ours {
		return publishedEntry{}, stagingerrors.NewConflictError(fmt.Sprintf("archive member %q collides with an existing file", ent.name))
	}

	// Drain the member either way: tar members share the archive stream.
	sum, n, err := consumeEntry(ent, io.Discard)
	if err != nil {
		return publishedEntry{}, err
	}
	recorded, err := checksum.Parse(existing.Checksum)
	if err != nil || !recorded.Equal(sum) || existing.Size != n {
		return publishedEntry{}, stagingerrors.NewConflictError(fmt.Sprintf("archive member %q collides with an existing file", ent.name))
	}

	logger.DebugCtx(ctx, "Adopted member extracted by an earlier delivery",
		logger.Project(session.ProjectID),
		logger.Path(target.String()),
	)
	return publishedEntry{path: target, size: n}, nil
}

// stageEntry writes one member to the workspace scratch file and returns
// its path, digest and size.
func (e *Extractor) stageEntry(ws *spool.Workspace, ent *entry) (string, checksum.Checksum, int64, error) {
	f, err := ws.CreateScratch(scratchName)
	if err != nil {
		return "", checksum.Checksum{}, 0, err
	}
	scratch := f.Name()

	sum, n, err := consumeEntry(ent, f)
	if err != nil {
		f.Close()
		os.Remove(scratch)
		return "", checksum.Checksum{}, 0, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(scratch)
		return "", checksum.Checksum{}, 0, err
	}
	if err := f.Close(); err != nil {
		os.Remove(scratch)
		return "", checksum.Checksum{}, 0, err
	}
	return scratch, sum, n, nil
}

// consumeEntry streams one member into w, hashing as it goes and holding
// the member to its declared size. A member that decompresses to more
// bytes than its header claims is rejected before it can exceed the
// reservation taken for it.
func consumeEntry(ent *entry, w io.Writer) (checksum.Checksum, int64, error) {
	rc, err := ent.open()
	if err != nil {
		return checksum.Checksum{}, 0, fmt.Errorf("archive member %q: %w", ent.name, err)
	}
	defer rc.Close()

	hw := checksum.NewWriter(w, checksum.SHA256)
	buf := bufpool.Get(bufpool.LargeSize)
	defer bufpool.Put(buf)
	n, err := io.CopyBuffer(hw, io.LimitReader(rc, ent.size+1), buf)
	if err != nil {
		return checksum.Checksum{}, 0, fmt.Errorf("archive member %q: %w", ent.name, err)
	}
	if n != ent.size {
		return checksum.Checksum{}, 0, stagingerrors.NewInvalidArgumentError(fmt.Sprintf("archive member %q is %d bytes, header declares %d", ent.name, n, ent.size))
	}
	return hw.Sum(), n, nil
}

// rollback undoes every member this job published, newest first. A record
// that cannot be deleted keeps its content; the tree never ends up with a
// record pointing at nothing.
func (e *Extractor) rollback(ctx context.Context, session *models.UploadSession, published []publishedEntry) {
	if len(published) == 0 {
		return
	}
	cleanupCtx := context.WithoutCancel(ctx)

	for i := len(published) - 1; i >= 0; i-- {
		p := published[i]
		if err := e.catalog.DeleteFile(cleanupCtx, session.ProjectID, p.path.String()); err != nil && !errors.Is(err, models.ErrFileNotFound) {
			logger.WarnCtx(ctx, "Rollback failed to delete file record",
				logger.Project(session.ProjectID),
				logger.Path(p.path.String()),
				logger.Err(err),
			)
			continue
		}
		e.retractEntry(ctx, session, p.path)
		if err := e.ledger.ReleaseCommitted(cleanupCtx, session.ProjectID, p.size); err != nil {
			logger.WarnCtx(ctx, "Rollback failed to release committed bytes",
				logger.Project(session.ProjectID),
				logger.Path(p.path.String()),
				logger.Err(err),
			)
		}
		e.events.FileDeleted(cleanupCtx, session.ProjectID, p.path.String())
	}

	logger.InfoCtx(ctx, "Rolled back extracted members",
		logger.UploadID(session.ID),
		logger.Project(session.ProjectID),
		"members", len(published),
	)
}

// retractEntry pulls one published member back out of the durable tree.
func (e *Extractor) retractEntry(ctx context.Context, session *models.UploadSession, path resource.Path) {
	trashID, err := e.spool.Retract(session.ProjectID, path)
	if err != nil {
		logger.WarnCtx(ctx, "Failed to retract member content",
			logger.Project(session.ProjectID),
			logger.Path(path.String()),
			logger.Err(err),
		)
		return
	}
	if trashID == "" {
		return
	}
	if err := e.spool.PurgeTrash(trashID); err != nil {
		logger.WarnCtx(ctx, "Failed to purge retracted member, leaving it for the sweeper",
			logger.Project(session.ProjectID),
			logger.Path(path.String()),
			logger.Err(err),
		)
	}
}

func (e *Extractor) releaseHold(ctx context.Context, session *models.UploadSession, hold *quota.Hold) {
	if err := e.ledger.Release(context.WithoutCancel(ctx), hold); err != nil {
		logger.WarnCtx(ctx, "Failed to release member reservation",
			logger.Project(session.ProjectID),
			logger.ReservationID(hold.ID),
			logger.Err(err),
		)
	}
}

// settle finishes a successful extraction. The session row goes first: a
// redelivery that finds no session knows the extraction completed, and a
// crash between the remaining steps leaves only orphans the sweeper
// reclaims.
func (e *Extractor) settle(ctx context.Context, session *models.UploadSession, guard *lock.Guard) {
	cleanupCtx := context.WithoutCancel(ctx)

	if err := e.catalog.DeleteUpload(cleanupCtx, session.ID); err != nil && !errors.Is(err, models.ErrUploadNotFound) {
		logger.WarnCtx(ctx, "Failed to delete session",
			logger.UploadID(session.ID),
			logger.Err(err),
		)
	}
	if err := e.ledger.Release(cleanupCtx, e.holdFor(session)); err != nil {
		logger.WarnCtx(ctx, "Failed to release archive reservation",
			logger.UploadID(session.ID),
			logger.ReservationID(session.ReservationID),
			logger.Err(err),
		)
	}
	if err := e.spool.Workspace(session.ID).Remove(); err != nil {
		logger.WarnCtx(ctx, "Failed to remove workspace",
			logger.UploadID(session.ID),
			logger.Err(err),
		)
	}
	if err := e.locks.Release(cleanupCtx, guard); err != nil {
		logger.WarnCtx(ctx, "Failed to release lease",
			logger.UploadID(session.ID),
			logger.LeaseID(guard.LeaseID),
			logger.Err(err),
		)
	}
}

// abandon tears a failed session down: workspace, archive reservation,
// session row, and the lease last. Every step tolerates having already
// happened.
func (e *Extractor) abandon(ctx context.Context, session *models.UploadSession, guard *lock.Guard) {
	cleanupCtx := context.WithoutCancel(ctx)

	if err := e.spool.Workspace(session.ID).Remove(); err != nil {
		logger.WarnCtx(ctx, "Failed to remove workspace",
			logger.UploadID(session.ID),
			logger.Err(err),
		)
	}
	if err := e.ledger.Release(cleanupCtx, e.holdFor(session)); err != nil {
		logger.WarnCtx(ctx, "Failed to release reservation",
			logger.UploadID(session.ID),
			logger.ReservationID(session.ReservationID),
			logger.Err(err),
		)
	}
	if err := e.catalog.DeleteUpload(cleanupCtx, session.ID); err != nil && !errors.Is(err, models.ErrUploadNotFound) {
		logger.WarnCtx(ctx, "Failed to delete session",
			logger.UploadID(session.ID),
			logger.Err(err),
		)
	}
	if guard != nil {
		if err := e.locks.Release(cleanupCtx, guard); err != nil {
			logger.WarnCtx(ctx, "Failed to release lease",
				logger.UploadID(session.ID),
				logger.LeaseID(guard.LeaseID),
				logger.Err(err),
			)
		}
	}
}

// guardFor rebuilds the lock guard persisted with the session.
func (e *Extractor) guardFor(session *models.UploadSession) *lock.Guard {
	return &lock.Guard{
		LeaseID: session.LeaseID,
		Holder:  session.Holder,
		Project: session.ProjectID,
		Path:    resource.Path(session.Path),
	}
}

// holdFor rebuilds the quota hold persisted with the session.
func (e *Extractor) holdFor(session *models.UploadSession) *quota.Hold {
	return quota.RestoreHold(session.ReservationID, session.ProjectID, session.ReservedBytes)
}

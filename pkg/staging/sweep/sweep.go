// Package sweep reclaims what the staging area no longer needs.
//
// The sweeper runs on a fixed interval and walks several independent duties:
// files past their retention window, upload sessions idle beyond any chance
// of resuming, finished task rows, orphaned reservations and workspaces left
// by crashes, trash remnants, and expired lock leases. Every duty tolerates
// concurrent operations: candidates are re-checked under a lock where it
// matters, busy subtrees are skipped rather than forced, and each pass is
// idempotent.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/internal/telemetry"
	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/catalog/store"
	stagingerrors "github.com/stagefs/stagefs/pkg/staging/errors"
	"github.com/stagefs/stagefs/pkg/staging/events"
	"github.com/stagefs/stagefs/pkg/staging/lock"
	"github.com/stagefs/stagefs/pkg/staging/quota"
	"github.com/stagefs/stagefs/pkg/staging/resource"
	"github.com/stagefs/stagefs/pkg/staging/spool"
)

// ReferenceChecker answers whether a stored file is still referenced by an
// accepted preservation dataset. Referenced files are never purged, however
// old they are. An error means the answer is unknown; the sweeper then keeps
// the file.
type ReferenceChecker interface {
	Referenced(ctx context.Context, project, path string) (bool, error)
}

// NoReferences is the checker for deployments without a dataset system;
// nothing is ever considered referenced.
type NoReferences struct{}

// Compile-time interface check.
var _ ReferenceChecker = NoReferences{}

func (NoReferences) Referenced(context.Context, string, string) (bool, error) {
	return false, nil
}

// Config holds sweeper configuration.
type Config struct {
	// Interval is how often a sweep pass runs.
	// Default: 1h
	Interval time.Duration `mapstructure:"interval" json:"interval" yaml:"interval"`

	// FileRetention is how long a file is kept after it became durable.
	// Default: 720h (thirty days)
	FileRetention time.Duration `mapstructure:"file_retention" json:"file_retention" yaml:"file_retention"`

	// SessionIdleAge is how long an upload session may sit untouched
	// before it is written off. Appends renew the session's prefix lease,
	// so a session idle past the lease TTL has necessarily lost its lease
	// and can never resume.
	// Default: 12h (the lock lease TTL)
	SessionIdleAge time.Duration `mapstructure:"session_idle_age" json:"session_idle_age" yaml:"session_idle_age"`

	// TaskRetention is how long finished task rows stay visible to
	// polling clients.
	// Default: 168h (seven days)
	TaskRetention time.Duration `mapstructure:"task_retention" json:"task_retention" yaml:"task_retention"`

	// OrphanAge is the minimum age of a reservation row, workspace, or
	// trash entry before it counts as a crash leftover. Must comfortably
	// exceed the job timeout times the attempt budget, so artifacts of
	// live background work are never reclaimed under them.
	// Default: 60h
	OrphanAge time.Duration `mapstructure:"orphan_age" json:"orphan_age" yaml:"orphan_age"`

	// PurgeLimit caps how many expired files one pass deletes.
	// Default: 500
	PurgeLimit int `mapstructure:"purge_limit" json:"purge_limit" yaml:"purge_limit"`
}

// DefaultConfig returns the default sweeper configuration.
func DefaultConfig() Config {
	return Config{
		Interval:       time.Hour,
		FileRetention:  30 * 24 * time.Hour,
		SessionIdleAge: 12 * time.Hour,
		TaskRetention:  7 * 24 * time.Hour,
		OrphanAge:      60 * time.Hour,
		PurgeLimit:     500,
	}
}

// Report counts what one sweep pass reclaimed.
type Report struct {
	FilesPurged           int   `json:"files_purged"`
	BytesPurged           int64 `json:"bytes_purged"`
	SessionsExpired       int   `json:"sessions_expired"`
	TasksPruned           int64 `json:"tasks_pruned"`
	ReservationsReclaimed int   `json:"reservations_reclaimed"`
	WorkspacesRemoved     int   `json:"workspaces_removed"`
	TrashPurged           int   `json:"trash_purged"`
	LeasesSwept           int   `json:"leases_swept"`
}

// Empty reports whether the pass found nothing to do.
func (r *Report) Empty() bool {
	return r.FilesPurged == 0 && r.SessionsExpired == 0 && r.TasksPruned == 0 &&
		r.ReservationsReclaimed == 0 && r.WorkspacesRemoved == 0 &&
		r.TrashPurged == 0 && r.LeasesSwept == 0
}

// Sweeper owns the cleanup loop.
type Sweeper struct {
	catalog store.Store
	spool   *spool.Spool
	locks   *lock.Manager
	ledger  *quota.Ledger
	events  events.Publisher
	refs    ReferenceChecker
	metrics SweepMetrics

	interval       time.Duration
	fileRetention  time.Duration
	sessionIdleAge time.Duration
	taskRetention  time.Duration
	orphanAge      time.Duration
	purgeLimit     int

	mu        sync.Mutex
	started   bool
	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// New creates a sweeper. A nil publisher discards events, a nil checker
// considers nothing referenced, a nil metrics disables collection. Zero
// config fields fall back to defaults.
func New(catalog store.Store, sp *spool.Spool, locks *lock.Manager, ledger *quota.Ledger, pub events.Publisher, refs ReferenceChecker, cfg Config, metrics SweepMetrics) *Sweeper {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if refs == nil {
		refs = NoReferences{}
	}

	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FileRetention <= 0 {
		cfg.FileRetention = def.FileRetention
	}
	if cfg.SessionIdleAge <= 0 {
		cfg.SessionIdleAge = def.SessionIdleAge
	}
	if cfg.TaskRetention <= 0 {
		cfg.TaskRetention = def.TaskRetention
	}
	if cfg.OrphanAge <= 0 {
		cfg.OrphanAge = def.OrphanAge
	}
	if cfg.PurgeLimit <= 0 {
		cfg.PurgeLimit = def.PurgeLimit
	}

	return &Sweeper{
		catalog:        catalog,
		spool:          sp,
		locks:          locks,
		ledger:         ledger,
		events:         pub,
		refs:           refs,
		metrics:        metrics,
		interval:       cfg.Interval,
		fileRetention:  cfg.FileRetention,
		sessionIdleAge: cfg.SessionIdleAge,
		taskRetention:  cfg.TaskRetention,
		orphanAge:      cfg.OrphanAge,
		purgeLimit:     cfg.PurgeLimit,
		stopCh:         make(chan struct{}),
		stoppedCh:      make(chan struct{}),
	}
}

// Start launches the periodic sweep loop. The first pass runs after one
// interval, not immediately, so a restart storm does not multiply deletes.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	logger.Info("Starting sweeper", "interval", s.interval.String())

	s.wg.Add(1)
	go s.loop(ctx)

	go func() {
		s.wg.Wait()
		close(s.stoppedCh)
	}()
}

// Stop shuts the sweeper down, waiting up to timeout for an in-flight pass.
func (s *Sweeper) Stop(timeout time.Duration) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.stoppedCh:
		logger.Info("Sweeper stopped")
	case <-time.After(timeout):
		logger.Warn("Sweeper stop timed out")
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.RunOnce(ctx)
			if err != nil {
				logger.Error("Sweep pass finished with errors", "error", err)
			}
			if !report.Empty() {
				logger.Info("Sweep pass reclaimed artifacts",
					"files", report.FilesPurged,
					"bytes", report.BytesPurged,
					"sessions", report.SessionsExpired,
					"tasks", report.TasksPruned,
					"reservations", report.ReservationsReclaimed,
					"workspaces", report.WorkspacesRemoved,
					"trash", report.TrashPurged,
					"leases", report.LeasesSwept)
			}
		}
	}
}

// RunOnce executes one full sweep pass. Duties are independent; a failing
// one is reported and the rest still run.
func (s *Sweeper) RunOnce(ctx context.Context) (*Report, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanSweep)
	defer span.End()
	ctx = telemetry.InjectTraceContext(ctx)

	now := time.Now()
	report := &Report{}

	errs := []error{
		s.purgeFiles(ctx, now, report),
		s.expireSessions(ctx, now, report),
		s.pruneTasks(ctx, now, report),
		s.reclaimReservations(ctx, now, report),
		s.removeOrphanWorkspaces(ctx, now, report),
		s.emptyTrash(ctx, now, report),
		s.sweepLeases(ctx, report),
	}

	if s.metrics != nil {
		s.metrics.RecordPass(report)
	}

	err := errors.Join(errs...)
	telemetry.RecordError(ctx, err)
	return report, err
}

// purgeFiles deletes files stored longer than the retention window.
func (s *Sweeper) purgeFiles(ctx context.Context, now time.Time, report *Report) error {
	cutoff := now.Add(-s.fileRetention)

	records, err := s.catalog.ListFilesStoredBefore(ctx, cutoff, s.purgeLimit)
	if err != nil {
		return fmt.Errorf("failed to list expired files: %w", err)
	}

	for _, record := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.purgeFile(ctx, record, cutoff) {
			report.FilesPurged++
			report.BytesPurged += record.Size
		}
	}
	return nil
}

// purgeFile deletes one expired file under its lock. Returns false whenever
// the file is kept, for whatever reason; a skipped candidate comes back on
// the next pass.
func (s *Sweeper) purgeFile(ctx context.Context, record *models.FileRecord, cutoff time.Time) bool {
	path, err := resource.ParseFile(record.Path)
	if err != nil {
		logger.WarnCtx(ctx, "Skipping expired file with unusable path",
			logger.Project(record.ProjectID),
			logger.Path(record.Path),
			logger.Err(err),
		)
		return false
	}

	guard, err := s.locks.TryAcquire(ctx, record.ProjectID, path)
	if err != nil {
		if stagingerrors.IsLockTimeout(err) {
			logger.DebugCtx(ctx, "Skipping expired file, subtree is busy",
				logger.Project(record.ProjectID),
				logger.Path(record.Path),
			)
		} else {
			logger.WarnCtx(ctx, "Failed to lock expired file",
				logger.Project(record.ProjectID),
				logger.Path(record.Path),
				logger.Err(err),
			)
		}
		return false
	}
	defer func() {
		if err := s.locks.Release(context.WithoutCancel(ctx), guard); err != nil {
			logger.WarnCtx(ctx, "Failed to release sweep lease",
				logger.LeaseID(guard.LeaseID),
				logger.Err(err),
			)
		}
	}()

	// Re-check under the lock; the file may have been replaced or removed
	// while the candidate list was drawn up.
	fresh, err := s.catalog.GetFile(ctx, record.ProjectID, record.Path)
	if err != nil {
		if !errors.Is(err, models.ErrFileNotFound) {
			logger.WarnCtx(ctx, "Failed to re-check expired file",
				logger.Project(record.ProjectID),
				logger.Path(record.Path),
				logger.Err(err),
			)
		}
		return false
	}
	if fresh.StoredAt.After(cutoff) {
		return false
	}

	referenced, err := s.refs.Referenced(ctx, record.ProjectID, record.Path)
	if err != nil {
		// Unknown means kept. Deleting a preserved file is the one
		// mistake this loop must never make.
		logger.WarnCtx(ctx, "Keeping expired file, reference check failed",
			logger.Project(record.ProjectID),
			logger.Path(record.Path),
			logger.Err(err),
		)
		return false
	}
	if referenced {
		logger.DebugCtx(ctx, "Keeping expired file, referenced by a dataset",
			logger.Project(record.ProjectID),
			logger.Path(record.Path),
		)
		return false
	}

	if err := s.deleteFile(ctx, record.ProjectID, path, fresh.Size); err != nil {
		logger.WarnCtx(ctx, "Failed to purge expired file",
			logger.Project(record.ProjectID),
			logger.Path(record.Path),
			logger.Err(err),
		)
		return false
	}

	logger.InfoCtx(ctx, "Purged expired file",
		logger.Project(record.ProjectID),
		logger.Path(record.Path),
		logger.Size(fresh.Size),
		"stored_at", fresh.StoredAt.Format(time.RFC3339),
	)
	return true
}

// deleteFile removes record, content, and accounting for one file. The
// record goes first so the catalog never points at missing content; the
// committed bytes follow the record, not the disk.
func (s *Sweeper) deleteFile(ctx context.Context, project string, path resource.Path, size int64) error {
	if err := s.catalog.DeleteFile(ctx, project, path.String()); err != nil {
		return err
	}

	cleanupCtx := context.WithoutCancel(ctx)

	if trashID, err := s.spool.Retract(project, path); err != nil {
		logger.WarnCtx(ctx, "Failed to retract purged file content",
			logger.Project(project),
			logger.Path(path.String()),
			logger.Err(err),
		)
	} else if err := s.spool.PurgeTrash(trashID); err != nil {
		logger.WarnCtx(ctx, "Failed to purge trash entry, leaving it for the trash sweep",
			logger.Project(project),
			logger.Err(err),
		)
	}

	if err := s.ledger.ReleaseCommitted(cleanupCtx, project, size); err != nil {
		logger.WarnCtx(ctx, "Failed to release committed bytes",
			logger.Project(project),
			logger.Size(size),
			logger.Err(err),
		)
	}

	s.events.FileDeleted(ctx, project, path.String())
	return nil
}

// expireSessions abandons upload sessions idle past any chance of resuming.
// Their leases expired long ago, so no lock is needed; teardown mirrors an
// upload abort and tolerates racing with one.
func (s *Sweeper) expireSessions(ctx context.Context, now time.Time, report *Report) error {
	cutoff := now.Add(-s.sessionIdleAge)

	sessions, err := s.catalog.ListUploadsIdleSince(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list idle sessions: %w", err)
	}

	for _, session := range sessions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.expireSession(ctx, session)
		report.SessionsExpired++
	}
	return nil
}

func (s *Sweeper) expireSession(ctx context.Context, session *models.UploadSession) {
	cleanupCtx := context.WithoutCancel(ctx)

	if err := s.spool.Workspace(session.ID).Remove(); err != nil {
		logger.WarnCtx(ctx, "Failed to remove workspace of idle session",
			logger.UploadID(session.ID),
			logger.Err(err),
		)
	}
	hold := quota.RestoreHold(session.ReservationID, session.ProjectID, session.ReservedBytes)
	if err := s.ledger.Release(cleanupCtx, hold); err != nil {
		logger.WarnCtx(ctx, "Failed to release reservation of idle session",
			logger.UploadID(session.ID),
			logger.ReservationID(session.ReservationID),
			logger.Err(err),
		)
	}
	if err := s.catalog.DeleteUpload(cleanupCtx, session.ID); err != nil && !errors.Is(err, models.ErrUploadNotFound) {
		logger.WarnCtx(ctx, "Failed to delete idle session",
			logger.UploadID(session.ID),
			logger.Err(err),
		)
	}
	guard := &lock.Guard{
		LeaseID: session.LeaseID,
		Holder:  session.Holder,
		Project: session.ProjectID,
		Path:    resource.Path(session.Path),
	}
	if err := s.locks.Release(cleanupCtx, guard); err != nil {
		logger.WarnCtx(ctx, "Failed to release lease of idle session",
			logger.UploadID(session.ID),
			logger.LeaseID(session.LeaseID),
			logger.Err(err),
		)
	}

	logger.InfoCtx(ctx, "Expired idle upload session",
		logger.UploadID(session.ID),
		logger.Project(session.ProjectID),
		logger.Path(session.Path),
		"idle_since", session.UpdatedAt.Format(time.RFC3339),
	)
}

// pruneTasks drops finished task rows past their retention.
func (s *Sweeper) pruneTasks(ctx context.Context, now time.Time, report *Report) error {
	n, err := s.catalog.DeleteTasksFinishedBefore(ctx, now.Add(-s.taskRetention))
	if err != nil {
		return fmt.Errorf("failed to prune finished tasks: %w", err)
	}
	report.TasksPruned = n
	return nil
}

// reclaimReservations releases reservation rows that no session references.
// A crash between staging a file and settling its reservation leaks the row;
// nothing else ever will. Holds of live background jobs are unreferenced too,
// but the orphan age comfortably outlasts the attempt budget, so only true
// leftovers get this far.
func (s *Sweeper) reclaimReservations(ctx context.Context, now time.Time, report *Report) error {
	cutoff := now.Add(-s.orphanAge)

	projects, err := s.catalog.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}

	for _, project := range projects {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rows, err := s.catalog.ListReservations(ctx, project.ID)
		if err != nil {
			logger.WarnCtx(ctx, "Failed to list reservations",
				logger.Project(project.ID),
				logger.Err(err),
			)
			continue
		}
		if len(rows) == 0 {
			continue
		}

		sessions, err := s.catalog.ListUploads(ctx, project.ID)
		if err != nil {
			logger.WarnCtx(ctx, "Failed to list sessions",
				logger.Project(project.ID),
				logger.Err(err),
			)
			continue
		}
		live := make(map[string]struct{}, len(sessions))
		for _, session := range sessions {
			live[session.ReservationID] = struct{}{}
		}

		for _, row := range rows {
			if row.CreatedAt.After(cutoff) {
				continue
			}
			if _, held := live[row.ID]; held {
				continue
			}
			if err := s.ledger.Release(ctx, quota.RestoreHold(row.ID, row.ProjectID, row.Bytes)); err != nil {
				logger.WarnCtx(ctx, "Failed to reclaim orphaned reservation",
					logger.Project(row.ProjectID),
					logger.ReservationID(row.ID),
					logger.Err(err),
				)
				continue
			}
			report.ReservationsReclaimed++
			logger.InfoCtx(ctx, "Reclaimed orphaned reservation",
				logger.Project(row.ProjectID),
				logger.ReservationID(row.ID),
				logger.Size(row.Bytes),
			)
		}
	}
	return nil
}

// removeOrphanWorkspaces deletes workspace directories whose session is
// gone. Live sessions keep their workspaces regardless of age; the idle
// session sweep is what retires those.
func (s *Sweeper) removeOrphanWorkspaces(ctx context.Context, now time.Time, report *Report) error {
	cutoff := now.Add(-s.orphanAge)

	infos, err := s.spool.ListWorkspaces()
	if err != nil {
		return fmt.Errorf("failed to list workspaces: %w", err)
	}

	for _, info := range infos {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.ModTime.After(cutoff) {
			continue
		}

		_, err := s.catalog.GetUpload(ctx, info.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, models.ErrUploadNotFound) {
			logger.WarnCtx(ctx, "Failed to check workspace session",
				logger.UploadID(info.ID),
				logger.Err(err),
			)
			continue
		}

		if err := s.spool.Workspace(info.ID).Remove(); err != nil {
			logger.WarnCtx(ctx, "Failed to remove orphaned workspace",
				logger.UploadID(info.ID),
				logger.Err(err),
			)
			continue
		}
		report.WorkspacesRemoved++
		logger.InfoCtx(ctx, "Removed orphaned workspace",
			logger.UploadID(info.ID),
		)
	}
	return nil
}

// emptyTrash removes trash entries old enough that no retraction is still
// replaying around them.
func (s *Sweeper) emptyTrash(ctx context.Context, now time.Time, report *Report) error {
	n, err := s.spool.EmptyTrash(now.Add(-s.orphanAge))
	if err != nil {
		return fmt.Errorf("failed to empty trash: %w", err)
	}
	report.TrashPurged = n
	return nil
}

// sweepLeases drops expired lease rows from the state store.
func (s *Sweeper) sweepLeases(ctx context.Context, report *Report) error {
	n, err := s.locks.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to sweep expired leases: %w", err)
	}
	report.LeasesSwept = n
	return nil
}

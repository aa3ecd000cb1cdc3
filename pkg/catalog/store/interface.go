// Package store provides the catalog persistence layer.
//
// This package implements the Store interface for managing catalog data
// including projects, quota reservations, file records, upload sessions,
// background tasks and API keys.
//
// Two backends are supported:
//   - SQLite (single-node, default)
//   - PostgreSQL (HA-capable)
package store

import (
	"context"
	"time"

	"github.com/stagefs/stagefs/pkg/catalog/models"
)

// Store provides the catalog persistence interface.
//
// Thread Safety: Implementations must be safe for concurrent use from
// multiple goroutines.
//
// The Store interface supports both SQLite (single-node) and PostgreSQL
// (HA) backends.
type Store interface {
	// ============================================
	// PROJECT OPERATIONS
	// ============================================

	// GetProject returns a project by ID.
	// Returns models.ErrProjectNotFound if the project doesn't exist.
	GetProject(ctx context.Context, id string) (*models.Project, error)

	// ListProjects returns all projects.
	ListProjects(ctx context.Context) ([]*models.Project, error)

	// CreateProject creates a new project.
	// Returns models.ErrDuplicateProject if a project with the same ID exists.
	CreateProject(ctx context.Context, project *models.Project) error

	// UpdateProjectQuota changes a project's quota limit.
	// Returns models.ErrProjectNotFound if the project doesn't exist.
	UpdateProjectQuota(ctx context.Context, id string, quotaBytes int64) error

	// DeleteProject deletes a project and its reservations.
	// Returns models.ErrProjectNotFound if the project doesn't exist.
	DeleteProject(ctx context.Context, id string) error

	// ============================================
	// QUOTA RESERVATION OPERATIONS
	// ============================================

	// ReserveBytes atomically reserves bytes against the project's quota
	// and records a reservation. The mutation is guarded by the project's
	// version column: a concurrent update returns models.ErrStaleProject
	// and the caller should retry.
	// Returns models.ErrInsufficientQuota if the free space is too small.
	ReserveBytes(ctx context.Context, projectID, reservationID string, bytes int64) error

	// CommitReservation settles a reservation: the reserved bytes are
	// released and actualBytes are added to the committed counter.
	// Deleting the reservation row makes the operation idempotent; a
	// missing row returns models.ErrReservationNotFound.
	CommitReservation(ctx context.Context, projectID, reservationID string, actualBytes int64) error

	// ReleaseReservation cancels a reservation without committing any
	// bytes. A missing row returns models.ErrReservationNotFound.
	ReleaseReservation(ctx context.Context, projectID, reservationID string) error

	// ReleaseCommitted subtracts bytes from a project's committed counter,
	// e.g. after a file deletion.
	// Returns models.ErrProjectNotFound if the project doesn't exist.
	ReleaseCommitted(ctx context.Context, projectID string, bytes int64) error

	// ListReservations returns all open reservations for a project.
	ListReservations(ctx context.Context, projectID string) ([]*models.Reservation, error)

	// ============================================
	// FILE RECORD OPERATIONS
	// ============================================

	// CreateFile records a stored file.
	// Returns models.ErrDuplicateFile if the (project, path) pair exists.
	CreateFile(ctx context.Context, file *models.FileRecord) (string, error)

	// GetFile returns a file record by project and path.
	// Returns models.ErrFileNotFound if the record doesn't exist.
	GetFile(ctx context.Context, projectID, path string) (*models.FileRecord, error)

	// ListFiles returns the file records under a path prefix, ordered by
	// path. An empty prefix lists the whole project.
	ListFiles(ctx context.Context, projectID, prefix string) ([]*models.FileRecord, error)

	// ListFilesStoredBefore returns file records across all projects whose
	// stored_at timestamp is older than the cutoff.
	ListFilesStoredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.FileRecord, error)

	// DeleteFile removes a file record by project and path.
	// Returns models.ErrFileNotFound if the record doesn't exist.
	DeleteFile(ctx context.Context, projectID, path string) error

	// DeleteFilesByPrefix removes all file records under a path prefix and
	// returns how many were deleted.
	DeleteFilesByPrefix(ctx context.Context, projectID, prefix string) (int64, error)

	// ============================================
	// UPLOAD SESSION OPERATIONS
	// ============================================

	// CreateUpload creates a new upload session.
	// Returns models.ErrDuplicateUpload if the ID is already taken.
	CreateUpload(ctx context.Context, session *models.UploadSession) error

	// GetUpload returns an upload session by ID.
	// Returns models.ErrUploadNotFound if the session doesn't exist.
	GetUpload(ctx context.Context, id string) (*models.UploadSession, error)

	// ListUploads returns all upload sessions for a project.
	ListUploads(ctx context.Context, projectID string) ([]*models.UploadSession, error)

	// ListUploadsIdleSince returns sessions not touched since the cutoff.
	ListUploadsIdleSince(ctx context.Context, cutoff time.Time) ([]*models.UploadSession, error)

	// AdvanceUploadOffset moves a session's offset from oldOffset to
	// newOffset. The guard on the current offset makes concurrent appends
	// to the same session lose with models.ErrStaleUpload.
	AdvanceUploadOffset(ctx context.Context, id string, oldOffset, newOffset int64) error

	// SetUploadState transitions a session between lifecycle states.
	// Returns models.ErrUploadNotFound if the session doesn't exist.
	SetUploadState(ctx context.Context, id string, state models.UploadState) error

	// DeleteUpload removes an upload session.
	// Returns models.ErrUploadNotFound if the session doesn't exist.
	DeleteUpload(ctx context.Context, id string) error

	// ============================================
	// TASK OPERATIONS
	// ============================================

	// CreateTask records a new background task.
	CreateTask(ctx context.Context, task *models.Task) error

	// GetTask returns a task by ID.
	// Returns models.ErrTaskNotFound if the task doesn't exist.
	GetTask(ctx context.Context, id string) (*models.Task, error)

	// ListTasks returns tasks for a project, newest first.
	ListTasks(ctx context.Context, projectID string, limit int) ([]*models.Task, error)

	// MarkTaskRunning moves a task into the running state.
	// Returns models.ErrTaskNotFound if the task doesn't exist.
	MarkTaskRunning(ctx context.Context, id string, startedAt time.Time) error

	// RequeueTask moves a task back to queued after a failed attempt,
	// recording why in the message.
	// Returns models.ErrTaskNotFound if the task doesn't exist.
	RequeueTask(ctx context.Context, id string, message string) error

	// MarkTaskFinished moves a task into a terminal state with a message.
	// Returns models.ErrTaskNotFound if the task doesn't exist.
	MarkTaskFinished(ctx context.Context, id string, state models.TaskState, message string, finishedAt time.Time) error

	// DeleteTasksFinishedBefore removes terminal tasks older than the
	// cutoff and returns how many were deleted.
	DeleteTasksFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// ============================================
	// API KEY OPERATIONS
	// ============================================

	// CreateAPIKey stores a new API key record.
	// Returns models.ErrDuplicateAPIKey if the ID is already taken.
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	// GetAPIKey returns an API key by ID.
	// Returns models.ErrAPIKeyNotFound if the key doesn't exist.
	GetAPIKey(ctx context.Context, id string) (*models.APIKey, error)

	// ListAPIKeys returns all API keys.
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)

	// DeleteAPIKey removes an API key by ID.
	// Returns models.ErrAPIKeyNotFound if the key doesn't exist.
	DeleteAPIKey(ctx context.Context, id string) error

	// SetAPIKeyEnabled enables or disables a key without deleting it.
	// Returns models.ErrAPIKeyNotFound if the key doesn't exist.
	SetAPIKeyEnabled(ctx context.Context, id string, enabled bool) error

	// ValidateAPIKey verifies a presented token of the form "<id>.<secret>".
	// Returns the key if the token is valid.
	// Returns models.ErrInvalidAPIKey if the token is malformed or wrong.
	// Returns models.ErrAPIKeyDisabled if the key has been disabled.
	ValidateAPIKey(ctx context.Context, token string) (*models.APIKey, error)

	// TouchAPIKey updates the key's last-used timestamp.
	TouchAPIKey(ctx context.Context, id string, timestamp time.Time) error

	// ============================================
	// ADMIN INITIALIZATION
	// ============================================

	// EnsureAdminKey ensures an enabled admin API key exists.
	// If none exists, mints one with a generated secret.
	// Returns the full token if a new key was created, empty string
	// otherwise. The secret is never recoverable afterwards.
	// This should be called during server startup.
	EnsureAdminKey(ctx context.Context) (token string, err error)

	// ============================================
	// HEALTH & LIFECYCLE
	// ============================================

	// Healthcheck verifies the store is operational.
	// Returns an error if the store is not healthy.
	Healthcheck(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}

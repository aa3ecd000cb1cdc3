package models

import "time"

// TaskState tracks a background task through its life.
type TaskState string

const (
	// TaskStateQueued is waiting for a worker.
	TaskStateQueued TaskState = "queued"

	// TaskStateRunning is being executed.
	TaskStateRunning TaskState = "running"

	// TaskStateSucceeded finished cleanly.
	TaskStateSucceeded TaskState = "succeeded"

	// TaskStateFailed finished with an error; Message carries the reason.
	TaskStateFailed TaskState = "failed"
)

// Finished reports whether the state is terminal.
func (s TaskState) Finished() bool {
	return s == TaskStateSucceeded || s == TaskStateFailed
}

// Task is the client-visible record of a background job. The queue entry in
// the state store drives delivery; this row is what polling clients see.
// Finished tasks are retained for a while and then swept.
type Task struct {
	// ID is the client-facing task identifier, also used as the queue job
	// ID.
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// Kind names the job type (finalize-large, extract-archive, ...).
	Kind string `gorm:"not null;size:64" json:"kind"`

	// State is the current phase.
	State string `gorm:"index;not null;size:16" json:"state"`

	// Message is human-readable progress or failure detail.
	Message string `gorm:"size:1024" json:"message,omitempty"`

	// ProjectID and Path describe what the task works on.
	ProjectID string `gorm:"index;size:64" json:"project_id,omitempty"`
	Path      string `gorm:"size:4096" json:"path,omitempty"`

	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `gorm:"index" json:"finished_at,omitempty"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "tasks"
}

// Finished reports whether the task reached a terminal state.
func (t *Task) Finished() bool {
	return TaskState(t.State).Finished()
}

package apiclient

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// Task represents a background task record.
type Task struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	State      string     `json:"state"`
	Message    string     `json:"message,omitempty"`
	ProjectID  string     `json:"project_id,omitempty"`
	Path       string     `json:"path,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Finished reports whether the task reached a terminal state.
func (t *Task) Finished() bool {
	return t.State == "succeeded" || t.State == "failed"
}

// Succeeded reports whether the task finished cleanly.
func (t *Task) Succeeded() bool {
	return t.State == "succeeded"
}

// TaskList is the response to a task listing.
type TaskList struct {
	Project string `json:"project"`
	Tasks   []Task `json:"tasks"`
	Count   int    `json:"count"`
}

// AcceptedTask is the response to an upload handed off to a background
// task.
type AcceptedTask struct {
	TaskID     string `json:"task_id"`
	PollingURL string `json:"polling_url"`
}

// GetTask returns a task by ID. Tasks outside the credential's project
// scope read as not found.
func (c *Client) GetTask(id string) (*Task, error) {
	return getResource[Task](c, resourcePath("/v1/tasks/%s", url.PathEscape(id)))
}

// ListTasks returns tasks newest first. Project keys may leave project
// empty to list their own project; admin credentials must name one.
// A zero limit takes the server default.
func (c *Client) ListTasks(project string, limit int) (*TaskList, error) {
	q := url.Values{}
	if project != "" {
		q.Set("project", project)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return getResource[TaskList](c, path)
}

// WaitTask polls a task until it reaches a terminal state or the context
// is cancelled. The returned task is the final record; the caller checks
// Succeeded and Message.
func (c *Client) WaitTask(ctx context.Context, id string, pollInterval time.Duration) (*Task, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		task, err := c.GetTask(id)
		if err != nil {
			return nil, err
		}
		if task.Finished() {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stagefs/stagefs/pkg/api/middleware"
	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/catalog/store"
)

// defaultTaskListLimit caps task listings that do not ask for a limit.
const defaultTaskListLimit = 100

// AcceptedResponse is the response body for uploads handed off to a
// background task.
type AcceptedResponse struct {
	TaskID     string `json:"task_id"`
	PollingURL string `json:"polling_url"`
}

// pollingURL builds the URL a client polls for a task's outcome. With no
// configured base URL the path is server-relative.
func pollingURL(baseURL, taskID string) string {
	return baseURL + "/v1/tasks/" + taskID
}

// TasksHandler handles background-task polling endpoints.
type TasksHandler struct {
	catalog store.Store
}

// NewTasksHandler creates a new TasksHandler.
func NewTasksHandler(catalog store.Store) *TasksHandler {
	return &TasksHandler{catalog: catalog}
}

// TaskListResponse is the response body for GET /v1/tasks.
type TaskListResponse struct {
	Project string         `json:"project"`
	Tasks   []*models.Task `json:"tasks"`
	Count   int            `json:"count"`
}

// Get handles GET /v1/tasks/{taskID}.
// A task outside the caller's project scope reads as missing so task IDs
// do not leak across projects.
func (h *TasksHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipalFromContext(r.Context())
	if principal == nil {
		Unauthorized(w, "Authentication required")
		return
	}

	task, err := h.catalog.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if !principal.Allows(task.ProjectID) {
		NotFound(w, "Task not found")
		return
	}

	WriteJSONOK(w, task)
}

// List handles GET /v1/tasks.
// Project keys list their own project's tasks; admins pick one with
// ?project=. Newest first, up to ?limit=.
func (h *TasksHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipalFromContext(r.Context())
	if principal == nil {
		Unauthorized(w, "Authentication required")
		return
	}

	project := r.URL.Query().Get("project")
	if project == "" {
		if principal.Key == nil {
			BadRequest(w, "The project query parameter is required")
			return
		}
		project = principal.Key.ProjectID
	} else if !principal.Allows(project) {
		Forbidden(w, "Project access denied")
		return
	}

	limit := defaultTaskListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			BadRequest(w, "Limit must be a positive integer")
			return
		}
		limit = n
	}

	tasks, err := h.catalog.ListTasks(r.Context(), project, limit)
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSONOK(w, TaskListResponse{
		Project: project,
		Tasks:   tasks,
		Count:   len(tasks),
	})
}

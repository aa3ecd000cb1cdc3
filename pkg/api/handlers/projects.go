package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/catalog/store"
	"github.com/stagefs/stagefs/pkg/staging/resource"
)

// ProjectsHandler handles admin project management endpoints.
type ProjectsHandler struct {
	catalog      store.Store
	defaultQuota int64
}

// NewProjectsHandler creates a new ProjectsHandler. defaultQuota is applied
// to projects created without an explicit quota.
func NewProjectsHandler(catalog store.Store, defaultQuota int64) *ProjectsHandler {
	return &ProjectsHandler{catalog: catalog, defaultQuota: defaultQuota}
}

// CreateProjectRequest is the request body for POST /v1/admin/projects.
type CreateProjectRequest struct {
	ID         string `json:"id"`
	QuotaBytes *int64 `json:"quota_bytes,omitempty"`
}

// UpdateQuotaRequest is the request body for PATCH
// /v1/admin/projects/{project}/quota.
type UpdateQuotaRequest struct {
	QuotaBytes int64 `json:"quota_bytes"`
}

// ProjectResponse is a project row plus its derived free space.
type ProjectResponse struct {
	*models.Project
	FreeBytes int64 `json:"free_bytes"`
}

func projectResponse(p *models.Project) ProjectResponse {
	return ProjectResponse{Project: p, FreeBytes: p.FreeBytes()}
}

// ProjectListResponse is the response body for GET /v1/admin/projects.
type ProjectListResponse struct {
	Projects []ProjectResponse `json:"projects"`
	Count    int               `json:"count"`
}

// Create handles POST /v1/admin/projects.
func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := resource.ValidateProjectID(req.ID); err != nil {
		WriteError(w, err)
		return
	}

	quota := h.defaultQuota
	if req.QuotaBytes != nil {
		quota = *req.QuotaBytes
	}
	if quota < 0 {
		BadRequest(w, "Quota cannot be negative")
		return
	}

	project := &models.Project{ID: req.ID, QuotaBytes: quota}
	if err := h.catalog.CreateProject(r.Context(), project); err != nil {
		WriteError(w, err)
		return
	}

	logger.InfoCtx(r.Context(), "Created project",
		logger.Project(project.ID),
		"quota_bytes", project.QuotaBytes,
	)
	WriteJSONCreated(w, projectResponse(project))
}

// List handles GET /v1/admin/projects.
func (h *ProjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.catalog.ListProjects(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}

	out := make([]ProjectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectResponse(p))
	}
	WriteJSONOK(w, ProjectListResponse{Projects: out, Count: len(out)})
}

// Get handles GET /v1/admin/projects/{project}.
func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	project, err := h.catalog.GetProject(r.Context(), chi.URLParam(r, "project"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, projectResponse(project))
}

// UpdateQuota handles PATCH /v1/admin/projects/{project}/quota.
// Lowering the quota below current usage is allowed; existing content
// stays and new reservations fail until usage drains below the new limit.
func (h *ProjectsHandler) UpdateQuota(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "project")

	var req UpdateQuotaRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.QuotaBytes < 0 {
		BadRequest(w, "Quota cannot be negative")
		return
	}

	if err := h.catalog.UpdateProjectQuota(r.Context(), id, req.QuotaBytes); err != nil {
		WriteError(w, err)
		return
	}

	project, err := h.catalog.GetProject(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}

	logger.InfoCtx(r.Context(), "Updated project quota",
		logger.Project(id),
		"quota_bytes", req.QuotaBytes,
	)
	WriteJSONOK(w, projectResponse(project))
}

// Delete handles DELETE /v1/admin/projects/{project}.
// Refuses while the project still has files or uploads in flight; content
// has to be deleted and sessions drained or aborted first.
func (h *ProjectsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "project")

	uploads, err := h.catalog.ListUploads(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	if len(uploads) > 0 {
		Conflict(w, fmt.Sprintf("Project has %d uploads in flight", len(uploads)))
		return
	}

	files, err := h.catalog.ListFiles(r.Context(), id, "")
	if err != nil {
		WriteError(w, err)
		return
	}
	if len(files) > 0 {
		Conflict(w, fmt.Sprintf("Project still has %d files", len(files)))
		return
	}

	if err := h.catalog.DeleteProject(r.Context(), id); err != nil {
		WriteError(w, err)
		return
	}

	logger.InfoCtx(r.Context(), "Deleted project", logger.Project(id))
	WriteNoContent(w)
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/catalog/store"
	"github.com/stagefs/stagefs/pkg/staging/checksum"
	stagingerrors "github.com/stagefs/stagefs/pkg/staging/errors"
	"github.com/stagefs/stagefs/pkg/staging/finalize"
	"github.com/stagefs/stagefs/pkg/staging/resource"
	"github.com/stagefs/stagefs/pkg/staging/spool"
	"github.com/stagefs/stagefs/pkg/staging/upload"
)

// FilesHandler handles durable-file endpoints: single-shot uploads, stat,
// download, prefix listings and deletion.
type FilesHandler struct {
	catalog   store.Store
	uploads   *upload.Service
	finalizer *finalize.Finalizer
	spool     *spool.Spool
	baseURL   string
}

// NewFilesHandler creates a new FilesHandler.
func NewFilesHandler(catalog store.Store, uploads *upload.Service, finalizer *finalize.Finalizer, sp *spool.Spool, baseURL string) *FilesHandler {
	return &FilesHandler{
		catalog:   catalog,
		uploads:   uploads,
		finalizer: finalizer,
		spool:     sp,
		baseURL:   baseURL,
	}
}

// FileListResponse is the response body for prefix listings.
type FileListResponse struct {
	Project string               `json:"project"`
	Prefix  string               `json:"prefix"`
	Files   []*models.FileRecord `json:"files"`
	Count   int                  `json:"count"`
}

// RemoveResponse is the response body for DELETE /v1/files.
type RemoveResponse struct {
	Files int64 `json:"files"`
	Bytes int64 `json:"bytes"`
}

// checksumFromQuery reads the client-declared digest from the md5 or sha256
// query parameter. At most one may be set.
func checksumFromQuery(r *http.Request) (checksum.Checksum, error) {
	md5Hex := r.URL.Query().Get("md5")
	sha256Hex := r.URL.Query().Get("sha256")
	if md5Hex != "" && sha256Hex != "" {
		return checksum.Checksum{}, stagingerrors.NewInvalidArgumentError("declare at most one of md5 and sha256")
	}
	switch {
	case md5Hex != "":
		return checksum.Parse("md5:" + md5Hex)
	case sha256Hex != "":
		return checksum.Parse("sha256:" + sha256Hex)
	default:
		return checksum.Checksum{}, nil
	}
}

// Upload handles POST /v1/files/{project}/*.
// Streams the request body into the target path in one call. Small files
// finalize inline and come back 201 with their durable record; larger ones
// come back 202 with a task to poll.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	path, err := resource.ParseFile(chi.URLParam(r, "*"))
	if err != nil {
		WriteError(w, err)
		return
	}

	sum, err := checksumFromQuery(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	// Admission reserves quota against the declared length before the
	// first byte is read, so chunked bodies have to go through the
	// resumable endpoints instead.
	if r.ContentLength < 0 {
		WriteProblem(w, http.StatusLengthRequired, "Length Required",
			"Single-shot uploads must declare Content-Length; use resumable uploads for streams of unknown length")
		return
	}

	outcome, err := h.uploads.Stream(r.Context(), upload.StreamRequest{
		Project:  project,
		Path:     path,
		Kind:     models.UploadKindFile,
		Size:     r.ContentLength,
		Checksum: sum,
		Body:     r.Body,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	if outcome.Async() {
		WriteJSONAccepted(w, AcceptedResponse{
			TaskID:     outcome.TaskID,
			PollingURL: pollingURL(h.baseURL, outcome.TaskID),
		})
		return
	}
	WriteJSONCreated(w, outcome.Record)
}

// Get handles GET /v1/files/{project}/*.
// A path that names a durable file returns its record, or the content
// itself with ?download=true. Anything else is treated as a prefix and
// returns the files under it.
func (h *FilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	path, err := resource.ParseDir(chi.URLParam(r, "*"))
	if err != nil {
		WriteError(w, err)
		return
	}

	if !path.IsRoot() {
		record, err := h.catalog.GetFile(r.Context(), project, path.String())
		if err == nil {
			if r.URL.Query().Get("download") == "true" {
				h.serveContent(w, r, project, path, record)
				return
			}
			WriteJSONOK(w, record)
			return
		}
		if !errors.Is(err, models.ErrFileNotFound) {
			WriteError(w, err)
			return
		}
	}

	// Distinguishes an empty project from a missing one.
	if _, err := h.catalog.GetProject(r.Context(), project); err != nil {
		WriteError(w, err)
		return
	}

	files, err := h.catalog.ListFiles(r.Context(), project, path.String())
	if err != nil {
		WriteError(w, err)
		return
	}
	if len(files) == 0 && !path.IsRoot() {
		NotFound(w, "No file or prefix at "+path.String())
		return
	}
	WriteJSONOK(w, FileListResponse{
		Project: project,
		Prefix:  path.String(),
		Files:   files,
		Count:   len(files),
	})
}

// serveContent streams a durable file's bytes. ServeContent picks the
// content type from the file extension and honors Range requests.
func (h *FilesHandler) serveContent(w http.ResponseWriter, r *http.Request, project string, path resource.Path, record *models.FileRecord) {
	f, err := h.spool.Open(project, path)
	if err != nil {
		WriteError(w, err)
		return
	}
	defer f.Close()

	if record.Checksum != "" {
		w.Header().Set("ETag", `"`+record.Checksum+`"`)
	}
	http.ServeContent(w, r, path.Base(), record.StoredAt, f)
}

// Delete handles DELETE /v1/files/{project}/*.
// Removes the file at the path, or every file under it when the path names
// a prefix. Returns 423 while another holder has the subtree locked.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	path, err := resource.ParseDir(chi.URLParam(r, "*"))
	if err != nil {
		WriteError(w, err)
		return
	}

	result, err := h.finalizer.Remove(r.Context(), project, path)
	if err != nil {
		WriteError(w, err)
		return
	}

	logger.InfoCtx(r.Context(), "Deleted files via API",
		logger.Project(project),
		logger.Path(path.String()),
		"files", result.Files,
		"bytes", result.Bytes,
	)
	WriteJSONOK(w, RemoveResponse{Files: result.Files, Bytes: result.Bytes})
}

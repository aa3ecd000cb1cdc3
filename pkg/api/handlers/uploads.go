package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/staging/checksum"
	"github.com/stagefs/stagefs/pkg/staging/resource"
	"github.com/stagefs/stagefs/pkg/staging/upload"
)

// Upload state headers, following the tus convention.
const (
	uploadOffsetHeader = "Upload-Offset"
	uploadLengthHeader = "Upload-Length"
)

// UploadsHandler handles resumable upload session endpoints.
type UploadsHandler struct {
	uploads *upload.Service
	baseURL string
}

// NewUploadsHandler creates a new UploadsHandler.
func NewUploadsHandler(uploads *upload.Service, baseURL string) *UploadsHandler {
	return &UploadsHandler{uploads: uploads, baseURL: baseURL}
}

// CreateUploadRequest is the request body for POST /v1/uploads/{project}.
type CreateUploadRequest struct {
	// Path is the target file, or the extraction directory for archives.
	Path string `json:"path"`

	// Size is the declared total length. Omit it when the length is not
	// known up front; quota is then reserved against the per-upload
	// maximum until the final chunk settles the real size.
	Size *int64 `json:"size,omitempty"`

	// Checksum is the expected digest, "algorithm:hex" or bare hex.
	Checksum string `json:"checksum,omitempty"`

	// Kind is "file" or "archive". Defaults to "file".
	Kind string `json:"kind,omitempty"`
}

// UploadListResponse is the response body for GET /v1/uploads/{project}.
type UploadListResponse struct {
	Project string                  `json:"project"`
	Uploads []*models.UploadSession `json:"uploads"`
	Count   int                     `json:"count"`
}

// Create handles POST /v1/uploads/{project}.
// Opens a resumable session: the target lease and the quota reservation
// are taken here, before any byte arrives.
func (h *UploadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")

	var req CreateUploadRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	kind := models.UploadKind(req.Kind)
	if req.Kind == "" {
		kind = models.UploadKindFile
	}
	if !kind.IsValid() {
		BadRequest(w, "Kind must be file or archive")
		return
	}

	var path resource.Path
	var err error
	if kind == models.UploadKindArchive {
		path, err = resource.ParseDir(req.Path)
	} else {
		path, err = resource.ParseFile(req.Path)
	}
	if err != nil {
		WriteError(w, err)
		return
	}

	var sum checksum.Checksum
	if req.Checksum != "" {
		if sum, err = checksum.Parse(req.Checksum); err != nil {
			WriteError(w, err)
			return
		}
	}

	size := models.UnknownSize
	if req.Size != nil {
		size = *req.Size
	}

	session, err := h.uploads.Admit(r.Context(), upload.AdmitRequest{
		Project:  project,
		Path:     path,
		Kind:     kind,
		Size:     size,
		Checksum: sum,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	w.Header().Set(uploadOffsetHeader, "0")
	WriteJSONCreated(w, session)
}

// Head handles HEAD /v1/uploads/{project}/{uploadID}.
// Reports the next append offset so a client can resume after losing a
// PATCH response.
func (h *UploadsHandler) Head(w http.ResponseWriter, r *http.Request) {
	session, err := h.uploads.Head(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "uploadID"))
	if err != nil {
		WriteError(w, err)
		return
	}

	w.Header().Set(uploadOffsetHeader, strconv.FormatInt(session.Offset, 10))
	if session.SizeKnown() {
		w.Header().Set(uploadLengthHeader, strconv.FormatInt(session.Size, 10))
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

// List handles GET /v1/uploads/{project}.
func (h *UploadsHandler) List(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")

	sessions, err := h.uploads.List(r.Context(), project)
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSONOK(w, UploadListResponse{
		Project: project,
		Uploads: sessions,
		Count:   len(sessions),
	})
}

// Append handles PATCH /v1/uploads/{project}/{uploadID}.
// Writes the request body at exactly the Upload-Offset header. A 409 with
// the current offset means the client raced itself; it re-reads the offset
// with HEAD and resumes. ?final=true marks the last chunk of a session
// with no declared size.
func (h *UploadsHandler) Append(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	uploadID := chi.URLParam(r, "uploadID")

	raw := r.Header.Get(uploadOffsetHeader)
	if raw == "" {
		BadRequest(w, "The Upload-Offset header is required")
		return
	}
	offset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || offset < 0 {
		BadRequest(w, "Upload-Offset must be a non-negative integer")
		return
	}

	final := r.URL.Query().Get("final") == "true"

	result, err := h.uploads.Append(r.Context(), project, uploadID, offset, r.Body, final)
	if err != nil {
		WriteError(w, err)
		return
	}

	if result.Outcome != nil {
		if result.Outcome.Async() {
			WriteJSONAccepted(w, AcceptedResponse{
				TaskID:     result.Outcome.TaskID,
				PollingURL: pollingURL(h.baseURL, result.Outcome.TaskID),
			})
			return
		}
		WriteJSONCreated(w, result.Outcome.Record)
		return
	}

	w.Header().Set(uploadOffsetHeader, strconv.FormatInt(result.Session.Offset, 10))
	WriteJSONOK(w, result.Session)
}

// Abort handles DELETE /v1/uploads/{project}/{uploadID}.
// Ends an active session and returns its reservation. A session already
// handed to a finalize job cannot be aborted.
func (h *UploadsHandler) Abort(w http.ResponseWriter, r *http.Request) {
	if err := h.uploads.Abort(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "uploadID")); err != nil {
		WriteError(w, err)
		return
	}
	WriteNoContent(w)
}

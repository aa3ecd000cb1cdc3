package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/staging/resource"
	"github.com/stagefs/stagefs/pkg/staging/upload"
)

// ArchivesHandler handles archive upload endpoints.
type ArchivesHandler struct {
	uploads *upload.Service
	baseURL string
}

// NewArchivesHandler creates a new ArchivesHandler.
func NewArchivesHandler(uploads *upload.Service, baseURL string) *ArchivesHandler {
	return &ArchivesHandler{uploads: uploads, baseURL: baseURL}
}

// Upload handles POST /v1/archives/{project}.
// Streams an archive body and schedules its extraction under the ?dir=
// prefix, project root when absent. Extraction always runs in the
// background, so the response is always 202 with a task to poll. An
// optional ?md5=/?sha256= digest is verified against the archive itself
// before any member is extracted.
func (h *ArchivesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	dir, err := resource.ParseDir(r.URL.Query().Get("dir"))
	if err != nil {
		WriteError(w, err)
		return
	}

	sum, err := checksumFromQuery(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	if r.ContentLength < 0 {
		WriteProblem(w, http.StatusLengthRequired, "Length Required",
			"Archive uploads must declare Content-Length; use resumable uploads for streams of unknown length")
		return
	}

	outcome, err := h.uploads.Stream(r.Context(), upload.StreamRequest{
		Project:  project,
		Path:     dir,
		Kind:     models.UploadKindArchive,
		Size:     r.ContentLength,
		Checksum: sum,
		Body:     r.Body,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSONAccepted(w, AcceptedResponse{
		TaskID:     outcome.TaskID,
		PollingURL: pollingURL(h.baseURL, outcome.TaskID),
	})
}

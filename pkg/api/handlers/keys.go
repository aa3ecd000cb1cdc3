package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/catalog/store"
)

// KeysHandler handles admin API key management endpoints.
type KeysHandler struct {
	catalog store.Store
}

// NewKeysHandler creates a new KeysHandler.
func NewKeysHandler(catalog store.Store) *KeysHandler {
	return &KeysHandler{catalog: catalog}
}

// IssueKeyRequest is the request body for POST /v1/admin/keys.
type IssueKeyRequest struct {
	Label     string `json:"label"`
	ProjectID string `json:"project_id,omitempty"`
	Role      string `json:"role,omitempty"`
}

// IssueKeyResponse carries the one chance to read the token. Only the
// secret's bcrypt hash is stored, so a lost token means issuing a new key.
type IssueKeyResponse struct {
	Key   *models.APIKey `json:"key"`
	Token string         `json:"token"`
}

// KeyListResponse is the response body for GET /v1/admin/keys.
type KeyListResponse struct {
	Keys  []*models.APIKey `json:"keys"`
	Count int              `json:"count"`
}

// Issue handles POST /v1/admin/keys.
func (h *KeysHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req IssueKeyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.Label == "" {
		BadRequest(w, "Label is required")
		return
	}

	role := models.KeyRole(req.Role)
	if req.Role == "" {
		role = models.RoleReader
	}
	if !role.IsValid() {
		BadRequest(w, "Role must be reader, writer or admin")
		return
	}

	if role == models.RoleAdmin {
		if req.ProjectID != "" {
			BadRequest(w, "Admin keys are not bound to a project")
			return
		}
	} else {
		if req.ProjectID == "" {
			BadRequest(w, "Project ID is required for reader and writer keys")
			return
		}
		if _, err := h.catalog.GetProject(r.Context(), req.ProjectID); err != nil {
			WriteError(w, err)
			return
		}
	}

	secret, err := models.GenerateSecret()
	if err != nil {
		WriteError(w, err)
		return
	}
	hash, err := models.HashSecret(secret)
	if err != nil {
		WriteError(w, err)
		return
	}

	key := &models.APIKey{
		ID:         uuid.NewString(),
		Label:      req.Label,
		SecretHash: hash,
		ProjectID:  req.ProjectID,
		Role:       string(role),
		Enabled:    true,
	}
	if err := h.catalog.CreateAPIKey(r.Context(), key); err != nil {
		WriteError(w, err)
		return
	}

	logger.InfoCtx(r.Context(), "Issued API key",
		logger.APIKeyID(key.ID),
		logger.Project(key.ProjectID),
		"role", key.Role,
	)
	WriteJSONCreated(w, IssueKeyResponse{
		Key:   key,
		Token: key.ID + "." + secret,
	})
}

// List handles GET /v1/admin/keys. ?project= narrows to one project's keys.
func (h *KeysHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.catalog.ListAPIKeys(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}

	if project := r.URL.Query().Get("project"); project != "" {
		scoped := make([]*models.APIKey, 0, len(keys))
		for _, key := range keys {
			if key.ProjectID == project {
				scoped = append(scoped, key)
			}
		}
		keys = scoped
	}

	WriteJSONOK(w, KeyListResponse{Keys: keys, Count: len(keys)})
}

// Revoke handles DELETE /v1/admin/keys/{keyID}.
// Disables the key but keeps its record and last-used timestamp for audit.
// ?purge=true removes the record entirely.
func (h *KeysHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "keyID")

	if r.URL.Query().Get("purge") == "true" {
		if err := h.catalog.DeleteAPIKey(r.Context(), id); err != nil {
			WriteError(w, err)
			return
		}
		logger.InfoCtx(r.Context(), "Purged API key", logger.APIKeyID(id))
		WriteNoContent(w)
		return
	}

	if err := h.catalog.SetAPIKeyEnabled(r.Context(), id, false); err != nil {
		WriteError(w, err)
		return
	}
	logger.InfoCtx(r.Context(), "Revoked API key", logger.APIKeyID(id))
	WriteNoContent(w)
}

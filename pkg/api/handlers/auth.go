package handlers

import (
	"errors"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stagefs/stagefs/pkg/api/auth"
	"github.com/stagefs/stagefs/pkg/api/middleware"
)

// AuthHandler handles admin authentication endpoints.
//
// stagefs has a single admin account configured at startup; project-scoped
// clients authenticate with API keys instead and never log in.
type AuthHandler struct {
	adminUsername string
	adminHash     string
	jwtService    *auth.JWTService
}

// NewAuthHandler creates a new AuthHandler.
//
// adminHash is the bcrypt hash of the admin password. An empty hash
// disables password login; admin access then requires an admin API key.
func NewAuthHandler(adminUsername, adminHash string, jwtService *auth.JWTService) *AuthHandler {
	return &AuthHandler{
		adminUsername: adminUsername,
		adminHash:     adminHash,
		jwtService:    jwtService,
	}
}

// LoginRequest is the request body for POST /v1/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response body for POST /v1/auth/login.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
}

// RefreshRequest is the request body for POST /v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login handles POST /v1/auth/login.
// Authenticates the admin credentials and returns a JWT token pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.Username == "" || req.Password == "" {
		BadRequest(w, "Username and password are required")
		return
	}

	if h.adminHash == "" {
		Forbidden(w, "Password login is disabled")
		return
	}

	// A wrong username still runs the bcrypt comparison so both failure
	// modes take the same time.
	err := bcrypt.CompareHashAndPassword([]byte(h.adminHash), []byte(req.Password))
	if err != nil || req.Username != h.adminUsername {
		Unauthorized(w, "Invalid username or password")
		return
	}

	tokenPair, err := h.jwtService.GenerateTokenPair(h.adminUsername, "admin")
	if err != nil {
		InternalServerError(w, "Failed to generate token")
		return
	}

	WriteJSONOK(w, loginResponse(tokenPair, h.adminUsername))
}

// Refresh handles POST /v1/auth/refresh.
// Returns a new token pair using a valid refresh token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.RefreshToken == "" {
		BadRequest(w, "Refresh token is required")
		return
	}

	claims, err := h.jwtService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			Unauthorized(w, "Refresh token has expired")
			return
		}
		Unauthorized(w, "Invalid refresh token")
		return
	}

	// Reject tokens issued for a username the config no longer carries.
	if claims.Username != h.adminUsername {
		Unauthorized(w, "Account no longer exists")
		return
	}

	tokenPair, err := h.jwtService.GenerateTokenPair(h.adminUsername, "admin")
	if err != nil {
		InternalServerError(w, "Failed to generate token")
		return
	}

	WriteJSONOK(w, loginResponse(tokenPair, h.adminUsername))
}

// PrincipalResponse describes the authenticated caller for GET /v1/auth/me.
type PrincipalResponse struct {
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Project  string `json:"project,omitempty"`
	KeyID    string `json:"key_id,omitempty"`
	CanWrite bool   `json:"can_write"`
}

// Me handles GET /v1/auth/me.
// Returns the identity and scope of the presented credentials. Works for
// both admin JWTs and API keys.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipalFromContext(r.Context())
	if principal == nil {
		Unauthorized(w, "Authentication required")
		return
	}

	resp := PrincipalResponse{
		Name:     principal.Name(),
		CanWrite: principal.CanWrite(),
	}
	switch {
	case principal.Claims != nil:
		resp.Kind = "admin"
		resp.Role = principal.Claims.Role
	case principal.Key != nil:
		resp.Kind = "api_key"
		resp.Role = principal.Key.Role
		resp.Project = principal.Key.ProjectID
		resp.KeyID = principal.Key.ID
	}

	WriteJSONOK(w, resp)
}

// loginResponse builds the token response body.
func loginResponse(tokenPair *auth.TokenPair, username string) LoginResponse {
	return LoginResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		TokenType:    tokenPair.TokenType,
		ExpiresIn:    tokenPair.ExpiresIn,
		ExpiresAt:    tokenPair.ExpiresAt,
		Username:     username,
		Role:         "admin",
	}
}

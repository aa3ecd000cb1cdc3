package apiclient

import (
	"time"
)

// LoginRequest represents a login request.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse represents the response from login/refresh endpoints.
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"` // seconds
	ExpiresAt    time.Time `json:"expires_at"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
}

// ExpiresInDuration returns ExpiresIn as a time.Duration.
func (t *TokenResponse) ExpiresInDuration() time.Duration {
	return time.Duration(t.ExpiresIn) * time.Second
}

// Principal describes the authenticated caller as reported by the server.
type Principal struct {
	Kind     string `json:"kind"` // "admin" or "api_key"
	Name     string `json:"name"`
	Role     string `json:"role"`
	Project  string `json:"project,omitempty"`
	KeyID    string `json:"key_id,omitempty"`
	CanWrite bool   `json:"can_write"`
}

// Login authenticates the admin account and returns tokens.
func (c *Client) Login(username, password string) (*TokenResponse, error) {
	req := LoginRequest{
		Username: username,
		Password: password,
	}

	var resp TokenResponse
	if err := c.post("/v1/auth/login", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// RefreshToken refreshes the access token using the refresh token.
func (c *Client) RefreshToken(refreshToken string) (*TokenResponse, error) {
	req := struct {
		RefreshToken string `json:"refresh_token"`
	}{
		RefreshToken: refreshToken,
	}

	var resp TokenResponse
	if err := c.post("/v1/auth/refresh", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Whoami returns the identity and scope of the configured credentials.
// Works for both admin JWTs and API key tokens.
func (c *Client) Whoami() (*Principal, error) {
	return getResource[Principal](c, "/v1/auth/me")
}

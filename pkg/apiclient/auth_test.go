package apiclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/auth/login", r.URL.Path)

		var req LoginRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)
		assert.Equal(t, "admin", req.Username)
		assert.Equal(t, "password123", req.Password)

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(TokenResponse{
			AccessToken:  "access-token-123",
			RefreshToken: "refresh-token-456",
			TokenType:    "Bearer",
			ExpiresIn:    900,
			ExpiresAt:    time.Now().Add(15 * time.Minute),
			Username:     "admin",
			Role:         "admin",
		})
	}))
	defer server.Close()

	client := New(server.URL)
	resp, err := client.Login("admin", "password123")

	require.NoError(t, err)
	assert.Equal(t, "access-token-123", resp.AccessToken)
	assert.Equal(t, "refresh-token-456", resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(900), resp.ExpiresIn)
	assert.Equal(t, "admin", resp.Role)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(APIError{
			Title:  "Unauthorized",
			Detail: "Invalid username or password",
		})
	}))
	defer server.Close()

	client := New(server.URL)
	resp, err := client.Login("baduser", "badpassword")

	assert.Nil(t, resp)
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsAuthError())
	assert.Equal(t, "Invalid username or password", apiErr.Error())
}

func TestRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/auth/refresh", r.URL.Path)

		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)
		assert.Equal(t, "old-refresh-token", req.RefreshToken)

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(TokenResponse{
			AccessToken:  "new-access-token",
			RefreshToken: "new-refresh-token",
			TokenType:    "Bearer",
			ExpiresIn:    900,
		})
	}))
	defer server.Close()

	client := New(server.URL)
	resp, err := client.RefreshToken("old-refresh-token")

	require.NoError(t, err)
	assert.Equal(t, "new-access-token", resp.AccessToken)
	assert.Equal(t, "new-refresh-token", resp.RefreshToken)
}

func TestRefreshToken_Expired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(APIError{
			Title:  "Unauthorized",
			Detail: "Refresh token has expired",
		})
	}))
	defer server.Close()

	client := New(server.URL)
	resp, err := client.RefreshToken("expired-token")

	assert.Nil(t, resp)
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, "Refresh token has expired", apiErr.Error())
}

func TestWhoami(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/auth/me", r.URL.Path)
		assert.Equal(t, "Bearer key-id.secret", r.Header.Get("Authorization"))

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(Principal{
			Kind:     "api_key",
			Name:     "ingest worker",
			Role:     "writer",
			Project:  "dig-2031",
			KeyID:    "key-id",
			CanWrite: true,
		})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("key-id.secret")
	principal, err := client.Whoami()

	require.NoError(t, err)
	assert.Equal(t, "api_key", principal.Kind)
	assert.Equal(t, "dig-2031", principal.Project)
	assert.True(t, principal.CanWrite)
}

func TestTokenResponse_ExpiresInDuration(t *testing.T) {
	resp := TokenResponse{
		ExpiresIn: 3600,
	}

	duration := resp.ExpiresInDuration()
	assert.Equal(t, time.Hour, duration)
}

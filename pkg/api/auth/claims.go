// Package auth issues and validates JWT tokens for the stagefs admin API.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenType indicates whether a token is an access token or refresh token.
type TokenType string

const (
	// TokenTypeAccess is a short-lived token used for API authorization.
	TokenTypeAccess TokenType = "access"
	// TokenTypeRefresh is a long-lived token used to obtain new access tokens.
	TokenTypeRefresh TokenType = "refresh"
)

// Claims represents JWT claims for stagefs admin authentication.
//
// Tokens carry abstract identity (username, role) only. Project-scoped
// access uses API keys instead; JWT tokens are issued solely to the
// admin account configured at startup.
type Claims struct {
	jwt.RegisteredClaims

	// Username is the human-readable username.
	Username string `json:"username"`

	// Role is the account role. Always "admin" for tokens issued by
	// the login endpoint.
	Role string `json:"role"`

	// TokenType indicates whether this is an access or refresh token.
	TokenType TokenType `json:"token_type"`
}

// IsAccessToken returns true if this is an access token.
func (c *Claims) IsAccessToken() bool {
	return c.TokenType == TokenTypeAccess
}

// IsRefreshToken returns true if this is a refresh token.
func (c *Claims) IsRefreshToken() bool {
	return c.TokenType == TokenTypeRefresh
}

// IsAdmin returns true if the account has admin role.
func (c *Claims) IsAdmin() bool {
	return c.Role == "admin"
}

// Package middleware provides HTTP middleware for the stagefs API.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stagefs/stagefs/pkg/api/auth"
	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/catalog/store"
)

// Context key type for storing the authenticated principal
type contextKey string

const principalContextKey contextKey = "principal"

// Principal identifies the authenticated caller of a request. Exactly one
// of Key and Claims is set: Key for API key authentication, Claims for an
// admin JWT obtained from the login endpoint.
type Principal struct {
	Key    *models.APIKey
	Claims *auth.Claims
}

// IsAdmin returns true if the principal has the admin role.
func (p *Principal) IsAdmin() bool {
	if p.Key != nil {
		return p.Key.IsAdmin()
	}
	if p.Claims != nil {
		return p.Claims.IsAdmin()
	}
	return false
}

// Allows reports whether the principal may act on the given project.
func (p *Principal) Allows(projectID string) bool {
	if p.Claims != nil {
		return p.Claims.IsAdmin()
	}
	if p.Key != nil {
		return p.Key.Allows(projectID)
	}
	return false
}

// CanWrite reports whether the principal may perform mutating operations.
func (p *Principal) CanWrite() bool {
	if p.Claims != nil {
		return p.Claims.IsAdmin()
	}
	if p.Key != nil {
		return p.Key.GetRole().CanWrite()
	}
	return false
}

// Name returns a human-readable identity for logging.
func (p *Principal) Name() string {
	if p.Claims != nil {
		return p.Claims.Username
	}
	if p.Key != nil {
		return p.Key.Label
	}
	return ""
}

// GetPrincipalFromContext retrieves the authenticated principal from the
// request context. Returns nil if no principal is present.
//
// This function should only be called within API handler code that runs
// after the Auth middleware has processed the request. If called before
// authentication, or in routes without Auth middleware, it will return nil.
func GetPrincipalFromContext(ctx context.Context) *Principal {
	principal, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok {
		return nil
	}
	return principal
}

// extractBearerToken extracts the token from a Bearer Authorization header.
// Returns the token string and true if successful, or empty string and false if not.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	return parts[1], true
}

// Auth is a middleware that validates Bearer tokens in the Authorization
// header. Both credential kinds travel in the same header: admin JWTs are
// compact JWS tokens with two dots, API key tokens are "<id>.<secret>"
// with one. If valid, the principal is stored in the request context.
// If invalid or missing, returns 401 Unauthorized.
func Auth(catalog store.Store, jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := extractBearerToken(r)
			if !ok {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			principal, err := resolvePrincipal(r.Context(), catalog, jwtService, tokenString)
			if err != nil {
				http.Error(w, "Invalid or expired credentials", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolvePrincipal authenticates a bearer token against whichever
// credential kind its shape indicates.
func resolvePrincipal(ctx context.Context, catalog store.Store, jwtService *auth.JWTService, token string) (*Principal, error) {
	if strings.Count(token, ".") == 2 {
		claims, err := jwtService.ValidateAccessToken(token)
		if err != nil {
			return nil, err
		}
		return &Principal{Claims: claims}, nil
	}

	key, err := catalog.ValidateAPIKey(ctx, token)
	if err != nil {
		return nil, err
	}

	// Last-used tracking is advisory; a failed update must not reject
	// the request.
	_ = catalog.TouchAPIKey(ctx, key.ID, time.Now())

	return &Principal{Key: key}, nil
}

// RequireAdmin is a middleware that blocks non-admin principals.
// Must be used after Auth middleware.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipalFromContext(r.Context())
			if principal == nil {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			if !principal.IsAdmin() {
				http.Error(w, "Admin access required", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireProject is a middleware that blocks principals not scoped to the
// project named in the route "project" parameter.
// Must be used after Auth middleware.
func RequireProject() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipalFromContext(r.Context())
			if principal == nil {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			if !principal.Allows(chi.URLParam(r, "project")) {
				http.Error(w, "Project access denied", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireWriter is a middleware that blocks read-only principals from
// mutating routes. Must be used after Auth middleware.
func RequireWriter() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipalFromContext(r.Context())
			if principal == nil {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			if !principal.CanWrite() {
				http.Error(w, "Write access required", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

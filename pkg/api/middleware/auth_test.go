package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stagefs/stagefs/pkg/api/auth"
	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/catalog/store"
)

func createTestJWTService(t *testing.T) *auth.JWTService {
	t.Helper()
	cfg := auth.JWTConfig{
		Secret: "test-secret-key-that-is-at-least-32-characters-long",
		Issuer: "test",
	}
	svc, err := auth.NewJWTService(cfg)
	if err != nil {
		t.Fatalf("failed to create JWT service: %v", err)
	}
	return svc
}

func createTestCatalog(t *testing.T) *store.GORMStore {
	t.Helper()
	catalog, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("failed to create catalog store: %v", err)
	}
	t.Cleanup(func() { _ = catalog.Close() })
	return catalog
}

// createTestKey stores an API key and returns its wire token.
func createTestKey(t *testing.T, catalog *store.GORMStore, projectID string, role models.KeyRole) (string, *models.APIKey) {
	t.Helper()

	secret, err := models.GenerateSecret()
	if err != nil {
		t.Fatalf("failed to generate secret: %v", err)
	}
	hash, err := models.HashSecret(secret)
	if err != nil {
		t.Fatalf("failed to hash secret: %v", err)
	}

	key := &models.APIKey{
		ID:         uuid.NewString(),
		Label:      "test-key",
		SecretHash: hash,
		ProjectID:  projectID,
		Role:       string(role),
		Enabled:    true,
	}
	if err := catalog.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("failed to create API key: %v", err)
	}

	return key.ID + "." + secret, key
}

func TestGetPrincipalFromContext(t *testing.T) {
	t.Run("no principal in context", func(t *testing.T) {
		ctx := context.Background()
		principal := GetPrincipalFromContext(ctx)
		if principal != nil {
			t.Error("expected nil principal for empty context")
		}
	})

	t.Run("principal present in context", func(t *testing.T) {
		expected := &Principal{Claims: &auth.Claims{Username: "admin", Role: "admin"}}
		ctx := context.WithValue(context.Background(), principalContextKey, expected)
		principal := GetPrincipalFromContext(ctx)
		if principal == nil {
			t.Fatal("expected principal to be present")
		}
		if principal.Name() != "admin" {
			t.Errorf("expected name %q, got %q", "admin", principal.Name())
		}
	})

	t.Run("wrong type in context", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), principalContextKey, "not-a-principal")
		principal := GetPrincipalFromContext(ctx)
		if principal != nil {
			t.Error("expected nil principal for wrong type")
		}
	})
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name        string
		authHeader  string
		wantToken   string
		wantSuccess bool
	}{
		{"empty header", "", "", false},
		{"bearer token", "Bearer abc123", "abc123", true},
		{"bearer lowercase", "bearer abc123", "abc123", true},
		{"BEARER uppercase", "BEARER abc123", "abc123", true},
		{"missing token", "Bearer", "", false},
		{"wrong scheme", "Basic abc123", "", false},
		{"no space", "Bearerabc123", "", false},
		{"token with spaces", "Bearer token with spaces", "token with spaces", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			token, ok := extractBearerToken(req)
			if ok != tt.wantSuccess {
				t.Errorf("extractBearerToken() success = %v, want %v", ok, tt.wantSuccess)
			}
			if token != tt.wantToken {
				t.Errorf("extractBearerToken() token = %q, want %q", token, tt.wantToken)
			}
		})
	}
}

func TestPrincipal(t *testing.T) {
	adminClaims := &Principal{Claims: &auth.Claims{Username: "admin", Role: "admin"}}
	readerKey := &Principal{Key: &models.APIKey{Label: "r", ProjectID: "demo", Role: string(models.RoleReader)}}
	writerKey := &Principal{Key: &models.APIKey{Label: "w", ProjectID: "demo", Role: string(models.RoleWriter)}}
	adminKey := &Principal{Key: &models.APIKey{Label: "a", Role: string(models.RoleAdmin)}}
	empty := &Principal{}

	tests := []struct {
		name      string
		principal *Principal
		isAdmin   bool
		allows    bool // for project "demo"
		canWrite  bool
	}{
		{"admin claims", adminClaims, true, true, true},
		{"reader key", readerKey, false, true, false},
		{"writer key", writerKey, false, true, true},
		{"admin key", adminKey, true, true, true},
		{"empty", empty, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.principal.IsAdmin(); got != tt.isAdmin {
				t.Errorf("IsAdmin() = %v, want %v", got, tt.isAdmin)
			}
			if got := tt.principal.Allows("demo"); got != tt.allows {
				t.Errorf("Allows(demo) = %v, want %v", got, tt.allows)
			}
			if got := tt.principal.CanWrite(); got != tt.canWrite {
				t.Errorf("CanWrite() = %v, want %v", got, tt.canWrite)
			}
		})
	}

	t.Run("project key denied other project", func(t *testing.T) {
		if writerKey.Allows("other") {
			t.Error("expected writer key scoped to demo to be denied for other")
		}
	})
}

func TestAuth(t *testing.T) {
	catalog := createTestCatalog(t)
	jwtService := createTestJWTService(t)

	tokens, err := jwtService.GenerateTokenPair("admin", "admin")
	if err != nil {
		t.Fatalf("failed to generate tokens: %v", err)
	}

	keyToken, key := createTestKey(t, catalog, "demo", models.RoleWriter)

	t.Run("missing authorization header", func(t *testing.T) {
		handler := Auth(catalog, jwtService)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		handler := Auth(catalog, jwtService)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer invalid-token")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
		}
	})

	t.Run("valid admin JWT", func(t *testing.T) {
		var captured *Principal
		handler := Auth(catalog, jwtService)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = GetPrincipalFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
		}
		if captured == nil {
			t.Fatal("expected principal to be set in context")
		}
		if captured.Claims == nil || captured.Claims.Username != "admin" {
			t.Errorf("expected admin claims principal, got %+v", captured)
		}
		if !captured.IsAdmin() {
			t.Error("expected admin principal")
		}
	})

	t.Run("valid API key", func(t *testing.T) {
		var captured *Principal
		handler := Auth(catalog, jwtService)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = GetPrincipalFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+keyToken)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
		}
		if captured == nil {
			t.Fatal("expected principal to be set in context")
		}
		if captured.Key == nil || captured.Key.ID != key.ID {
			t.Errorf("expected key principal %s, got %+v", key.ID, captured)
		}
		if !captured.Allows("demo") {
			t.Error("expected key principal to allow its project")
		}
	})

	t.Run("key auth updates last used", func(t *testing.T) {
		stored, err := catalog.GetAPIKey(context.Background(), key.ID)
		if err != nil {
			t.Fatalf("failed to fetch key: %v", err)
		}
		if stored.LastUsedAt == nil {
			t.Error("expected LastUsedAt to be set after key authentication")
		}
	})

	t.Run("wrong key secret", func(t *testing.T) {
		handler := Auth(catalog, jwtService)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+key.ID+".wrong-secret")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
		}
	})

	t.Run("disabled key", func(t *testing.T) {
		disabledToken, disabledKey := createTestKey(t, catalog, "demo", models.RoleReader)
		if err := catalog.SetAPIKeyEnabled(context.Background(), disabledKey.ID, false); err != nil {
			t.Fatalf("failed to disable key: %v", err)
		}

		handler := Auth(catalog, jwtService)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+disabledToken)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
		}
	})
}

func TestRequireAdmin(t *testing.T) {
	t.Run("no principal in context", func(t *testing.T) {
		handler := RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
		}
	})

	t.Run("non-admin key", func(t *testing.T) {
		principal := &Principal{Key: &models.APIKey{ProjectID: "demo", Role: string(models.RoleWriter)}}
		ctx := context.WithValue(context.Background(), principalContextKey, principal)

		handler := RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusForbidden {
			t.Errorf("expected status %d, got %d", http.StatusForbidden, rr.Code)
		}
	})

	t.Run("admin principal", func(t *testing.T) {
		principal := &Principal{Claims: &auth.Claims{Username: "admin", Role: "admin"}}
		ctx := context.WithValue(context.Background(), principalContextKey, principal)

		handlerCalled := false
		handler := RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
		}
		if !handlerCalled {
			t.Error("expected handler to be called")
		}
	})
}

// withRouteParam injects a chi route parameter into the request context.
func withRouteParam(req *http.Request, name, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(name, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestRequireProject(t *testing.T) {
	t.Run("no principal in context", func(t *testing.T) {
		handler := RequireProject()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not be called")
		}))

		req := withRouteParam(httptest.NewRequest(http.MethodGet, "/v1/files/demo/a.txt", nil), "project", "demo")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
		}
	})

	t.Run("key scoped to another project", func(t *testing.T) {
		principal := &Principal{Key: &models.APIKey{ProjectID: "other", Role: string(models.RoleWriter)}}

		handler := RequireProject()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not be called")
		}))

		req := withRouteParam(httptest.NewRequest(http.MethodGet, "/v1/files/demo/a.txt", nil), "project", "demo")
		req = req.WithContext(context.WithValue(req.Context(), principalContextKey, principal))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusForbidden {
			t.Errorf("expected status %d, got %d", http.StatusForbidden, rr.Code)
		}
	})

	t.Run("key scoped to the project", func(t *testing.T) {
		principal := &Principal{Key: &models.APIKey{ProjectID: "demo", Role: string(models.RoleReader)}}

		handlerCalled := false
		handler := RequireProject()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
			w.WriteHeader(http.StatusOK)
		}))

		req := withRouteParam(httptest.NewRequest(http.MethodGet, "/v1/files/demo/a.txt", nil), "project", "demo")
		req = req.WithContext(context.WithValue(req.Context(), principalContextKey, principal))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
		}
		if !handlerCalled {
			t.Error("expected handler to be called")
		}
	})

	t.Run("admin allowed everywhere", func(t *testing.T) {
		principal := &Principal{Claims: &auth.Claims{Username: "admin", Role: "admin"}}

		handlerCalled := false
		handler := RequireProject()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
			w.WriteHeader(http.StatusOK)
		}))

		req := withRouteParam(httptest.NewRequest(http.MethodGet, "/v1/files/demo/a.txt", nil), "project", "demo")
		req = req.WithContext(context.WithValue(req.Context(), principalContextKey, principal))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if !handlerCalled {
			t.Error("expected handler to be called")
		}
	})
}

func TestRequireWriter(t *testing.T) {
	t.Run("reader key blocked", func(t *testing.T) {
		principal := &Principal{Key: &models.APIKey{ProjectID: "demo", Role: string(models.RoleReader)}}
		ctx := context.WithValue(context.Background(), principalContextKey, principal)

		handler := RequireWriter()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusForbidden {
			t.Errorf("expected status %d, got %d", http.StatusForbidden, rr.Code)
		}
	})

	t.Run("writer key allowed", func(t *testing.T) {
		principal := &Principal{Key: &models.APIKey{ProjectID: "demo", Role: string(models.RoleWriter)}}
		ctx := context.WithValue(context.Background(), principalContextKey, principal)

		handlerCalled := false
		handler := RequireWriter()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
		}
		if !handlerCalled {
			t.Error("expected handler to be called")
		}
	})
}

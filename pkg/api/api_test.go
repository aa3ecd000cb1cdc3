package api_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stagefs/stagefs/pkg/api"
	"github.com/stagefs/stagefs/pkg/api/auth"
	"github.com/stagefs/stagefs/pkg/api/handlers"
	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/catalog/store"
	"github.com/stagefs/stagefs/pkg/staging/archive"
	"github.com/stagefs/stagefs/pkg/staging/checksum"
	"github.com/stagefs/stagefs/pkg/staging/finalize"
	"github.com/stagefs/stagefs/pkg/staging/jobs"
	"github.com/stagefs/stagefs/pkg/staging/lock"
	"github.com/stagefs/stagefs/pkg/staging/quota"
	"github.com/stagefs/stagefs/pkg/staging/spool"
	"github.com/stagefs/stagefs/pkg/staging/upload"
	"github.com/stagefs/stagefs/pkg/state/badger"
)

const (
	testAdminUser     = "admin"
	testAdminPassword = "correct horse battery staple"
	testJWTSecret     = "0123456789abcdef0123456789abcdef"

	// Bodies at or past this size finalize in the background, so the async
	// path stays reachable without large fixtures.
	testAsyncThreshold = 1024
)

// apiEnv is a full staging runtime behind a real HTTP listener.
type apiEnv struct {
	catalog    *store.GORMStore
	dispatcher *jobs.Dispatcher
	server     *httptest.Server
	adminToken string
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	catalog, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })

	stateStore, err := badger.New(badger.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = stateStore.Close() })

	sp, err := spool.New(spool.Config{Root: t.TempDir(), MinFree: 1})
	require.NoError(t, err)

	ledger := quota.NewLedger(catalog, nil)
	locks := lock.NewManager(stateStore, lock.Config{
		TTL:            time.Minute,
		AcquireTimeout: 100 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	}, nil)
	finalizer := finalize.New(catalog, sp, ledger, locks, nil)
	dispatcher := jobs.NewDispatcher(stateStore, catalog, jobs.Config{
		Workers:      1,
		PollInterval: 20 * time.Millisecond,
		JobTimeout:   5 * time.Second,
		MaxAttempts:  3,
	}, nil)

	uploads := upload.NewService(catalog, sp, locks, ledger, finalizer, dispatcher, upload.Config{
		MaxSize:        1 << 20,
		AsyncThreshold: testAsyncThreshold,
	}, nil)
	uploads.RegisterHandlers(dispatcher)
	archive.New(catalog, sp, locks, ledger, nil).RegisterHandlers(dispatcher)

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminPassword), bcrypt.MinCost)
	require.NoError(t, err)

	jwtService, err := auth.NewJWTService(auth.JWTConfig{Secret: testJWTSecret})
	require.NoError(t, err)

	cfg := &api.Config{}
	cfg.ApplyDefaults()

	router := api.NewRouter(api.Deps{
		Catalog:           catalog,
		Spool:             sp,
		Uploads:           uploads,
		Finalizer:         finalizer,
		AdminUsername:     testAdminUser,
		AdminPasswordHash: string(hash),
	}, cfg, jwtService)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	env := &apiEnv{
		catalog:    catalog,
		dispatcher: dispatcher,
		server:     server,
	}
	env.adminToken = env.login(t, testAdminUser, testAdminPassword).AccessToken
	return env
}

// startDispatcher runs the worker pool for tests that exercise background
// finalization or extraction end to end.
func (e *apiEnv) startDispatcher(t *testing.T) {
	t.Helper()
	e.dispatcher.Start(context.Background())
	t.Cleanup(func() { e.dispatcher.Stop(5 * time.Second) })
}

func (e *apiEnv) newRequest(t *testing.T, method, path, token string, body io.Reader) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (e *apiEnv) send(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body io.Reader) *http.Response {
	t.Helper()
	return e.send(t, e.newRequest(t, method, path, token, body))
}

func (e *apiEnv) doJSON(t *testing.T, method, path, token string, payload any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	req := e.newRequest(t, method, path, token, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return e.send(t, req)
}

func (e *apiEnv) login(t *testing.T, username, password string) *handlers.LoginResponse {
	t.Helper()
	resp := e.doJSON(t, http.MethodPost, "/v1/auth/login", "", handlers.LoginRequest{
		Username: username,
		Password: password,
	})
	requireStatus(t, resp, http.StatusOK)
	out := decode[handlers.LoginResponse](t, resp)
	return &out
}

func (e *apiEnv) createProject(t *testing.T, id string, quotaBytes int64) {
	t.Helper()
	resp := e.doJSON(t, http.MethodPost, "/v1/admin/projects", e.adminToken, handlers.CreateProjectRequest{
		ID:         id,
		QuotaBytes: &quotaBytes,
	})
	requireStatus(t, resp, http.StatusCreated)
	resp.Body.Close()
}

func (e *apiEnv) issueKey(t *testing.T, label, projectID, role string) (id, token string) {
	t.Helper()
	resp := e.doJSON(t, http.MethodPost, "/v1/admin/keys", e.adminToken, handlers.IssueKeyRequest{
		Label:     label,
		ProjectID: projectID,
		Role:      role,
	})
	requireStatus(t, resp, http.StatusCreated)
	issued := decode[handlers.IssueKeyResponse](t, resp)
	require.NotEmpty(t, issued.Token)
	return issued.Key.ID, issued.Token
}

// appendChunk PATCHes one chunk at offset, optionally signalling completion.
func (e *apiEnv) appendChunk(t *testing.T, token, project, uploadID string, offset int64, chunk string, final bool) *http.Response {
	t.Helper()
	path := "/v1/uploads/" + project + "/" + uploadID
	if final {
		path += "?final=true"
	}
	req := e.newRequest(t, http.MethodPatch, path, token, strings.NewReader(chunk))
	req.Header.Set("Upload-Offset", strconv.FormatInt(offset, 10))
	return e.send(t, req)
}

// waitTask polls the task endpoint until the task reaches a terminal state.
func (e *apiEnv) waitTask(t *testing.T, taskID string) *models.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp := e.do(t, http.MethodGet, "/v1/tasks/"+taskID, e.adminToken, nil)
		requireStatus(t, resp, http.StatusOK)
		task := decode[models.Task](t, resp)
		if task.Finished() {
			return &task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not finish in time", taskID)
	return nil
}

func (e *apiEnv) usage(t *testing.T, project string) (reserved, committed int64) {
	t.Helper()
	p, err := e.catalog.GetProject(context.Background(), project)
	require.NoError(t, err)
	return p.ReservedBytes, p.CommittedBytes
}

// requireStatus fails with the response body in the message so unexpected
// problem responses stay readable.
func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode == want {
		return
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}

func md5Hex(t *testing.T, body string) string {
	t.Helper()
	sum, err := checksum.Sum(strings.NewReader(body), checksum.MD5)
	require.NoError(t, err)
	return sum.Hex
}

// opaqueReader hides the concrete reader type so the client sends the body
// chunked, without a Content-Length.
type opaqueReader struct{ io.Reader }

func zipArchive(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range members {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestHealthEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	requireStatus(t, resp, http.StatusOK)
	live := decode[handlers.Response](t, resp)
	assert.Equal(t, "healthy", live.Status)

	resp = env.do(t, http.MethodGet, "/readyz", "", nil)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestAdminLogin(t *testing.T) {
	env := newAPIEnv(t)

	t.Run("rejects bad credentials", func(t *testing.T) {
		resp := env.doJSON(t, http.MethodPost, "/v1/auth/login", "", handlers.LoginRequest{
			Username: testAdminUser,
			Password: "wrong",
		})
		requireStatus(t, resp, http.StatusUnauthorized)
		resp.Body.Close()
	})

	t.Run("issues a token pair", func(t *testing.T) {
		out := env.login(t, testAdminUser, testAdminPassword)
		assert.NotEmpty(t, out.AccessToken)
		assert.NotEmpty(t, out.RefreshToken)
		assert.Equal(t, "Bearer", out.TokenType)
		assert.Equal(t, "admin", out.Role)
	})

	t.Run("refresh rotates the pair", func(t *testing.T) {
		out := env.login(t, testAdminUser, testAdminPassword)
		resp := env.doJSON(t, http.MethodPost, "/v1/auth/refresh", "", handlers.RefreshRequest{
			RefreshToken: out.RefreshToken,
		})
		requireStatus(t, resp, http.StatusOK)
		rotated := decode[handlers.LoginResponse](t, resp)
		assert.NotEmpty(t, rotated.AccessToken)
	})

	t.Run("identifies the admin principal", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/auth/me", env.adminToken, nil)
		requireStatus(t, resp, http.StatusOK)
		me := decode[handlers.PrincipalResponse](t, resp)
		assert.Equal(t, "admin", me.Kind)
		assert.Equal(t, testAdminUser, me.Name)
		assert.True(t, me.CanWrite)
	})
}

func TestAuthorization(t *testing.T) {
	env := newAPIEnv(t)
	env.createProject(t, "alpha", 1<<20)
	env.createProject(t, "beta", 1<<20)
	_, readerToken := env.issueKey(t, "alpha-reader", "alpha", string(models.RoleReader))
	_, writerToken := env.issueKey(t, "alpha-writer", "alpha", string(models.RoleWriter))

	t.Run("missing token is rejected", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/files/alpha/", "", nil)
		requireStatus(t, resp, http.StatusUnauthorized)
		resp.Body.Close()
	})

	t.Run("garbage tokens are rejected", func(t *testing.T) {
		for _, token := range []string{"nonsense", "deadbeef.nope", "a.b.c"} {
			resp := env.do(t, http.MethodGet, "/v1/files/alpha/", token, nil)
			requireStatus(t, resp, http.StatusUnauthorized)
			resp.Body.Close()
		}
	})

	t.Run("reader can list but not write", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/files/alpha/", readerToken, nil)
		requireStatus(t, resp, http.StatusOK)
		listing := decode[handlers.FileListResponse](t, resp)
		assert.Zero(t, listing.Count)

		resp = env.do(t, http.MethodPost, "/v1/files/alpha/doc.txt", readerToken, strings.NewReader("x"))
		requireStatus(t, resp, http.StatusForbidden)
		resp.Body.Close()
	})

	t.Run("keys are fenced to their project", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/v1/files/beta/doc.txt", writerToken, strings.NewReader("x"))
		requireStatus(t, resp, http.StatusForbidden)
		resp.Body.Close()
	})

	t.Run("keys cannot reach the admin surface", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/admin/projects", writerToken, nil)
		requireStatus(t, resp, http.StatusForbidden)
		resp.Body.Close()
	})

	t.Run("identifies an api key principal", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/auth/me", writerToken, nil)
		requireStatus(t, resp, http.StatusOK)
		me := decode[handlers.PrincipalResponse](t, resp)
		assert.Equal(t, "api_key", me.Kind)
		assert.Equal(t, "alpha", me.Project)
		assert.True(t, me.CanWrite)
	})
}

func TestProjectAdmin(t *testing.T) {
	env := newAPIEnv(t)

	t.Run("create and fetch", func(t *testing.T) {
		env.createProject(t, "proj", 4096)

		resp := env.do(t, http.MethodGet, "/v1/admin/projects/proj", env.adminToken, nil)
		requireStatus(t, resp, http.StatusOK)
		proj := decode[handlers.ProjectResponse](t, resp)
		assert.Equal(t, "proj", proj.ID)
		assert.Equal(t, int64(4096), proj.QuotaBytes)
		assert.Equal(t, int64(4096), proj.FreeBytes)

		resp = env.do(t, http.MethodGet, "/v1/admin/projects", env.adminToken, nil)
		requireStatus(t, resp, http.StatusOK)
		listing := decode[handlers.ProjectListResponse](t, resp)
		assert.Equal(t, 1, listing.Count)
	})

	t.Run("duplicate id conflicts", func(t *testing.T) {
		quota := int64(4096)
		resp := env.doJSON(t, http.MethodPost, "/v1/admin/projects", env.adminToken, handlers.CreateProjectRequest{
			ID:         "proj",
			QuotaBytes: &quota,
		})
		requireStatus(t, resp, http.StatusConflict)
		resp.Body.Close()
	})

	t.Run("invalid id is rejected", func(t *testing.T) {
		resp := env.doJSON(t, http.MethodPost, "/v1/admin/projects", env.adminToken, handlers.CreateProjectRequest{
			ID: "Bad/Name",
		})
		requireStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	})

	t.Run("quota can be resized", func(t *testing.T) {
		resp := env.doJSON(t, http.MethodPatch, "/v1/admin/projects/proj/quota", env.adminToken, handlers.UpdateQuotaRequest{
			QuotaBytes: 8192,
		})
		requireStatus(t, resp, http.StatusOK)
		proj := decode[handlers.ProjectResponse](t, resp)
		assert.Equal(t, int64(8192), proj.QuotaBytes)
	})

	t.Run("delete refuses while files remain", func(t *testing.T) {
		body := "keep me"
		resp := env.do(t, http.MethodPost, "/v1/files/proj/pin.txt?md5="+md5Hex(t, body), env.adminToken, strings.NewReader(body))
		requireStatus(t, resp, http.StatusCreated)
		resp.Body.Close()

		resp = env.do(t, http.MethodDelete, "/v1/admin/projects/proj", env.adminToken, nil)
		requireStatus(t, resp, http.StatusConflict)
		resp.Body.Close()

		resp = env.do(t, http.MethodDelete, "/v1/files/proj/pin.txt", env.adminToken, nil)
		requireStatus(t, resp, http.StatusOK)
		resp.Body.Close()

		resp = env.do(t, http.MethodDelete, "/v1/admin/projects/proj", env.adminToken, nil)
		requireStatus(t, resp, http.StatusNoContent)
		resp.Body.Close()

		resp = env.do(t, http.MethodGet, "/v1/admin/projects/proj", env.adminToken, nil)
		requireStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()
	})
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newAPIEnv(t)
	env.createProject(t, "proj", 1<<20)

	t.Run("issued token authenticates", func(t *testing.T) {
		keyID, token := env.issueKey(t, "ci-writer", "proj", string(models.RoleWriter))

		body := "payload"
		resp := env.do(t, http.MethodPost, "/v1/files/proj/ci.txt?md5="+md5Hex(t, body), token, strings.NewReader(body))
		requireStatus(t, resp, http.StatusCreated)
		resp.Body.Close()

		resp = env.do(t, http.MethodGet, "/v1/admin/keys?project=proj", env.adminToken, nil)
		requireStatus(t, resp, http.StatusOK)
		listing := decode[handlers.KeyListResponse](t, resp)
		require.Equal(t, 1, listing.Count)
		assert.Equal(t, keyID, listing.Keys[0].ID)
		assert.True(t, listing.Keys[0].Enabled)
		assert.Empty(t, listing.Keys[0].SecretHash)
	})

	t.Run("revoke disables but keeps the record", func(t *testing.T) {
		keyID, token := env.issueKey(t, "short-lived", "proj", string(models.RoleReader))

		resp := env.do(t, http.MethodDelete, "/v1/admin/keys/"+keyID, env.adminToken, nil)
		requireStatus(t, resp, http.StatusNoContent)
		resp.Body.Close()

		resp = env.do(t, http.MethodGet, "/v1/files/proj/", token, nil)
		requireStatus(t, resp, http.StatusUnauthorized)
		resp.Body.Close()

		resp = env.do(t, http.MethodGet, "/v1/admin/keys?project=proj", env.adminToken, nil)
		requireStatus(t, resp, http.StatusOK)
		listing := decode[handlers.KeyListResponse](t, resp)
		found := false
		for _, key := range listing.Keys {
			if key.ID == keyID {
				found = true
				assert.False(t, key.Enabled)
			}
		}
		assert.True(t, found, "revoked key should stay listed")
	})

	t.Run("purge removes the record", func(t *testing.T) {
		keyID, _ := env.issueKey(t, "disposable", "proj", string(models.RoleReader))

		resp := env.do(t, http.MethodDelete, "/v1/admin/keys/"+keyID+"?purge=true", env.adminToken, nil)
		requireStatus(t, resp, http.StatusNoContent)
		resp.Body.Close()

		resp = env.do(t, http.MethodGet, "/v1/admin/keys?project=proj", env.adminToken, nil)
		requireStatus(t, resp, http.StatusOK)
		listing := decode[handlers.KeyListResponse](t, resp)
		for _, key := range listing.Keys {
			assert.NotEqual(t, keyID, key.ID)
		}
	})

	t.Run("issue validations", func(t *testing.T) {
		cases := []struct {
			name string
			req  handlers.IssueKeyRequest
			want int
		}{
			{"missing label", handlers.IssueKeyRequest{ProjectID: "proj"}, http.StatusBadRequest},
			{"unknown role", handlers.IssueKeyRequest{Label: "x", ProjectID: "proj", Role: "owner"}, http.StatusBadRequest},
			{"admin bound to project", handlers.IssueKeyRequest{Label: "x", ProjectID: "proj", Role: string(models.RoleAdmin)}, http.StatusBadRequest},
			{"scoped key without project", handlers.IssueKeyRequest{Label: "x", Role: string(models.RoleWriter)}, http.StatusBadRequest},
			{"unknown project", handlers.IssueKeyRequest{Label: "x", ProjectID: "ghost", Role: string(models.RoleWriter)}, http.StatusNotFound},
		}
		for _, tc := range cases {
			resp := env.doJSON(t, http.MethodPost, "/v1/admin/keys", env.adminToken, tc.req)
			requireStatus(t, resp, tc.want)
			resp.Body.Close()
		}
	})

	t.Run("admin key opens every project", func(t *testing.T) {
		_, token := env.issueKey(t, "operator", "", string(models.RoleAdmin))

		resp := env.do(t, http.MethodGet, "/v1/files/proj/", token, nil)
		requireStatus(t, resp, http.StatusOK)
		resp.Body.Close()

		resp = env.do(t, http.MethodGet, "/v1/admin/projects", token, nil)
		requireStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	})
}

func TestSingleShotFiles(t *testing.T) {
	env := newAPIEnv(t)
	env.createProject(t, "proj", 1<<20)
	_, token := env.issueKey(t, "writer", "proj", string(models.RoleWriter))

	hello := "hello world"
	part := "123456789"

	t.Run("upload publishes a record inline", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/v1/files/proj/data/hello.txt?md5="+md5Hex(t, hello), token, strings.NewReader(hello))
		requireStatus(t, resp, http.StatusCreated)
		record := decode[models.FileRecord](t, resp)
		assert.Equal(t, "proj", record.ProjectID)
		assert.Equal(t, "data/hello.txt", record.Path)
		assert.Equal(t, int64(len(hello)), record.Size)
		assert.Equal(t, "md5:"+md5Hex(t, hello), record.Checksum)
		assert.Equal(t, models.FileSourceUpload, record.Source)

		resp = env.do(t, http.MethodPost, "/v1/files/proj/data/sub/part.bin", token, strings.NewReader(part))
		requireStatus(t, resp, http.StatusCreated)
		resp.Body.Close()

		reserved, committed := env.usage(t, "proj")
		assert.Zero(t, reserved)
		assert.Equal(t, int64(len(hello)+len(part)), committed)
	})

	t.Run("stat returns the record", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/files/proj/data/hello.txt", token, nil)
		requireStatus(t, resp, http.StatusOK)
		record := decode[models.FileRecord](t, resp)
		assert.Equal(t, "data/hello.txt", record.Path)
	})

	t.Run("download streams the bytes", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/files/proj/data/hello.txt?download=true", token, nil)
		requireStatus(t, resp, http.StatusOK)
		assert.Equal(t, `"md5:`+md5Hex(t, hello)+`"`, resp.Header.Get("ETag"))
		assert.Equal(t, hello, readBody(t, resp))
	})

	t.Run("prefix listing walks the subtree", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/files/proj/data", token, nil)
		requireStatus(t, resp, http.StatusOK)
		listing := decode[handlers.FileListResponse](t, resp)
		assert.Equal(t, 2, listing.Count)

		resp = env.do(t, http.MethodGet, "/v1/files/proj/data/sub", token, nil)
		requireStatus(t, resp, http.StatusOK)
		listing = decode[handlers.FileListResponse](t, resp)
		assert.Equal(t, 1, listing.Count)
	})

	t.Run("missing path is 404", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/files/proj/data/ghost.txt", token, nil)
		requireStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()

		resp = env.do(t, http.MethodGet, "/v1/files/ghost/data", env.adminToken, nil)
		requireStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()
	})

	t.Run("published paths are write-once", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/v1/files/proj/data/hello.txt", token, strings.NewReader("different content"))
		requireStatus(t, resp, http.StatusConflict)
		resp.Body.Close()

		// Same bytes again is an idempotent republish.
		resp = env.do(t, http.MethodPost, "/v1/files/proj/data/hello.txt?md5="+md5Hex(t, hello), token, strings.NewReader(hello))
		requireStatus(t, resp, http.StatusCreated)
		resp.Body.Close()

		reserved, committed := env.usage(t, "proj")
		assert.Zero(t, reserved)
		assert.Equal(t, int64(len(hello)+len(part)), committed)
	})

	t.Run("prefix delete removes the subtree and refunds quota", func(t *testing.T) {
		resp := env.do(t, http.MethodDelete, "/v1/files/proj/data", token, nil)
		requireStatus(t, resp, http.StatusOK)
		removed := decode[handlers.RemoveResponse](t, resp)
		assert.Equal(t, int64(2), removed.Files)
		assert.Equal(t, int64(len(hello)+len(part)), removed.Bytes)

		_, committed := env.usage(t, "proj")
		assert.Zero(t, committed)

		resp = env.do(t, http.MethodDelete, "/v1/files/proj/data", token, nil)
		requireStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()
	})
}

func TestUploadRejections(t *testing.T) {
	env := newAPIEnv(t)
	env.createProject(t, "proj", 1<<20)
	env.createProject(t, "tiny", 10)
	_, token := env.issueKey(t, "writer", "proj", string(models.RoleWriter))
	_, tinyToken := env.issueKey(t, "tiny-writer", "tiny", string(models.RoleWriter))

	t.Run("chunked bodies need the resumable endpoints", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/v1/files/proj/stream.bin", token, opaqueReader{strings.NewReader("unsized")})
		requireStatus(t, resp, http.StatusLengthRequired)
		resp.Body.Close()
	})

	t.Run("quota exhaustion is 507", func(t *testing.T) {
		body := strings.Repeat("x", 100)
		resp := env.do(t, http.MethodPost, "/v1/files/tiny/big.bin", tinyToken, strings.NewReader(body))
		requireStatus(t, resp, http.StatusInsufficientStorage)
		resp.Body.Close()

		reserved, _ := env.usage(t, "tiny")
		assert.Zero(t, reserved, "failed admission must not leak a reservation")
	})

	t.Run("digest mismatch rolls the upload back", func(t *testing.T) {
		body := "actual content"
		resp := env.do(t, http.MethodPost, "/v1/files/proj/sum.txt?md5="+md5Hex(t, "expected content"), token, strings.NewReader(body))
		requireStatus(t, resp, http.StatusUnprocessableEntity)
		resp.Body.Close()

		reserved, committed := env.usage(t, "proj")
		assert.Zero(t, reserved)
		assert.Zero(t, committed)

		// The path is free again once the failed attempt rolled back.
		resp = env.do(t, http.MethodPost, "/v1/files/proj/sum.txt?md5="+md5Hex(t, body), token, strings.NewReader(body))
		requireStatus(t, resp, http.StatusCreated)
		resp.Body.Close()
	})

	t.Run("digest parameters are validated", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/v1/files/proj/two.txt?md5=abc&sha256=def", token, strings.NewReader("x"))
		requireStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()

		resp = env.do(t, http.MethodPost, "/v1/files/proj/two.txt?md5=zz", token, strings.NewReader("x"))
		requireStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	})

	t.Run("project root is not a file target", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/v1/files/proj/", token, strings.NewReader("x"))
		requireStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	})
}

func TestAsyncFinalization(t *testing.T) {
	env := newAPIEnv(t)
	env.startDispatcher(t)
	env.createProject(t, "proj", 1<<20)
	_, token := env.issueKey(t, "writer", "proj", string(models.RoleWriter))

	body := strings.Repeat("s", testAsyncThreshold*2)
	resp := env.do(t, http.MethodPost, "/v1/files/proj/large.bin?md5="+md5Hex(t, body), token, strings.NewReader(body))
	requireStatus(t, resp, http.StatusAccepted)
	accepted := decode[handlers.AcceptedResponse](t, resp)
	require.NotEmpty(t, accepted.TaskID)
	assert.Equal(t, "/v1/tasks/"+accepted.TaskID, accepted.PollingURL)

	// The project's own key can poll the task too.
	pollResp := env.do(t, http.MethodGet, accepted.PollingURL, token, nil)
	requireStatus(t, pollResp, http.StatusOK)
	pollResp.Body.Close()

	task := env.waitTask(t, accepted.TaskID)
	assert.Equal(t, string(models.TaskStateSucceeded), task.State)
	assert.Equal(t, upload.KindFinalize, task.Kind)

	resp = env.do(t, http.MethodGet, "/v1/files/proj/large.bin", token, nil)
	requireStatus(t, resp, http.StatusOK)
	record := decode[models.FileRecord](t, resp)
	assert.Equal(t, int64(len(body)), record.Size)

	reserved, committed := env.usage(t, "proj")
	assert.Zero(t, reserved)
	assert.Equal(t, int64(len(body)), committed)
}

func TestResumableUploads(t *testing.T) {
	env := newAPIEnv(t)
	env.createProject(t, "proj", 1<<20)
	_, token := env.issueKey(t, "writer", "proj", string(models.RoleWriter))

	createSession := func(t *testing.T, req handlers.CreateUploadRequest) *models.UploadSession {
		t.Helper()
		resp := env.doJSON(t, http.MethodPost, "/v1/uploads/proj", token, req)
		requireStatus(t, resp, http.StatusCreated)
		assert.Equal(t, "0", resp.Header.Get("Upload-Offset"))
		session := decode[models.UploadSession](t, resp)
		return &session
	}

	t.Run("declared size completes at the last byte", func(t *testing.T) {
		size := int64(11)
		session := createSession(t, handlers.CreateUploadRequest{Path: "big/file.bin", Size: &size})
		assert.Equal(t, string(models.UploadStateActive), session.State)

		resp := env.appendChunk(t, token, "proj", session.ID, 0, "hello ", false)
		requireStatus(t, resp, http.StatusOK)
		assert.Equal(t, "6", resp.Header.Get("Upload-Offset"))
		progressed := decode[models.UploadSession](t, resp)
		assert.Equal(t, int64(6), progressed.Offset)

		// HEAD reports where to resume.
		resp = env.do(t, http.MethodHead, "/v1/uploads/proj/"+session.ID, token, nil)
		requireStatus(t, resp, http.StatusOK)
		assert.Equal(t, "6", resp.Header.Get("Upload-Offset"))
		assert.Equal(t, "11", resp.Header.Get("Upload-Length"))
		resp.Body.Close()

		resp = env.appendChunk(t, token, "proj", session.ID, 6, "world", false)
		requireStatus(t, resp, http.StatusCreated)
		record := decode[models.FileRecord](t, resp)
		assert.Equal(t, "big/file.bin", record.Path)
		assert.Equal(t, size, record.Size)
	})

	t.Run("stale offset is rejected without side effects", func(t *testing.T) {
		size := int64(10)
		session := createSession(t, handlers.CreateUploadRequest{Path: "big/two.bin", Size: &size})

		resp := env.appendChunk(t, token, "proj", session.ID, 0, "01234", false)
		requireStatus(t, resp, http.StatusOK)
		resp.Body.Close()

		resp = env.appendChunk(t, token, "proj", session.ID, 0, "01234", false)
		requireStatus(t, resp, http.StatusConflict)
		resp.Body.Close()

		resp = env.do(t, http.MethodHead, "/v1/uploads/proj/"+session.ID, token, nil)
		requireStatus(t, resp, http.StatusOK)
		assert.Equal(t, "5", resp.Header.Get("Upload-Offset"))
		resp.Body.Close()
	})

	t.Run("missing offset header is rejected", func(t *testing.T) {
		size := int64(4)
		session := createSession(t, handlers.CreateUploadRequest{Path: "big/three.bin", Size: &size})

		req := env.newRequest(t, http.MethodPatch, "/v1/uploads/proj/"+session.ID, token, strings.NewReader("data"))
		resp := env.send(t, req)
		requireStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	})

	t.Run("unknown size completes on the final flag", func(t *testing.T) {
		session := createSession(t, handlers.CreateUploadRequest{Path: "open/ended.log"})
		assert.Equal(t, models.UnknownSize, session.Size)

		resp := env.appendChunk(t, token, "proj", session.ID, 0, "abc", false)
		requireStatus(t, resp, http.StatusOK)
		resp.Body.Close()

		resp = env.appendChunk(t, token, "proj", session.ID, 3, "def", true)
		requireStatus(t, resp, http.StatusCreated)
		record := decode[models.FileRecord](t, resp)
		assert.Equal(t, int64(6), record.Size)
	})

	t.Run("declared digest is verified at completion", func(t *testing.T) {
		size := int64(3)
		session := createSession(t, handlers.CreateUploadRequest{
			Path:     "sum/checked.bin",
			Size:     &size,
			Checksum: "md5:" + md5Hex(t, "abc"),
		})

		resp := env.appendChunk(t, token, "proj", session.ID, 0, "xyz", false)
		requireStatus(t, resp, http.StatusUnprocessableEntity)
		resp.Body.Close()

		// The failed completion cancelled the session.
		resp = env.do(t, http.MethodHead, "/v1/uploads/proj/"+session.ID, token, nil)
		requireStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()
	})

	t.Run("abort releases the path and its reservation", func(t *testing.T) {
		size := int64(100)
		session := createSession(t, handlers.CreateUploadRequest{Path: "tmp/aborted.bin", Size: &size})

		reservedBefore, _ := env.usage(t, "proj")

		resp := env.do(t, http.MethodDelete, "/v1/uploads/proj/"+session.ID, token, nil)
		requireStatus(t, resp, http.StatusNoContent)
		resp.Body.Close()

		reservedAfter, _ := env.usage(t, "proj")
		assert.Equal(t, reservedBefore-size, reservedAfter)

		resp = env.do(t, http.MethodHead, "/v1/uploads/proj/"+session.ID, token, nil)
		requireStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()

		// The lease went with it; the path admits a fresh session.
		createSession(t, handlers.CreateUploadRequest{Path: "tmp/aborted.bin", Size: &size})
	})

	t.Run("open sessions are listed", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/uploads/proj", token, nil)
		requireStatus(t, resp, http.StatusOK)
		listing := decode[handlers.UploadListResponse](t, resp)
		assert.Equal(t, "proj", listing.Project)
		// Still open: the stalled session, the one that never saw a
		// chunk, and the re-admitted abort target.
		assert.Equal(t, 3, listing.Count)
	})

	t.Run("unknown session is 404", func(t *testing.T) {
		resp := env.appendChunk(t, token, "proj", "no-such-session", 0, "x", false)
		requireStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()
	})
}

func TestArchiveExtraction(t *testing.T) {
	env := newAPIEnv(t)
	env.startDispatcher(t)
	env.createProject(t, "proj", 1<<20)
	_, token := env.issueKey(t, "writer", "proj", string(models.RoleWriter))

	members := map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "bravo bravo",
	}
	zipData := zipArchive(t, members)

	t.Run("archive lands as individual files", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/v1/archives/proj?dir=inbox&md5="+md5Hex(t, string(zipData)), token, bytes.NewReader(zipData))
		requireStatus(t, resp, http.StatusAccepted)
		accepted := decode[handlers.AcceptedResponse](t, resp)

		task := env.waitTask(t, accepted.TaskID)
		require.Equal(t, string(models.TaskStateSucceeded), task.State)
		assert.Equal(t, upload.KindExtract, task.Kind)

		resp = env.do(t, http.MethodGet, "/v1/files/proj/inbox/a.txt", token, nil)
		requireStatus(t, resp, http.StatusOK)
		record := decode[models.FileRecord](t, resp)
		assert.Equal(t, int64(len("alpha")), record.Size)
		assert.Equal(t, models.FileSourceArchive, record.Source)

		resp = env.do(t, http.MethodGet, "/v1/files/proj/inbox/sub/b.txt?download=true", token, nil)
		requireStatus(t, resp, http.StatusOK)
		assert.Equal(t, "bravo bravo", readBody(t, resp))

		resp = env.do(t, http.MethodGet, "/v1/files/proj/inbox", token, nil)
		requireStatus(t, resp, http.StatusOK)
		listing := decode[handlers.FileListResponse](t, resp)
		assert.Equal(t, 2, listing.Count)

		// Only the extracted members count; the container is discarded.
		reserved, committed := env.usage(t, "proj")
		assert.Zero(t, reserved)
		assert.Equal(t, int64(len("alpha")+len("bravo bravo")), committed)
	})

	t.Run("wrong archive digest fails the job cleanly", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/v1/archives/proj?dir=bad&md5="+md5Hex(t, "not the archive"), token, bytes.NewReader(zipData))
		requireStatus(t, resp, http.StatusAccepted)
		accepted := decode[handlers.AcceptedResponse](t, resp)

		task := env.waitTask(t, accepted.TaskID)
		assert.Equal(t, string(models.TaskStateFailed), task.State)
		assert.NotEmpty(t, task.Message)

		resp = env.do(t, http.MethodGet, "/v1/files/proj/bad", token, nil)
		requireStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()

		reserved, committed := env.usage(t, "proj")
		assert.Zero(t, reserved)
		assert.Equal(t, int64(len("alpha")+len("bravo bravo")), committed)
	})

	t.Run("junk payload fails the job", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/v1/archives/proj?dir=junk", token, strings.NewReader("this is not an archive at all"))
		requireStatus(t, resp, http.StatusAccepted)
		accepted := decode[handlers.AcceptedResponse](t, resp)

		task := env.waitTask(t, accepted.TaskID)
		assert.Equal(t, string(models.TaskStateFailed), task.State)
	})
}

func TestTaskVisibility(t *testing.T) {
	env := newAPIEnv(t)
	env.startDispatcher(t)
	env.createProject(t, "alpha", 1<<20)
	env.createProject(t, "beta", 1<<20)
	_, alphaToken := env.issueKey(t, "alpha-writer", "alpha", string(models.RoleWriter))
	_, betaToken := env.issueKey(t, "beta-writer", "beta", string(models.RoleWriter))

	body := strings.Repeat("t", testAsyncThreshold*2)
	resp := env.do(t, http.MethodPost, "/v1/files/alpha/big.bin", alphaToken, strings.NewReader(body))
	requireStatus(t, resp, http.StatusAccepted)
	accepted := decode[handlers.AcceptedResponse](t, resp)
	env.waitTask(t, accepted.TaskID)

	t.Run("foreign tasks read as missing", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/tasks/"+accepted.TaskID, betaToken, nil)
		requireStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()

		resp = env.do(t, http.MethodGet, "/v1/tasks/"+accepted.TaskID, alphaToken, nil)
		requireStatus(t, resp, http.StatusOK)
		resp.Body.Close()

		resp = env.do(t, http.MethodGet, "/v1/tasks/"+accepted.TaskID, env.adminToken, nil)
		requireStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	})

	t.Run("listing defaults to the key's project", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/tasks", alphaToken, nil)
		requireStatus(t, resp, http.StatusOK)
		listing := decode[handlers.TaskListResponse](t, resp)
		assert.Equal(t, "alpha", listing.Project)
		require.NotEmpty(t, listing.Tasks)
		assert.Equal(t, accepted.TaskID, listing.Tasks[0].ID)

		resp = env.do(t, http.MethodGet, "/v1/tasks", betaToken, nil)
		requireStatus(t, resp, http.StatusOK)
		listing = decode[handlers.TaskListResponse](t, resp)
		assert.Zero(t, listing.Count)
	})

	t.Run("admins name the project explicitly", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/tasks", env.adminToken, nil)
		requireStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()

		resp = env.do(t, http.MethodGet, "/v1/tasks?project=alpha", env.adminToken, nil)
		requireStatus(t, resp, http.StatusOK)
		listing := decode[handlers.TaskListResponse](t, resp)
		assert.Equal(t, 1, listing.Count)
	})

	t.Run("cross project listing is denied", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/tasks?project=alpha", betaToken, nil)
		requireStatus(t, resp, http.StatusForbidden)
		resp.Body.Close()
	})

	t.Run("limit must be positive", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/tasks?project=alpha&limit=0", env.adminToken, nil)
		requireStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	})
}

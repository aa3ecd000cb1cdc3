package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stagefs/stagefs/pkg/catalog/store"
	"github.com/stagefs/stagefs/pkg/staging/finalize"
	"github.com/stagefs/stagefs/pkg/staging/jobs"
	"github.com/stagefs/stagefs/pkg/staging/lock"
	"github.com/stagefs/stagefs/pkg/staging/quota"
	"github.com/stagefs/stagefs/pkg/staging/spool"
	"github.com/stagefs/stagefs/pkg/staging/upload"
	"github.com/stagefs/stagefs/pkg/state/badger"
)

const testSecret = "test-secret-key-for-testing-only-32chars"

// testDeps builds the minimal staging runtime a server needs.
func testDeps(t *testing.T) Deps {
	t.Helper()

	catalog, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("Failed to create catalog store: %v", err)
	}
	t.Cleanup(func() { _ = catalog.Close() })

	stateStore, err := badger.New(badger.Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create state store: %v", err)
	}
	t.Cleanup(func() { _ = stateStore.Close() })

	sp, err := spool.New(spool.Config{Root: t.TempDir(), MinFree: 1})
	if err != nil {
		t.Fatalf("Failed to create spool: %v", err)
	}

	ledger := quota.NewLedger(catalog, nil)
	locks := lock.NewManager(stateStore, lock.Config{}, nil)
	finalizer := finalize.New(catalog, sp, ledger, locks, nil)
	dispatcher := jobs.NewDispatcher(stateStore, catalog, jobs.Config{}, nil)
	uploads := upload.NewService(catalog, sp, locks, ledger, finalizer, dispatcher, upload.Config{}, nil)

	return Deps{
		Catalog:   catalog,
		Spool:     sp,
		Uploads:   uploads,
		Finalizer: finalizer,
	}
}

func testConfig(port int) Config {
	return Config{
		Port: port,
		JWT:  JWTConfig{Secret: testSecret},
	}
}

func TestServer_Lifecycle(t *testing.T) {
	server, err := NewServer(testConfig(18480), testDeps(t))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Start server in background
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(ctx)
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	// Make request to liveness endpoint
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/healthz", server.Port()))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got '%s'", contentType)
	}

	// Shutdown
	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Expected nil on graceful shutdown, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shutdown in time")
	}
}

func TestServer_Port(t *testing.T) {
	server, err := NewServer(testConfig(9999), testDeps(t))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	if server.Port() != 9999 {
		t.Errorf("Expected port 9999, got %d", server.Port())
	}
}

func TestServer_DefaultConfig(t *testing.T) {
	// Port and timeouts not set - should use defaults
	server, err := NewServer(testConfig(0), testDeps(t))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	if server.Port() != 8080 {
		t.Errorf("Expected default port 8080, got %d", server.Port())
	}
}

func TestServer_RejectsShortJWTSecret(t *testing.T) {
	// Force the config path; a secret in the environment would win.
	t.Setenv(EnvJWTSecret, "")

	cfg := testConfig(0)
	cfg.JWT.Secret = "too-short"

	_, err := NewServer(cfg, testDeps(t))
	if err == nil {
		t.Fatal("Expected error for short JWT secret, got nil")
	}
	if !strings.Contains(err.Error(), "32 characters") {
		t.Errorf("Expected secret length error, got: %v", err)
	}
}

func TestServer_RejectsMissingDeps(t *testing.T) {
	_, err := NewServer(testConfig(0), Deps{})
	if err == nil {
		t.Fatal("Expected error for empty deps, got nil")
	}
}

func TestServer_RootRedirectsToHealth(t *testing.T) {
	server, err := NewServer(testConfig(18481), testDeps(t))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = server.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)

	// Create a client that doesn't follow redirects
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/", server.Port()))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("Expected status %d, got %d", http.StatusTemporaryRedirect, resp.StatusCode)
	}

	if location := resp.Header.Get("Location"); location != "/healthz" {
		t.Errorf("Expected redirect to '/healthz', got '%s'", location)
	}
}

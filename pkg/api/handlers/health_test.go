package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stagefs/stagefs/pkg/catalog/store"
	"github.com/stagefs/stagefs/pkg/staging/spool"
)

func newTestRuntime(t *testing.T) (*store.GORMStore, *spool.Spool) {
	t.Helper()
	catalog, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("Failed to create catalog store: %v", err)
	}
	t.Cleanup(func() { _ = catalog.Close() })

	sp, err := spool.New(spool.Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create spool: %v", err)
	}
	return catalog, sp
}

func TestLiveness_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler(nil, nil)
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	handler.Liveness(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", resp.Status)
	}

	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected Data to be a map, got %T", resp.Data)
	}

	if data["service"] != "stagefs" {
		t.Errorf("Expected service 'stagefs', got '%s'", data["service"])
	}
}

func TestReadiness_NoRuntime_Returns503(t *testing.T) {
	handler := NewHealthHandler(nil, nil)
	req := httptest.NewRequest("GET", "/readyz", nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Status != "unhealthy" {
		t.Errorf("Expected status 'unhealthy', got '%s'", resp.Status)
	}

	if resp.Error != "staging runtime not initialized" {
		t.Errorf("Expected error 'staging runtime not initialized', got '%s'", resp.Error)
	}
}

func TestReadiness_HealthyRuntime_ReturnsOK(t *testing.T) {
	catalog, sp := newTestRuntime(t)

	handler := NewHealthHandler(catalog, sp)
	req := httptest.NewRequest("GET", "/readyz", nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", resp.Status)
	}

	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected Data to be a map, got %T", resp.Data)
	}

	checks, ok := data["checks"].([]interface{})
	if !ok {
		t.Fatalf("Expected checks to be an array")
	}
	if len(checks) != 2 {
		t.Fatalf("Expected 2 checks, got %d", len(checks))
	}

	for _, raw := range checks {
		check := raw.(map[string]interface{})
		if check["status"] != "healthy" {
			t.Errorf("Expected check %v to be healthy, got '%s'", check["name"], check["status"])
		}
		if check["latency"] == nil || check["latency"] == "" {
			t.Errorf("Expected latency to be set for check %v", check["name"])
		}
	}
}

func TestReadiness_ClosedCatalog_Returns503(t *testing.T) {
	catalog, sp := newTestRuntime(t)
	if err := catalog.Close(); err != nil {
		t.Fatalf("Failed to close catalog: %v", err)
	}

	handler := NewHealthHandler(catalog, sp)
	req := httptest.NewRequest("GET", "/readyz", nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Status != "unhealthy" {
		t.Errorf("Expected status 'unhealthy', got '%s'", resp.Status)
	}

	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected Data to be a map, got %T", resp.Data)
	}

	checks, ok := data["checks"].([]interface{})
	if !ok || len(checks) != 2 {
		t.Fatalf("Expected 2 checks in unhealthy response")
	}

	catalogCheck := checks[0].(map[string]interface{})
	if catalogCheck["name"] != "catalog" {
		t.Errorf("Expected first check to be 'catalog', got '%s'", catalogCheck["name"])
	}
	if catalogCheck["status"] != "unhealthy" {
		t.Errorf("Expected catalog check to be unhealthy, got '%s'", catalogCheck["status"])
	}
	if catalogCheck["error"] == nil || catalogCheck["error"] == "" {
		t.Error("Expected catalog check to carry an error")
	}
}

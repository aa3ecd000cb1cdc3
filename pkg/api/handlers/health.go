package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/stagefs/stagefs/pkg/catalog/store"
	"github.com/stagefs/stagefs/pkg/staging/spool"
)

// HealthCheckTimeout is the maximum time allowed for health check operations.
// This timeout applies to backing-store probes to prevent a slow catalog
// from blocking health probes indefinitely.
const HealthCheckTimeout = 5 * time.Second

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Are the catalog and the spool volume usable?
type HealthHandler struct {
	catalog   store.Store
	spool     *spool.Spool
	startTime time.Time
}

// NewHealthHandler creates a new health handler.
//
// The catalog and spool parameters may be nil, in which case readiness
// checks will return unhealthy status.
func NewHealthHandler(catalog store.Store, sp *spool.Spool) *HealthHandler {
	return &HealthHandler{
		catalog:   catalog,
		spool:     sp,
		startTime: time.Now(),
	}
}

// Liveness handles GET /healthz - simple liveness probe.
//
// Returns 200 OK if the server process is running. This endpoint is designed
// for Kubernetes liveness probes and should always succeed as long as the
// HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	WriteJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"service":    "stagefs",
		"started_at": h.startTime.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
		"uptime_sec": int64(uptime.Seconds()),
	}))
}

// CheckHealth represents the health status of a single backing dependency.
type CheckHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// ReadyResponse represents the detailed readiness response.
type ReadyResponse struct {
	Checks []CheckHealth `json:"checks"`
}

// Readiness handles GET /readyz - readiness probe.
//
// Probes the catalog database and the spool volume. Returns 200 OK when
// both respond, 503 Service Unavailable with per-check detail otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil || h.spool == nil {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponse("staging runtime not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
	defer cancel()

	response := ReadyResponse{
		Checks: make([]CheckHealth, 0, 2),
	}

	allHealthy := true

	start := time.Now()
	err := h.catalog.Healthcheck(ctx)
	catalogHealth := CheckHealth{
		Name:    "catalog",
		Latency: time.Since(start).String(),
	}
	if err != nil {
		catalogHealth.Status = "unhealthy"
		catalogHealth.Error = err.Error()
		allHealthy = false
	} else {
		catalogHealth.Status = "healthy"
	}
	response.Checks = append(response.Checks, catalogHealth)

	start = time.Now()
	err = h.spool.HealthCheck()
	spoolHealth := CheckHealth{
		Name:    "spool",
		Latency: time.Since(start).String(),
	}
	if err != nil {
		spoolHealth.Status = "unhealthy"
		spoolHealth.Error = err.Error()
		allHealthy = false
	} else {
		spoolHealth.Status = "healthy"
	}
	response.Checks = append(response.Checks, spoolHealth)

	if allHealthy {
		WriteJSON(w, http.StatusOK, healthyResponse(response))
	} else {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(response))
	}
}

package apiclient

import (
	"encoding/json"
	"errors"
	"time"
)

// HealthStatus is the response of the health endpoints.
type HealthStatus struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ReadinessCheck is one backing dependency's probe result.
type ReadinessCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Healthy reports whether the server considers itself healthy.
func (h *HealthStatus) Healthy() bool {
	return h.Status == "healthy"
}

// Health probes the liveness endpoint. No token required.
func (c *Client) Health() (*HealthStatus, error) {
	return getResource[HealthStatus](c, "/healthz")
}

// Ready probes the readiness endpoint and returns the per-dependency
// check results. An unready server answers 503 with the same body, which
// is still decoded and returned alongside the error.
func (c *Client) Ready() (*HealthStatus, []ReadinessCheck, error) {
	var status HealthStatus
	err := c.get("/readyz", &status)
	if err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return nil, nil, err
		}
		// 503 carries the readiness body, not a problem document.
		if jsonErr := json.Unmarshal([]byte(apiErr.Detail), &status); jsonErr != nil {
			return nil, nil, err
		}
	}

	var detail struct {
		Checks []ReadinessCheck `json:"checks"`
	}
	if len(status.Data) > 0 {
		if err := json.Unmarshal(status.Data, &detail); err != nil {
			return &status, nil, err
		}
	}
	return &status, detail.Checks, nil
}

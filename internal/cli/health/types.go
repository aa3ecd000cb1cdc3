// Package health mirrors the server's health endpoint payloads for
// local status checks.
package health

// Response is the envelope the server returns from /healthz.
type Response struct {
	Status    string       `json:"status"`
	Timestamp string       `json:"timestamp"`
	Data      LivenessData `json:"data"`
	Error     string       `json:"error,omitempty"`
}

// LivenessData identifies the running process.
type LivenessData struct {
	Service   string `json:"service"`
	StartedAt string `json:"started_at"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_sec"`
}

// Healthy reports whether the server called itself healthy.
func (r Response) Healthy() bool {
	return r.Status == "healthy"
}

// ReadyResponse is the envelope the server returns from /readyz.
type ReadyResponse struct {
	Status string        `json:"status"`
	Data   ReadinessData `json:"data"`
	Error  string        `json:"error,omitempty"`
}

// ReadinessData carries the per-dependency probe results.
type ReadinessData struct {
	Checks []Check `json:"checks"`
}

// Check is one backing-store probe result.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Healthy reports whether every backing store passed its probe.
func (r ReadyResponse) Healthy() bool {
	return r.Status == "healthy"
}

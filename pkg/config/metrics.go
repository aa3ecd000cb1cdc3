package config

import (
	"fmt"
	"net/http"

	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/pkg/metrics"
	"github.com/stagefs/stagefs/pkg/staging/jobs"
	"github.com/stagefs/stagefs/pkg/staging/lock"
	"github.com/stagefs/stagefs/pkg/staging/quota"
	"github.com/stagefs/stagefs/pkg/staging/sweep"
	"github.com/stagefs/stagefs/pkg/staging/upload"
)

// MetricsResult carries what metrics initialization produced: the HTTP
// server exposing /metrics (nil when metrics are disabled) and one
// recorder per instrumented subsystem. Nil recorders disable collection
// at zero cost.
type MetricsResult struct {
	Server *http.Server

	Lock   lock.LockMetrics
	Quota  quota.QuotaMetrics
	Upload upload.UploadMetrics
	Jobs   jobs.JobMetrics
	Sweep  sweep.SweepMetrics
}

// InitializeMetrics sets up the metrics registry and per-subsystem
// recorders according to configuration.
//
// Must run before the staging services are constructed: recorders are
// handed to service constructors, so a service built earlier would hold
// a nil recorder and stay dark even with metrics enabled.
//
// The returned server is not started; the caller owns ListenAndServe and
// Shutdown. The server is nil when metrics are disabled.
func InitializeMetrics(cfg *Config) *MetricsResult {
	result := &MetricsResult{}

	if !cfg.Metrics.Enabled {
		logger.Debug("Metrics disabled")
		return result
	}

	metrics.InitRegistry()

	result.Lock = metrics.NewLockMetrics()
	result.Quota = metrics.NewQuotaMetrics()
	result.Upload = metrics.NewUploadMetrics()
	result.Jobs = metrics.NewJobMetrics()
	result.Sweep = metrics.NewSweepMetrics()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	result.Server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}

	logger.Info("Metrics enabled", "port", cfg.Metrics.Port)

	return result
}

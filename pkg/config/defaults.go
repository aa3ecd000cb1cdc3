package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stagefs/stagefs/pkg/catalog/store"
	"github.com/stagefs/stagefs/pkg/staging/jobs"
	"github.com/stagefs/stagefs/pkg/staging/lock"
	"github.com/stagefs/stagefs/pkg/staging/spool"
	"github.com/stagefs/stagefs/pkg/staging/sweep"
	"github.com/stagefs/stagefs/pkg/staging/upload"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyCatalogDefaults(&cfg.Catalog)
	applyStateDefaults(&cfg.State)
	applyStorageDefaults(&cfg.Storage)
	applyUploadDefaults(&cfg.Upload)
	applyLockDefaults(&cfg.Lock)
	applyJobsDefaults(&cfg.Jobs)
	applySweepDefaults(&cfg.Sweep)
	applyMetricsDefaults(&cfg.Metrics)
	applyAPIDefaults(cfg)
	applyAdminDefaults(&cfg.Admin)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false (opt-in for telemetry)
	// No need to set, zero value is false

	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	// Apply profiling defaults
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	// Enabled defaults to false (opt-in for profiling)
	// No need to set, zero value is false

	// Default endpoint is localhost:4040 (standard Pyroscope port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	// Default profile types include CPU, memory allocation, and goroutines
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyCatalogDefaults sets catalog database defaults.
func applyCatalogDefaults(cfg *store.Config) {
	cfg.ApplyDefaults()
}

// applyStateDefaults sets state store defaults.
// The embedded BadgerDB backend is the default; its database directory
// lands next to the catalog under the user's data directory.
func applyStateDefaults(cfg *StateConfig) {
	if cfg.Type == "" {
		cfg.Type = StateStoreBadger
	}

	if cfg.Type == StateStoreBadger && cfg.Badger.Path == "" && !cfg.Badger.InMemory {
		cfg.Badger.Path = filepath.Join(dataDir(), "stagefs", "state")
	}

	if cfg.Type == StateStorePostgres {
		cfg.Postgres.ApplyDefaults()
	}
}

// applyStorageDefaults sets staging spool defaults.
// The spool root has no default here - it is required and must be
// configured by the user (or generated by 'stagefs init').
func applyStorageDefaults(cfg *spool.Config) {
	cfg.ApplyDefaults()
}

// applyUploadDefaults sets upload admission defaults.
func applyUploadDefaults(cfg *upload.Config) {
	cfg.ApplyDefaults()
}

// applyLockDefaults sets lock lease defaults.
func applyLockDefaults(cfg *lock.Config) {
	def := lock.DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
}

// applyJobsDefaults sets job dispatcher defaults.
func applyJobsDefaults(cfg *jobs.Config) {
	def := jobs.DefaultConfig()
	if len(cfg.Queues) == 0 {
		cfg.Queues = def.Queues
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = def.RecoveryInterval
	}
}

// applySweepDefaults sets retention sweeper defaults.
func applySweepDefaults(cfg *sweep.Config) {
	def := sweep.DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FileRetention <= 0 {
		cfg.FileRetention = def.FileRetention
	}
	if cfg.SessionIdleAge <= 0 {
		cfg.SessionIdleAge = def.SessionIdleAge
	}
	if cfg.TaskRetention <= 0 {
		cfg.TaskRetention = def.TaskRetention
	}
	if cfg.OrphanAge <= 0 {
		cfg.OrphanAge = def.OrphanAge
	}
	if cfg.PurgeLimit <= 0 {
		cfg.PurgeLimit = def.PurgeLimit
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyAPIDefaults sets API server defaults.
// The API is always enabled; it is the only way to reach the service.
func applyAPIDefaults(cfg *Config) {
	cfg.API.ApplyDefaults()
}

// applyAdminDefaults sets admin user defaults.
func applyAdminDefaults(cfg *AdminConfig) {
	// Default username is "admin"
	if cfg.Username == "" {
		cfg.Username = "admin"
	}
	// Email and PasswordHash have no defaults - they're optional or set during init
}

// dataDir returns the user data directory used for default database and
// spool paths. Uses XDG_DATA_HOME if set, otherwise ~/.local/share.
func dataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return xdgData
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(homeDir, ".local", "share")
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		Catalog: store.Config{
			Type: store.DatabaseTypeSQLite, // Default to SQLite for single-node
		},
		State: StateConfig{
			Type: StateStoreBadger, // Default to embedded BadgerDB for single-node
		},
		Storage: spool.Config{
			Root: filepath.Join(dataDir(), "stagefs", "spool"),
		},
		Admin: AdminConfig{
			Username: "admin",
		},
	}

	ApplyDefaults(cfg)
	return cfg
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stagefs/stagefs/internal/bytesize"
	"github.com/stagefs/stagefs/pkg/api"
	"github.com/stagefs/stagefs/pkg/catalog/store"
	badgerstate "github.com/stagefs/stagefs/pkg/state/badger"
	pgstate "github.com/stagefs/stagefs/pkg/state/postgres"
	"github.com/stagefs/stagefs/pkg/staging/jobs"
	"github.com/stagefs/stagefs/pkg/staging/lock"
	"github.com/stagefs/stagefs/pkg/staging/spool"
	"github.com/stagefs/stagefs/pkg/staging/sweep"
	"github.com/stagefs/stagefs/pkg/staging/upload"
)

// Config represents the stagefs configuration.
//
// This structure captures static configuration aspects of the stagefs server:
//   - Logging configuration
//   - Telemetry/tracing configuration
//   - Server settings (shutdown timeout, metrics, API)
//   - Catalog database connection (durable records)
//   - State store (lock leases and job queues)
//   - Storage spool (staging directories on disk)
//   - Staging behavior (upload limits, lock leases, job workers, retention)
//   - Admin user setup (for initial bootstrap)
//
// Dynamic state (projects, files, upload sessions, tasks, API keys) is
// managed through the REST API and stored in the catalog database.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (STAGEFS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Catalog configures the catalog database (SQLite or PostgreSQL).
	// This is the persistent store for projects, file records, upload
	// sessions, tasks, and API keys.
	Catalog store.Config `mapstructure:"catalog" yaml:"catalog"`

	// State configures the state store holding lock leases and job queues
	// (embedded BadgerDB or PostgreSQL).
	State StateConfig `mapstructure:"state" yaml:"state"`

	// Storage configures the staging spool on disk.
	Storage spool.Config `mapstructure:"storage" yaml:"storage"`

	// Upload contains upload admission configuration (size ceiling,
	// async finalize threshold).
	Upload upload.Config `mapstructure:"upload" yaml:"upload"`

	// Lock contains lock lease configuration (TTL, acquire timeout).
	Lock lock.Config `mapstructure:"lock" yaml:"lock"`

	// Jobs contains background job dispatcher configuration.
	Jobs jobs.Config `mapstructure:"jobs" yaml:"jobs"`

	// Sweep contains retention sweeper configuration.
	Sweep sweep.Config `mapstructure:"sweep" yaml:"sweep"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains REST API server configuration
	API api.Config `mapstructure:"api" yaml:"api"`

	// Admin contains initial admin user configuration for bootstrap
	// This is used by 'stagefs init' to set up the first admin user
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`
}

// StateStoreType defines the supported state store backends.
type StateStoreType string

const (
	// StateStoreBadger uses embedded BadgerDB (single-node, default).
	StateStoreBadger StateStoreType = "badger"

	// StateStorePostgres uses PostgreSQL (HA-capable).
	StateStorePostgres StateStoreType = "postgres"
)

// StateConfig configures the state store backing lock leases and job
// queues.
type StateConfig struct {
	// Type selects the backend.
	// Default: badger
	Type StateStoreType `mapstructure:"type" validate:"omitempty,oneof=badger postgres" yaml:"type"`

	// Badger configures the embedded BadgerDB backend.
	Badger badgerstate.Config `mapstructure:"badger" yaml:"badger"`

	// Postgres configures the PostgreSQL backend. Validated only when
	// selected; the validator must not demand connection parameters for
	// the default badger deployment.
	Postgres pgstate.Config `mapstructure:"postgres" validate:"-" yaml:"postgres"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector
// (e.g., Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	// Set to false in production with a TLS-enabled collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// 1.0 = sample all traces, 0.5 = sample 50%, 0.0 = no sampling
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
// When enabled, CPU and memory profiles are continuously sent to a Pyroscope server
// for flame graph visualization and performance analysis.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	// Default: ["cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"]
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// AdminConfig contains initial admin user configuration for bootstrap.
// This is used by 'stagefs init' to pre-configure the first admin user.
type AdminConfig struct {
	// Username is the admin username
	// Default: "admin"
	Username string `mapstructure:"username" yaml:"username"`

	// Email is the admin user's email address (optional)
	Email string `mapstructure:"email" yaml:"email,omitempty"`

	// PasswordHash is the bcrypt hash of the admin password
	// Generated during 'stagefs init' or can be set manually
	// Use: htpasswd -nbB "" "password" | cut -d: -f2
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (STAGEFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: User-friendly error with instructions if config not found
func MustLoad(configPath string) (*Config, error) {
	// Determine config path
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  stagefs init\n\n"+
				"Or specify a custom config file:\n"+
				"  stagefs <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  stagefs init --config %s",
				configPath, configPath)
		}
	}

	// Load configuration
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file with restricted permissions (0600 = owner read/write only).
	// This is important because config files may contain sensitive data like
	// the JWT secret and password hashes.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Set up environment variable support
	// Environment variables use STAGEFS_ prefix and underscores
	// Example: STAGEFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("STAGEFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/stagefs/config.{yaml,toml}
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml") // Primary format
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		// Check if error is "config file not found"
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Other errors are problems
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
// This includes byte size and time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook returns a mapstructure decode hook that converts strings
// and integers to bytesize.Size. This enables config files to use human-readable
// sizes like "1Gi", "500Mi", "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to Size
		if to != reflect.TypeOf(bytesize.Size(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			// Parse human-readable string like "1Gi", "500Mi", "100MB"
			return bytesize.Parse(v)
		case int:
			return bytesize.Size(v), nil
		case int64:
			return bytesize.Size(v), nil
		case uint64:
			return bytesize.Size(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.Size(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to time.Duration
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			// Parse duration string like "30s", "5m", "1h"
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	// Check XDG_CONFIG_HOME
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "stagefs")
	}

	// Fall back to ~/.config
	home, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, use current directory as last resort
		return "."
	}

	return filepath.Join(home, ".config", "stagefs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}

package config

import (
	"testing"
	"time"

	"github.com/stagefs/stagefs/internal/bytesize"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_LoggingNormalizesCase(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_ShutdownTimeout(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestApplyDefaults_API(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("Expected default API port 8080, got %d", cfg.API.Port)
	}
	if cfg.API.ReadHeaderTimeout != 10*time.Second {
		t.Errorf("Expected default read header timeout 10s, got %v", cfg.API.ReadHeaderTimeout)
	}
	if cfg.API.IdleTimeout != 60*time.Second {
		t.Errorf("Expected default idle timeout 60s, got %v", cfg.API.IdleTimeout)
	}
	if cfg.API.RequestTimeout != 60*time.Second {
		t.Errorf("Expected default request timeout 60s, got %v", cfg.API.RequestTimeout)
	}
	if cfg.API.JWT.AccessTokenDuration != 15*time.Minute {
		t.Errorf("Expected default access token duration 15m, got %v", cfg.API.JWT.AccessTokenDuration)
	}
}

func TestApplyDefaults_Admin(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Admin.Username != "admin" {
		t.Errorf("Expected default admin username 'admin', got %q", cfg.Admin.Username)
	}
}

func TestApplyDefaults_State(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.State.Type != StateStoreBadger {
		t.Errorf("Expected default state store 'badger', got %q", cfg.State.Type)
	}
	if cfg.State.Badger.Path == "" {
		t.Error("Expected default badger path to be set")
	}
}

func TestApplyDefaults_Staging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Lock.TTL != 12*time.Hour {
		t.Errorf("Expected default lock TTL 12h, got %v", cfg.Lock.TTL)
	}
	if cfg.Jobs.Workers != 4 {
		t.Errorf("Expected default worker count 4, got %d", cfg.Jobs.Workers)
	}
	if cfg.Jobs.MaxAttempts != 3 {
		t.Errorf("Expected default max attempts 3, got %d", cfg.Jobs.MaxAttempts)
	}
	if cfg.Sweep.Interval != time.Hour {
		t.Errorf("Expected default sweep interval 1h, got %v", cfg.Sweep.Interval)
	}
	if cfg.Sweep.FileRetention != 30*24*time.Hour {
		t.Errorf("Expected default file retention 30d, got %v", cfg.Sweep.FileRetention)
	}
	if cfg.Upload.MaxSize != 50*bytesize.GiB {
		t.Errorf("Expected default max upload size 50Gi, got %d", cfg.Upload.MaxSize)
	}
	if cfg.Upload.AsyncThreshold != bytesize.GiB {
		t.Errorf("Expected default async threshold 1Gi, got %d", cfg.Upload.AsyncThreshold)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "DEBUG",
			Format: "json",
			Output: "/var/log/stagefs.log",
		},
		ShutdownTimeout: 60 * time.Second,
		Admin: AdminConfig{
			Username: "customadmin",
			Email:    "admin@example.com",
		},
	}
	cfg.API.Port = 9999
	cfg.Lock.TTL = time.Hour
	cfg.Upload.MaxSize = 5 * bytesize.GiB

	ApplyDefaults(cfg)

	// Verify explicit values were preserved
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected explicit level 'DEBUG' to be preserved, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected explicit format 'json' to be preserved, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "/var/log/stagefs.log" {
		t.Errorf("Expected explicit output to be preserved, got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 60*time.Second {
		t.Errorf("Expected explicit timeout 60s to be preserved, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Admin.Username != "customadmin" {
		t.Errorf("Expected explicit admin username to be preserved, got %q", cfg.Admin.Username)
	}
	if cfg.API.Port != 9999 {
		t.Errorf("Expected explicit port 9999 to be preserved, got %d", cfg.API.Port)
	}
	if cfg.Lock.TTL != time.Hour {
		t.Errorf("Expected explicit lock TTL 1h to be preserved, got %v", cfg.Lock.TTL)
	}
	if cfg.Upload.MaxSize != 5*bytesize.GiB {
		t.Errorf("Expected explicit max size 5Gi to be preserved, got %d", cfg.Upload.MaxSize)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	// The default config should pass validation
	err := Validate(cfg)
	if err != nil {
		t.Errorf("Default config should be valid, got error: %v", err)
	}
}

func TestGetDefaultConfig_HasRequiredFields(t *testing.T) {
	cfg := GetDefaultConfig()

	// Check all required sections are present
	if cfg.Logging.Level == "" {
		t.Error("Default config missing logging level")
	}
	if cfg.API.Port == 0 {
		t.Error("Default config missing API port")
	}
	if cfg.Admin.Username == "" {
		t.Error("Default config missing admin username")
	}
	if cfg.Storage.Root == "" {
		t.Error("Default config missing storage root")
	}
	if cfg.Catalog.SQLite.Path == "" {
		t.Error("Default config missing catalog path")
	}
}

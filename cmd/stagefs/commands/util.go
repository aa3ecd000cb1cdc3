package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/pkg/config"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// GetDefaultStateDir returns the default state directory path.
func GetDefaultStateDir() string {
	if runtime.GOOS == "windows" {
		// On Windows, use %LOCALAPPDATA%\stagefs
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData != "" {
			return filepath.Join(localAppData, "stagefs")
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "stagefs")
		}
		return filepath.Join(homeDir, "AppData", "Local", "stagefs")
	}

	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "stagefs")
		}
		stateDir = filepath.Join(homeDir, ".local", "state")
	}
	return filepath.Join(stateDir, "stagefs")
}

// GetDefaultPidFile returns the default PID file path.
func GetDefaultPidFile() string {
	return statePath("stagefs.pid")
}

// GetDefaultLogFile returns the default log file path for daemon mode.
func GetDefaultLogFile() string {
	return statePath("stagefs.log")
}

func statePath(name string) string {
	return filepath.Join(GetDefaultStateDir(), name)
}

package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/internal/telemetry"
	"github.com/stagefs/stagefs/pkg/api"
	"github.com/stagefs/stagefs/pkg/catalog/store"
	"github.com/stagefs/stagefs/pkg/config"

	// Import prometheus metrics to register init() functions
	_ "github.com/stagefs/stagefs/pkg/metrics/prometheus"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the stagefs server",
	Long: `Start the stagefs server with the specified configuration.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/stagefs/config.yaml.

Examples:
  # Start in background (default)
  stagefs start

  # Start in foreground
  stagefs start --foreground

  # Start with custom config file
  stagefs start --config /etc/stagefs/config.yaml

  # Start with environment variable overrides
  STAGEFS_LOGGING_LEVEL=DEBUG stagefs start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/stagefs/stagefs.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/stagefs/stagefs.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Handle daemon mode (background)
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "stagefs",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "stagefs",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	fmt.Println("stagefs - Staging file storage service")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}

	// Initialize metrics FIRST (before the staging services that use them)
	metricsResult := config.InitializeMetrics(cfg)

	// Build the staging service graph: catalog, state store, spool, lock
	// manager, quota ledger, dispatcher, upload and archive services.
	staging, err := config.InitializeStaging(ctx, cfg, metricsResult)
	if err != nil {
		return fmt.Errorf("failed to initialize staging services: %w", err)
	}
	defer func() {
		if err := staging.Close(); err != nil {
			logger.Error("staging shutdown error", "error", err)
		}
	}()

	// Ensure an admin API key exists (mints a one-time token on first run)
	adminToken, err := staging.Catalog.EnsureAdminKey(ctx)
	if err != nil {
		return fmt.Errorf("failed to ensure admin key: %w", err)
	}
	if adminToken != "" {
		logger.Info("Admin API key created", "label", store.BootstrapKeyLabel)
		fmt.Printf("\n*** IMPORTANT: Admin API key created: %s ***\n", adminToken)
		fmt.Println("Please save this token. It will not be shown again.")
		fmt.Println()
	}

	// Start metrics server if enabled
	if metricsResult.Server != nil {
		go func() {
			if err := metricsResult.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error", "error", err)
			}
		}()
	}

	// Start job workers and the retention sweeper
	staging.Dispatcher.Start(ctx)
	staging.Sweeper.Start(ctx)
	defer func() {
		staging.Dispatcher.Stop(cfg.ShutdownTimeout)
		staging.Sweeper.Stop(cfg.ShutdownTimeout)
		if metricsResult.Server != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			_ = metricsResult.Server.Shutdown(shutdownCtx)
			shutdownCancel()
		}
	}()

	// Create API server
	apiServer, err := api.NewServer(cfg.API, api.Deps{
		Catalog:           staging.Catalog,
		Spool:             staging.Spool,
		Uploads:           staging.Uploads,
		Finalizer:         staging.Finalizer,
		AdminUsername:     cfg.Admin.Username,
		AdminPasswordHash: cfg.Admin.PasswordHash,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	logger.Info("API server configured", "port", cfg.API.Port)

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Start API server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for server to shut down gracefully
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

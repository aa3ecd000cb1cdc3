// Package api provides the REST surface of the staging service: upload
// admission, file retrieval and deletion, background task polling, and the
// admin endpoints for projects and API keys.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/pkg/api/auth"
	"github.com/stagefs/stagefs/pkg/catalog/store"
	"github.com/stagefs/stagefs/pkg/staging/finalize"
	"github.com/stagefs/stagefs/pkg/staging/spool"
	"github.com/stagefs/stagefs/pkg/staging/upload"
)

// Deps carries the staging runtime the API serves. Every field except the
// admin credentials is required.
type Deps struct {
	// Catalog is the durable record store.
	Catalog store.Store

	// Spool serves file content for downloads.
	Spool *spool.Spool

	// Uploads admits and drives upload sessions.
	Uploads *upload.Service

	// Finalizer deletes durable files and subtrees.
	Finalizer *finalize.Finalizer

	// AdminUsername and AdminPasswordHash configure the password login on
	// /v1/auth/login. An empty hash disables password login; admin API
	// keys still work.
	AdminUsername     string
	AdminPasswordHash string
}

func (d Deps) validate() error {
	if d.Catalog == nil {
		return errors.New("catalog store is required")
	}
	if d.Spool == nil {
		return errors.New("spool is required")
	}
	if d.Uploads == nil {
		return errors.New("upload service is required")
	}
	if d.Finalizer == nil {
		return errors.New("finalizer is required")
	}
	return nil
}

// Server provides an HTTP server for the REST API.
//
// The server exposes the whole staging surface: health probes, admin
// authentication, file and archive uploads, resumable upload sessions,
// downloads, deletes, task polling and admin management endpoints.
//
// The server supports graceful shutdown with configurable timeout.
type Server struct {
	server       *http.Server
	config       Config
	shutdownOnce sync.Once
}

// NewServer creates a new API HTTP server.
//
// The server is created in a stopped state. Call Start() to begin serving
// requests.
//
// The JWT service is created internally from the config. The JWT secret
// must be configured via config.JWT.Secret or the STAGEFS_API_JWT_SECRET
// environment variable.
//
// The underlying http.Server bounds header reads and idle keep-alives but
// deliberately sets no read or write timeout: upload and download bodies
// stream for as long as the transfer needs. Per-route timeouts cover the
// metadata endpoints instead.
func NewServer(config Config, deps Deps) (*Server, error) {
	config.ApplyDefaults()

	if err := deps.validate(); err != nil {
		return nil, err
	}

	// Get JWT secret from config (prefers env var)
	jwtSecret := config.GetJWTSecret()
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("JWT secret must be at least 32 characters; set via %s env var or config", EnvJWTSecret)
	}

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret:               jwtSecret,
		Issuer:               "stagefs",
		AccessTokenDuration:  config.JWT.AccessTokenDuration,
		RefreshTokenDuration: config.JWT.RefreshTokenDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT service: %w", err)
	}

	router := NewRouter(deps, &config, jwtService)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           router,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	return &Server{
		server: server,
		config: config,
	}, nil
}

// Start starts the API HTTP server and blocks until the context is cancelled
// or an error occurs.
//
// When the context is cancelled, Start initiates graceful shutdown and returns.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the server fails to start or shutdown encounters an error
func (s *Server) Start(ctx context.Context) error {
	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "port", s.config.Port)
		logger.Debug("API endpoints available",
			"health", fmt.Sprintf("http://localhost:%d/healthz", s.config.Port),
			"ready", fmt.Sprintf("http://localhost:%d/readyz", s.config.Port),
		)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		// Create new context with timeout for graceful shutdown
		// Don't use the cancelled ctx as it would cause immediate shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the API server.
//
// Stop is safe to call multiple times and safe to call concurrently with
// Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("API server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", "error", err)
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is listening on.
func (s *Server) Port() int {
	return s.config.Port
}

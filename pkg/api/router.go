package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"

	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/internal/telemetry"
	"github.com/stagefs/stagefs/pkg/api/auth"
	"github.com/stagefs/stagefs/pkg/api/handlers"
	apiMiddleware "github.com/stagefs/stagefs/pkg/api/middleware"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//
// A request timeout bounds every metadata and admin route. Streaming
// routes (upload bodies, downloads, chunk appends, prefix deletes) are
// exempt; their lifetime belongs to the transfer.
//
// Routes:
//   - GET /healthz - Liveness probe
//   - GET /readyz - Readiness probe
//   - POST /v1/auth/login - Admin authentication
//   - POST /v1/auth/refresh - Token refresh
//   - GET /v1/auth/me - Current principal info
//   - /v1/files/{project}/* - Single-shot upload, stat, download, delete
//   - POST /v1/archives/{project} - Archive upload and extraction
//   - /v1/uploads/{project} - Resumable upload sessions
//   - /v1/tasks - Background task polling
//   - /v1/admin/projects - Project management (admin only)
//   - /v1/admin/keys - API key management (admin only)
func NewRouter(deps Deps, cfg *Config, jwtService *auth.JWTService) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestTracer)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	timeout := middleware.Timeout(cfg.RequestTimeout)
	authn := apiMiddleware.Auth(deps.Catalog, jwtService)

	healthHandler := handlers.NewHealthHandler(deps.Catalog, deps.Spool)
	r.With(timeout).Get("/healthz", healthHandler.Liveness)
	r.With(timeout).Get("/readyz", healthHandler.Readiness)

	// Root redirect to the liveness probe for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/healthz", http.StatusTemporaryRedirect)
	})

	authHandler := handlers.NewAuthHandler(deps.AdminUsername, deps.AdminPasswordHash, jwtService)
	filesHandler := handlers.NewFilesHandler(deps.Catalog, deps.Uploads, deps.Finalizer, deps.Spool, cfg.BaseURL)
	archivesHandler := handlers.NewArchivesHandler(deps.Uploads, cfg.BaseURL)
	uploadsHandler := handlers.NewUploadsHandler(deps.Uploads, cfg.BaseURL)
	tasksHandler := handlers.NewTasksHandler(deps.Catalog)
	projectsHandler := handlers.NewProjectsHandler(deps.Catalog, int64(cfg.DefaultProjectQuota))
	keysHandler := handlers.NewKeysHandler(deps.Catalog)

	r.Route("/v1", func(r chi.Router) {
		// Auth routes - login and refresh are unauthenticated
		r.Route("/auth", func(r chi.Router) {
			r.Use(timeout)

			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(authn)
				r.Get("/me", authHandler.Me)
			})
		})

		// Single-shot files. Uploads and downloads stream, and a prefix
		// delete may walk a large tree, so this group runs unbounded.
		r.Route("/files/{project}", func(r chi.Router) {
			r.Use(authn)
			r.Use(apiMiddleware.RequireProject())

			r.Get("/*", filesHandler.Get)
			r.With(apiMiddleware.RequireWriter()).Post("/*", filesHandler.Upload)
			r.With(apiMiddleware.RequireWriter()).Delete("/*", filesHandler.Delete)
		})

		r.Route("/archives/{project}", func(r chi.Router) {
			r.Use(authn)
			r.Use(apiMiddleware.RequireProject())
			r.Use(apiMiddleware.RequireWriter())

			r.Post("/", archivesHandler.Upload)
		})

		r.Route("/uploads/{project}", func(r chi.Router) {
			r.Use(authn)
			r.Use(apiMiddleware.RequireProject())

			r.With(timeout).Get("/", uploadsHandler.List)
			r.With(timeout, apiMiddleware.RequireWriter()).Post("/", uploadsHandler.Create)
			r.With(timeout).Head("/{uploadID}", uploadsHandler.Head)
			r.With(apiMiddleware.RequireWriter()).Patch("/{uploadID}", uploadsHandler.Append)
			r.With(timeout, apiMiddleware.RequireWriter()).Delete("/{uploadID}", uploadsHandler.Abort)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Use(timeout)
			r.Use(authn)

			r.Get("/", tasksHandler.List)
			r.Get("/{taskID}", tasksHandler.Get)
		})

		// Admin surface
		r.Route("/admin", func(r chi.Router) {
			r.Use(timeout)
			r.Use(authn)
			r.Use(apiMiddleware.RequireAdmin())

			r.Route("/projects", func(r chi.Router) {
				r.Post("/", projectsHandler.Create)
				r.Get("/", projectsHandler.List)
				r.Get("/{project}", projectsHandler.Get)
				r.Patch("/{project}/quota", projectsHandler.UpdateQuota)
				r.Delete("/{project}", projectsHandler.Delete)
			})

			r.Route("/keys", func(r chi.Router) {
				r.Post("/", keysHandler.Issue)
				r.Get("/", keysHandler.List)
				r.Delete("/{keyID}", keysHandler.Revoke)
			})
		})
	})

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

// requestTracer opens a server span covering one API request, so the lock,
// quota and upload spans below it share a single trace. Trace identifiers
// are injected into the logger context for log-trace correlation. Health
// probes fire every few seconds and are not traced.
func requestTracer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isHealthPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := telemetry.StartAPISpan(r.Context(), r.Method, r.URL.Path,
			telemetry.ClientAddr(r.RemoteAddr))
		defer span.End()
		ctx = telemetry.InjectTraceContext(ctx)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(telemetry.HTTPStatus(ww.Status()))
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//   - Healthcheck requests are logged at DEBUG level to reduce noise
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.DebugCtx(r.Context(), "API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}

		// Log healthcheck requests at DEBUG to avoid polluting logs in k8s
		if isHealthPath(r.URL.Path) {
			logger.DebugCtx(r.Context(), "API request completed", logArgs...)
		} else {
			logger.InfoCtx(r.Context(), "API request completed", logArgs...)
		}
	})
}

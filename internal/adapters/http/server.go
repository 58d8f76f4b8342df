// Package http exposes lookups, layer status, dataset sync and health
// checks over HTTP.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/pipservice/internal/application"
	"github.com/jobrunner/pipservice/internal/config"
	"github.com/jobrunner/pipservice/internal/domain"
	"github.com/jobrunner/pipservice/internal/ports/input"
)

// LookupService answers point-in-polygon lookups.
type LookupService interface {
	LookupSync(ctx context.Context, coord domain.Coordinate, layers ...domain.Layer) ([]domain.Result, error)
	Layers() []domain.Layer
}

// HealthService reports liveness, readiness and per-layer status.
type HealthService interface {
	input.HealthChecker
	GetLayerHealth(ctx context.Context) []application.LayerHealth
}

// SyncTrigger runs an on-demand dataset sync.
type SyncTrigger interface {
	TriggerSync(ctx context.Context) (application.SyncResult, error)
}

// Middleware wraps the router, e.g. for metrics collection.
type Middleware func(http.Handler) http.Handler

// Server wraps the HTTP server with application handlers.
type Server struct {
	server  *http.Server
	router  *mux.Router
	lookups LookupService
	health  HealthService
	sync    SyncTrigger
	cors    *corsPolicy
	logger  *slog.Logger
	config  config.ServerConfig
}

// NewServer creates a new HTTP server. sync may be nil when datasets are
// not synced from remote storage.
func NewServer(
	cfg config.ServerConfig,
	lookups LookupService,
	health HealthService,
	sync SyncTrigger,
	logger *slog.Logger,
	middleware ...Middleware,
) *Server {
	s := &Server{
		lookups: lookups,
		health:  health,
		sync:    sync,
		cors:    newCORSPolicy(cfg.CORS.AllowedOrigins),
		logger:  logger,
		config:  cfg,
	}

	s.router = s.setupRoutes(middleware)

	s.server = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(middleware []Middleware) *mux.Router {
	r := mux.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	for _, m := range middleware {
		r.Use(mux.MiddlewareFunc(m))
	}
	read := []string{http.MethodGet}
	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
		read = append(read, http.MethodOptions)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/lookup", s.handleLookup).Methods(read...)
	api.HandleFunc("/layers", s.handleLayers).Methods(read...)
	api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)

	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)

	return r
}

// Handler returns the routed handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Handle mounts an extra GET handler, e.g. metrics on the API listener.
func (s *Server) Handle(path string, h http.Handler) {
	s.router.Handle(path, h).Methods(http.MethodGet)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		level := slog.LevelInfo
		if r.URL.Path == "/health/live" || r.URL.Path == "/health/ready" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/runnerd/internal/auth"
	"github.com/mattjoyce/runnerd/internal/catalog"
	"github.com/mattjoyce/runnerd/internal/events"
	"github.com/mattjoyce/runnerd/internal/journal"
	"github.com/mattjoyce/runnerd/internal/launch"
	"github.com/mattjoyce/runnerd/internal/runner"
	"github.com/mattjoyce/runnerd/internal/step"
)

// Dispatcher is the part of *dispatch.Dispatcher the API drives.
type Dispatcher interface {
	Kill(id string)
	ExternalEvent(id string, event runner.Event)
	RefreshOutput(id string)
	Running(id string) bool
	Active() []string
}

// Launcher starts runners from definitions.
type Launcher interface {
	Launch(ctx context.Context, req launch.Request) (*step.Step, error)
}

// Catalog defines the interface for definition lookups
type Catalog interface {
	Get(name string) (*catalog.Definition, bool)
	All() []*catalog.Definition
}

// StepRegistry defines the interface for in-memory step lookups
type StepRegistry interface {
	Get(runnerID string) (*step.Step, bool)
	List() []step.Snapshot
}

// History serves runners that are no longer held in memory.
type History interface {
	Get(ctx context.Context, runnerID string) (*journal.Entry, error)
	Updates(ctx context.Context, runnerID string) ([]journal.UpdateRecord, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the legacy single bearer token (admin/full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server represents the HTTP API server
type Server struct {
	config     Config
	keyring    *auth.Keyring
	dispatcher Dispatcher
	launcher   Launcher
	catalog    Catalog
	steps      StepRegistry
	history    History
	events     *events.Hub
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// New creates a new API server instance. history may be nil.
func New(config Config, dispatcher Dispatcher, launcher Launcher, cat Catalog, steps StepRegistry, history History, hub *events.Hub, logger *slog.Logger) *Server {
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:     config,
		keyring:    auth.NewKeyring(config.APIKey, config.Tokens),
		dispatcher: dispatcher,
		launcher:   launcher,
		catalog:    cat,
		steps:      steps,
		history:    history,
		events:     hub,
		logger:     logger.With("component", "api"),
		startedAt:  time.Now(),
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	// No WriteTimeout: /events streams for as long as the client stays.
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes(auth.ScopeMetricsRO)).
			Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(s.requireScopes(auth.ScopeRunnersRO))
			r.Get("/openapi.json", s.handleOpenAPI)
			r.Get("/definitions", s.handleListDefinitions)
			r.Get("/runners", s.handleListRunners)
			r.Get("/runners/{runnerID}", s.handleGetRunner)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireScopes(auth.ScopeRunnersRW))
			r.Post("/runners", s.handleStartRunner)
			r.Post("/runners/{runnerID}/cancel", s.handleCancelRunner)
			r.Post("/runners/{runnerID}/event", s.handleRunnerEvent)
			r.Post("/runners/{runnerID}/refresh-output", s.handleRefreshOutput)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/runnerd/internal/runner"
)

// Server represents the webhook HTTP server.
type Server struct {
	config Config
	sink   EventSink
	logger *slog.Logger
	server *http.Server
	now    func() time.Time
}

// New creates a new webhook server instance.
func New(config Config, sink EventSink, logger *slog.Logger) *Server {
	for i := range config.Endpoints {
		if config.Endpoints[i].MaxBodySize == 0 {
			config.Endpoints[i].MaxBodySize = DefaultMaxBodySize
		}
	}

	return &Server{
		config: config,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Handler returns the HTTP handler serving all endpoints.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.config.Endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for i := range s.config.Endpoints {
		ep := &s.config.Endpoints[i]
		r.Post(ep.Path+"/{runnerID}", func(w http.ResponseWriter, r *http.Request) {
			s.handleWebhook(w, r, ep)
		})
	}

	return r
}

// loggingMiddleware logs HTTP requests (excludes sensitive payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request, endpoint *EndpointConfig) {
	runnerID := chi.URLParam(r, "runnerID")

	// Enforce body size limit
	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	// Verify before looking up the runner.
	sig := signature{header: endpoint.SignatureHeader, secret: endpoint.Secret}
	if err := sig.check(r.Header, body); err != nil {
		s.logger.Warn("webhook signature rejected", "path", endpoint.Path, "header", endpoint.SignatureHeader)
		s.respondError(w, http.StatusForbidden, err.Error())
		return
	}

	if !s.sink.Running(runnerID) {
		s.respondError(w, http.StatusNotFound, "runner not found")
		return
	}

	payload := json.RawMessage(body)
	if len(body) == 0 || !json.Valid(body) {
		// Non-JSON bodies are delivered as a JSON string.
		payload, _ = json.Marshal(string(body))
	}

	s.sink.ExternalEvent(runnerID, runner.Event{
		Name:    endpoint.Event,
		Payload: payload,
		At:      s.now().UTC(),
	})

	s.logger.Info("webhook event delivered",
		"path", endpoint.Path,
		"runner_id", runnerID,
		"event", endpoint.Event,
	)

	s.respondJSON(w, http.StatusAccepted, DeliveryResponse{RunnerID: runnerID, Event: endpoint.Event})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}

// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"termini-notifier/poll"
)

// Monitor runs check and invalidation cycles on demand.
type Monitor interface {
	Check(ctx context.Context) error
	Invalidate(ctx context.Context) error
}

// Server handles HTTP requests.
type Server struct {
	monitor      Monitor
	gatherer     prometheus.Gatherer
	logger       *slog.Logger
	cycleTimeout time.Duration
}

// Config holds server configuration.
type Config struct {
	Monitor  Monitor
	Gatherer prometheus.Gatherer // nil uses the default registry
	Logger   *slog.Logger
	// CycleTimeout caps a triggered cycle so it cannot outlive the cycle lock TTL.
	// Zero means no limit.
	CycleTimeout time.Duration
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	g := cfg.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return &Server{
		monitor:      cfg.Monitor,
		gatherer:     g,
		logger:       cfg.Logger,
		cycleTimeout: cfg.CycleTimeout,
	}
}

// Routes returns the router with all endpoints mounted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/pollz", s.handlePoll)
	r.Post("/invalidatez", s.handleInvalidate)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Minute, // a triggered check walks many windows
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Poll endpoint triggered")
	s.runCycle(w, r, "check", s.monitor.Check)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Invalidate endpoint triggered")
	s.runCycle(w, r, "invalidate", s.monitor.Invalidate)
}

func (s *Server) runCycle(w http.ResponseWriter, r *http.Request, job string, run func(context.Context) error) {
	ctx := r.Context()
	if s.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cycleTimeout)
		defer cancel()
	}

	if err := run(ctx); err != nil {
		if errors.Is(err, poll.ErrCycleInProgress) {
			http.Error(w, "Another cycle is in progress", http.StatusConflict)
			return
		}
		s.logger.Error("Triggered cycle failed", "job", job, "error", err)
		http.Error(w, "Cycle failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"completed"}`); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", ww.Status(),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

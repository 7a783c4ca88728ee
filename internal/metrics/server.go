// Package metrics implements metrics server.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports named subsystem health booleans, e.g.
// {"capture": true, "model": false, "datastore": true, "pubsub": true}.
type HealthFunc func() map[string]bool

// ModelsStatusFunc reports the model bundle's availability, e.g.
// {"available": false, "missing_artifact": "threshold_stats.json", "error": "..."}.
type ModelsStatusFunc func() map[string]any

// Server is the HTTP server for Prometheus metrics and, when set, the
// /healthz and /api/models/status endpoints backing the "nds status" CLI
// command.
type Server struct {
	addr           string
	path           string
	healthFn       HealthFunc
	modelsStatusFn ModelsStatusFunc
	server         *http.Server
}

// NewServer creates a new metrics server.
func NewServer(addr, path string) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{
		addr: addr,
		path: path,
	}
}

// SetHealthFunc registers the subsystem health checks served at /healthz.
// Must be called before Start.
func (s *Server) SetHealthFunc(fn HealthFunc) {
	s.healthFn = fn
}

// SetModelsStatusFunc registers the model-bundle status served at
// /api/models/status. Must be called before Start.
func (s *Server) SetModelsStatusFunc(fn ModelsStatusFunc) {
	s.modelsStatusFn = fn
}

// Start starts the metrics HTTP server.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())
	if s.healthFn != nil {
		mux.HandleFunc("/healthz", s.serveHealth)
	}
	if s.modelsStatusFn != nil {
		mux.HandleFunc("/api/models/status", s.serveModelsStatus)
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting metrics server", "addr", s.addr, "path", s.path)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	slog.Info("stopping metrics server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	slog.Info("metrics server stopped")
	return nil
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	checks := s.healthFn()

	ok := true
	for _, up := range checks {
		if !up {
			ok = false
			break
		}
	}

	status := "ok"
	if !ok {
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}

func (s *Server) serveModelsStatus(w http.ResponseWriter, r *http.Request) {
	status := s.modelsStatusFn()

	if available, _ := status["available"].(bool); !available {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

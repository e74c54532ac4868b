package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server provides HTTP endpoints for Prometheus metrics and health checks.
type Server struct {
	addr     string
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// NewServer creates a new metrics server exposing gatherer.
func NewServer(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	return &Server{
		addr:   addr,
		logger: logger,
		server: &http.Server{
			Addr:         addr,
			Handler:      NewHandler(gatherer),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
	}
}

// NewHandler returns the mux served by Server.
func NewHandler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Health check endpoint
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/healthz", healthHandler)

	// Ready check (same as health for now)
	mux.HandleFunc("/ready", healthHandler)
	mux.HandleFunc("/readyz", healthHandler)
	return mux
}

// healthHandler handles health check requests.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// Start binds the listen address and serves in a goroutine.
// Bind errors are returned; use Shutdown to stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.logger.Info("metrics_server_starting", "addr", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics_server_error", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("metrics_server_shutting_down")
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address once started, otherwise the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

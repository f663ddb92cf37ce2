package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brgmlab/hydropipe/internal/logging"
)

// ReadinessChecker reports whether the process is ready to serve.
type ReadinessChecker interface {
	IsReady() bool
}

// AlwaysReady is a ReadinessChecker for processes with no warm-up phase.
type AlwaysReady struct{}

// IsReady always returns true.
func (AlwaysReady) IsReady() bool { return true }

// AdminServer serves /metrics, /healthz and /readyz on the admin port.
// It implements lifecycle.Component.
type AdminServer struct {
	port      int
	server    *http.Server
	logger    *logging.Logger
	readiness ReadinessChecker
}

// NewAdminServer builds the admin HTTP server around the given metrics
// registry. A nil readiness checker means always ready.
func NewAdminServer(port int, m *Metrics, readiness ReadinessChecker) *AdminServer {
	if readiness == nil {
		readiness = AlwaysReady{}
	}

	s := &AdminServer{
		port:      port,
		logger:    logging.GetLogger("admin"),
		readiness: readiness,
	}

	router := http.NewServeMux()
	router.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", s.handleHealth)
	router.HandleFunc("/readyz", s.handleReady)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}
	return s
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *AdminServer) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.readiness.IsReady() {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// Start begins listening on the admin port.
func (s *AdminServer) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Admin server error: %v", err)
		}
	}()

	s.logger.Info("Admin server listening on port %d", s.port)
	return nil
}

// Stop gracefully shuts the admin server down.
func (s *AdminServer) Stop(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- s.server.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Error("Admin server shutdown error: %v", err)
			return err
		}
	case <-ctx.Done():
		s.logger.Warn("Admin server shutdown timed out")
		return ctx.Err()
	}

	s.logger.Info("Admin server stopped")
	return nil
}

// Name implements lifecycle.Component.
func (s *AdminServer) Name() string {
	return "admin server"
}

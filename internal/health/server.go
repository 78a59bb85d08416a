// Package health serves the liveness endpoint and the metrics scrape on
// the configured port.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chartd-org/chartd/internal/build"
	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/logger/tag"
	"github.com/chartd-org/chartd/internal/supervisor"
)

const shutdownTimeout = 5 * time.Second

// Supervised exposes the task health the endpoint reports.
type Supervised interface {
	HealthSummary() supervisor.Summary
}

// Server is the HTTP side of the daemon: GET /health and GET /metrics.
type Server struct {
	port      int
	sup       Supervised
	registry  *prometheus.Registry
	clock     clock.Clock
	startedAt time.Time

	srv *http.Server
}

func New(port int, sup Supervised, registry *prometheus.Registry, clk clock.Clock) *Server {
	return &Server{
		port:     port,
		sup:      sup,
		registry: registry,
		clock:    clk,
	}
}

// Start begins serving. Port 0 disables the server entirely.
func (s *Server) Start(ctx context.Context) error {
	if s.port == 0 {
		logger.FromContext(ctx).Info("health server disabled")
		return nil
	}
	s.startedAt = s.clock.Now()

	requestLogger := httplog.NewLogger(build.Slug, httplog.Options{
		LogLevel: slog.LevelInfo,
		Concise:  true,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.srv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log := logger.FromContext(ctx)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("health server stopped", tag.Error(err))
		}
	}()
	log.Info("health server listening", tag.Port(s.port))
	return nil
}

// Stop drains in-flight requests for up to five seconds.
func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		logger.FromContext(ctx).Warn("health server shutdown", tag.Error(err))
	}
}

// healthResponse is the /health payload.
type healthResponse struct {
	Status  string             `json:"status"`
	Version string             `json:"version"`
	Uptime  string             `json:"uptime"`
	Summary supervisor.Summary `json:"summary"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary := s.sup.HealthSummary()

	status := "ok"
	code := http.StatusOK
	if !summary.Healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:  status,
		Version: build.Version,
		Uptime:  s.clock.Now().Sub(s.startedAt).Round(time.Second).String(),
		Summary: summary,
	})
}

// Package api serves the monitoring endpoints for a mounted drive:
// health and readiness probes, operation status, prometheus metrics,
// and a small info document.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/drivefs/drivefs/pkg/health"
	"github.com/drivefs/drivefs/pkg/status"
)

// ServerConfig configures the monitoring listener.
type ServerConfig struct {
	// Address to bind to, for example "localhost:8080".
	Address string `yaml:"address" json:"address"`

	// ReadTimeout bounds reading an entire request.
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout bounds writing a response.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout bounds waiting for the next request on a kept-alive
	// connection.
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// EnableCORS adds permissive CORS headers for browser dashboards.
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`

	// EnableMetrics exposes /metrics. The endpoint also needs a
	// Gatherer wired through Options.
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
}

// DefaultServerConfig returns the default listener configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:       "localhost:8080",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		IdleTimeout:   60 * time.Second,
		EnableCORS:    true,
		EnableMetrics: false,
	}
}

// Info describes the mounted drive for /info.
type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version,omitempty"`
	Backend   string `json:"backend,omitempty"`
	Location  string `json:"location,omitempty"`
	MountPath string `json:"mount_path,omitempty"`
}

// Options carries the trackers and collectors the server exposes. Nil
// fields disable their endpoints instead of failing.
type Options struct {
	Status   *status.Tracker
	Health   *health.Tracker
	Gatherer prometheus.Gatherer
	Info     Info
	Logger   *log.Logger

	// Operations feeds /debug/operations with the collector's
	// per-operation summaries.
	Operations func() map[string]interface{}

	// Drive feeds /debug/drive with the backend's activity counters.
	Drive func() map[string]interface{}
}

// Server is the monitoring HTTP server.
type Server struct {
	httpServer     *http.Server
	statusTracker  *status.Tracker
	healthTracker  *health.Tracker
	operations     func() map[string]interface{}
	driveStats     func() map[string]interface{}
	info           Info
	metricsEnabled bool
	logger         *log.Entry
	config         ServerConfig
}

// NewServer builds the monitoring server. It does not listen until
// Start or StartBackground is called.
func NewServer(config ServerConfig, opts Options) *Server {
	base := opts.Logger
	if base == nil {
		base = log.StandardLogger()
	}
	info := opts.Info
	if info.Service == "" {
		info.Service = "drivefs"
	}

	s := &Server{
		statusTracker:  opts.Status,
		healthTracker:  opts.Health,
		operations:     opts.Operations,
		driveStats:     opts.Drive,
		info:           info,
		metricsEnabled: config.EnableMetrics && opts.Gatherer != nil,
		logger:         base.WithField("component", "api"),
		config:         config,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/components", s.handleHealthComponents)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)
	mux.HandleFunc("/status", s.handleSystemStatus)
	mux.HandleFunc("/status/operations", s.handleOperations)
	mux.HandleFunc("/status/operations/", s.handleOperation)
	mux.HandleFunc("/status/history", s.handleHistory)
	mux.HandleFunc("/debug/operations", s.handleDebugOperations)
	mux.HandleFunc("/debug/drive", s.handleDebugDrive)
	mux.HandleFunc("/info", s.handleInfo)
	if s.metricsEnabled {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	handler := s.logRequests(mux)
	if config.EnableCORS {
		handler = corsHeaders(handler)
	}

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Start serves requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.WithField("address", s.config.Address).Info("monitoring server listening")
	return s.httpServer.ListenAndServe()
}

// StartBackground runs Start on its own goroutine, logging any listener
// error other than a clean shutdown.
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("monitoring server failed")
		}
	}()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("monitoring server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}

	if s.healthTracker == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"note":   "health tracking not configured",
		})
		return
	}

	overall := s.healthTracker.GetOverallHealth()
	components := s.healthTracker.GetAllComponents()

	statusCode := http.StatusOK
	switch overall {
	case health.StateUnavailable:
		statusCode = http.StatusServiceUnavailable
	case health.StateDegraded, health.StateReadOnly:
		statusCode = http.StatusPartialContent
	}

	s.respondJSON(w, statusCode, map[string]interface{}{
		"status":     overall.String(),
		"timestamp":  time.Now(),
		"components": len(components),
	})
}

func (s *Server) handleHealthComponents(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if s.healthTracker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "health tracking not configured")
		return
	}
	s.respondJSON(w, http.StatusOK, s.healthTracker.GetAllComponents())
}

// handleLiveness answers as long as the process serves HTTP at all.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

// handleReadiness reports whether the mount should receive traffic. A
// degraded or read-only drive is still ready; an unavailable one is not.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}

	if s.healthTracker == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"ready":     true,
			"timestamp": time.Now(),
			"note":      "health tracking not configured",
		})
		return
	}

	overall := s.healthTracker.GetOverallHealth()
	ready := overall != health.StateUnavailable

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	s.respondJSON(w, statusCode, map[string]interface{}{
		"ready":     ready,
		"status":    overall.String(),
		"timestamp": time.Now(),
	})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if s.statusTracker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "status tracking not configured")
		return
	}
	s.respondJSON(w, http.StatusOK, s.statusTracker.GetSystemStatus())
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if s.statusTracker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "status tracking not configured")
		return
	}

	operations := s.statusTracker.GetAllOperations()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"operations": operations,
		"count":      len(operations),
		"timestamp":  time.Now(),
	})
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if s.statusTracker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "status tracking not configured")
		return
	}

	opID := strings.TrimPrefix(r.URL.Path, "/status/operations/")
	if opID == "" {
		s.respondError(w, http.StatusBadRequest, "operation id required")
		return
	}

	operation, err := s.statusTracker.GetOperation(opID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "operation not found: "+opID)
		return
	}
	s.respondJSON(w, http.StatusOK, operation)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if s.statusTracker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "status tracking not configured")
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	history := s.statusTracker.GetHistory(limit)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"history":   history,
		"count":     len(history),
		"limit":     limit,
		"timestamp": time.Now(),
	})
}

// handleDebugOperations dumps the in-process operation summaries kept
// alongside the prometheus series.
func (s *Server) handleDebugOperations(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if s.operations == nil {
		s.respondError(w, http.StatusServiceUnavailable, "operation metrics not configured")
		return
	}
	s.respondJSON(w, http.StatusOK, s.operations())
}

// handleDebugDrive dumps the drive's activity counters: transfer totals,
// cache performance, staged writes, connection pool, circuit state.
func (s *Server) handleDebugDrive(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if s.driveStats == nil {
		s.respondError(w, http.StatusServiceUnavailable, "drive statistics not available for this backend")
		return
	}
	s.respondJSON(w, http.StatusOK, s.driveStats())
}

type infoResponse struct {
	Info
	Timestamp time.Time `json:"timestamp"`
	Endpoints []string  `json:"endpoints"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}

	endpoints := []string{
		"/health",
		"/health/components",
		"/health/live",
		"/health/ready",
		"/status",
		"/status/operations",
		"/status/operations/{id}",
		"/status/history",
		"/info",
	}
	if s.operations != nil {
		endpoints = append(endpoints, "/debug/operations")
	}
	if s.driveStats != nil {
		endpoints = append(endpoints, "/debug/drive")
	}
	if s.metricsEnabled {
		endpoints = append(endpoints, "/metrics")
	}

	s.respondJSON(w, http.StatusOK, infoResponse{
		Info:      s.info,
		Timestamp: time.Now(),
		Endpoints: endpoints,
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("request served")
	})
}

func corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Warn("failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	derrors "github.com/drivefs/drivefs/pkg/errors"
	"github.com/drivefs/drivefs/pkg/health"
	"github.com/drivefs/drivefs/pkg/status"
)

func testServer(t *testing.T, config ServerConfig, opts Options) *Server {
	t.Helper()
	if opts.Logger == nil {
		logger := log.New()
		logger.SetOutput(io.Discard)
		opts.Logger = logger
	}
	return NewServer(config, opts)
}

func TestNewServer(t *testing.T) {
	statusTracker := status.NewTracker(status.DefaultConfig())
	healthTracker := health.NewTracker(health.DefaultConfig())

	server := testServer(t, DefaultServerConfig(), Options{
		Status: statusTracker,
		Health: healthTracker,
	})

	if server == nil {
		t.Fatal("NewServer returned nil")
	}
	if server.statusTracker != statusTracker {
		t.Error("Status tracker not set")
	}
	if server.healthTracker != healthTracker {
		t.Error("Health tracker not set")
	}
	if server.httpServer == nil {
		t.Error("HTTP server not initialized")
	}
	if server.info.Service != "drivefs" {
		t.Errorf("Expected default service name drivefs, got %q", server.info.Service)
	}
}

func TestHandleHealth(t *testing.T) {
	healthTracker := health.NewTracker(health.DefaultConfig())
	healthTracker.RegisterComponent("drive")

	server := testServer(t, DefaultServerConfig(), Options{Health: healthTracker})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "healthy" {
		t.Errorf("Expected status=healthy, got %v", response["status"])
	}
}

func TestHandleHealthDegraded(t *testing.T) {
	healthTracker := health.NewTracker(health.DefaultConfig())
	healthTracker.RegisterComponent("drive")
	for i := 0; i < 3; i++ {
		healthTracker.RecordError("drive", fmt.Errorf("probe failed"))
	}

	server := testServer(t, DefaultServerConfig(), Options{Health: healthTracker})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.handleHealth(w, req)

	if w.Code != http.StatusPartialContent {
		t.Errorf("Expected status 206, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "degraded" {
		t.Errorf("Expected status=degraded, got %v", response["status"])
	}
}

func TestHandleHealthReadOnly(t *testing.T) {
	healthTracker := health.NewTracker(health.DefaultConfig())
	healthTracker.RegisterComponent("drive")

	// Repeated permission failures push the drive into read-only mode.
	writeErr := derrors.NewError(derrors.ErrCodeNotPermitted, "access denied")
	for i := 0; i < 3; i++ {
		healthTracker.RecordError("drive", writeErr)
	}

	server := testServer(t, DefaultServerConfig(), Options{Health: healthTracker})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.handleHealth(w, req)

	if w.Code != http.StatusPartialContent {
		t.Errorf("Expected status 206, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "read-only" {
		t.Errorf("Expected status=read-only, got %v", response["status"])
	}
}

func TestHandleHealthComponents(t *testing.T) {
	healthTracker := health.NewTracker(health.DefaultConfig())
	healthTracker.RegisterComponent("drive")
	healthTracker.RegisterComponent("cache")

	server := testServer(t, DefaultServerConfig(), Options{Health: healthTracker})

	req := httptest.NewRequest(http.MethodGet, "/health/components", nil)
	w := httptest.NewRecorder()
	server.handleHealthComponents(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]*health.ComponentHealth
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response) != 2 {
		t.Errorf("Expected 2 components, got %d", len(response))
	}
	for _, name := range []string{"drive", "cache"} {
		if _, exists := response[name]; !exists {
			t.Errorf("Component %q not found in response", name)
		}
	}
}

func TestHandleLiveness(t *testing.T) {
	server := testServer(t, DefaultServerConfig(), Options{})

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()
	server.handleLiveness(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if alive, ok := response["alive"].(bool); !ok || !alive {
		t.Error("Expected alive=true")
	}
}

func TestHandleReadiness(t *testing.T) {
	healthTracker := health.NewTracker(health.DefaultConfig())
	healthTracker.RegisterComponent("drive")

	server := testServer(t, DefaultServerConfig(), Options{Health: healthTracker})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	server.handleReadiness(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if ready, ok := response["ready"].(bool); !ok || !ready {
		t.Error("Expected ready=true")
	}
}

func TestHandleReadinessUnavailable(t *testing.T) {
	healthTracker := health.NewTracker(health.DefaultConfig())
	healthTracker.RegisterComponent("drive")
	for i := 0; i < 10; i++ {
		healthTracker.RecordError("drive", fmt.Errorf("probe failed"))
	}

	server := testServer(t, DefaultServerConfig(), Options{Health: healthTracker})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	server.handleReadiness(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if ready, ok := response["ready"].(bool); !ok || ready {
		t.Error("Expected ready=false")
	}
}

func TestHandleSystemStatus(t *testing.T) {
	statusTracker := status.NewTracker(status.DefaultConfig())
	ctx := context.Background()
	statusTracker.StartOperation(ctx, "mount", nil)
	statusTracker.StartOperation(ctx, "flush", nil)

	server := testServer(t, DefaultServerConfig(), Options{Status: statusTracker})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	server.handleSystemStatus(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response status.SystemStatus
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.ActiveOps != 2 {
		t.Errorf("Expected 2 active operations, got %d", response.ActiveOps)
	}
}

func TestHandleOperations(t *testing.T) {
	statusTracker := status.NewTracker(status.DefaultConfig())
	ctx := context.Background()
	statusTracker.StartOperation(ctx, "mount", nil)
	statusTracker.StartOperation(ctx, "flush", nil)

	server := testServer(t, DefaultServerConfig(), Options{Status: statusTracker})

	req := httptest.NewRequest(http.MethodGet, "/status/operations", nil)
	w := httptest.NewRecorder()
	server.handleOperations(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if count := int(response["count"].(float64)); count != 2 {
		t.Errorf("Expected 2 operations, got %d", count)
	}
}

func TestHandleOperation(t *testing.T) {
	statusTracker := status.NewTracker(status.DefaultConfig())
	op, _ := statusTracker.StartOperation(context.Background(), "flush", nil)

	server := testServer(t, DefaultServerConfig(), Options{Status: statusTracker})

	req := httptest.NewRequest(http.MethodGet, "/status/operations/"+op.ID, nil)
	w := httptest.NewRecorder()
	server.handleOperation(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response status.Operation
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.ID != op.ID {
		t.Errorf("Expected operation %s, got %s", op.ID, response.ID)
	}
}

func TestHandleOperationNotFound(t *testing.T) {
	statusTracker := status.NewTracker(status.DefaultConfig())
	server := testServer(t, DefaultServerConfig(), Options{Status: statusTracker})

	req := httptest.NewRequest(http.MethodGet, "/status/operations/no-such-op", nil)
	w := httptest.NewRecorder()
	server.handleOperation(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHandleHistory(t *testing.T) {
	statusTracker := status.NewTracker(status.DefaultConfig())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		op, _ := statusTracker.StartOperation(ctx, fmt.Sprintf("op-%d", i), nil)
		if err := statusTracker.CompleteOperation(op.ID); err != nil {
			t.Fatalf("CompleteOperation failed: %v", err)
		}
	}

	server := testServer(t, DefaultServerConfig(), Options{Status: statusTracker})

	req := httptest.NewRequest(http.MethodGet, "/status/history?limit=2", nil)
	w := httptest.NewRecorder()
	server.handleHistory(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if count := int(response["count"].(float64)); count != 2 {
		t.Errorf("Expected 2 history entries, got %d", count)
	}
	if limit := int(response["limit"].(float64)); limit != 2 {
		t.Errorf("Expected limit=2, got %d", limit)
	}
}

func TestHandleDebugOperations(t *testing.T) {
	server := testServer(t, DefaultServerConfig(), Options{
		Operations: func() map[string]interface{} {
			return map[string]interface{}{
				"operations": map[string]interface{}{
					"read": map[string]interface{}{"count": 42},
				},
			}
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/debug/operations", nil)
	w := httptest.NewRecorder()
	server.handleDebugOperations(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	ops, ok := response["operations"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected operations map in response")
	}
	if _, exists := ops["read"]; !exists {
		t.Error("Expected read summary in response")
	}
}

func TestHandleDebugDrive(t *testing.T) {
	server := testServer(t, DefaultServerConfig(), Options{
		Drive: func() map[string]interface{} {
			return map[string]interface{}{
				"circuit": "closed",
				"staging": map[string]interface{}{"staged_objects": 2},
			}
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/debug/drive", nil)
	w := httptest.NewRecorder()
	server.handleDebugDrive(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["circuit"] != "closed" {
		t.Errorf("Expected circuit=closed, got %v", response["circuit"])
	}
}

func TestHandleInfo(t *testing.T) {
	server := testServer(t, DefaultServerConfig(), Options{
		Info: Info{
			Service:   "drivefs",
			Version:   "1.2.3",
			Backend:   "s3",
			Location:  "s3://photos/albums",
			MountPath: "/mnt/photos",
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	w := httptest.NewRecorder()
	server.handleInfo(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["service"] != "drivefs" {
		t.Errorf("Expected service=drivefs, got %v", response["service"])
	}
	if response["version"] != "1.2.3" {
		t.Errorf("Expected version=1.2.3, got %v", response["version"])
	}
	if response["backend"] != "s3" {
		t.Errorf("Expected backend=s3, got %v", response["backend"])
	}
	if response["mount_path"] != "/mnt/photos" {
		t.Errorf("Expected mount_path=/mnt/photos, got %v", response["mount_path"])
	}

	endpoints, ok := response["endpoints"].([]interface{})
	if !ok || len(endpoints) == 0 {
		t.Fatal("Expected endpoint list in response")
	}
	for _, e := range endpoints {
		if e == "/metrics" {
			t.Error("Metrics endpoint listed while disabled")
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drivefs_test_operations_total",
		Help: "test counter",
	})
	registry.MustRegister(counter)
	counter.Add(3)

	config := DefaultServerConfig()
	config.EnableMetrics = true
	server := testServer(t, config, Options{Gatherer: registry})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "drivefs_test_operations_total 3") {
		t.Errorf("Expected counter in exposition, got:\n%s", w.Body.String())
	}

	// /info advertises the endpoint once it is live.
	req = httptest.NewRequest(http.MethodGet, "/info", nil)
	w = httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), "/metrics") {
		t.Error("Expected /metrics in the endpoint list")
	}
}

func TestMetricsDisabledWithoutGatherer(t *testing.T) {
	config := DefaultServerConfig()
	config.EnableMetrics = true
	server := testServer(t, config, Options{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 without a gatherer, got %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := testServer(t, DefaultServerConfig(), Options{})

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()
	server.handleHealth(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	config := DefaultServerConfig()
	config.EnableCORS = true
	server := testServer(t, config, Options{})

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	w := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for OPTIONS, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header not set")
	}
}

func TestServerShutdown(t *testing.T) {
	config := DefaultServerConfig()
	config.Address = "localhost:0"

	server := testServer(t, config, Options{
		Status: status.NewTracker(status.DefaultConfig()),
	})

	server.StartBackground()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestNilTrackers(t *testing.T) {
	server := testServer(t, DefaultServerConfig(), Options{})

	tests := []struct {
		name     string
		handler  func(http.ResponseWriter, *http.Request)
		path     string
		wantCode int
	}{
		{"health without tracker", server.handleHealth, "/health", http.StatusOK},
		{"status without tracker", server.handleSystemStatus, "/status", http.StatusServiceUnavailable},
		{"operations without tracker", server.handleOperations, "/status/operations", http.StatusServiceUnavailable},
		{"history without tracker", server.handleHistory, "/status/history", http.StatusServiceUnavailable},
		{"debug operations without collector", server.handleDebugOperations, "/debug/operations", http.StatusServiceUnavailable},
		{"debug drive without stats", server.handleDebugDrive, "/debug/drive", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()

			tt.handler(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, w.Code)
			}
		})
	}
}

func BenchmarkHandleHealth(b *testing.B) {
	healthTracker := health.NewTracker(health.DefaultConfig())
	healthTracker.RegisterComponent("drive")

	logger := log.New()
	logger.SetOutput(io.Discard)
	server := NewServer(DefaultServerConfig(), Options{Health: healthTracker, Logger: logger})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		server.handleHealth(w, req)
	}
}

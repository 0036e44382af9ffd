package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	derrors "github.com/drivefs/drivefs/pkg/errors"
	"github.com/drivefs/drivefs/pkg/types"
)

// Collector is the prometheus-backed implementation of
// types.MetricsCollector. It owns its registry; pkg/api serves it over
// promhttp. Alongside the prometheus series it keeps a per-operation
// summary map for GetMetrics and the monitoring debug endpoint.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationSize     *prometheus.HistogramVec
	cacheRequests     *prometheus.CounterVec
	cacheSizeGauge    prometheus.Gauge
	driveBytes        *prometheus.CounterVec
	openHandles       prometheus.Gauge
	mountedGauge      prometheus.Gauge
	errorCounter      *prometheus.CounterVec

	operations map[string]*OperationMetrics
	lastReset  time.Time
}

// Config represents metrics configuration.
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
	Labels    map[string]string `yaml:"labels"`
}

// OperationMetrics tracks the running summary for one operation type.
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AvgSize       float64       `json:"avg_size"`
}

var _ types.MetricsCollector = (*Collector)(nil)

// NewCollector creates a new metrics collector. A nil config enables
// collection under the "drivefs" namespace.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Namespace: "drivefs",
			Labels:    make(map[string]string),
		}
	}
	if config.Namespace == "" {
		config.Namespace = "drivefs"
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Registry exposes the collector's series for scraping.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordOperation records one filesystem operation. Read and write sizes
// additionally feed the drive byte counters.
func (c *Collector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	if metrics, exists := c.operations[operation]; exists {
		metrics.Count++
		metrics.TotalDuration += duration
		metrics.TotalSize += size
		if !success {
			metrics.Errors++
		}
		metrics.LastOperation = time.Now()
		metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
		metrics.AvgSize = float64(metrics.TotalSize) / float64(metrics.Count)
	} else {
		errorCount := int64(0)
		if !success {
			errorCount = 1
		}
		c.operations[operation] = &OperationMetrics{
			Count:         1,
			TotalDuration: duration,
			TotalSize:     size,
			Errors:        errorCount,
			LastOperation: time.Now(),
			AvgDuration:   duration,
			AvgSize:       float64(size),
		}
	}
	c.mu.Unlock()

	status := "success"
	if !success {
		status = "error"
	}
	c.operationCounter.With(prometheus.Labels{
		"operation": operation,
		"status":    status,
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())

	if size > 0 {
		c.operationSize.With(prometheus.Labels{
			"operation": operation,
		}).Observe(float64(size))

		switch operation {
		case "read":
			c.driveBytes.With(prometheus.Labels{"direction": "read"}).Add(float64(size))
		case "write":
			c.driveBytes.With(prometheus.Labels{"direction": "write"}).Add(float64(size))
		}
	}
}

// RecordCacheHit records a block cache hit.
func (c *Collector) RecordCacheHit(key string, size int64) {
	if !c.config.Enabled {
		return
	}
	c.cacheRequests.With(prometheus.Labels{"type": "hit"}).Inc()
}

// RecordCacheMiss records a block cache miss.
func (c *Collector) RecordCacheMiss(key string, size int64) {
	if !c.config.Enabled {
		return
	}
	c.cacheRequests.With(prometheus.Labels{"type": "miss"}).Inc()
}

// RecordError records an error, labeled by its structured category.
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled {
		return
	}
	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"category":  string(derrors.CategoryOf(err)),
	}).Inc()
}

// UpdateCacheStats refreshes the cache size gauge from a stats snapshot.
func (c *Collector) UpdateCacheStats(stats types.CacheStats) {
	if !c.config.Enabled {
		return
	}
	c.cacheSizeGauge.Set(float64(stats.Size))
}

// UpdateDriveStats refreshes the open-handle gauge from a stats snapshot.
func (c *Collector) UpdateDriveStats(stats types.DriveStats) {
	if !c.config.Enabled {
		return
	}
	c.openHandles.Set(float64(stats.OpenHandles))
}

// SetMounted flips the mount-state gauge.
func (c *Collector) SetMounted(mounted bool) {
	if !c.config.Enabled {
		return
	}
	if mounted {
		c.mountedGauge.Set(1)
	} else {
		c.mountedGauge.Set(0)
	}
}

// GetMetrics returns the per-operation summaries.
func (c *Collector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]*OperationMetrics)
	for k, v := range c.operations {
		clone := *v
		operations[k] = &clone
	}

	return map[string]interface{}{
		"operations": operations,
		"last_reset": c.lastReset,
		"uptime":     time.Since(c.lastReset),
	}
}

// ResetMetrics clears the per-operation summaries. Prometheus series are
// left alone; counters are monotonic by contract.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "operations_total",
			Help:        "Total number of filesystem operations",
			ConstLabels: c.config.Labels,
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "operation_duration_seconds",
			Help:        "Duration of filesystem operations in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 18), // 100µs to ~13s
			ConstLabels: c.config.Labels,
		},
		[]string{"operation"},
	)

	c.operationSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "operation_size_bytes",
			Help:        "Payload size of filesystem operations in bytes",
			Buckets:     prometheus.ExponentialBuckets(256, 4, 12), // 256B to ~1GB
			ConstLabels: c.config.Labels,
		},
		[]string{"operation"},
	)

	c.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_requests_total",
			Help:        "Total number of block cache lookups",
			ConstLabels: c.config.Labels,
		},
		[]string{"type"},
	)

	c.cacheSizeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_size_bytes",
			Help:        "Current block cache size in bytes",
			ConstLabels: c.config.Labels,
		},
	)

	c.driveBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "drive_bytes_total",
			Help:        "Bytes moved through the drive by direction",
			ConstLabels: c.config.Labels,
		},
		[]string{"direction"},
	)

	c.openHandles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "open_handles",
			Help:        "Number of open file handles",
			ConstLabels: c.config.Labels,
		},
	)

	c.mountedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "mounted",
			Help:        "Whether the filesystem is currently mounted (0 or 1)",
			ConstLabels: c.config.Labels,
		},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "errors_total",
			Help:        "Total number of errors by operation and category",
			ConstLabels: c.config.Labels,
		},
		[]string{"operation", "category"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.operationSize,
		c.cacheRequests,
		c.cacheSizeGauge,
		c.driveBytes,
		c.openHandles,
		c.mountedGauge,
		c.errorCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

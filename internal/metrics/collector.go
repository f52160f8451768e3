package metrics

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/cut-dicl/smacc-sub001/pkg/errors"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// Collector gathers engine, policy and write-back metrics. A nil *Collector
// is valid and records nothing.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationSize     *prometheus.HistogramVec
	policyEvents      *prometheus.CounterVec
	admissions        *prometheus.CounterVec
	evictions         *prometheus.CounterVec
	writeBackJobs     *prometheus.CounterVec
	writeBackBytes    prometheus.Counter
	queueDepth        prometheus.Gauge
	tierUsage         *prometheus.GaugeVec
	errorCounter      *prometheus.CounterVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time

	server *http.Server
	logger *logrus.Entry
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// OperationMetrics tracks metrics for a specific engine operation
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AvgSize       float64       `json:"avg_size"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      0,
			Path:      "/metrics",
			Namespace: "smacc",
		}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
		logger:     logrus.WithField("component", "metrics"),
	}

	if err := collector.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

func (c *Collector) enabled() bool {
	return c != nil && c.config != nil && c.config.Enabled && c.registry != nil
}

// Registry returns the underlying Prometheus registry, or nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	if !c.enabled() {
		return nil
	}
	return c.registry
}

// Start serves the metrics endpoint when a port is configured
func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled() || c.config.Port <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	c.mu.Lock()
	c.server = server
	c.mu.Unlock()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.WithError(err).Error("Metrics server error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Stop(shutdownCtx)
	}()

	return nil
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	server := c.server
	c.server = nil
	c.mu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records an engine operation with its latency and size
func (c *Collector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	if !c.enabled() {
		return
	}

	c.mu.Lock()
	m, exists := c.operations[operation]
	if !exists {
		m = &OperationMetrics{}
		c.operations[operation] = m
	}
	m.Count++
	m.TotalDuration += duration
	m.TotalSize += size
	if !success {
		m.Errors++
	}
	m.LastOperation = time.Now()
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	m.AvgSize = float64(m.TotalSize) / float64(m.Count)
	c.mu.Unlock()

	c.operationCounter.With(prometheus.Labels{
		"operation": operation,
		"status":    map[bool]string{true: "success", false: "error"}[success],
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())

	if size > 0 {
		c.operationSize.With(prometheus.Labels{
			"operation": operation,
		}).Observe(float64(size))
	}
}

// RecordPolicyEvent counts one notification delivered to the policies
func (c *Collector) RecordPolicyEvent(event string, tier types.StorageTier) {
	if !c.enabled() {
		return
	}
	c.policyEvents.With(prometheus.Labels{"event": event, "tier": tier.String()}).Inc()
}

// RecordAdmission counts an admission decision by resulting location
func (c *Collector) RecordAdmission(mode string, loc types.Location) {
	if !c.enabled() {
		return
	}
	c.admissions.With(prometheus.Labels{"mode": mode, "location": loc.String()}).Inc()
}

// RecordEviction counts an evicted object by tier and action (downgrade or delete)
func (c *Collector) RecordEviction(tier types.StorageTier, action string) {
	if !c.enabled() {
		return
	}
	c.evictions.With(prometheus.Labels{"tier": tier.String(), "action": action}).Inc()
}

// RecordWriteBack counts a finished write-back job and the bytes it pushed
func (c *Collector) RecordWriteBack(status string, bytes int64) {
	if !c.enabled() {
		return
	}
	c.writeBackJobs.With(prometheus.Labels{"status": status}).Inc()
	if bytes > 0 {
		c.writeBackBytes.Add(float64(bytes))
	}
}

// SetQueueDepth updates the number of queued write-back jobs
func (c *Collector) SetQueueDepth(depth int) {
	if !c.enabled() {
		return
	}
	c.queueDepth.Set(float64(depth))
}

// SetTierUsage updates the bytes held by a tier
func (c *Collector) SetTierUsage(tier types.StorageTier, used int64) {
	if !c.enabled() {
		return
	}
	c.tierUsage.With(prometheus.Labels{"tier": tier.String()}).Set(float64(used))
}

// RecordError records an error
func (c *Collector) RecordError(operation string, err error) {
	if !c.enabled() || err == nil {
		return
	}
	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"type":      classifyError(err),
	}).Inc()
}

// GetMetrics returns a snapshot of the operation summaries
func (c *Collector) GetMetrics() map[string]interface{} {
	metrics := make(map[string]interface{})
	if !c.enabled() {
		return metrics
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]*OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		cp := *v
		operations[k] = &cp
	}

	metrics["operations"] = operations
	metrics["last_reset"] = c.lastReset
	metrics["uptime"] = time.Since(c.lastReset)
	return metrics
}

// ResetMetrics resets the operation summaries
func (c *Collector) ResetMetrics() {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() error {
	ns, sub := c.config.Namespace, c.config.Subsystem

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "operations_total",
			Help:      "Total number of engine operations",
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"operation"},
	)

	c.operationSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "operation_size_bytes",
			Help:      "Size of engine operations in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 20), // 1KB to ~1GB
		},
		[]string{"operation"},
	)

	c.policyEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "policy_events_total",
			Help:      "Notifications delivered to cache policies",
		},
		[]string{"event", "tier"},
	)

	c.admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "admissions_total",
			Help:      "Admission decisions by resulting location",
		},
		[]string{"mode", "location"},
	)

	c.evictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "evictions_total",
			Help:      "Objects evicted from a cache tier",
		},
		[]string{"tier", "action"},
	)

	c.writeBackJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "writeback_jobs_total",
			Help:      "Finished write-back jobs by status",
		},
		[]string{"status"},
	)

	c.writeBackBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "writeback_bytes_total",
			Help:      "Bytes pushed to cold storage",
		},
	)

	c.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "writeback_queue_depth",
			Help:      "Write-back jobs waiting for a worker",
		},
	)

	c.tierUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "tier_usage_bytes",
			Help:      "Bytes held by each cache tier",
		},
		[]string{"tier"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"operation", "type"},
	)

	return nil
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.operationSize,
		c.policyEvents,
		c.admissions,
		c.evictions,
		c.writeBackJobs,
		c.writeBackBytes,
		c.queueDepth,
		c.tierUsage,
		c.errorCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// classifyError labels an error by its cache error code.
func classifyError(err error) string {
	var ce *errors.CacheError
	if stderrors.As(err, &ce) && ce.Code != "" {
		return string(ce.Code)
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case stderrors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "other"
	}
}

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"smacc-metrics"}`))
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")

	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("SMACC Operations Summary\n")
	writef("========================\n\n")
	writef("Uptime: %v\n", time.Since(c.lastReset))
	writef("Last Reset: %v\n\n", c.lastReset)

	if len(c.operations) == 0 {
		writef("No operations recorded.\n")
		return
	}

	writef("%-20s %10s %10s %12s %12s %10s\n",
		"Operation", "Count", "Errors", "Avg Duration", "Avg Size", "Last Op")
	writef("%-20s %10s %10s %12s %12s %10s\n",
		"----------", "-----", "------", "------------", "--------", "-------")

	for name, op := range c.operations {
		writef("%-20s %10d %10d %12v %12.0f %10s\n",
			name, op.Count, op.Errors, op.AvgDuration,
			op.AvgSize, op.LastOperation.Format("15:04:05"))
	}
}

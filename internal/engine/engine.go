// Package engine is the tier orchestrator. It wires the memory and disk tiers,
// the policy notifier, cold storage and the write-back queue behind the
// create, read, delete and list operations used by the request layer, and
// runs eviction and downgrades between tiers.
package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/internal/coldstore"
	"github.com/cut-dicl/smacc-sub001/internal/config"
	"github.com/cut-dicl/smacc-sub001/internal/metrics"
	"github.com/cut-dicl/smacc-sub001/internal/policy"
	"github.com/cut-dicl/smacc-sub001/internal/tier"
	"github.com/cut-dicl/smacc-sub001/internal/writeback"
	"github.com/cut-dicl/smacc-sub001/pkg/errors"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// tierManager is what the engine needs from a cache tier.
type tierManager interface {
	Tier() types.StorageTier
	Create(bucket, key string, length int64, opts ...tier.CreateOption) (*cache.File, *cache.File, error)
	Lookup(bucket, key string) (*cache.File, bool)
	ReadRange(bucket, key string, start, stop int64) (io.ReadCloser, *cache.File, error)
	Delete(bucket, key string) (*cache.File, error)
	Remove(f *cache.File) bool
	List(bucket, prefix string) []types.ObjectInfo
	Files() []*cache.File
	Len() int
	Usage() int64
	Capacity() int64
	Stats() types.CacheStats
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger of the engine and its components.
func WithLogger(logger *logrus.Entry) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock sets the time source of files and policies.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.clock = now
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = c
	}
}

// WithWriteBackConfig overrides the queue settings derived from the
// configuration file.
func WithWriteBackConfig(cfg *writeback.Config) Option {
	return func(e *Engine) {
		e.queueConfig = cfg
	}
}

// Engine is the multi-tier cache in front of cold storage.
type Engine struct {
	config   *config.Configuration
	topology types.Location

	memory *tier.MemoryManager
	disk   *tier.DiskManager
	tiers  []tierManager

	cold     coldstore.Store
	notifier *policy.Notifier
	trigger  policy.EvictionTriggerPolicy
	queue    *writeback.Queue

	queueConfig *writeback.Config
	metrics     *metrics.Collector
	logger      *logrus.Entry
	clock       func() time.Time

	evictMu   [2]sync.Mutex
	hits      [2]atomic.Uint64
	evictions [2]atomic.Uint64
	misses    atomic.Uint64

	// pending holds the files with a queued write-back job; evictAfter the
	// ones to leave their tier once that job completes
	pushMu     sync.Mutex
	pending    map[*cache.File]struct{}
	evictAfter map[*cache.File]struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

// New builds the tiers, policies and write-back queue described by cfg on
// top of cold. Start must run before the engine serves requests.
func New(ctx context.Context, cfg *config.Configuration, cold coldstore.Store, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cold == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "cold storage is required").
			WithComponent("engine").WithOperation("new")
	}

	e := &Engine{
		config:   cfg,
		topology: cfg.TopologyLocation(),
		cold:     cold,
		clock:    time.Now,

		pending:    make(map[*cache.File]struct{}),
		evictAfter: make(map[*cache.File]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logrus.WithField("component", "engine")
	}
	if e.metrics == nil {
		collector, err := metrics.NewCollector(&metrics.Config{
			Enabled:   true,
			Port:      cfg.Global.MetricsPort,
			Path:      "/metrics",
			Namespace: "smacc",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}
		e.metrics = collector
	}

	provider := cfg.Provider()
	deps := policy.Deps{
		Usage:  e,
		Clock:  e.clock,
		Logger: e.component("policy"),
	}

	if e.topology.HasMemory() {
		capacity, err := cfg.MemoryCapacity()
		if err != nil {
			return nil, err
		}
		vol, err := tier.OpenMemoryVolume(cfg.Memory.StateDirectory, capacity)
		if err != nil {
			return nil, err
		}
		e.memory = tier.NewMemoryManager(vol, tier.WithLogger(e.component("memory-tier")), tier.WithClock(e.clock))
		e.tiers = append(e.tiers, e.memory)
	}
	if e.topology.HasDisk() {
		selection, err := policy.NewDiskSelectionPolicy(cfg.Policy.DiskSelection, provider, deps)
		if err != nil {
			return nil, err
		}
		volumes, err := tier.OpenDiskVolumes(cfg.Disk.Volumes)
		if err != nil {
			return nil, err
		}
		e.disk, err = tier.NewDiskManager(volumes, selection, tier.WithLogger(e.component("disk-tier")), tier.WithClock(e.clock))
		if err != nil {
			return nil, err
		}
		e.tiers = append(e.tiers, e.disk)
	}

	e.notifier = policy.NewNotifier(e.metrics, e.component("notifier"))
	admission, err := policy.NewAdmissionPolicy(cfg.Policy.Admission, provider, deps)
	if err != nil {
		return nil, err
	}
	eviction, err := policy.NewEvictionItemPolicy(cfg.Policy.EvictionItem, provider, deps)
	if err != nil {
		return nil, err
	}
	placement, err := policy.NewPlacementPolicy(cfg.Policy.Placement, provider, deps)
	if err != nil {
		return nil, err
	}
	e.notifier.Register(admission)
	e.notifier.Register(eviction)
	e.notifier.Register(placement)

	e.trigger, err = policy.NewTriggerPolicy(cfg.Policy.Trigger, provider, deps)
	if err != nil {
		return nil, err
	}

	qcfg := e.queueConfig
	if qcfg == nil {
		qcfg, err = writeback.ConfigFrom(cfg)
		if err != nil {
			return nil, err
		}
	}
	e.queue = writeback.New(cold, qcfg,
		writeback.WithMetrics(e.metrics),
		writeback.WithLogger(e.component("write-back")))

	e.logger.WithFields(logrus.Fields{
		"topology":  e.topology.String(),
		"admission": admission.Name(),
		"eviction":  eviction.Name(),
		"placement": placement.Name(),
		"trigger":   e.trigger.Name(),
	}).Info("Engine created")
	return e, nil
}

func (e *Engine) component(name string) *logrus.Entry {
	return e.logger.WithField("component", name)
}

// Start recovers the disk tier, refills memory from the recovery hints it
// can serve, queues unpushed objects again and starts the write-back queue.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errors.ErrShutdown
	}
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	// every tier starts from what recovery registers
	for _, m := range e.tiers {
		e.notifier.Reset(m.Tier())
	}

	var rePush []*cache.File
	if e.disk != nil {
		report, err := e.disk.Recover(ctx)
		if err != nil {
			return fmt.Errorf("failed to recover disk tier: %w", err)
		}
		for _, f := range report.Files {
			e.notifier.Added(f, types.TierDisk)
		}
		rePush = report.RePush
	}

	if e.memory != nil {
		hints, err := e.memory.Recover(ctx)
		if err != nil {
			return fmt.Errorf("failed to recover memory tier: %w", err)
		}
		e.refill(ctx, hints)
		e.memory.DiscardHints(hints)
	}

	if err := e.queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start write-back queue: %w", err)
	}
	for _, f := range rePush {
		e.enqueue(ctx, f)
	}
	if err := e.metrics.Start(ctx); err != nil {
		e.logger.WithError(err).Warn("Failed to start metrics endpoint")
	}
	e.updateUsage()

	e.logger.WithField("re_push", len(rePush)).Info("Engine started")
	return nil
}

// refill copies hinted objects back into memory from the disk tier while
// they fit. Hints the disk tier cannot serve are dropped.
func (e *Engine) refill(ctx context.Context, hints []tier.RecoveryHint) {
	if e.disk == nil {
		return
	}
	seen := make(map[string]bool)
	for _, h := range hints {
		id := h.Bucket + "/" + h.Key
		if seen[id] {
			continue
		}
		seen[id] = true

		src, ok := e.disk.Lookup(h.Bucket, h.Key)
		if !ok || !src.State().Readable() || !src.IsFullFile() {
			continue
		}
		if src.Size() > e.memory.Capacity()-e.memory.Usage() {
			continue
		}
		if _, err := e.copyFile(ctx, src, e.memory, false); err != nil {
			e.logger.WithFields(logrus.Fields{
				"bucket": h.Bucket,
				"key":    h.Key,
			}).WithError(err).Warn("Failed to refill memory tier")
		}
	}
}

// Close stops the write-back queue and the metrics endpoint. Objects whose
// upload did not finish stay TOBEPUSHED on disk for the next start.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	err := e.queue.Shutdown(e.config.WriteBack.ShutdownTimeout)
	if merr := e.metrics.Stop(ctx); merr != nil && err == nil {
		err = merr
	}
	if c, ok := e.cold.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	e.logger.Info("Engine stopped")
	return err
}

// serving reports whether Start ran and Close did not.
func (e *Engine) serving() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.closed
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Topology returns the configured tier topology.
func (e *Engine) Topology() types.Location {
	return e.topology
}

// Notifier returns the policy notifier of the engine.
func (e *Engine) Notifier() *policy.Notifier {
	return e.notifier
}

// Metrics returns the metrics collector of the engine.
func (e *Engine) Metrics() *metrics.Collector {
	return e.metrics
}

func (e *Engine) manager(t types.StorageTier) tierManager {
	switch t {
	case types.TierMemory:
		if e.memory != nil {
			return e.memory
		}
	case types.TierDisk:
		if e.disk != nil {
			return e.disk
		}
	}
	return nil
}

// Capacity implements policy.UsageReporter.
func (e *Engine) Capacity(t types.StorageTier) int64 {
	if m := e.manager(t); m != nil {
		return m.Capacity()
	}
	return 0
}

// Usage implements policy.UsageReporter.
func (e *Engine) Usage(t types.StorageTier) int64 {
	if m := e.manager(t); m != nil {
		return m.Usage()
	}
	return 0
}

// Stats returns a snapshot per configured cache tier.
func (e *Engine) Stats() map[types.StorageTier]types.CacheStats {
	out := make(map[types.StorageTier]types.CacheStats, len(e.tiers))
	misses := e.misses.Load()
	for _, m := range e.tiers {
		s := m.Stats()
		s.Hits = e.hits[m.Tier()].Load()
		s.Misses = misses
		s.Evictions = e.evictions[m.Tier()].Load()
		if total := s.Hits + s.Misses; total > 0 {
			s.HitRate = float64(s.Hits) / float64(total)
		}
		out[m.Tier()] = s
	}
	return out
}

func (e *Engine) updateUsage() {
	for _, m := range e.tiers {
		e.metrics.SetTierUsage(m.Tier(), m.Usage())
	}
}

// enqueue hands a TOBEPUSHED file to the write-back queue. A file that
// cannot be queued stays TOBEPUSHED and is picked up by the next recovery.
func (e *Engine) enqueue(ctx context.Context, f *cache.File) {
	e.pushMu.Lock()
	e.pending[f] = struct{}{}
	e.pushMu.Unlock()

	job := writeback.NewJob(f, e.onPushed)
	if err := e.queue.Enqueue(ctx, job); err != nil {
		e.pushMu.Lock()
		delete(e.pending, f)
		e.pushMu.Unlock()
		e.logger.WithFields(logrus.Fields{
			"bucket": f.Bucket(),
			"key":    f.Key(),
			"tier":   f.Tier().String(),
		}).WithError(err).Warn("Failed to queue write-back")
	}
}

// evictAfterPush arranges for f to leave its tier once its queued upload
// completes, queueing one if none is pending. It reports false when the
// queue cannot take the work and the caller must push f itself.
func (e *Engine) evictAfterPush(f *cache.File) bool {
	if !e.serving() {
		return false
	}
	e.pushMu.Lock()
	defer e.pushMu.Unlock()
	if _, ok := e.pending[f]; !ok {
		if err := e.queue.TryEnqueue(writeback.NewJob(f, e.onPushed)); err != nil {
			return false
		}
		e.pending[f] = struct{}{}
	}
	e.evictAfter[f] = struct{}{}
	return true
}

func (e *Engine) onPushed(job *writeback.Job, status string, err error) {
	f := job.File
	e.pushMu.Lock()
	delete(e.pending, f)
	_, evict := e.evictAfter[f]
	delete(e.evictAfter, f)
	e.pushMu.Unlock()

	if status == writeback.StatusCompleted {
		e.notifier.Updated(f, f.Tier())
		if evict {
			e.finishEviction(f)
		}
		return
	}
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"job":    job.ID,
			"bucket": job.Bucket,
			"key":    job.Key,
			"status": status,
		}).WithError(err).Warn("Write-back did not complete")
	}
}

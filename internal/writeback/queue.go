// Package writeback pushes objects written to the cache tiers into cold
// storage in the background.
//
// Jobs are placed on a bounded queue. A dispatcher hands them to a fixed pool
// of workers that stream each object from its tier file into cold storage in
// chunks. A full queue blocks Enqueue so writers feel backpressure instead of
// growing memory without limit.
package writeback

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/internal/coldstore"
	"github.com/cut-dicl/smacc-sub001/internal/config"
	"github.com/cut-dicl/smacc-sub001/internal/metrics"
	"github.com/cut-dicl/smacc-sub001/pkg/errors"
	"github.com/cut-dicl/smacc-sub001/pkg/retry"
)

// Job statuses reported to callbacks and metrics.
const (
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusSuperseded = "superseded"
	StatusCanceled   = "canceled"
)

// Config represents write-back queue configuration
type Config struct {
	QueueSize       int
	Workers         int
	ChunkSize       int64
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
}

// NewDefaultConfig returns the default queue settings
func NewDefaultConfig() *Config {
	return &Config{
		QueueSize:       1024,
		Workers:         4,
		ChunkSize:       1 << 20,
		PollInterval:    100 * time.Millisecond,
		ShutdownTimeout: 30 * time.Second,
		MaxRetries:      3,
		RetryDelay:      time.Second,
	}
}

// ConfigFrom converts the write_back section of the configuration file.
func ConfigFrom(c *config.Configuration) (*Config, error) {
	chunk, err := c.ChunkSize()
	if err != nil {
		return nil, err
	}
	cfg := NewDefaultConfig()
	cfg.QueueSize = c.WriteBack.QueueSize
	cfg.Workers = c.WriteBack.Workers
	cfg.ChunkSize = chunk
	if c.WriteBack.PollInterval > 0 {
		cfg.PollInterval = c.WriteBack.PollInterval
	}
	if c.WriteBack.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = c.WriteBack.ShutdownTimeout
	}
	return cfg, nil
}

// Job pushes one tier file into cold storage.
type Job struct {
	ID     string
	File   *cache.File
	Bucket string
	Key    string
	// OnDone is called once with the final status of the job.
	OnDone func(job *Job, status string, err error)

	enqueued time.Time
}

// NewJob creates a job for f with a fresh identifier.
func NewJob(f *cache.File, onDone func(*Job, string, error)) *Job {
	return &Job{
		ID:     uuid.NewString(),
		File:   f,
		Bucket: f.Bucket(),
		Key:    f.Key(),
		OnDone: onDone,
	}
}

// Option configures a Queue.
type Option func(*Queue)

// WithMetrics records job outcomes and queue depth.
func WithMetrics(c *metrics.Collector) Option {
	return func(q *Queue) {
		q.metrics = c
	}
}

// WithLogger sets the logger of the queue.
func WithLogger(logger *logrus.Entry) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// Queue is the bounded asynchronous write-back queue.
type Queue struct {
	config  *Config
	cold    coldstore.Store
	retry   retry.Config
	jobs    chan *Job
	metrics *metrics.Collector
	logger  *logrus.Entry

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	stopCh  chan struct{}
	stopped chan struct{}
}

// New creates a queue pushing into cold. Start must be called before jobs
// are processed.
func New(cold coldstore.Store, cfg *Config, opts ...Option) *Queue {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	def := NewDefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	q := &Queue{
		config: cfg,
		cold:   cold,
		retry: retry.Config{
			MaxAttempts:  cfg.MaxRetries + 1,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     30 * cfg.RetryDelay,
			Multiplier:   2,
			Jitter:       true,
			Retryable:    retryable,
		},
		jobs:    make(chan *Job, cfg.QueueSize),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = logrus.WithField("component", "write-back")
	}
	return q
}

// Start launches the dispatcher and its worker pool.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.ErrShutdown
	}
	if q.started {
		return fmt.Errorf("write-back queue already started")
	}
	q.started = true

	ctx, q.cancel = context.WithCancel(ctx)
	go q.dispatch(ctx)

	q.logger.WithFields(logrus.Fields{
		"queue_size": q.config.QueueSize,
		"workers":    q.config.Workers,
		"chunk_size": q.config.ChunkSize,
	}).Info("Write-back queue started")
	return nil
}

// Enqueue adds a job, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if q.isClosed() {
		return errors.ErrShutdown
	}
	job.enqueued = time.Now()
	select {
	case q.jobs <- job:
		q.metrics.SetQueueDepth(len(q.jobs))
		return nil
	case <-q.stopCh:
		return errors.ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue adds a job without blocking.
func (q *Queue) TryEnqueue(job *Job) error {
	if q.isClosed() {
		return errors.ErrShutdown
	}
	job.enqueued = time.Now()
	select {
	case q.jobs <- job:
		q.metrics.SetQueueDepth(len(q.jobs))
		return nil
	default:
		return errors.NewError(errors.ErrCodeQueueFull, "write-back queue is full").
			WithComponent("write-back").WithOperation("enqueue")
	}
}

// Len returns the number of jobs waiting for a worker.
func (q *Queue) Len() int {
	return len(q.jobs)
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// dispatch hands queued jobs to the worker pool until the queue is shut
// down, then drains what is left.
func (q *Queue) dispatch(ctx context.Context) {
	defer close(q.stopped)

	workers := pool.New().WithMaxGoroutines(q.config.Workers)
	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	run := func(job *Job) {
		q.metrics.SetQueueDepth(len(q.jobs))
		workers.Go(func() { q.process(ctx, job) })
	}

	for {
		select {
		case job := <-q.jobs:
			run(job)
		case <-ticker.C:
			q.metrics.SetQueueDepth(len(q.jobs))
		case <-q.stopCh:
			for {
				select {
				case job := <-q.jobs:
					run(job)
				default:
					workers.Wait()
					return
				}
			}
		}
	}
}

// Shutdown stops accepting jobs and waits up to the configured timeout for
// queued and running jobs to finish. Jobs still running at the deadline are
// canceled.
func (q *Queue) Shutdown(timeout time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	q.mu.Unlock()
	close(q.stopCh)

	if timeout <= 0 {
		timeout = q.config.ShutdownTimeout
	}

	var err error
	if started {
		select {
		case <-q.stopped:
		case <-time.After(timeout):
			q.cancel()
			<-q.stopped
			err = errors.NewError(errors.ErrCodeShutdownInProgress,
				fmt.Sprintf("write-back did not finish within %s", timeout)).
				WithComponent("write-back").WithOperation("shutdown")
		}
		q.cancel()
	}

	// jobs that raced with shutdown stay TOBEPUSHED for the next recovery
	for {
		select {
		case job := <-q.jobs:
			q.finish(job, StatusCanceled, errors.ErrShutdown, 0)
		default:
			q.metrics.SetQueueDepth(0)
			q.logger.Info("Write-back queue stopped")
			return err
		}
	}
}

func (q *Queue) process(ctx context.Context, job *Job) {
	entry := q.logger.WithFields(logrus.Fields{
		"job":    job.ID,
		"bucket": job.Bucket,
		"key":    job.Key,
	})

	rc := q.retry
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		entry.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("Retrying write-back")
	}
	var n int64
	err := retry.New(rc).Do(ctx, func(ctx context.Context) error {
		var err error
		n, err = q.push(ctx, job)
		return err
	})

	switch {
	case err == nil:
		if merr := job.File.MarkComplete(); merr != nil {
			entry.WithError(merr).Warn("Failed to record completed write-back")
		}
		entry.WithFields(logrus.Fields{
			"bytes":   n,
			"latency": time.Since(job.enqueued),
		}).Debug("Write-back completed")
		q.finish(job, StatusCompleted, nil, n)
	case stderrors.Is(err, ErrSuperseded):
		entry.Debug("Write-back skipped for superseded object")
		q.finish(job, StatusSuperseded, nil, 0)
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		q.finish(job, StatusCanceled, err, 0)
	default:
		entry.WithError(err).Error("Write-back failed")
		q.metrics.RecordError("write_back", err)
		q.finish(job, StatusFailed, err, 0)
	}
}

// ErrSuperseded reports that the object was replaced or deleted before its
// upload was published.
var ErrSuperseded = stderrors.New("object superseded before write-back")

func retryable(err error) bool {
	return !stderrors.Is(err, ErrSuperseded) && retry.DefaultRetryable(err)
}

// push streams the file into cold storage chunk by chunk. The upload is only
// published if the file is still current when the copy ends.
func (q *Queue) push(ctx context.Context, job *Job) (int64, error) {
	f := job.File
	if f.State() == cache.StateObsolete {
		return 0, ErrSuperseded
	}

	rc, err := f.Read()
	if err != nil {
		if f.State() == cache.StateObsolete {
			return 0, ErrSuperseded
		}
		return 0, fmt.Errorf("failed to open cached object: %w", err)
	}
	defer rc.Close()

	w, err := q.cold.Create(ctx, job.Bucket, job.Key, f.ActualSize())
	if err != nil {
		return 0, fmt.Errorf("failed to create cold object: %w", err)
	}
	defer w.Close()

	buf := make([]byte, q.config.ChunkSize)
	var copied int64
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, rerr := rc.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return copied, fmt.Errorf("failed to write cold object: %w", werr)
			}
			copied += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return copied, fmt.Errorf("failed to read cached object: %w", rerr)
		}
	}

	if f.State() == cache.StateObsolete {
		return copied, ErrSuperseded
	}
	if err := w.Complete(); err != nil {
		return copied, fmt.Errorf("failed to complete cold object: %w", err)
	}
	return copied, nil
}

// Push uploads f right away on the caller's goroutine and marks it
// COMPLETE. Eviction uses it for files that must leave a tier before their
// queued upload has run.
func (q *Queue) Push(ctx context.Context, f *cache.File) (int64, error) {
	if f.State() == cache.StateComplete {
		return 0, nil
	}
	job := NewJob(f, nil)
	job.enqueued = time.Now()
	n, err := q.push(ctx, job)
	if err != nil {
		status := StatusFailed
		if stderrors.Is(err, ErrSuperseded) {
			status = StatusSuperseded
		}
		q.metrics.RecordWriteBack(status, 0)
		return 0, err
	}
	if err := f.MarkComplete(); err != nil {
		return n, fmt.Errorf("failed to record completed write-back: %w", err)
	}
	q.metrics.RecordWriteBack(StatusCompleted, n)
	return n, nil
}

func (q *Queue) finish(job *Job, status string, err error, n int64) {
	q.metrics.RecordWriteBack(status, n)
	if job.OnDone != nil {
		job.OnDone(job, status, err)
	}
}

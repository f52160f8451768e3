package engine

import (
	"context"
	"time"

	"github.com/cut-dicl/smacc-sub001/internal/coldstore"
	"github.com/cut-dicl/smacc-sub001/internal/tier"
	"github.com/cut-dicl/smacc-sub001/pkg/errors"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// ObjectWriter streams a new object into the tiers chosen by admission, or
// straight into cold storage when no cache tier admitted it. The object
// becomes visible when Close succeeds.
type ObjectWriter struct {
	e        *Engine
	ctx      context.Context
	bucket   string
	key      string
	length   int64
	location types.Location
	modified time.Time
	begin    time.Time

	sinks   []*sink
	push    *sink
	cold    coldstore.ObjectWriter
	written int64
	err     error
	closed  bool
}

// Create starts writing bucket/key. length is the declared object size, or
// -1 when unknown. A current version of the object in any tier is replaced.
func (e *Engine) Create(ctx context.Context, bucket, key string, length int64) (*ObjectWriter, error) {
	if e.isClosed() {
		return nil, errors.ErrShutdown
	}
	now := e.clock()
	info := types.ObjectInfo{Bucket: bucket, Key: key, Size: length, LastModified: now}
	loc := e.notifier.WriteAdmissionLocation(info, e.topology).Intersect(e.topology)

	w := &ObjectWriter{
		e:        e,
		ctx:      ctx,
		bucket:   bucket,
		key:      key,
		length:   length,
		location: loc,
		modified: now,
		begin:    time.Now(),
	}

	// the lowest admitted cache tier carries the write-back
	pushTier := types.TierColdStorage
	switch {
	case loc.HasDisk():
		pushTier = types.TierDisk
	case loc.HasMemory():
		pushTier = types.TierMemory
	}

	for _, m := range e.tiers {
		if !loc.Has(m.Tier()) {
			e.dropStale(m, bucket, key)
			continue
		}
		opts := []tier.CreateOption{tier.LastModified(now)}
		if m.Tier() == pushTier {
			opts = append(opts, tier.WriteBack())
		}
		s, err := e.newSink(m, bucket, key, length, opts...)
		if err != nil {
			w.abort()
			return nil, err
		}
		w.sinks = append(w.sinks, s)
		if m.Tier() == pushTier {
			w.push = s
		}
	}

	if pushTier == types.TierColdStorage {
		cw, err := e.cold.Create(ctx, bucket, key, length)
		if err != nil {
			w.abort()
			return nil, err
		}
		w.cold = cw
	}
	return w, nil
}

// dropStale removes an older version of the object from a tier that did not
// admit the new one, so reads never fall through to stale bytes.
func (e *Engine) dropStale(m tierManager, bucket, key string) {
	f, ok := m.Lookup(bucket, key)
	if !ok {
		return
	}
	if m.Remove(f) {
		e.notifier.Deleted(f, m.Tier())
	}
}

// Location returns the tiers the object was admitted to.
func (w *ObjectWriter) Location() types.Location {
	return w.location
}

// Written returns the number of bytes accepted so far.
func (w *ObjectWriter) Written() int64 {
	return w.written
}

// Write copies p into every admitted tier.
func (w *ObjectWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.NewError(errors.ErrCodeInvalidState, "write on closed object").
			WithComponent("engine").WithOperation("write")
	}
	if w.err != nil {
		return 0, w.err
	}
	if w.length >= 0 && w.written+int64(len(p)) > w.length {
		w.err = errors.Newf(errors.ErrCodeInvalidState, "write exceeds declared length %d", w.length).
			WithComponent("engine").WithOperation("write")
		return 0, w.err
	}
	for _, s := range w.sinks {
		if err := s.write(p); err != nil {
			w.err = err
			return 0, err
		}
	}
	if w.cold != nil {
		if _, err := w.cold.Write(p); err != nil {
			w.err = err
			return 0, err
		}
	}
	w.written += int64(len(p))
	return len(p), nil
}

// Close publishes the object. A writer that failed, or that was closed short
// of its declared length, is discarded and Close reports why.
func (w *ObjectWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	e := w.e

	if w.err == nil && w.length >= 0 && w.written != w.length {
		w.err = errors.Newf(errors.ErrCodeWriteAborted, "object closed after %d of %d bytes", w.written, w.length).
			WithComponent("engine").WithOperation("close").
			WithContext("bucket", w.bucket).WithContext("key", w.key)
	}
	if w.err != nil {
		w.abort()
		e.record("create", w.begin, w.written, w.err)
		return w.err
	}

	for _, s := range w.sinks {
		if err := s.commit(); err != nil {
			w.abort()
			e.record("create", w.begin, w.written, err)
			return err
		}
	}
	if w.cold != nil {
		if err := w.cold.Complete(); err != nil {
			_ = w.cold.Close()
			w.abort()
			e.record("create", w.begin, w.written, err)
			return err
		}
		if err := w.cold.Close(); err != nil {
			e.logger.WithError(err).Warn("Failed to close cold storage writer")
		}
	}

	info := types.ObjectInfo{Bucket: w.bucket, Key: w.key, Size: w.written, LastModified: w.modified}
	for _, t := range types.CacheTiers {
		if w.e.topology.Has(t) && !w.location.Has(t) {
			e.notifier.NotAdded(info, t)
		}
	}
	for _, s := range w.sinks {
		e.notifier.Added(s.file, s.tier())
	}
	if w.push != nil {
		e.enqueue(w.ctx, w.push.file)
	}
	e.record("create", w.begin, w.written, nil)

	for _, s := range w.sinks {
		e.EvictIfNeeded(w.ctx, s.tier())
	}
	return nil
}

func (w *ObjectWriter) abort() {
	for _, s := range w.sinks {
		w.e.abortSink(s)
	}
	if w.cold != nil {
		_ = w.cold.Close()
	}
}

func (e *Engine) record(op string, begin time.Time, size int64, err error) {
	e.metrics.RecordOperation(op, time.Since(begin), size, err == nil)
	if err != nil {
		e.metrics.RecordError(op, err)
	}
}

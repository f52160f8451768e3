package engine

import (
	"context"
	stderrors "errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/internal/tier"
	"github.com/cut-dicl/smacc-sub001/pkg/errors"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// Read opens the whole object.
func (e *Engine) Read(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return e.ReadRange(ctx, bucket, key, 0, -1)
}

// ReadRange opens [start, stop] of the object, trying memory, then disk, then
// cold storage. A stop of -1 reads to the end. A read served by cold storage
// fills the tiers chosen by read admission on the way: a whole-object read
// caches a full copy, a ranged read caches or extends a partial one.
func (e *Engine) ReadRange(ctx context.Context, bucket, key string, start, stop int64) (io.ReadCloser, error) {
	if e.isClosed() {
		return nil, errors.ErrShutdown
	}
	begin := time.Now()

	for _, m := range e.tiers {
		rc, f, err := m.ReadRange(bucket, key, start, stop)
		if err == nil {
			e.hits[m.Tier()].Add(1)
			e.notifier.Accessed(f, m.Tier())
			e.record("read", begin, 0, nil)
			return rc, nil
		}
		// a complete cached copy is authoritative for range checks
		if f != nil && f.IsFullFile() && errors.IsCode(err, errors.ErrCodeRangeNotSatisfiable) {
			e.record("read", begin, 0, err)
			return nil, err
		}
	}
	e.misses.Add(1)

	var (
		rc  io.ReadCloser
		err error
	)
	switch {
	case len(e.tiers) == 0:
		rc, err = e.cold.Read(ctx, bucket, key, start, stop)
	case start == 0 && stop < 0:
		rc, err = e.readThrough(ctx, bucket, key)
	default:
		rc, err = e.rangedFill(ctx, bucket, key, start, stop)
	}
	e.record("read", begin, 0, err)
	return rc, err
}

// readThrough streams the object from cold storage and copies it into the
// tiers admitted for it.
func (e *Engine) readThrough(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	info, err := e.cold.Stat(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	rc, err := e.cold.Read(ctx, bucket, key, 0, -1)
	if err != nil {
		return nil, err
	}

	// a version registered in any tier is newer than or equal to the cold
	// copy, including one still being written. Only a sealed partial copy
	// gives way to the full one.
	current := make(map[types.StorageTier]*cache.File, len(e.tiers))
	for _, m := range e.tiers {
		if f, ok := m.Lookup(bucket, key); ok {
			if !f.IsPartialFile() || f.State() != cache.StateComplete {
				return rc, nil
			}
			current[m.Tier()] = f
		}
	}

	loc := e.notifier.ReadAdmissionLocation(info, e.topology).Intersect(e.topology)
	fr := &fillReader{e: e, ctx: ctx, src: rc, info: info, want: info.Size}
	for _, m := range e.tiers {
		if !loc.Has(m.Tier()) {
			e.notifier.NotAdded(info, m.Tier())
			continue
		}
		s, err := e.newSink(m, bucket, key, info.Size, tier.LastModified(info.LastModified), tier.IfCurrent(current[m.Tier()]))
		if stderrors.Is(err, errors.ErrExists) {
			// a writer got in first
			fr.discard()
			return rc, nil
		}
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"bucket": bucket,
				"key":    key,
				"tier":   m.Tier().String(),
			}).WithError(err).Warn("Failed to start cache fill")
			continue
		}
		fr.sinks = append(fr.sinks, s)
	}
	if len(fr.sinks) == 0 {
		return rc, nil
	}
	return fr, nil
}

// rangedFill streams [start, stop] from cold storage and caches it as a
// partial copy in the admitted tiers. A tier already holding a sealed
// partial copy gets a new block, unless the range overlaps one it has.
func (e *Engine) rangedFill(ctx context.Context, bucket, key string, start, stop int64) (io.ReadCloser, error) {
	rc, err := e.cold.Read(ctx, bucket, key, start, stop)
	if err != nil {
		return nil, err
	}
	info, err := e.cold.Stat(ctx, bucket, key)
	if err != nil || start < 0 || start >= info.Size {
		return rc, nil
	}
	if stop < 0 || stop >= info.Size {
		stop = info.Size - 1
	}
	r := cache.Range{Start: start, Stop: stop}

	loc := e.notifier.ReadAdmissionLocation(info, e.topology).Intersect(e.topology)
	fr := &fillReader{e: e, ctx: ctx, src: rc, info: info, want: r.Length()}
	for _, m := range e.tiers {
		if !loc.Has(m.Tier()) {
			e.notifier.NotAdded(info, m.Tier())
			continue
		}
		var (
			s   *sink
			err error
		)
		if f, ok := m.Lookup(bucket, key); ok {
			if !f.Partial() || f.State() != cache.StateComplete || f.ActualSize() != info.Size {
				continue
			}
			s, err = e.extendSink(m, f, r)
		} else {
			s, err = e.newRangeSink(m, bucket, key, info.Size, r,
				tier.Partial(), tier.LastModified(info.LastModified), tier.IfAbsent())
		}
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"bucket": bucket,
				"key":    key,
				"tier":   m.Tier().String(),
				"range":  r.String(),
			}).WithError(err).Debug("Skipped partial cache fill")
			continue
		}
		fr.sinks = append(fr.sinks, s)
	}
	if len(fr.sinks) == 0 {
		return rc, nil
	}
	return fr, nil
}

// fillReader tees a cold storage stream into cache tier sinks. A sink that
// fails is dropped without failing the read. The sinks are published only
// when all wanted bytes were read.
type fillReader struct {
	e     *Engine
	ctx   context.Context
	src   io.ReadCloser
	info  types.ObjectInfo
	want  int64
	sinks []*sink

	once sync.Once
	read int64
}

func (r *fillReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.read += int64(n)
		live := r.sinks[:0]
		for _, s := range r.sinks {
			if werr := s.write(p[:n]); werr != nil {
				r.e.abortSink(s)
				continue
			}
			live = append(live, s)
		}
		r.sinks = live
	}
	if err == io.EOF {
		r.once.Do(r.publish)
	}
	return n, err
}

func (r *fillReader) Close() error {
	r.once.Do(r.discard)
	return r.src.Close()
}

func (r *fillReader) publish() {
	if r.read != r.want {
		r.discard()
		return
	}
	var tiers []types.StorageTier
	for _, s := range r.sinks {
		if err := s.commit(); err != nil {
			r.e.abortSink(s)
			continue
		}
		if s.extend {
			r.e.notifier.Updated(s.file, s.tier())
		} else {
			r.e.notifier.Added(s.file, s.tier())
		}
		tiers = append(tiers, s.tier())
	}
	r.sinks = nil
	for _, t := range tiers {
		r.e.EvictIfNeeded(r.ctx, t)
	}
}

func (r *fillReader) discard() {
	for _, s := range r.sinks {
		r.e.abortSink(s)
	}
	r.sinks = nil
}

// Delete removes the object from every tier and from cold storage. It
// reports whether the object existed anywhere.
func (e *Engine) Delete(ctx context.Context, bucket, key string) (bool, error) {
	if e.isClosed() {
		return false, errors.ErrShutdown
	}
	begin := time.Now()

	found := false
	for _, m := range e.tiers {
		f, err := m.Delete(bucket, key)
		if f != nil {
			found = true
			e.notifier.Deleted(f, m.Tier())
		}
		if err != nil && !stderrors.Is(err, errors.ErrNotFound) {
			e.logger.WithFields(logrus.Fields{
				"bucket": bucket,
				"key":    key,
				"tier":   m.Tier().String(),
			}).WithError(err).Warn("Failed to delete cached object")
		}
	}

	if !found {
		if _, err := e.cold.Stat(ctx, bucket, key); err == nil {
			found = true
		} else if !stderrors.Is(err, errors.ErrNotFound) {
			e.record("delete", begin, 0, err)
			return false, err
		}
	}
	if err := e.cold.Delete(ctx, bucket, key); err != nil {
		e.record("delete", begin, 0, err)
		return found, err
	}
	e.updateUsage()
	e.record("delete", begin, 0, nil)
	return found, nil
}

// List returns the objects of bucket whose key starts with prefix, merging
// cold storage with the cache tiers. Cached entries win over cold storage
// and faster tiers win over slower ones.
func (e *Engine) List(ctx context.Context, bucket, prefix string) ([]types.ObjectInfo, error) {
	if e.isClosed() {
		return nil, errors.ErrShutdown
	}
	cold, err := e.cold.List(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]types.ObjectInfo, len(cold))
	for _, info := range cold {
		merged[info.Key] = info
	}
	for i := len(e.tiers) - 1; i >= 0; i-- {
		for _, info := range e.tiers[i].List(bucket, prefix) {
			merged[info.Key] = info
		}
	}

	out := make([]types.ObjectInfo, 0, len(merged))
	for _, info := range merged {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

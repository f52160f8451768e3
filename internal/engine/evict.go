package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/internal/tier"
	"github.com/cut-dicl/smacc-sub001/internal/writeback"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// ItemToEvict returns the next eviction candidate of a tier, or nil.
func (e *Engine) ItemToEvict(t types.StorageTier) *cache.File {
	return e.notifier.ItemToEvict(t)
}

// TriggerEviction reports whether a tier must evict. A tier over its
// capacity always evicts; otherwise the trigger policy decides on the bytes
// the tier holds beyond what the next tier already holds.
func (e *Engine) TriggerEviction(t types.StorageTier) bool {
	m := e.manager(t)
	if m == nil {
		return false
	}
	usage := m.Usage()
	if usage > m.Capacity() {
		return true
	}
	return e.trigger.TriggerEviction(usage, e.overlap(t), t)
}

// overlap returns the bytes of the memory tier that the disk tier also
// holds. Cold storage holds every object eventually, so the disk tier never
// discounts anything.
func (e *Engine) overlap(t types.StorageTier) int64 {
	if t != types.TierMemory || e.disk == nil || e.memory == nil {
		return 0
	}
	var n int64
	for _, f := range e.memory.Files() {
		if df, ok := e.disk.Lookup(f.Bucket(), f.Key()); ok && df.State().Readable() {
			n += f.Size()
		}
	}
	return n
}

// EvictIfNeeded evicts from a tier until the trigger is satisfied or no
// candidate is left, and returns how many objects left the tier. Evicting
// memory into disk may push the disk tier over its trigger in turn.
func (e *Engine) EvictIfNeeded(ctx context.Context, t types.StorageTier) int {
	m := e.manager(t)
	if m == nil {
		return 0
	}

	evicted := e.evictTier(ctx, m)
	if t == types.TierMemory && evicted > 0 && e.disk != nil {
		e.evictTier(ctx, e.disk)
	}
	e.updateUsage()
	return evicted
}

func (e *Engine) evictTier(ctx context.Context, m tierManager) int {
	t := m.Tier()
	mu := &e.evictMu[t]
	mu.Lock()
	defer mu.Unlock()

	evicted := 0
	for limit := m.Len() + 1; limit > 0; limit-- {
		if ctx.Err() != nil || !e.TriggerEviction(t) {
			break
		}
		f := e.notifier.ItemToEvict(t)
		if f == nil {
			break
		}
		if !e.evict(ctx, m, f) {
			break
		}
		evicted++
	}
	return evicted
}

// evict moves one candidate out of its tier. It reports false when the
// candidate had to stay.
func (e *Engine) evict(ctx context.Context, m tierManager, f *cache.File) bool {
	t := m.Tier()
	if cur, ok := m.Lookup(f.Bucket(), f.Key()); !ok || cur != f {
		// stale candidate, the policies missed a replacement
		e.notifier.Deleted(f, t)
		return true
	}

	action := "delete"
	// objects not yet in cold storage are always downgraded
	if f.State() == cache.StateToBePushed || e.notifier.DowngradeOnEviction(f, t) {
		action = "downgrade"
		if !e.Downgrade(ctx, f) {
			return false
		}
	} else if m.Remove(f) {
		e.notifier.Deleted(f, t)
	}

	e.evictions[t].Add(1)
	e.metrics.RecordEviction(t, action)
	e.logger.WithFields(logrus.Fields{
		"bucket": f.Bucket(),
		"key":    f.Key(),
		"tier":   t.String(),
		"action": action,
	}).Debug("Object evicted")
	return true
}

// Downgrade moves f to the next lower tier and removes it from its own. A
// memory object is copied to disk when the disk tier exists and lacks it;
// otherwise the object is pushed to cold storage unless it already is
// there. Downgrade reports false when f could not leave its tier.
func (e *Engine) Downgrade(ctx context.Context, f *cache.File) bool {
	t := f.Tier()
	m := e.manager(t)
	if m == nil {
		return false
	}
	entry := e.logger.WithFields(logrus.Fields{
		"bucket": f.Bucket(),
		"key":    f.Key(),
		"tier":   t.String(),
	})

	moved := false
	if t == types.TierMemory && e.disk != nil {
		if _, ok := e.disk.Lookup(f.Bucket(), f.Key()); ok {
			moved = true
		} else if f.IsFullFile() {
			_, err := e.copyFile(ctx, f, e.disk, f.State() == cache.StateToBePushed)
			if err == nil {
				moved = true
			} else {
				entry.WithError(err).Warn("Failed to copy object to disk, pushing to cold storage")
			}
		}
	}

	if !moved && f.State() == cache.StateToBePushed {
		if e.evictAfterPush(f) {
			entry.Debug("Eviction waits for write-back")
			return false
		}
		if _, err := e.queue.Push(ctx, f); err != nil && !stderrors.Is(err, writeback.ErrSuperseded) {
			entry.WithError(err).Warn("Failed to push object before eviction")
			return false
		}
	}

	if m.Remove(f) {
		e.notifier.Deleted(f, t)
	}
	return true
}

// finishEviction removes f once its deferred upload completed and lets the
// tier evict further.
func (e *Engine) finishEviction(f *cache.File) {
	t := f.Tier()
	m := e.manager(t)
	if m == nil || !m.Remove(f) {
		return
	}
	e.notifier.Deleted(f, t)
	e.evictions[t].Add(1)
	e.metrics.RecordEviction(t, "downgrade")
	if e.serving() {
		e.EvictIfNeeded(context.Background(), t)
	}
}

// copyFile writes a full copy of src into dst and reports it to the
// policies. A copy made for write-back is queued.
func (e *Engine) copyFile(ctx context.Context, src *cache.File, dst tierManager, writeBack bool) (*cache.File, error) {
	opts := []tier.CreateOption{tier.LastModified(src.LastModified())}
	if writeBack {
		opts = append(opts, tier.WriteBack())
	}

	rc, err := src.Read()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	s, err := e.newSink(dst, src.Bucket(), src.Key(), src.ActualSize(), opts...)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 32*1024)
	var copied int64
	for {
		if err := ctx.Err(); err != nil {
			e.abortSink(s)
			return nil, err
		}
		n, rerr := rc.Read(buf)
		if n > 0 {
			if err := s.write(buf[:n]); err != nil {
				e.abortSink(s)
				return nil, err
			}
			copied += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			e.abortSink(s)
			return nil, rerr
		}
	}
	if copied != src.ActualSize() {
		e.abortSink(s)
		return nil, fmt.Errorf("copied %d of %d bytes", copied, src.ActualSize())
	}
	if err := s.commit(); err != nil {
		e.abortSink(s)
		return nil, err
	}

	e.notifier.Added(s.file, dst.Tier())
	if writeBack {
		e.enqueue(ctx, s.file)
	}
	return s.file, nil
}

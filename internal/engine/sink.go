package engine

import (
	"github.com/sirupsen/logrus"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/internal/tier"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// sink receives the bytes of one object for one cache tier. An extending
// sink adds one block to a sealed partial file instead of creating a file.
type sink struct {
	mgr    tierManager
	file   *cache.File
	block  *cache.Block
	extend bool
}

// newSink registers a new version of the object in m and opens its single
// block. A replaced version is reported to the policies.
func (e *Engine) newSink(m tierManager, bucket, key string, length int64, opts ...tier.CreateOption) (*sink, error) {
	r := cache.Range{Start: 0, Stop: cache.Unknown}
	if length > 0 {
		r.Stop = length - 1
	}
	return e.newRangeSink(m, bucket, key, length, r, opts...)
}

// newRangeSink is newSink with the first block limited to r.
func (e *Engine) newRangeSink(m tierManager, bucket, key string, length int64, r cache.Range, opts ...tier.CreateOption) (*sink, error) {
	f, replaced, err := m.Create(bucket, key, length, opts...)
	if err != nil {
		return nil, err
	}
	if replaced != nil {
		e.notifier.Deleted(replaced, m.Tier())
	}

	s := &sink{mgr: m, file: f}
	if length == 0 {
		return s, nil
	}
	s.block, err = f.CreateBlock(r)
	if err != nil {
		m.Remove(f)
		return nil, err
	}
	return s, nil
}

// extendSink opens a block for r in the sealed partial file f.
func (e *Engine) extendSink(m tierManager, f *cache.File, r cache.Range) (*sink, error) {
	b, err := f.CreateBlock(r)
	if err != nil {
		return nil, err
	}
	return &sink{mgr: m, file: f, block: b, extend: true}, nil
}

func (s *sink) tier() types.StorageTier {
	return s.mgr.Tier()
}

func (s *sink) write(p []byte) error {
	if s.block == nil {
		return nil
	}
	_, err := s.block.Write(p)
	return err
}

// commit closes the block and seals the file.
func (s *sink) commit() error {
	if s.block != nil {
		if err := s.block.Close(); err != nil {
			s.block = nil
			return err
		}
		s.block = nil
	}
	if s.extend {
		return nil
	}
	return s.file.Complete()
}

// abort discards whatever the sink wrote.
func (e *Engine) abortSink(s *sink) {
	if s.extend {
		// only the new block goes, the file keeps its other ranges
		if s.block != nil && !s.block.Closed() {
			_ = s.block.MarkObsolete()
			_ = s.block.Close()
		}
		s.block = nil
		return
	}
	if s.block != nil && !s.block.Closed() {
		_ = s.block.Close()
	}
	s.block = nil
	if !s.mgr.Remove(s.file) {
		// superseded by a newer version, which already retired this one
		return
	}
	e.logger.WithFields(logrus.Fields{
		"bucket":  s.file.Bucket(),
		"key":     s.file.Key(),
		"tier":    s.tier().String(),
		"version": s.file.Version(),
	}).Debug("Discarded unfinished object")
}

package cache

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/cut-dicl/smacc-sub001/pkg/errors"
)

// Block holds the bytes of one range of one file in one volume. A block is
// owned by the File that created it; file is a non-owning back-reference.
//
// Lock order is block before file: a block may call into its file while
// holding mu, a file never takes a block lock while holding its own.
type Block struct {
	mu   sync.Mutex
	file *File

	// desc is written with both mu and file.mu held
	desc Descriptor

	state  atomic.Int32
	closed atomic.Bool

	target    State
	written   int64
	discarded bool
	writer    io.WriteCloser
}

// Range returns the registered range of the block.
func (b *Block) Range() Range {
	b.file.mu.RLock()
	defer b.file.mu.RUnlock()
	return b.desc.Range
}

// Descriptor returns the persisted descriptor of the block.
func (b *Block) Descriptor() Descriptor {
	b.file.mu.RLock()
	defer b.file.mu.RUnlock()
	return b.desc
}

// State returns the current block state.
func (b *Block) State() State {
	return State(b.state.Load())
}

// Closed reports whether the writer side has been closed.
func (b *Block) Closed() bool {
	return b.closed.Load()
}

// Written returns the number of bytes written so far.
func (b *Block) Written() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// Write appends bytes to the block.
func (b *Block) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return 0, errors.NewError(errors.ErrCodeInvalidState, "write on closed block").
			WithComponent("cache").WithOperation("write")
	}
	if b.State() == StateObsolete {
		return 0, errors.NewError(errors.ErrCodeWriteAborted, "object was superseded while writing").
			WithComponent("cache").WithOperation("write")
	}
	if l := b.desc.Range.Length(); l >= 0 && b.written+int64(len(p)) > l {
		return 0, errors.Newf(errors.ErrCodeInvalidState, "write of %d bytes exceeds block range %s", len(p), b.desc.Range).
			WithComponent("cache").WithOperation("write")
	}

	n, err := b.writer.Write(p)
	b.written += int64(n)
	b.file.vol.charge(int64(n))
	if err != nil {
		return n, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to write block").
			WithComponent("cache").WithOperation("write")
	}
	return n, nil
}

// Close seals the writer side. A block marked obsolete while writing is
// discarded and Close reports a write-aborted error. A block closed short of
// its declared range is narrowed to the bytes actually written. A block with
// no bytes is dropped.
func (b *Block) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return errors.NewError(errors.ErrCodeInvalidState, "block already closed").
			WithComponent("cache").WithOperation("close")
	}
	b.closed.Store(true)

	var werr error
	if b.writer != nil {
		werr = b.writer.Close()
		b.writer = nil
	}

	if b.State() == StateObsolete {
		b.discardLocked()
		b.file.dropBlock(b)
		return errors.NewError(errors.ErrCodeWriteAborted, "object was superseded while writing").
			WithComponent("cache").WithOperation("close").
			WithContext("block", b.desc.MainName())
	}
	if werr != nil {
		b.discardLocked()
		b.file.dropBlock(b)
		return errors.Wrap(werr, errors.ErrCodeStorageWrite, "failed to close block").
			WithComponent("cache").WithOperation("close")
	}
	if b.written == 0 {
		b.discardLocked()
		b.file.dropBlock(b)
		return nil
	}

	if l := b.desc.Range.Length(); l < 0 || b.written < l {
		narrowed := Range{Start: b.desc.Range.Start, Stop: b.desc.Range.Start + b.written - 1}
		if err := b.narrowLocked(narrowed); err != nil {
			b.discardLocked()
			b.file.dropBlock(b)
			return err
		}
	}

	return b.transitionLocked(b.target)
}

// MarkPushed hands the block to write-back. An open block lands in
// TOBEPUSHED when it is closed.
func (b *Block) MarkPushed() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed.Load() {
		b.target = StateToBePushed
		return nil
	}
	return b.transitionLocked(StateToBePushed)
}

// MarkComplete records that the block is durable and needs no further push.
func (b *Block) MarkComplete() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed.Load() {
		b.target = StateComplete
		return nil
	}
	return b.transitionLocked(StateComplete)
}

// MarkObsolete retires the block. An open block keeps its bytes until its
// writer closes, but the OBSOLETE marker is persisted right away so recovery
// never revives it.
func (b *Block) MarkObsolete() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed.Load() {
		return b.retireOpenLocked()
	}
	if b.State() == StateObsolete {
		return nil
	}
	return b.transitionLocked(StateObsolete)
}

// Delete physically removes the block's data and state markers. Removal of
// an open block is left to its writer's Close.
func (b *Block) Delete() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed.Load() {
		return b.retireOpenLocked()
	}
	b.state.Store(int32(StateObsolete))
	return b.discardLocked()
}

// retireOpenLocked persists OBSOLETE for a block that is still being
// written. The in-memory state flips even when the marker cannot be written,
// so the writer still aborts.
func (b *Block) retireOpenLocked() error {
	if b.State() == StateObsolete {
		return nil
	}
	err := b.transitionLocked(StateObsolete)
	b.state.Store(int32(StateObsolete))
	return err
}

// open returns a reader positioned at offset inside the block's blob.
func (b *Block) open(name string, offset, length int64) (io.ReadCloser, error) {
	r, err := b.file.vol.Data.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to open block").
			WithComponent("cache").WithOperation("read")
	}
	if offset > 0 {
		if _, err := r.Seek(offset, io.SeekStart); err != nil {
			r.Close()
			return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to seek block").
				WithComponent("cache").WithOperation("read")
		}
	}
	return &limitedReadCloser{Reader: io.LimitReader(r, length), Closer: r}, nil
}

func (b *Block) transitionLocked(next State) error {
	cur := b.State()
	if cur == next {
		return nil
	}
	if !cur.CanTransition(next) {
		return errors.Newf(errors.ErrCodeInvalidState, "illegal block transition %s -> %s", cur, next).
			WithComponent("cache").WithContext("block", b.desc.MainName())
	}

	vol := b.file.vol
	if err := vol.State.Touch(b.desc.StateName(next)); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to persist block state").
			WithComponent("cache").WithContext("block", b.desc.MainName())
	}
	b.state.Store(int32(next))
	if err := vol.State.Remove(b.desc.StateName(cur)); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to retire block state").
			WithComponent("cache").WithContext("block", b.desc.MainName())
	}
	return nil
}

func (b *Block) narrowLocked(r Range) error {
	vol := b.file.vol
	next := b.desc.WithRange(r)
	cur := b.State()

	if err := vol.State.Touch(next.StateName(cur)); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to persist narrowed block state").
			WithComponent("cache").WithOperation("close")
	}
	if err := vol.Data.Rename(b.desc.MainName(), next.MainName()); err != nil {
		_ = vol.State.Remove(next.StateName(cur))
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to rename narrowed block").
			WithComponent("cache").WithOperation("close")
	}
	_ = vol.State.Remove(b.desc.StateName(cur))

	b.file.swapRange(b, next)
	return nil
}

func (b *Block) discardLocked() error {
	if b.discarded {
		return nil
	}
	b.discarded = true

	vol := b.file.vol
	var firstErr error
	if err := vol.Data.Remove(b.desc.MainName()); err != nil {
		firstErr = err
	}
	for _, s := range statePrefixes {
		if err := vol.State.Remove(b.desc.StateName(s)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	vol.release(b.written)
	if firstErr != nil {
		return errors.Wrap(firstErr, errors.ErrCodeStorageWrite, "failed to delete block").
			WithComponent("cache").WithContext("block", b.desc.MainName())
	}
	return nil
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}

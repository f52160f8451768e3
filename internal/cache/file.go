package cache

import (
	stderrors "errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/cut-dicl/smacc-sub001/pkg/errors"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// File is the per-object aggregate of one tier: an ordered set of
// non-overlapping blocks plus object level state and access bookkeeping.
type File struct {
	mu sync.RWMutex

	vol     *Volume
	tier    types.StorageTier
	bucket  string
	key     string
	version int64
	partial bool

	state        State
	actualSize   int64
	lastModified time.Time
	blocks       []*Block

	readers       int
	deletePending bool
	deleted       bool

	accessCount  int64
	lastAccessed time.Time
	created      time.Time

	writeBack bool
	now       func() time.Time
}

// FileOption configures a File.
type FileOption func(*File)

// WithWriteBack makes blocks of the file land in TOBEPUSHED when closed.
func WithWriteBack() FileOption {
	return func(f *File) {
		f.writeBack = true
	}
}

// WithClock overrides the time source used for access bookkeeping.
func WithClock(now func() time.Time) FileOption {
	return func(f *File) {
		f.now = now
	}
}

// WithLastModified sets the object modification time.
func WithLastModified(t time.Time) FileOption {
	return func(f *File) {
		f.lastModified = t
	}
}

// NewFile creates an empty INCOMPLETE file. size is the object length, or
// Unknown when the writer does not know it in advance.
func NewFile(vol *Volume, tier types.StorageTier, d Descriptor, size int64, opts ...FileOption) *File {
	f := &File{
		vol:        vol,
		tier:       tier,
		bucket:     d.Bucket,
		key:        d.Key,
		version:    d.Version,
		partial:    d.Partial,
		state:      StateIncomplete,
		actualSize: size,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.created = f.now()
	f.lastAccessed = f.created
	return f
}

func (f *File) Bucket() string          { return f.bucket }
func (f *File) Key() string             { return f.key }
func (f *File) Version() int64          { return f.version }
func (f *File) Tier() types.StorageTier { return f.tier }
func (f *File) Volume() *Volume         { return f.vol }
func (f *File) Partial() bool           { return f.partial }

func (f *File) descriptorLocked(r Range) Descriptor {
	return Descriptor{Version: f.version, Bucket: f.bucket, Key: f.key, Range: r, Partial: f.partial}
}

// SortKey orders files by bucket and key.
func (f *File) SortKey() string {
	return f.bucket + "/" + f.key
}

// State returns the object level state.
func (f *File) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// ActualSize returns the object length, or Unknown.
func (f *File) ActualSize() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.actualSize
}

// Size returns the number of bytes the file occupies in its tier.
func (f *File) Size() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.coveredLocked()
}

// LastModified returns the object modification time.
func (f *File) LastModified() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastModified
}

// AccessCount returns the number of reads served from the file.
func (f *File) AccessCount() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.accessCount
}

// LastAccessed returns the time of the most recent read, or creation.
func (f *File) LastAccessed() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastAccessed
}

// Readers returns the number of open readers.
func (f *File) Readers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.readers
}

// Ranges returns the registered block ranges in offset order.
func (f *File) Ranges() []Range {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Range, len(f.blocks))
	for i, b := range f.blocks {
		out[i] = b.desc.Range
	}
	return out
}

// Blocks returns the blocks in offset order.
func (f *File) Blocks() []*Block {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]*Block(nil), f.blocks...)
}

// Info returns the listing view of the file.
func (f *File) Info() types.ObjectInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	size := f.actualSize
	if size < 0 {
		size = f.coveredLocked()
	}
	return types.ObjectInfo{
		Bucket:       f.bucket,
		Key:          f.key,
		Size:         size,
		LastModified: f.lastModified,
		Tier:         f.tier,
		Partial:      !f.isFullLocked(),
	}
}

func (f *File) coveredLocked() int64 {
	var n int64
	for _, b := range f.blocks {
		if l := b.desc.Range.Length(); l > 0 {
			n += l
		}
	}
	return n
}

// UpperBound returns the highest reserved offset, or Unknown without blocks.
func (f *File) UpperBound() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.upperBoundLocked()
}

func (f *File) upperBoundLocked() int64 {
	upper := Unknown
	for _, b := range f.blocks {
		if b.desc.Range.Stop > upper {
			upper = b.desc.Range.Stop
		}
	}
	return upper
}

// IsFullFile reports whether the file holds exactly one block covering the
// whole object.
func (f *File) IsFullFile() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.isFullLocked()
}

func (f *File) isFullLocked() bool {
	if f.actualSize < 0 {
		return false
	}
	if f.actualSize == 0 {
		return len(f.blocks) == 0
	}
	return len(f.blocks) == 1 && f.blocks[0].desc.Range == Range{Start: 0, Stop: f.actualSize - 1}
}

// IsPartialFile reports whether a sealed file does not cover the object.
func (f *File) IsPartialFile() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state.Readable() && !f.isFullLocked()
}

// CreateBlock reserves r and opens a block for writing it. The state marker
// is persisted before the data blob is created. A sealed partial file keeps
// taking blocks for the ranges it lacks; readers see them once closed.
func (f *File) CreateBlock(r Range) (*Block, error) {
	f.mu.Lock()
	switch {
	case f.state == StateIncomplete:
	case f.state == StateComplete && f.partial && !f.writeBack && f.actualSize >= 0:
		if !r.Known() {
			f.mu.Unlock()
			return nil, errors.Newf(errors.ErrCodeInvalidState, "open range %s on a sealed file", r).
				WithComponent("cache").WithOperation("create_block")
		}
	case f.state == StateObsolete:
		f.mu.Unlock()
		return nil, errors.NewError(errors.ErrCodeWriteAborted, "object was superseded").
			WithComponent("cache").WithOperation("create_block")
	default:
		state := f.state
		f.mu.Unlock()
		return nil, errors.Newf(errors.ErrCodeInvalidState, "cannot add blocks to a %s file", state).
			WithComponent("cache").WithOperation("create_block")
	}
	if !r.Valid() {
		f.mu.Unlock()
		return nil, errors.Newf(errors.ErrCodeInvalidState, "invalid range %s", r).
			WithComponent("cache").WithOperation("create_block")
	}
	if f.actualSize >= 0 {
		if r.Start >= f.actualSize {
			f.mu.Unlock()
			return nil, errors.Newf(errors.ErrCodeInvalidState, "range %s starts beyond object size %d", r, f.actualSize).
				WithComponent("cache").WithOperation("create_block")
		}
		if !r.Known() {
			r.Stop = f.actualSize - 1
		} else if r.Stop >= f.actualSize {
			f.mu.Unlock()
			return nil, errors.Newf(errors.ErrCodeInvalidState, "range %s exceeds object size %d", r, f.actualSize).
				WithComponent("cache").WithOperation("create_block")
		}
	}
	for _, b := range f.blocks {
		if b.desc.Range.Overlaps(r) {
			f.mu.Unlock()
			return nil, errors.Newf(errors.ErrCodeInvalidState, "range %s overlaps block %s", r, b.desc.Range).
				WithComponent("cache").WithOperation("create_block")
		}
	}

	blk := &Block{file: f, desc: f.descriptorLocked(r), target: StateComplete}
	if f.writeBack {
		blk.target = StateToBePushed
	}
	blk.state.Store(int32(StateIncomplete))
	f.insertLocked(blk)
	f.mu.Unlock()

	vol := f.vol
	if err := vol.State.Touch(blk.desc.StateName(StateIncomplete)); err != nil {
		f.dropBlock(blk)
		return nil, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to persist block state").
			WithComponent("cache").WithOperation("create_block")
	}
	w, err := vol.Data.Create(blk.desc.MainName())
	if err != nil {
		_ = vol.State.Remove(blk.desc.StateName(StateIncomplete))
		f.dropBlock(blk)
		return nil, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to create block").
			WithComponent("cache").WithOperation("create_block")
	}

	blk.mu.Lock()
	blk.writer = w
	blk.mu.Unlock()
	return blk, nil
}

// AttachBlock registers an already persisted, closed block. Recovery uses it
// to rebuild a file from its state markers.
func (f *File) AttachBlock(r Range, s State) (*Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !r.Valid() || !r.Known() {
		return nil, errors.Newf(errors.ErrCodeCorruptEntry, "invalid recovered range %s", r).
			WithComponent("cache").WithOperation("attach_block")
	}
	for _, b := range f.blocks {
		if b.desc.Range.Overlaps(r) {
			return nil, errors.Newf(errors.ErrCodeCorruptEntry, "recovered range %s overlaps block %s", r, b.desc.Range).
				WithComponent("cache").WithOperation("attach_block")
		}
	}

	blk := &Block{file: f, desc: f.descriptorLocked(r), target: StateComplete, written: r.Length()}
	blk.state.Store(int32(s))
	blk.closed.Store(true)
	f.insertLocked(blk)
	f.vol.charge(blk.written)
	return blk, nil
}

// Seal finishes a recovered file. A non-partial file whose blocks are
// contiguous from offset zero gets its size back.
func (f *File) Seal() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = StateComplete
	for _, b := range f.blocks {
		if b.State() == StateToBePushed {
			f.state = StateToBePushed
		}
	}
	if f.actualSize < 0 && !f.partial && f.contiguousLocked() {
		f.actualSize = f.upperBoundLocked() + 1
	}
	if f.lastModified.IsZero() {
		f.lastModified = f.now()
	}
}

func (f *File) contiguousLocked() bool {
	next := int64(0)
	for _, b := range f.blocks {
		if b.desc.Range.Start != next {
			return false
		}
		next = b.desc.Range.Stop + 1
	}
	return len(f.blocks) > 0
}

func (f *File) insertLocked(b *Block) {
	i := sort.Search(len(f.blocks), func(i int) bool {
		return f.blocks[i].desc.Range.Start > b.desc.Range.Start
	})
	f.blocks = append(f.blocks, nil)
	copy(f.blocks[i+1:], f.blocks[i:])
	f.blocks[i] = b
}

func (f *File) dropBlock(b *Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, cur := range f.blocks {
		if cur == b {
			f.blocks = append(f.blocks[:i], f.blocks[i+1:]...)
			return
		}
	}
}

// swapRange replaces a block's reservation so range checks never observe a
// half-updated block.
func (f *File) swapRange(b *Block, d Descriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b.desc = d
}

// Complete seals a written file. An unknown size is inferred from the highest
// written offset.
func (f *File) Complete() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case StateIncomplete:
	case StateObsolete:
		return errors.NewError(errors.ErrCodeWriteAborted, "object was superseded while writing").
			WithComponent("cache").WithOperation("complete")
	default:
		return errors.Newf(errors.ErrCodeInvalidState, "illegal file transition %s -> %s", f.state, StateComplete).
			WithComponent("cache").WithOperation("complete")
	}

	next := StateComplete
	for _, b := range f.blocks {
		if !b.closed.Load() {
			return errors.Newf(errors.ErrCodeInvalidState, "block %s is still open", b.desc.Range).
				WithComponent("cache").WithOperation("complete")
		}
		if b.State() == StateToBePushed {
			next = StateToBePushed
		}
	}

	if f.actualSize < 0 && !f.partial {
		f.actualSize = f.upperBoundLocked() + 1
	}
	if f.lastModified.IsZero() {
		f.lastModified = f.now()
	}
	f.state = next
	return nil
}

// MarkComplete records that a TOBEPUSHED file reached cold storage.
func (f *File) MarkComplete() error {
	f.mu.Lock()
	switch f.state {
	case StateToBePushed:
	case StateComplete:
		f.mu.Unlock()
		return nil
	default:
		state := f.state
		f.mu.Unlock()
		return errors.Newf(errors.ErrCodeInvalidState, "illegal file transition %s -> %s", state, StateComplete).
			WithComponent("cache").WithOperation("mark_complete")
	}
	f.state = StateComplete
	blocks := append([]*Block(nil), f.blocks...)
	f.mu.Unlock()

	var errs []error
	for _, b := range blocks {
		if b.State() == StateToBePushed {
			errs = append(errs, b.MarkComplete())
		}
	}
	return stderrors.Join(errs...)
}

// MarkObsolete retires the file and every block. Writers in flight observe a
// failed Close.
func (f *File) MarkObsolete() error {
	f.mu.Lock()
	if f.state == StateObsolete {
		f.mu.Unlock()
		return nil
	}
	f.state = StateObsolete
	blocks := append([]*Block(nil), f.blocks...)
	f.mu.Unlock()

	var errs []error
	for _, b := range blocks {
		errs = append(errs, b.MarkObsolete())
	}
	return stderrors.Join(errs...)
}

// Delete retires the file and removes its blocks. Removal is deferred until
// the last open reader is closed.
func (f *File) Delete() error {
	err := f.MarkObsolete()

	f.mu.Lock()
	if f.deleted {
		f.mu.Unlock()
		return err
	}
	if f.readers > 0 {
		f.deletePending = true
		f.mu.Unlock()
		return err
	}
	blocks := f.takeBlocksLocked()
	f.mu.Unlock()

	return stderrors.Join(err, deleteBlocks(blocks))
}

// Deleted reports whether the file's blocks have been physically removed.
func (f *File) Deleted() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.deleted
}

func (f *File) takeBlocksLocked() []*Block {
	f.deleted = true
	f.deletePending = false
	blocks := f.blocks
	f.blocks = nil
	return blocks
}

func deleteBlocks(blocks []*Block) error {
	var errs []error
	for _, b := range blocks {
		errs = append(errs, b.Delete())
	}
	return stderrors.Join(errs...)
}

func (f *File) release() {
	f.mu.Lock()
	f.readers--
	if f.readers > 0 || !f.deletePending {
		f.mu.Unlock()
		return
	}
	blocks := f.takeBlocksLocked()
	f.mu.Unlock()
	_ = deleteBlocks(blocks)
}

type segment struct {
	block  *Block
	name   string
	offset int64
	length int64
}

// IsRangeAvailable reports whether readable blocks cover [start, stop].
func (f *File) IsRangeAvailable(start, stop int64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.state.Readable() {
		return false
	}
	_, ok := f.planLocked(start, stop)
	return ok
}

// planLocked maps [start, stop] onto readable blocks. A stop of Unknown reads
// to the end of the object.
func (f *File) planLocked(start, stop int64) ([]segment, bool) {
	if stop < 0 {
		if f.actualSize >= 0 {
			stop = f.actualSize - 1
		} else {
			stop = f.upperBoundLocked()
		}
	}
	if start < 0 {
		return nil, false
	}
	if stop < start {
		// only an empty object can satisfy an empty read
		return nil, start == 0 && f.actualSize == 0
	}
	if f.actualSize >= 0 && stop >= f.actualSize {
		return nil, false
	}

	var segs []segment
	cursor := start
	for _, b := range f.blocks {
		r := b.desc.Range
		if r.Stop < cursor {
			continue
		}
		if r.Start > cursor || !b.State().Readable() {
			return nil, false
		}
		end := r.Stop
		if end > stop {
			end = stop
		}
		segs = append(segs, segment{
			block:  b,
			name:   b.desc.MainName(),
			offset: cursor - r.Start,
			length: end - cursor + 1,
		})
		cursor = end + 1
		if cursor > stop {
			return segs, true
		}
	}
	return nil, false
}

// Open returns a reader over [start, stop] stitched across blocks. Each open
// counts as an access and pins the file until the reader is closed.
func (f *File) Open(start, stop int64) (io.ReadCloser, error) {
	f.mu.Lock()
	if f.state == StateObsolete || f.state == StateIncomplete || f.deleted {
		f.mu.Unlock()
		return nil, errors.NotFound(f.bucket, f.key).WithComponent("cache").WithOperation("open")
	}
	segs, ok := f.planLocked(start, stop)
	if !ok {
		f.mu.Unlock()
		return nil, errors.RangeNotSatisfiable(f.bucket, f.key, start, stop).
			WithComponent("cache").WithOperation("open")
	}
	f.readers++
	f.accessCount++
	f.lastAccessed = f.now()
	f.mu.Unlock()

	return &fileReader{file: f, segs: segs}, nil
}

// Read opens the whole object.
func (f *File) Read() (io.ReadCloser, error) {
	return f.Open(0, Unknown)
}

type fileReader struct {
	file   *File
	segs   []segment
	cur    io.ReadCloser
	closed bool
}

func (r *fileReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, errors.NewError(errors.ErrCodeInvalidState, "read on closed reader")
	}
	for {
		if r.cur == nil {
			if len(r.segs) == 0 {
				return 0, io.EOF
			}
			seg := r.segs[0]
			rc, err := seg.block.open(seg.name, seg.offset, seg.length)
			if err != nil {
				return 0, err
			}
			r.cur = rc
		}
		n, err := r.cur.Read(p)
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			r.segs = r.segs[1:]
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *fileReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var err error
	if r.cur != nil {
		err = r.cur.Close()
		r.cur = nil
	}
	r.file.release()
	return err
}

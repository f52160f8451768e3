package coldstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cut-dicl/smacc-sub001/pkg/errors"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

type memObject struct {
	data     []byte
	modified time.Time
}

// MemStore is an in-process Store.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string]map[string]*memObject
	now     func() time.Time

	// counters used by tests to observe cold traffic
	reads  int
	writes int
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		objects: make(map[string]map[string]*memObject),
		now:     time.Now,
	}
}

// Put stores an object directly.
func (s *MemStore) Put(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(bucket, key, append([]byte(nil), data...))
}

func (s *MemStore) putLocked(bucket, key string, data []byte) {
	keys, ok := s.objects[bucket]
	if !ok {
		keys = make(map[string]*memObject)
		s.objects[bucket] = keys
	}
	keys[key] = &memObject{data: data, modified: s.now()}
}

// Get returns a copy of the stored object.
func (s *MemStore) Get(bucket, key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[bucket][key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// Counts returns the number of reads served and objects written.
func (s *MemStore) Counts() (reads, writes int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads, s.writes
}

func (s *MemStore) Create(ctx context.Context, bucket, key string, size int64) (ObjectWriter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if bucket == "" || key == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidState, "bucket and key are required").
			WithComponent("coldstore").WithOperation("create")
	}
	w := &memWriter{store: s, bucket: bucket, key: key, size: size}
	if size > 0 {
		w.buf.Grow(int(size))
	}
	return w, nil
}

func (s *MemStore) Read(ctx context.Context, bucket, key string, start, stop int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[bucket][key]
	if !ok {
		return nil, errors.NotFound(bucket, key).WithComponent("coldstore").WithOperation("read")
	}
	size := int64(len(obj.data))
	if stop < 0 {
		stop = size - 1
	}
	if start < 0 || (size > 0 && start >= size) || stop >= size || (stop < start && size > 0) {
		return nil, errors.RangeNotSatisfiable(bucket, key, start, stop).
			WithComponent("coldstore").WithOperation("read")
	}
	s.reads++
	if size == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return io.NopCloser(bytes.NewReader(obj.data[start : stop+1])), nil
}

func (s *MemStore) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects[bucket], key)
	return nil
}

func (s *MemStore) Stat(ctx context.Context, bucket, key string) (types.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return types.ObjectInfo{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[bucket][key]
	if !ok {
		return types.ObjectInfo{}, errors.NotFound(bucket, key).WithComponent("coldstore").WithOperation("stat")
	}
	return s.infoLocked(bucket, key, obj), nil
}

func (s *MemStore) List(ctx context.Context, bucket, prefix string) ([]types.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []types.ObjectInfo
	for key, obj := range s.objects[bucket] {
		if strings.HasPrefix(key, prefix) {
			out = append(out, s.infoLocked(bucket, key, obj))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemStore) infoLocked(bucket, key string, obj *memObject) types.ObjectInfo {
	return types.ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         int64(len(obj.data)),
		LastModified: obj.modified,
		Tier:         types.TierColdStorage,
	}
}

// memWriter buffers an INCOMPLETE object until Complete publishes it.
type memWriter struct {
	store  *MemStore
	bucket string
	key    string
	size   int64
	buf    bytes.Buffer
	done   bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, errors.NewError(errors.ErrCodeInvalidState, "write on finished object").
			WithComponent("coldstore").WithOperation("write")
	}
	if w.size >= 0 && int64(w.buf.Len()+len(p)) > w.size {
		return 0, errors.Newf(errors.ErrCodeInvalidState, "write exceeds declared size %d", w.size).
			WithComponent("coldstore").WithOperation("write")
	}
	return w.buf.Write(p)
}

func (w *memWriter) Complete() error {
	if w.done {
		return errors.NewError(errors.ErrCodeInvalidState, "object already finished").
			WithComponent("coldstore").WithOperation("complete")
	}
	w.done = true
	if w.size >= 0 && int64(w.buf.Len()) != w.size {
		return errors.Newf(errors.ErrCodeWriteAborted, "wrote %d of %d bytes", w.buf.Len(), w.size).
			WithComponent("coldstore").WithOperation("complete")
	}
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.putLocked(w.bucket, w.key, append([]byte(nil), w.buf.Bytes()...))
	w.store.writes++
	return nil
}

func (w *memWriter) Close() error {
	w.done = true
	w.buf.Reset()
	return nil
}

// Package tier manages the cache tiers: the bucket and key registry of each
// tier, object creation and lookup, and crash recovery from the persisted
// block names.
package tier

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/pkg/errors"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// Option configures a tier manager.
type Option func(*options)

type options struct {
	logger *logrus.Entry
	clock  func() time.Time
}

// WithLogger sets the logger of the manager.
func WithLogger(logger *logrus.Entry) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the time source handed to the files of the manager.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// CreateOption configures a new file.
type CreateOption func(*createOptions)

type createOptions struct {
	partial      bool
	writeBack    bool
	conditional  bool
	expect       *cache.File
	lastModified time.Time
}

// Partial marks the new file as holding only part of the object.
func Partial() CreateOption {
	return func(o *createOptions) {
		o.partial = true
	}
}

// WriteBack makes the blocks of the new file wait for cold storage.
func WriteBack() CreateOption {
	return func(o *createOptions) {
		o.writeBack = true
	}
}

// IfAbsent refuses the create with errors.ErrExists when the key already has
// a file in the tier, finished or not.
func IfAbsent() CreateOption {
	return IfCurrent(nil)
}

// IfCurrent refuses the create with errors.ErrExists unless f is the current
// file of the key. A nil f means the key must have no file.
func IfCurrent(f *cache.File) CreateOption {
	return func(o *createOptions) {
		o.conditional = true
		o.expect = f
	}
}

// LastModified sets the modification time of the new file.
func LastModified(t time.Time) CreateOption {
	return func(o *createOptions) {
		o.lastModified = t
	}
}

// manager holds what the memory and disk managers share.
type manager struct {
	tier    types.StorageTier
	reg     *registry
	volumes []*cache.Volume
	logger  *logrus.Entry
	clock   func() time.Time
}

func newManager(tier types.StorageTier, volumes []*cache.Volume, opts []Option) *manager {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.WithField("component", tier.String()+"-tier")
	}
	return &manager{
		tier:    tier,
		reg:     newRegistry(),
		volumes: volumes,
		logger:  o.logger,
		clock:   o.clock,
	}
}

func (m *manager) create(vol *cache.Volume, bucket, key string, length int64, opts []CreateOption) (*cache.File, *cache.File, error) {
	if bucket == "" || key == "" {
		return nil, nil, errors.NewError(errors.ErrCodeInvalidState, "bucket and key are required").
			WithComponent(m.tier.String()).WithOperation("create")
	}
	if length < cache.Unknown {
		return nil, nil, errors.Newf(errors.ErrCodeInvalidState, "invalid object length %d", length).
			WithComponent(m.tier.String()).WithOperation("create")
	}

	var co createOptions
	for _, opt := range opts {
		opt(&co)
	}

	desc := cache.Descriptor{
		Version: m.reg.nextVersion(bucket, key),
		Bucket:  bucket,
		Key:     key,
		Partial: co.partial,
	}
	fileOpts := []cache.FileOption{cache.WithClock(m.clock)}
	if co.writeBack {
		fileOpts = append(fileOpts, cache.WithWriteBack())
	}
	if !co.lastModified.IsZero() {
		fileOpts = append(fileOpts, cache.WithLastModified(co.lastModified))
	}

	f := cache.NewFile(vol, m.tier, desc, length, fileOpts...)
	var replaced *cache.File
	if co.conditional {
		if !m.reg.putIf(f, co.expect) {
			return nil, nil, errors.NewError(errors.ErrCodeObjectExists, "object has a newer cached version").
				WithComponent(m.tier.String()).WithOperation("create").
				WithContext("bucket", bucket).WithContext("key", key)
		}
		replaced = co.expect
	} else {
		replaced = m.reg.put(f)
	}
	if replaced != nil {
		if err := replaced.Delete(); err != nil {
			m.logger.WithFields(logrus.Fields{
				"bucket":  bucket,
				"key":     key,
				"version": replaced.Version(),
			}).WithError(err).Warn("Failed to delete replaced version")
		}
	}
	return f, replaced, nil
}

// Tier returns the tier the manager serves.
func (m *manager) Tier() types.StorageTier {
	return m.tier
}

// Lookup returns the current file of bucket and key.
func (m *manager) Lookup(bucket, key string) (*cache.File, bool) {
	f := m.reg.get(bucket, key)
	return f, f != nil
}

// Read opens the whole object.
func (m *manager) Read(bucket, key string) (io.ReadCloser, *cache.File, error) {
	return m.ReadRange(bucket, key, 0, cache.Unknown)
}

// ReadRange opens [start, stop] of the object. A stop of cache.Unknown reads
// to the end.
func (m *manager) ReadRange(bucket, key string, start, stop int64) (io.ReadCloser, *cache.File, error) {
	f := m.reg.get(bucket, key)
	if f == nil {
		return nil, nil, errors.NotFound(bucket, key).WithComponent(m.tier.String()).WithOperation("read")
	}
	rc, err := f.Open(start, stop)
	if err != nil {
		return nil, f, err
	}
	return rc, f, nil
}

// Delete removes the object and returns the file that held it.
func (m *manager) Delete(bucket, key string) (*cache.File, error) {
	f := m.reg.get(bucket, key)
	if f == nil || !m.reg.remove(f) {
		return nil, errors.NotFound(bucket, key).WithComponent(m.tier.String()).WithOperation("delete")
	}
	if err := f.Delete(); err != nil {
		return f, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to delete object").
			WithComponent(m.tier.String()).WithOperation("delete")
	}
	return f, nil
}

// Remove unregisters and deletes f. It reports false when f is no longer the
// current file of its key.
func (m *manager) Remove(f *cache.File) bool {
	if !m.reg.remove(f) {
		return false
	}
	if err := f.Delete(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"bucket": f.Bucket(),
			"key":    f.Key(),
		}).WithError(err).Warn("Failed to delete evicted object")
	}
	return true
}

// List returns the readable objects of bucket whose key starts with prefix.
func (m *manager) List(bucket, prefix string) []types.ObjectInfo {
	var out []types.ObjectInfo
	for _, f := range m.reg.list(bucket, prefix) {
		if f.State().Readable() {
			out = append(out, f.Info())
		}
	}
	return out
}

// Files returns every registered file in bucket and key order.
func (m *manager) Files() []*cache.File {
	return m.reg.all()
}

// Buckets returns the names of the buckets seen by the tier.
func (m *manager) Buckets() []string {
	return m.reg.bucketNames()
}

// Len returns the number of registered objects.
func (m *manager) Len() int {
	return m.reg.len()
}

// Volumes returns the volumes of the tier.
func (m *manager) Volumes() []*cache.Volume {
	return m.volumes
}

// VolumeUsages returns the bytes used per volume.
func (m *manager) VolumeUsages() []int64 {
	out := make([]int64, len(m.volumes))
	for i, v := range m.volumes {
		out[i] = v.Used()
	}
	return out
}

// Usage returns the bytes held by the tier.
func (m *manager) Usage() int64 {
	var n int64
	for _, v := range m.volumes {
		n += v.Used()
	}
	return n
}

// Capacity returns the configured capacity of the tier.
func (m *manager) Capacity() int64 {
	var n int64
	for _, v := range m.volumes {
		n += v.Capacity()
	}
	return n
}

// Stats returns a usage snapshot of the tier.
func (m *manager) Stats() types.CacheStats {
	stats := types.CacheStats{Size: m.Usage(), Capacity: m.Capacity()}
	if stats.Capacity > 0 {
		stats.Utilization = float64(stats.Size) / float64(stats.Capacity)
	}
	return stats
}

package tier

import (
	"sort"
	"strings"
	"sync"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
)

// registry maps bucket and key to the current file of a tier. One mutex
// guards the whole mapping; byte streaming happens outside it.
type registry struct {
	mu       sync.Mutex
	buckets  map[string]map[string]*cache.File
	versions map[string]int64
}

func newRegistry() *registry {
	return &registry{
		buckets:  make(map[string]map[string]*cache.File),
		versions: make(map[string]int64),
	}
}

func versionKey(bucket, key string) string {
	return bucket + "/" + key
}

// touchBucketLocked returns the key map of bucket, creating it on first use.
func (r *registry) touchBucketLocked(bucket string) map[string]*cache.File {
	keys, ok := r.buckets[bucket]
	if !ok {
		keys = make(map[string]*cache.File)
		r.buckets[bucket] = keys
	}
	return keys
}

// nextVersion returns a version newer than any seen for bucket and key.
func (r *registry) nextVersion(bucket, key string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	vk := versionKey(bucket, key)
	r.versions[vk]++
	return r.versions[vk]
}

// seedVersion raises the version counter to at least v.
func (r *registry) seedVersion(bucket, key string, v int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vk := versionKey(bucket, key)
	if v > r.versions[vk] {
		r.versions[vk] = v
	}
}

// put registers f as the current file of its key and returns the file it
// replaced.
func (r *registry) put(f *cache.File) *cache.File {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.touchBucketLocked(f.Bucket())
	prev := keys[f.Key()]
	keys[f.Key()] = f
	if vk := versionKey(f.Bucket(), f.Key()); f.Version() > r.versions[vk] {
		r.versions[vk] = f.Version()
	}
	if prev == f {
		return nil
	}
	return prev
}

// putIf registers f only when expect is the current file of its key, nil
// meaning no file at all.
func (r *registry) putIf(f, expect *cache.File) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.touchBucketLocked(f.Bucket())
	if keys[f.Key()] != expect {
		return false
	}
	keys[f.Key()] = f
	if vk := versionKey(f.Bucket(), f.Key()); f.Version() > r.versions[vk] {
		r.versions[vk] = f.Version()
	}
	return true
}

func (r *registry) get(bucket, key string) *cache.File {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buckets[bucket][key]
}

// remove unregisters f if it is still the current file of its key.
func (r *registry) remove(f *cache.File) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.buckets[f.Bucket()]
	if keys[f.Key()] != f {
		return false
	}
	delete(keys, f.Key())
	return true
}

// list returns the files of bucket whose key starts with prefix, in key order.
func (r *registry) list(bucket, prefix string) []*cache.File {
	r.mu.Lock()
	var out []*cache.File
	for key, f := range r.buckets[bucket] {
		if strings.HasPrefix(key, prefix) {
			out = append(out, f)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (r *registry) all() []*cache.File {
	r.mu.Lock()
	var out []*cache.File
	for _, keys := range r.buckets {
		for _, f := range keys {
			out = append(out, f)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SortKey() < out[j].SortKey() })
	return out
}

func (r *registry) bucketNames() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.buckets))
	for b := range r.buckets {
		out = append(out, b)
	}
	r.mu.Unlock()

	sort.Strings(out)
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, keys := range r.buckets {
		n += len(keys)
	}
	return n
}

package policy

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/internal/store"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeUsage struct {
	capacity map[types.StorageTier]int64
	usage    map[types.StorageTier]int64
}

func newFakeUsage(memory, disk int64) *fakeUsage {
	return &fakeUsage{
		capacity: map[types.StorageTier]int64{types.TierMemory: memory, types.TierDisk: disk},
		usage:    map[types.StorageTier]int64{},
	}
}

func (u *fakeUsage) Capacity(t types.StorageTier) int64 { return u.capacity[t] }
func (u *fakeUsage) Usage(t types.StorageTier) int64    { return u.usage[t] }

// newFile returns a completed file of size bytes whose clock is clk.
func newFile(t *testing.T, clk *fakeClock, key string, size int64) *cache.File {
	t.Helper()
	vol := cache.NewVolume(0, store.NewMemBackend(), store.NewMemBackend(), 1<<30)
	f := cache.NewFile(vol, types.TierMemory, cache.Descriptor{Version: 1, Bucket: "b", Key: key}, size,
		cache.WithClock(clk.Now))
	if size > 0 {
		blk, err := f.CreateBlock(cache.Range{Start: 0, Stop: size - 1})
		require.NoError(t, err)
		_, err = blk.Write(bytes.Repeat([]byte{'x'}, int(size)))
		require.NoError(t, err)
		require.NoError(t, blk.Close())
	}
	require.NoError(t, f.Complete())
	return f
}

// access opens and closes the whole file so its access time moves to now.
func access(t *testing.T, f *cache.File) {
	t.Helper()
	rc, err := f.Read()
	require.NoError(t, err)
	require.NoError(t, rc.Close())
}

package cache

import (
	"sync/atomic"

	"github.com/cut-dicl/smacc-sub001/internal/store"
)

// Volume is one storage location of a tier: a data backend for block bytes
// and a state backend for lifecycle markers.
type Volume struct {
	Index int
	Data  store.Backend
	State store.Backend

	capacity int64
	used     atomic.Int64
}

// NewVolume creates a volume with the given capacity in bytes.
func NewVolume(index int, data, state store.Backend, capacity int64) *Volume {
	return &Volume{
		Index:    index,
		Data:     data,
		State:    state,
		capacity: capacity,
	}
}

// Capacity returns the configured capacity in bytes.
func (v *Volume) Capacity() int64 { return v.capacity }

// Used returns the bytes currently held by blocks on the volume.
func (v *Volume) Used() int64 { return v.used.Load() }

// Free returns the remaining capacity, never negative.
func (v *Volume) Free() int64 {
	if free := v.capacity - v.Used(); free > 0 {
		return free
	}
	return 0
}

func (v *Volume) charge(n int64) { v.used.Add(n) }

func (v *Volume) release(n int64) { v.used.Add(-n) }

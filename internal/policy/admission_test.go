package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/internal/config"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

func obj(key string, size int64) types.ObjectInfo {
	return types.ObjectInfo{Bucket: "b", Key: key, Size: size}
}

func TestAlwaysAdmissionReturnsTopology(t *testing.T) {
	tests := []struct {
		topology string
		want     types.Location
	}{
		{"memory_disk", types.LocationMemoryDisk},
		{"disk_only", types.LocationDiskOnly},
		{"memory_only", types.LocationMemoryOnly},
		{"s3_only", types.LocationColdOnly},
	}
	for _, tt := range tests {
		t.Run(tt.topology, func(t *testing.T) {
			p, err := NewAdmissionPolicy("always", config.MapProvider{"topology": tt.topology}, Deps{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.WriteAdmissionLocation(obj("k", 1<<40)))
			assert.Equal(t, tt.want, p.ReadAdmissionLocation(obj("k", 1)))
		})
	}

	_, err := NewAdmissionPolicy("always", config.MapProvider{"topology": "tape"}, Deps{})
	assert.Error(t, err)
}

func newEXDAdmission(t *testing.T, clk *fakeClock, usage *fakeUsage, topology string) AdmissionPolicy {
	t.Helper()
	p, err := NewAdmissionPolicy("exd", config.MapProvider{
		"topology":         topology,
		"policy.exd.alpha": 0.5,
	}, Deps{Usage: usage, Clock: clk.Now})
	require.NoError(t, err)
	return p
}

// place records f as admitted to the tiers of loc.
func place(p Policy, usage *fakeUsage, f *cache.File, loc types.Location) {
	for _, tier := range types.CacheTiers {
		if loc.Has(tier) {
			p.OnItemAdd(f, tier)
			usage.usage[tier] += f.Size()
		}
	}
}

func TestEXDAdmissionDisplacesOnlyLighterObjects(t *testing.T) {
	clk := newFakeClock()
	usage := newFakeUsage(100, 10000)
	p := newEXDAdmission(t, clk, usage, "memory_disk")

	loc := p.WriteAdmissionLocation(obj("a", 99))
	require.Equal(t, types.LocationMemoryDisk, loc)
	place(p, usage, newFile(t, clk, "a", 99), loc)

	// larger than the memory tier
	loc = p.WriteAdmissionLocation(obj("b", 200))
	require.Equal(t, types.LocationDiskOnly, loc)
	place(p, usage, newFile(t, clk, "b", 200), loc)

	// a fresh object weighs as much as a and does not displace it
	assert.Equal(t, types.LocationDiskOnly, p.WriteAdmissionLocation(obj("c", 50)))

	// once a has decayed the newcomer wins the memory tier
	clk.Advance(time.Hour)
	assert.Equal(t, types.LocationMemoryDisk, p.WriteAdmissionLocation(obj("c", 50)))
}

func TestEXDAdmissionCapacity(t *testing.T) {
	clk := newFakeClock()
	usage := newFakeUsage(100, 100)
	p := newEXDAdmission(t, clk, usage, "memory_disk")

	// free space always admits
	usage.usage[types.TierMemory] = 40
	assert.Equal(t, types.LocationMemoryDisk, p.WriteAdmissionLocation(obj("k", 60)))

	// no tracked object can be evicted
	usage.usage[types.TierMemory] = 100
	usage.usage[types.TierDisk] = 100
	assert.Equal(t, types.LocationColdOnly, p.WriteAdmissionLocation(obj("k", 1)))

	// never larger than the tier
	usage.usage[types.TierMemory] = 0
	usage.usage[types.TierDisk] = 0
	assert.Equal(t, types.LocationColdOnly, p.WriteAdmissionLocation(obj("k", 101)))

	// unknown size admits to the topology
	usage.usage[types.TierMemory] = 100
	assert.Equal(t, types.LocationMemoryDisk, p.ReadAdmissionLocation(obj("k", -1)))
}

func TestEXDAdmissionTrackedKeyGetsAccessBonus(t *testing.T) {
	clk := newFakeClock()
	usage := newFakeUsage(100, 0)
	p := newEXDAdmission(t, clk, usage, "memory_only")

	x, y := newFile(t, clk, "x", 60), newFile(t, clk, "y", 40)
	place(p, usage, x, types.LocationMemoryOnly)
	place(p, usage, y, types.LocationMemoryOnly)
	for i := 0; i < 3; i++ {
		p.OnItemAccess(x, types.TierMemory)
	}

	// x weighs 4: rewriting it outweighs both residents
	assert.Equal(t, types.LocationMemoryOnly, p.WriteAdmissionLocation(obj("x", 60)))
	// a new key only weighs 1 and cannot displace y
	assert.Equal(t, types.LocationColdOnly, p.WriteAdmissionLocation(obj("z", 60)))

	// deleting y releases its bytes
	p.OnItemDelete(y, types.TierMemory)
	usage.usage[types.TierMemory] -= y.Size()
	assert.Equal(t, types.LocationMemoryOnly, p.WriteAdmissionLocation(obj("z", 40)))

	p.OnReset(types.TierMemory)
	usage.usage[types.TierMemory] = 100
	assert.Equal(t, types.LocationColdOnly, p.WriteAdmissionLocation(obj("x", 60)))
}

func TestEXDAdmissionRespectsTopology(t *testing.T) {
	clk := newFakeClock()
	usage := newFakeUsage(100, 100)

	p := newEXDAdmission(t, clk, usage, "disk_only")
	assert.Equal(t, types.LocationDiskOnly, p.WriteAdmissionLocation(obj("k", 10)))

	p = newEXDAdmission(t, clk, usage, "s3_only")
	assert.Equal(t, types.LocationColdOnly, p.WriteAdmissionLocation(obj("k", 10)))
}

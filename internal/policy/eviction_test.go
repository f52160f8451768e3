package policy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/internal/config"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

func build(t *testing.T, name string, cfg config.Provider, clk *fakeClock) EvictionItemPolicy {
	t.Helper()
	p, err := NewEvictionItemPolicy(name, cfg, Deps{Clock: clk.Now})
	require.NoError(t, err)
	require.Equal(t, name, p.Name())
	return p
}

func TestFIFOEvictsOldestSurvivor(t *testing.T) {
	clk := newFakeClock()
	p := build(t, "fifo", nil, clk)

	k1, k2, k3 := newFile(t, clk, "k1", 1), newFile(t, clk, "k2", 1), newFile(t, clk, "k3", 1)
	for _, f := range []*cache.File{k1, k2, k3} {
		p.OnItemAdd(f, types.TierMemory)
	}
	assert.Same(t, k1, p.ItemToEvict(types.TierMemory))

	p.OnItemDelete(k1, types.TierMemory)
	assert.Same(t, k2, p.ItemToEvict(types.TierMemory))

	// accesses and re-adds do not reorder
	p.OnItemAccess(k2, types.TierMemory)
	p.OnItemUpdate(k2, types.TierMemory)
	p.OnItemAdd(k2, types.TierMemory)
	assert.Same(t, k2, p.ItemToEvict(types.TierMemory))
}

func TestLRUEvictsEarliestMostRecentAccess(t *testing.T) {
	clk := newFakeClock()
	p := build(t, "lru", nil, clk)

	files := map[string]*cache.File{}
	for _, k := range []string{"k1", "k2", "k3"} {
		files[k] = newFile(t, clk, k, 1)
		p.OnItemAdd(files[k], types.TierMemory)
	}
	for _, k := range []string{"k1", "k3", "k1", "k2", "k3"} {
		p.OnItemAccess(files[k], types.TierMemory)
	}
	assert.Same(t, files["k1"], p.ItemToEvict(types.TierMemory))

	// an update counts as a use
	p.OnItemUpdate(files["k1"], types.TierMemory)
	assert.Same(t, files["k2"], p.ItemToEvict(types.TierMemory))
}

func TestMRUEvictsMostRecentAccess(t *testing.T) {
	clk := newFakeClock()
	p := build(t, "mru", nil, clk)

	a, b, c := newFile(t, clk, "a", 1), newFile(t, clk, "b", 1), newFile(t, clk, "c", 1)
	for _, f := range []*cache.File{a, b, c} {
		p.OnItemAdd(f, types.TierDisk)
	}
	assert.Same(t, c, p.ItemToEvict(types.TierDisk))

	p.OnItemAccess(a, types.TierDisk)
	assert.Same(t, a, p.ItemToEvict(types.TierDisk))
}

func TestLFUEvictsLeastFrequent(t *testing.T) {
	clk := newFakeClock()
	p := build(t, "lfu", nil, clk)

	a, b, c := newFile(t, clk, "a", 1), newFile(t, clk, "b", 1), newFile(t, clk, "c", 1)
	for _, f := range []*cache.File{c, b, a} {
		p.OnItemAdd(f, types.TierMemory)
	}
	// equal counts: bucket and key order decides
	assert.Same(t, a, p.ItemToEvict(types.TierMemory))

	p.OnItemAccess(a, types.TierMemory)
	p.OnItemAccess(a, types.TierMemory)
	p.OnItemAccess(b, types.TierMemory)
	assert.Same(t, c, p.ItemToEvict(types.TierMemory))

	p.OnItemDelete(c, types.TierMemory)
	assert.Same(t, b, p.ItemToEvict(types.TierMemory))
}

func TestEXDEvictsLowestDecayedWeight(t *testing.T) {
	clk := newFakeClock()
	p := build(t, "exd", config.MapProvider{"policy.exd.alpha": 0.5}, clk)
	exd := p.(*EXDPolicy)

	a, b := newFile(t, clk, "a", 1), newFile(t, clk, "b", 1)
	p.OnItemAdd(a, types.TierMemory)
	p.OnItemAdd(b, types.TierMemory)

	w, ok := exd.Weight(a, types.TierMemory)
	require.True(t, ok)
	assert.InDelta(t, 1.0, w, 1e-9)

	clk.Advance(time.Hour)
	p.OnItemAccess(a, types.TierMemory)
	w, _ = exd.Weight(a, types.TierMemory)
	assert.InDelta(t, 1+math.Exp(-0.5), w, 1e-9)
	assert.Same(t, b, p.ItemToEvict(types.TierMemory))

	clk.Advance(time.Hour)
	p.OnItemAccess(b, types.TierMemory)
	p.OnItemAccess(b, types.TierMemory)
	assert.Same(t, a, p.ItemToEvict(types.TierMemory))
}

func TestEXDWeightDecaysBetweenAccesses(t *testing.T) {
	clk := newFakeClock()
	exd := build(t, "exd", nil, clk).(*EXDPolicy)

	f := newFile(t, clk, "f", 1)
	exd.OnItemAdd(f, types.TierDisk)
	prev, _ := exd.Weight(f, types.TierDisk)
	for i := 0; i < 4; i++ {
		clk.Advance(30 * time.Minute)
		cur, _ := exd.Weight(f, types.TierDisk)
		assert.Less(t, cur, prev)
		prev = cur
	}
	exd.OnItemAccess(f, types.TierDisk)
	cur, _ := exd.Weight(f, types.TierDisk)
	assert.GreaterOrEqual(t, cur, 1.0)
}

func TestEvictionTiersAreIndependent(t *testing.T) {
	for _, name := range []string{"fifo", "lru", "mru", "lfu", "exd", "life"} {
		t.Run(name, func(t *testing.T) {
			clk := newFakeClock()
			p := build(t, name, nil, clk)
			f := newFile(t, clk, "only", 1)

			p.OnItemAdd(f, types.TierMemory)
			assert.Nil(t, p.ItemToEvict(types.TierDisk))
			assert.Nil(t, p.ItemToEvict(types.TierColdStorage))
			assert.Same(t, f, p.ItemToEvict(types.TierMemory))

			p.OnReset(types.TierMemory)
			assert.Nil(t, p.ItemToEvict(types.TierMemory))

			// cold tier events are ignored
			p.OnItemAdd(f, types.TierColdStorage)
			p.OnItemAccess(f, types.TierColdStorage)
			p.OnItemDelete(f, types.TierColdStorage)
		})
	}
}

func TestLIFE(t *testing.T) {
	clk := newFakeClock()
	p := build(t, "life", config.MapProvider{"policy.life.window": "1h"}, clk)
	life := p.(*LIFEPolicy)

	small, large := newFile(t, clk, "small", 10), newFile(t, clk, "large", 100)
	p.OnItemAdd(small, types.TierMemory)
	p.OnItemAdd(large, types.TierMemory)

	// nothing old yet: largest new object
	assert.Same(t, large, p.ItemToEvict(types.TierMemory))

	clk.Advance(2 * time.Hour)
	p.OnItemAccess(small, types.TierMemory)

	// large aged out of the window and becomes the only old object
	assert.Same(t, large, p.ItemToEvict(types.TierMemory))
	assert.False(t, life.IsNew(large, types.TierMemory))
	assert.True(t, life.IsNew(small, types.TierMemory))

	p.OnItemDelete(large, types.TierMemory)
	assert.Same(t, small, p.ItemToEvict(types.TierMemory))

	tiny := newFile(t, clk, "tiny", 5)
	p.OnItemAdd(tiny, types.TierMemory)
	clk.Advance(2 * time.Hour)

	// both old now: small was accessed twice, tiny once
	assert.Same(t, tiny, p.ItemToEvict(types.TierMemory))

	// an access brings tiny back to new, leaving small as the only old object
	p.OnItemAccess(tiny, types.TierMemory)
	assert.True(t, life.IsNew(tiny, types.TierMemory))
	assert.Same(t, small, p.ItemToEvict(types.TierMemory))
}

func TestLIFERejectsBadWindow(t *testing.T) {
	_, err := NewEvictionItemPolicy("life", config.MapProvider{"policy.life.window": "-1s"}, Deps{})
	require.Error(t, err)
}

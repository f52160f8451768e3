package policy

import (
	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/internal/config"
	"github.com/cut-dicl/smacc-sub001/internal/weighted"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// listPolicy backs FIFO, LRU and MRU with one access list per tier.
type listPolicy struct {
	BasePolicy
	lists [tierSlots]*weighted.AccessList[*cache.File]

	// moveOnAccess reorders on access and update (LRU, MRU)
	moveOnAccess bool
	// evictFront evicts the most recent item instead of the oldest (MRU)
	evictFront bool
}

func newListPolicy(name string, moveOnAccess, evictFront bool) *listPolicy {
	p := &listPolicy{
		BasePolicy:   BasePolicy{name: name},
		moveOnAccess: moveOnAccess,
		evictFront:   evictFront,
	}
	for i := range p.lists {
		p.lists[i] = weighted.NewAccessList[*cache.File]()
	}
	return p
}

// NewFIFO returns a policy evicting the oldest inserted object.
func NewFIFO(Deps) EvictionItemPolicy { return newListPolicy("fifo", false, false) }

// NewLRU returns a policy evicting the least recently used object.
func NewLRU(Deps) EvictionItemPolicy { return newListPolicy("lru", true, false) }

// NewMRU returns a policy evicting the most recently used object.
func NewMRU(Deps) EvictionItemPolicy { return newListPolicy("mru", true, true) }

func (p *listPolicy) list(tier types.StorageTier) *weighted.AccessList[*cache.File] {
	if i, ok := slot(tier); ok {
		return p.lists[i]
	}
	return nil
}

func (p *listPolicy) OnItemAdd(f *cache.File, tier types.StorageTier) {
	l := p.list(tier)
	if l == nil {
		return
	}
	if !l.Contains(f) || p.moveOnAccess {
		l.PushFront(f)
	}
}

func (p *listPolicy) OnItemAccess(f *cache.File, tier types.StorageTier) {
	if l := p.list(tier); l != nil && p.moveOnAccess {
		l.MoveToFront(f)
	}
}

func (p *listPolicy) OnItemUpdate(f *cache.File, tier types.StorageTier) {
	p.OnItemAccess(f, tier)
}

func (p *listPolicy) OnItemDelete(f *cache.File, tier types.StorageTier) {
	if l := p.list(tier); l != nil {
		l.Remove(f)
	}
}

func (p *listPolicy) OnReset(tier types.StorageTier) {
	if l := p.list(tier); l != nil {
		l.Clear()
	}
}

func (p *listPolicy) ItemToEvict(tier types.StorageTier) *cache.File {
	l := p.list(tier)
	if l == nil {
		return nil
	}
	var (
		f  *cache.File
		ok bool
	)
	if p.evictFront {
		f, ok = l.Front()
	} else {
		f, ok = l.Back()
	}
	if !ok {
		return nil
	}
	return f
}

// indexPolicy backs LFU and EXD with one weighted index per tier.
type indexPolicy struct {
	BasePolicy
	deps    Deps
	weigher func() weighted.Weigher[*cache.File]
	indexes [tierSlots]*weighted.SortedIndex[*cache.File]
}

func newIndexPolicy(name string, deps Deps, weigher func() weighted.Weigher[*cache.File]) *indexPolicy {
	p := &indexPolicy{BasePolicy: BasePolicy{name: name}, deps: deps.withDefaults(), weigher: weigher}
	p.reset()
	return p
}

func (p *indexPolicy) reset() {
	for i := range p.indexes {
		p.indexes[i] = weighted.NewSortedIndex(p.weigher())
	}
}

// NewLFU returns a policy evicting the least frequently accessed object.
// Ties fall back to bucket and key order.
func NewLFU(deps Deps) EvictionItemPolicy {
	return newIndexPolicy("lfu", deps, func() weighted.Weigher[*cache.File] {
		return weighted.Frequency[*cache.File]{}
	})
}

// EXDPolicy evicts the object with the lowest exponentially decayed weight.
type EXDPolicy struct {
	*indexPolicy
	alpha float64
}

// NewEXD returns an exponential decay eviction policy.
func NewEXD(deps Deps) EvictionItemPolicy {
	deps = deps.withDefaults()
	p := &EXDPolicy{alpha: DefaultEXDAlpha}
	p.indexPolicy = newIndexPolicy("exd", deps, func() weighted.Weigher[*cache.File] {
		return weighted.NewDecay[*cache.File](p.alpha, weighted.DefaultDecayUnit, deps.Clock())
	})
	return p
}

// Initialize reads policy.exd.alpha.
func (p *EXDPolicy) Initialize(cfg config.Provider) error {
	alpha, err := exdAlpha(cfg)
	if err != nil {
		return err
	}
	p.alpha = alpha
	p.reset()
	return nil
}

// Weight returns the current weight of f in tier.
func (p *EXDPolicy) Weight(f *cache.File, tier types.StorageTier) (float64, bool) {
	idx := p.index(tier)
	if idx == nil {
		return 0, false
	}
	e, ok := idx.Get(f)
	if !ok {
		return 0, false
	}
	return idx.Current(e, p.deps.Clock()), true
}

func (p *indexPolicy) index(tier types.StorageTier) *weighted.SortedIndex[*cache.File] {
	if i, ok := slot(tier); ok {
		return p.indexes[i]
	}
	return nil
}

func (p *indexPolicy) OnItemAdd(f *cache.File, tier types.StorageTier) {
	idx := p.index(tier)
	if idx == nil || idx.Contains(f) {
		return
	}
	idx.Add(f, p.deps.Clock())
}

func (p *indexPolicy) OnItemAccess(f *cache.File, tier types.StorageTier) {
	if idx := p.index(tier); idx != nil {
		idx.Touch(f, p.deps.Clock())
	}
}

func (p *indexPolicy) OnItemDelete(f *cache.File, tier types.StorageTier) {
	if idx := p.index(tier); idx != nil {
		idx.Remove(f)
	}
}

func (p *indexPolicy) OnReset(tier types.StorageTier) {
	if idx := p.index(tier); idx != nil {
		idx.Clear()
	}
}

func (p *indexPolicy) ItemToEvict(tier types.StorageTier) *cache.File {
	idx := p.index(tier)
	if idx == nil {
		return nil
	}
	e, ok := idx.Min()
	if !ok {
		return nil
	}
	return e.Item
}

package policy

import (
	"time"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/internal/config"
	"github.com/cut-dicl/smacc-sub001/internal/weighted"
	"github.com/cut-dicl/smacc-sub001/pkg/errors"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// DefaultLifeWindow is how long an object stays "new" without being accessed.
const DefaultLifeWindow = time.Hour

// lifeTier holds the LIFE structures of one tier. An object is either old
// (ranked by access count) or new (ranked by size and by recency).
type lifeTier struct {
	old     *weighted.SortedIndex[*cache.File]
	newSize *weighted.SortedIndex[*cache.File]
	newLRU  *weighted.AccessList[*cache.File]

	counts  map[*cache.File]float64
	touched map[*cache.File]time.Time
}

func newLifeTier() *lifeTier {
	return &lifeTier{
		old:     weighted.NewSortedIndex[*cache.File](weighted.Frequency[*cache.File]{}),
		newSize: weighted.NewSortedIndex[*cache.File](weighted.Size[*cache.File]{}),
		newLRU:  weighted.NewAccessList[*cache.File](),
		counts:  make(map[*cache.File]float64),
		touched: make(map[*cache.File]time.Time),
	}
}

func (t *lifeTier) tracked(f *cache.File) bool {
	_, ok := t.counts[f]
	return ok
}

func (t *lifeTier) makeNew(f *cache.File, now time.Time) {
	t.old.Remove(f)
	t.newSize.Add(f, now)
	t.newLRU.PushFront(f)
	t.touched[f] = now
}

func (t *lifeTier) makeOld(f *cache.File, now time.Time) {
	t.newSize.Remove(f)
	t.newLRU.Remove(f)
	delete(t.touched, f)
	t.old.Set(f, t.counts[f], now)
}

func (t *lifeTier) remove(f *cache.File) {
	t.old.Remove(f)
	t.newSize.Remove(f)
	t.newLRU.Remove(f)
	delete(t.counts, f)
	delete(t.touched, f)
}

// age moves new objects idle for at least window into the old set.
func (t *lifeTier) age(now time.Time, window time.Duration) {
	var expired []*cache.File
	t.newLRU.EachFromBack(func(f *cache.File) bool {
		if now.Sub(t.touched[f]) < window {
			return false
		}
		expired = append(expired, f)
		return true
	})
	for _, f := range expired {
		t.makeOld(f, now)
	}
}

// LIFEPolicy is the hybrid frequency, recency and size policy. Recently used
// objects are "new"; new objects idle for longer than the window become
// "old". Old objects are evicted first, least frequently used first; without
// old objects the largest new object goes.
type LIFEPolicy struct {
	BasePolicy
	deps   Deps
	window time.Duration
	tiers  [tierSlots]*lifeTier
}

// NewLIFE returns a LIFE eviction policy.
func NewLIFE(deps Deps) EvictionItemPolicy {
	p := &LIFEPolicy{
		BasePolicy: BasePolicy{name: "life"},
		deps:       deps.withDefaults(),
		window:     DefaultLifeWindow,
	}
	for i := range p.tiers {
		p.tiers[i] = newLifeTier()
	}
	return p
}

// Initialize reads policy.life.window.
func (p *LIFEPolicy) Initialize(cfg config.Provider) error {
	window := cfg.GetDuration("policy.life.window", DefaultLifeWindow)
	if window <= 0 {
		return errors.Newf(errors.ErrCodeInvalidConfig, "policy.life.window must be positive, got %s", window).
			WithComponent("policy").WithOperation("initialize")
	}
	p.window = window
	return nil
}

func (p *LIFEPolicy) tier(tier types.StorageTier) *lifeTier {
	if i, ok := slot(tier); ok {
		return p.tiers[i]
	}
	return nil
}

func (p *LIFEPolicy) OnItemAdd(f *cache.File, tier types.StorageTier) {
	t := p.tier(tier)
	if t == nil || t.tracked(f) {
		return
	}
	t.counts[f] = 1
	t.makeNew(f, p.deps.Clock())
}

func (p *LIFEPolicy) OnItemAccess(f *cache.File, tier types.StorageTier) {
	t := p.tier(tier)
	if t == nil || !t.tracked(f) {
		return
	}
	t.counts[f]++
	t.makeNew(f, p.deps.Clock())
}

func (p *LIFEPolicy) OnItemUpdate(f *cache.File, tier types.StorageTier) {
	t := p.tier(tier)
	if t == nil || !t.newSize.Contains(f) {
		return
	}
	t.newSize.Add(f, p.deps.Clock())
}

func (p *LIFEPolicy) OnItemDelete(f *cache.File, tier types.StorageTier) {
	if t := p.tier(tier); t != nil {
		t.remove(f)
	}
}

func (p *LIFEPolicy) OnReset(tier types.StorageTier) {
	if i, ok := slot(tier); ok {
		p.tiers[i] = newLifeTier()
	}
}

func (p *LIFEPolicy) ItemToEvict(tier types.StorageTier) *cache.File {
	t := p.tier(tier)
	if t == nil {
		return nil
	}
	t.age(p.deps.Clock(), p.window)
	if e, ok := t.old.Min(); ok {
		return e.Item
	}
	if e, ok := t.newSize.Max(); ok {
		return e.Item
	}
	return nil
}

// IsNew reports whether f is currently in the new set of tier.
func (p *LIFEPolicy) IsNew(f *cache.File, tier types.StorageTier) bool {
	t := p.tier(tier)
	return t != nil && t.newLRU.Contains(f)
}

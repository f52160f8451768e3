package policy

import (
	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/internal/config"
	"github.com/cut-dicl/smacc-sub001/internal/weighted"
	"github.com/cut-dicl/smacc-sub001/pkg/errors"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// DefaultEXDAlpha is the decay rate per hour used when none is configured.
const DefaultEXDAlpha = 0.5

func exdAlpha(cfg config.Provider) (float64, error) {
	alpha := cfg.GetFloat64("policy.exd.alpha", DefaultEXDAlpha)
	if alpha < 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidConfig, "policy.exd.alpha must not be negative, got %g", alpha).
			WithComponent("policy").WithOperation("initialize")
	}
	return alpha, nil
}

func topology(cfg config.Provider) (types.Location, error) {
	loc, err := types.ParseLocation(cfg.GetString("topology", types.LocationMemoryDisk.String()))
	if err != nil {
		return types.LocationColdOnly, errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid topology").
			WithComponent("policy").WithOperation("initialize")
	}
	return loc, nil
}

// AlwaysAdmission admits every object to the configured topology.
type AlwaysAdmission struct {
	BasePolicy
	topology types.Location
}

// NewAlwaysAdmission returns an admission policy that never rejects.
func NewAlwaysAdmission(Deps) AdmissionPolicy {
	return &AlwaysAdmission{BasePolicy: BasePolicy{name: "always"}, topology: types.LocationMemoryDisk}
}

// Initialize reads the topology.
func (p *AlwaysAdmission) Initialize(cfg config.Provider) error {
	loc, err := topology(cfg)
	if err != nil {
		return err
	}
	p.topology = loc
	return nil
}

func (p *AlwaysAdmission) ReadAdmissionLocation(types.ObjectInfo) types.Location  { return p.topology }
func (p *AlwaysAdmission) WriteAdmissionLocation(types.ObjectInfo) types.Location { return p.topology }

// EXDAdmission forecasts whether a new object is worth caching. It mirrors
// the EXD eviction ranking and admits an object to a tier only when the tier
// has room or enough lighter objects could be evicted to make room.
type EXDAdmission struct {
	BasePolicy
	deps     Deps
	alpha    float64
	topology types.Location

	indexes [tierSlots]*weighted.SortedIndex[*cache.File]
	byKey   [tierSlots]map[string]*cache.File
}

// NewEXDAdmission returns the EXD forecasting admission policy.
func NewEXDAdmission(deps Deps) AdmissionPolicy {
	p := &EXDAdmission{
		BasePolicy: BasePolicy{name: "exd"},
		deps:       deps.withDefaults(),
		alpha:      DefaultEXDAlpha,
		topology:   types.LocationMemoryDisk,
	}
	p.reset()
	return p
}

func (p *EXDAdmission) reset() {
	for i := range p.indexes {
		p.resetSlot(i)
	}
}

func (p *EXDAdmission) resetSlot(i int) {
	decay := weighted.NewDecay[*cache.File](p.alpha, weighted.DefaultDecayUnit, p.deps.Clock())
	p.indexes[i] = weighted.NewSortedIndex[*cache.File](decay)
	p.byKey[i] = make(map[string]*cache.File)
}

// Initialize reads policy.exd.alpha and the topology.
func (p *EXDAdmission) Initialize(cfg config.Provider) error {
	alpha, err := exdAlpha(cfg)
	if err != nil {
		return err
	}
	loc, err := topology(cfg)
	if err != nil {
		return err
	}
	p.alpha = alpha
	p.topology = loc
	p.reset()
	return nil
}

func (p *EXDAdmission) OnItemAdd(f *cache.File, tier types.StorageTier) {
	i, ok := slot(tier)
	if !ok {
		return
	}
	key := f.SortKey()
	if prev, ok := p.byKey[i][key]; ok && prev != f {
		p.indexes[i].Remove(prev)
	}
	p.byKey[i][key] = f
	if !p.indexes[i].Contains(f) {
		p.indexes[i].Add(f, p.deps.Clock())
	}
}

func (p *EXDAdmission) OnItemAccess(f *cache.File, tier types.StorageTier) {
	if i, ok := slot(tier); ok {
		p.indexes[i].Touch(f, p.deps.Clock())
	}
}

func (p *EXDAdmission) OnItemDelete(f *cache.File, tier types.StorageTier) {
	i, ok := slot(tier)
	if !ok {
		return
	}
	p.indexes[i].Remove(f)
	if cur, ok := p.byKey[i][f.SortKey()]; ok && cur == f {
		delete(p.byKey[i], f.SortKey())
	}
}

func (p *EXDAdmission) OnReset(tier types.StorageTier) {
	if i, ok := slot(tier); ok {
		p.resetSlot(i)
	}
}

func (p *EXDAdmission) ReadAdmissionLocation(info types.ObjectInfo) types.Location {
	return p.admit(info)
}

func (p *EXDAdmission) WriteAdmissionLocation(info types.ObjectInfo) types.Location {
	return p.admit(info)
}

// candidateWeight is the weight the object would have right after being
// admitted: one access on top of whatever it already weighs in any tier.
func (p *EXDAdmission) candidateWeight(key string) float64 {
	now := p.deps.Clock()
	weight := 1.0
	for i := range p.indexes {
		f, ok := p.byKey[i][key]
		if !ok {
			continue
		}
		if e, ok := p.indexes[i].Get(f); ok {
			if w := 1 + p.indexes[i].Current(e, now); w > weight {
				weight = w
			}
		}
	}
	return weight
}

func (p *EXDAdmission) admit(info types.ObjectInfo) types.Location {
	if info.Size < 0 {
		return p.topology
	}
	candidate := p.candidateWeight(info.Bucket + "/" + info.Key)
	memory := p.topology.HasMemory() && p.fits(types.TierMemory, info.Size, candidate)
	disk := p.topology.HasDisk() && p.fits(types.TierDisk, info.Size, candidate)
	return types.LocationOf(memory, disk)
}

// fits simulates eviction in ascending weight order. Objects at least as
// heavy as the candidate are never displaced.
func (p *EXDAdmission) fits(tier types.StorageTier, size int64, candidate float64) bool {
	capacity := p.deps.Usage.Capacity(tier)
	if size > capacity {
		return false
	}
	free := capacity - p.deps.Usage.Usage(tier)
	if free >= size {
		return true
	}
	if free < 0 {
		free = 0
	}

	i, _ := slot(tier)
	idx := p.indexes[i]
	now := p.deps.Clock()
	freed := free
	idx.Ascend(func(e weighted.Entry[*cache.File]) bool {
		if idx.Current(e, now) >= candidate {
			return false
		}
		freed += e.Item.Size()
		return freed < size
	})
	return freed >= size
}

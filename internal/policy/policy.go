// Package policy implements the pluggable admission and eviction framework:
// the policy contracts, the Notifier that keeps every registered policy in
// step with the cache, a name based factory registry and the built-in
// policies.
//
// Policies keep per-tier ranking structures that are not safe for concurrent
// use on their own. The Notifier serializes every notification and every
// capability query, so policies only ever see one call at a time.
package policy

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/internal/config"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// Event identifies a notification kind.
type Event string

const (
	EventAdded    Event = "added"
	EventNotAdded Event = "not_added"
	EventAccessed Event = "accessed"
	EventUpdated  Event = "updated"
	EventDeleted  Event = "deleted"
	EventReset    Event = "reset"
)

// Policy is the notification contract shared by admission, eviction item and
// eviction placement policies.
type Policy interface {
	Name() string
	Initialize(cfg config.Provider) error

	OnItemAdd(f *cache.File, tier types.StorageTier)
	OnItemNotAdded(info types.ObjectInfo, tier types.StorageTier)
	OnItemAccess(f *cache.File, tier types.StorageTier)
	OnItemUpdate(f *cache.File, tier types.StorageTier)
	OnItemDelete(f *cache.File, tier types.StorageTier)
	OnReset(tier types.StorageTier)
}

// AdmissionPolicy decides which tiers receive an object.
type AdmissionPolicy interface {
	Policy
	ReadAdmissionLocation(info types.ObjectInfo) types.Location
	WriteAdmissionLocation(info types.ObjectInfo) types.Location
}

// EvictionItemPolicy ranks the objects of a tier for eviction.
type EvictionItemPolicy interface {
	Policy
	ItemToEvict(tier types.StorageTier) *cache.File
}

// EvictionPlacementPolicy decides what happens to an evicted object.
type EvictionPlacementPolicy interface {
	Policy
	DowngradeOnEviction(f *cache.File, tier types.StorageTier) bool
}

// EvictionTriggerPolicy decides when a tier must evict.
type EvictionTriggerPolicy interface {
	Name() string
	Initialize(cfg config.Provider) error
	TriggerEviction(usage, nextUsage int64, tier types.StorageTier) bool
}

// DiskSelectionPolicy picks the volume receiving a new object.
type DiskSelectionPolicy interface {
	Name() string
	Initialize(cfg config.Provider) error
	SelectDisk(usages []int64) int
}

// UsageReporter exposes the live occupancy of the cache tiers.
type UsageReporter interface {
	Capacity(tier types.StorageTier) int64
	Usage(tier types.StorageTier) int64
}

// Deps carries the collaborators handed to policy constructors.
type Deps struct {
	Usage  UsageReporter
	Clock  func() time.Time
	Logger *logrus.Entry
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Logger == nil {
		d.Logger = logrus.WithField("component", "policy")
	}
	if d.Usage == nil {
		d.Usage = noUsage{}
	}
	return d
}

type noUsage struct{}

func (noUsage) Capacity(types.StorageTier) int64 { return 0 }
func (noUsage) Usage(types.StorageTier) int64    { return 0 }

// BasePolicy provides no-op notifications for embedding.
type BasePolicy struct {
	name string
}

// NewBasePolicy returns a BasePolicy reporting name.
func NewBasePolicy(name string) BasePolicy {
	return BasePolicy{name: name}
}

func (b BasePolicy) Name() string { return b.name }

func (BasePolicy) Initialize(config.Provider) error { return nil }

func (BasePolicy) OnItemAdd(*cache.File, types.StorageTier)           {}
func (BasePolicy) OnItemNotAdded(types.ObjectInfo, types.StorageTier) {}
func (BasePolicy) OnItemAccess(*cache.File, types.StorageTier)        {}
func (BasePolicy) OnItemUpdate(*cache.File, types.StorageTier)        {}
func (BasePolicy) OnItemDelete(*cache.File, types.StorageTier)        {}
func (BasePolicy) OnReset(types.StorageTier)                          {}

// slot maps a cache tier to its per-tier structure index.
func slot(tier types.StorageTier) (int, bool) {
	switch tier {
	case types.TierMemory:
		return 0, true
	case types.TierDisk:
		return 1, true
	default:
		return 0, false
	}
}

const tierSlots = 2

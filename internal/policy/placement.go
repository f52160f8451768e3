package policy

import (
	"strings"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/internal/config"
	"github.com/cut-dicl/smacc-sub001/pkg/errors"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// StaticPlacement always downgrades or always deletes.
type StaticPlacement struct {
	BasePolicy
	downgrade bool
}

// NewStaticPlacement returns a placement policy with a fixed decision.
func NewStaticPlacement(name string, downgrade bool) EvictionPlacementPolicy {
	return &StaticPlacement{BasePolicy: BasePolicy{name: name}, downgrade: downgrade}
}

func (p *StaticPlacement) DowngradeOnEviction(*cache.File, types.StorageTier) bool {
	return p.downgrade
}

// ConfiguredPlacement reads the decision per tier from configuration.
type ConfiguredPlacement struct {
	BasePolicy
	downgrade [tierSlots]bool
}

// NewConfiguredPlacement returns a placement policy that downgrades on every
// tier until configured otherwise.
func NewConfiguredPlacement() EvictionPlacementPolicy {
	return &ConfiguredPlacement{
		BasePolicy: BasePolicy{name: "configured"},
		downgrade:  [tierSlots]bool{true, true},
	}
}

// Initialize reads policy.placement.memory and policy.placement.disk.
func (p *ConfiguredPlacement) Initialize(cfg config.Provider) error {
	for tier, key := range map[types.StorageTier]string{
		types.TierMemory: "policy.placement.memory",
		types.TierDisk:   "policy.placement.disk",
	} {
		i, _ := slot(tier)
		switch action := strings.ToLower(cfg.GetString(key, "downgrade")); action {
		case "downgrade":
			p.downgrade[i] = true
		case "delete":
			p.downgrade[i] = false
		default:
			return errors.Newf(errors.ErrCodeInvalidConfig, "%s must be downgrade or delete, got %q", key, action).
				WithComponent("policy").WithOperation("initialize")
		}
	}
	return nil
}

func (p *ConfiguredPlacement) DowngradeOnEviction(_ *cache.File, tier types.StorageTier) bool {
	i, ok := slot(tier)
	return ok && p.downgrade[i]
}

// DefaultTriggerThreshold is the usage percentage that starts eviction.
const DefaultTriggerThreshold = 90.0

// ThresholdTrigger starts eviction once the bytes a tier holds beyond what
// the next tier already holds cross a percentage of its capacity.
type ThresholdTrigger struct {
	deps      Deps
	threshold float64
}

// NewThresholdTrigger returns a threshold trigger at DefaultTriggerThreshold.
func NewThresholdTrigger(deps Deps) EvictionTriggerPolicy {
	return &ThresholdTrigger{deps: deps.withDefaults(), threshold: DefaultTriggerThreshold}
}

func (p *ThresholdTrigger) Name() string { return "threshold" }

// Initialize reads policy.trigger.threshold.
func (p *ThresholdTrigger) Initialize(cfg config.Provider) error {
	threshold := cfg.GetFloat64("policy.trigger.threshold", DefaultTriggerThreshold)
	if threshold <= 0 || threshold > 100 {
		return errors.Newf(errors.ErrCodeInvalidConfig, "policy.trigger.threshold must be in (0, 100], got %g", threshold).
			WithComponent("policy").WithOperation("initialize")
	}
	p.threshold = threshold
	return nil
}

// Threshold returns the configured percentage.
func (p *ThresholdTrigger) Threshold() float64 {
	return p.threshold
}

func (p *ThresholdTrigger) TriggerEviction(usage, nextUsage int64, tier types.StorageTier) bool {
	capacity := p.deps.Usage.Capacity(tier)
	if capacity <= 0 {
		return usage > 0
	}
	net := usage - nextUsage
	if net < 0 {
		net = 0
	}
	return float64(net)*100 >= p.threshold*float64(capacity)
}

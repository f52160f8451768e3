package policy

import (
	"sort"
	"strings"
	"sync"

	"github.com/cut-dicl/smacc-sub001/internal/config"
	"github.com/cut-dicl/smacc-sub001/pkg/errors"
)

// Factory builds an uninitialized policy.
type Factory[T any] func(deps Deps) T

type initializer interface {
	Initialize(cfg config.Provider) error
}

type registry[T initializer] struct {
	mu        sync.RWMutex
	kind      string
	factories map[string]Factory[T]
}

func newRegistry[T initializer](kind string) *registry[T] {
	return &registry[T]{kind: kind, factories: make(map[string]Factory[T])}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *registry[T]) register(name string, f Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeName(name)] = f
}

func (r *registry[T]) build(name string, cfg config.Provider, deps Deps) (T, error) {
	var zero T

	r.mu.RLock()
	f, ok := r.factories[normalizeName(name)]
	r.mu.RUnlock()
	if !ok {
		return zero, errors.Newf(errors.ErrCodeUnknownPolicy, "unknown %s policy %q", r.kind, name).
			WithComponent("policy").WithOperation("build").
			WithDetail("known", r.names())
	}

	p := f(deps.withDefaults())
	if cfg == nil {
		cfg = config.MapProvider{}
	}
	if err := p.Initialize(cfg); err != nil {
		return zero, errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to initialize "+r.kind+" policy "+name).
			WithComponent("policy").WithOperation("build")
	}
	return p, nil
}

func (r *registry[T]) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var (
	admissionPolicies = newRegistry[AdmissionPolicy]("admission")
	evictionPolicies  = newRegistry[EvictionItemPolicy]("eviction item")
	placementPolicies = newRegistry[EvictionPlacementPolicy]("eviction placement")
	triggerPolicies   = newRegistry[EvictionTriggerPolicy]("eviction trigger")
	diskPolicies      = newRegistry[DiskSelectionPolicy]("disk selection")
)

func init() {
	admissionPolicies.register("always", func(d Deps) AdmissionPolicy { return NewAlwaysAdmission(d) })
	admissionPolicies.register("exd", func(d Deps) AdmissionPolicy { return NewEXDAdmission(d) })

	evictionPolicies.register("fifo", func(d Deps) EvictionItemPolicy { return NewFIFO(d) })
	evictionPolicies.register("lru", func(d Deps) EvictionItemPolicy { return NewLRU(d) })
	evictionPolicies.register("mru", func(d Deps) EvictionItemPolicy { return NewMRU(d) })
	evictionPolicies.register("lfu", func(d Deps) EvictionItemPolicy { return NewLFU(d) })
	evictionPolicies.register("exd", func(d Deps) EvictionItemPolicy { return NewEXD(d) })
	evictionPolicies.register("life", func(d Deps) EvictionItemPolicy { return NewLIFE(d) })

	placementPolicies.register("downgrade", func(d Deps) EvictionPlacementPolicy { return NewStaticPlacement("downgrade", true) })
	placementPolicies.register("delete", func(d Deps) EvictionPlacementPolicy { return NewStaticPlacement("delete", false) })
	placementPolicies.register("configured", func(d Deps) EvictionPlacementPolicy { return NewConfiguredPlacement() })

	triggerPolicies.register("threshold", func(d Deps) EvictionTriggerPolicy { return NewThresholdTrigger(d) })

	diskPolicies.register("round_robin", func(d Deps) DiskSelectionPolicy { return NewRoundRobin() })
	diskPolicies.register("lowest_usage", func(d Deps) DiskSelectionPolicy { return NewLowestUsage() })
}

// NewAdmissionPolicy builds and initializes the admission policy registered as name.
func NewAdmissionPolicy(name string, cfg config.Provider, deps Deps) (AdmissionPolicy, error) {
	return admissionPolicies.build(name, cfg, deps)
}

// NewEvictionItemPolicy builds and initializes the eviction item policy registered as name.
func NewEvictionItemPolicy(name string, cfg config.Provider, deps Deps) (EvictionItemPolicy, error) {
	return evictionPolicies.build(name, cfg, deps)
}

// NewPlacementPolicy builds and initializes the eviction placement policy registered as name.
func NewPlacementPolicy(name string, cfg config.Provider, deps Deps) (EvictionPlacementPolicy, error) {
	return placementPolicies.build(name, cfg, deps)
}

// NewTriggerPolicy builds and initializes the eviction trigger policy registered as name.
func NewTriggerPolicy(name string, cfg config.Provider, deps Deps) (EvictionTriggerPolicy, error) {
	return triggerPolicies.build(name, cfg, deps)
}

// NewDiskSelectionPolicy builds and initializes the disk selection policy registered as name.
func NewDiskSelectionPolicy(name string, cfg config.Provider, deps Deps) (DiskSelectionPolicy, error) {
	return diskPolicies.build(name, cfg, deps)
}

// RegisterAdmissionPolicy adds or replaces an admission policy factory.
func RegisterAdmissionPolicy(name string, f Factory[AdmissionPolicy]) {
	admissionPolicies.register(name, f)
}

// RegisterEvictionItemPolicy adds or replaces an eviction item policy factory.
func RegisterEvictionItemPolicy(name string, f Factory[EvictionItemPolicy]) {
	evictionPolicies.register(name, f)
}

// Names lists the registered policy names per kind.
func Names() map[string][]string {
	return map[string][]string{
		admissionPolicies.kind: admissionPolicies.names(),
		evictionPolicies.kind:  evictionPolicies.names(),
		placementPolicies.kind: placementPolicies.names(),
		triggerPolicies.kind:   triggerPolicies.names(),
		diskPolicies.kind:      diskPolicies.names(),
	}
}

package policy

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/internal/metrics"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// Notifier fans cache events out to the registered policies in registration
// order and answers capability queries. Every call holds the notifier lock,
// so no policy is consulted while another is half way through an update.
type Notifier struct {
	mu       sync.Mutex
	policies []Policy

	metrics *metrics.Collector
	logger  *logrus.Entry
}

// NewNotifier creates a notifier. collector may be nil.
func NewNotifier(collector *metrics.Collector, logger *logrus.Entry) *Notifier {
	if logger == nil {
		logger = logrus.WithField("component", "notifier")
	}
	return &Notifier{metrics: collector, logger: logger}
}

// Register appends p unless it is already registered.
func (n *Notifier) Register(p Policy) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, cur := range n.policies {
		if cur == p {
			return
		}
	}
	n.policies = append(n.policies, p)
}

// Policies returns the registered policies in order.
func (n *Notifier) Policies() []Policy {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Policy(nil), n.policies...)
}

func (n *Notifier) each(event Event, tier types.StorageTier, fn func(Policy)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.policies {
		fn(p)
	}
	n.metrics.RecordPolicyEvent(string(event), tier)
}

// Added reports that f now lives in tier.
func (n *Notifier) Added(f *cache.File, tier types.StorageTier) {
	n.each(EventAdded, tier, func(p Policy) { p.OnItemAdd(f, tier) })
}

// NotAdded reports that an object was refused by tier.
func (n *Notifier) NotAdded(info types.ObjectInfo, tier types.StorageTier) {
	n.each(EventNotAdded, tier, func(p Policy) { p.OnItemNotAdded(info, tier) })
}

// Accessed reports a read of f served from tier.
func (n *Notifier) Accessed(f *cache.File, tier types.StorageTier) {
	n.each(EventAccessed, tier, func(p Policy) { p.OnItemAccess(f, tier) })
	n.logger.WithFields(logrus.Fields{
		"bucket": f.Bucket(),
		"key":    f.Key(),
		"tier":   tier.String(),
	}).Debug("Object accessed")
}

// Updated reports that f changed in place.
func (n *Notifier) Updated(f *cache.File, tier types.StorageTier) {
	n.each(EventUpdated, tier, func(p Policy) { p.OnItemUpdate(f, tier) })
}

// Deleted reports that f left tier.
func (n *Notifier) Deleted(f *cache.File, tier types.StorageTier) {
	n.each(EventDeleted, tier, func(p Policy) { p.OnItemDelete(f, tier) })
}

// Reset reports that tier was emptied.
func (n *Notifier) Reset(tier types.StorageTier) {
	n.each(EventReset, tier, func(p Policy) { p.OnReset(tier) })
}

// ItemToEvict asks the eviction item policies in order and returns the first
// candidate.
func (n *Notifier) ItemToEvict(tier types.StorageTier) *cache.File {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.policies {
		if ep, ok := p.(EvictionItemPolicy); ok {
			if f := ep.ItemToEvict(tier); f != nil {
				return f
			}
		}
	}
	return nil
}

// DowngradeOnEviction asks the first placement policy. Without one, evicted
// objects are downgraded.
func (n *Notifier) DowngradeOnEviction(f *cache.File, tier types.StorageTier) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.policies {
		if pp, ok := p.(EvictionPlacementPolicy); ok {
			return pp.DowngradeOnEviction(f, tier)
		}
	}
	return true
}

// WriteAdmissionLocation asks the first admission policy where a new object
// goes. Without one, def is returned.
func (n *Notifier) WriteAdmissionLocation(info types.ObjectInfo, def types.Location) types.Location {
	loc := n.admission(def, func(ap AdmissionPolicy) types.Location { return ap.WriteAdmissionLocation(info) })
	n.metrics.RecordAdmission("write", loc)
	return loc
}

// ReadAdmissionLocation asks the first admission policy where an object read
// from cold storage goes. Without one, def is returned.
func (n *Notifier) ReadAdmissionLocation(info types.ObjectInfo, def types.Location) types.Location {
	loc := n.admission(def, func(ap AdmissionPolicy) types.Location { return ap.ReadAdmissionLocation(info) })
	n.metrics.RecordAdmission("read", loc)
	return loc
}

func (n *Notifier) admission(def types.Location, fn func(AdmissionPolicy) types.Location) types.Location {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.policies {
		if ap, ok := p.(AdmissionPolicy); ok {
			return fn(ap)
		}
	}
	return def
}

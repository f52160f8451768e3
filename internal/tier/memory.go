package tier

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// RecoveryHint names an object that was COMPLETE in memory before a restart.
// The bytes are gone; the orchestrator may refill the object from a lower tier.
type RecoveryHint struct {
	cache.Descriptor
	// Name is the persisted state marker behind the hint.
	Name string
}

// MemoryManager is the memory tier. Block data lives in a volatile backend
// while state markers may be kept on disk so a restart can produce hints.
type MemoryManager struct {
	*manager
}

// NewMemoryManager creates the memory tier over a single volume.
func NewMemoryManager(vol *cache.Volume, opts ...Option) *MemoryManager {
	return &MemoryManager{manager: newManager(types.TierMemory, []*cache.Volume{vol}, opts)}
}

// Create registers a new INCOMPLETE file. A current file of the same key is
// deleted and returned as replaced.
func (m *MemoryManager) Create(bucket, key string, length int64, opts ...CreateOption) (f, replaced *cache.File, err error) {
	return m.create(m.volumes[0], bucket, key, length, opts)
}

// Recover scans the state markers left by a previous run. Memory contents do
// not survive a restart, so nothing is registered: COMPLETE markers become
// hints and every other marker is removed.
func (m *MemoryManager) Recover(ctx context.Context) ([]RecoveryHint, error) {
	vol := m.volumes[0]
	s := &scanner{vol: vol, logger: m.logger}

	// stale data from a persistent data backend is never trusted
	if names, err := vol.Data.List(); err == nil {
		for _, name := range names {
			s.removeData(name, ReasonNotComplete)
		}
	}

	entries, err := s.states(ctx)
	if err != nil {
		return nil, err
	}

	var hints []RecoveryHint
	for _, e := range entries {
		if e.state != cache.StateComplete {
			s.removeState(e.name, ReasonNotComplete)
			continue
		}
		m.reg.seedVersion(e.desc.Bucket, e.desc.Key, e.desc.Version)
		hints = append(hints, RecoveryHint{Descriptor: e.desc, Name: e.name})
	}
	sort.Slice(hints, func(i, j int) bool { return hints[i].Name < hints[j].Name })

	m.logger.WithFields(logrus.Fields{
		"hints":   len(hints),
		"removed": len(s.removed),
	}).Info("Memory tier recovered")
	return hints, nil
}

// DiscardHints removes the markers behind processed hints.
func (m *MemoryManager) DiscardHints(hints []RecoveryHint) {
	vol := m.volumes[0]
	for _, h := range hints {
		if err := vol.State.Remove(h.Name); err != nil {
			m.logger.WithError(err).WithField("name", h.Name).Warn("Failed to discard recovery hint")
		}
	}
}

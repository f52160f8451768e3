package policy

import (
	"sync/atomic"

	"github.com/cut-dicl/smacc-sub001/internal/config"
)

// RoundRobin cycles through the volumes.
type RoundRobin struct {
	next atomic.Uint64
}

// NewRoundRobin returns a round robin disk selection policy.
func NewRoundRobin() DiskSelectionPolicy { return &RoundRobin{} }

func (*RoundRobin) Name() string                     { return "round_robin" }
func (*RoundRobin) Initialize(config.Provider) error { return nil }

// SelectDisk returns the next volume index, or -1 without volumes.
func (p *RoundRobin) SelectDisk(usages []int64) int {
	if len(usages) == 0 {
		return -1
	}
	n := p.next.Add(1) - 1
	return int(n % uint64(len(usages)))
}

// LowestUsage picks the volume holding the fewest bytes.
type LowestUsage struct{}

// NewLowestUsage returns a lowest usage disk selection policy.
func NewLowestUsage() DiskSelectionPolicy { return LowestUsage{} }

func (LowestUsage) Name() string                     { return "lowest_usage" }
func (LowestUsage) Initialize(config.Provider) error { return nil }

// SelectDisk returns the index with the smallest usage; ties go to the lowest
// index. It returns -1 without volumes.
func (LowestUsage) SelectDisk(usages []int64) int {
	best := -1
	for i, u := range usages {
		if best < 0 || u < usages[best] {
			best = i
		}
	}
	return best
}

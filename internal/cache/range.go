package cache

import (
	"fmt"
	"math"
)

// Unknown marks an unknown stop offset or object size.
const Unknown int64 = -1

// Range is an inclusive byte range. A Stop of Unknown means the range extends
// to wherever the writer stops.
type Range struct {
	Start int64
	Stop  int64
}

// Known reports whether the stop offset is known.
func (r Range) Known() bool {
	return r.Stop >= 0
}

// Length returns the number of bytes covered, or Unknown.
func (r Range) Length() int64 {
	if !r.Known() {
		return Unknown
	}
	return r.Stop - r.Start + 1
}

// end returns the last offset, treating an unknown stop as unbounded.
func (r Range) end() int64 {
	if !r.Known() {
		return math.MaxInt64
	}
	return r.Stop
}

// Overlaps reports whether the two ranges share at least one offset.
func (r Range) Overlaps(o Range) bool {
	return r.Start <= o.end() && o.Start <= r.end()
}

// Contains reports whether off lies inside the range.
func (r Range) Contains(off int64) bool {
	return off >= r.Start && off <= r.end()
}

// Valid reports whether the range is well formed.
func (r Range) Valid() bool {
	return r.Start >= 0 && (r.Stop == Unknown || r.Stop >= r.Start)
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.Stop)
}

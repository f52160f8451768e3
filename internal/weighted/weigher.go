// Package weighted provides the ranking structures used by cache policies:
// a weight-ordered index with direct lookup and an access-ordered list.
//
// None of the structures are safe for concurrent use. Policies serialize
// access per tier.
package weighted

import (
	"math"
	"time"
)

// Item is anything a policy ranks. SortKey breaks weight ties.
type Item interface {
	comparable
	SortKey() string
	Size() int64
	LastAccessed() time.Time
}

// Weigher computes the stored key of an entry. Stored keys must keep their
// relative order as time passes; Current maps a stored key back to the
// weight it represents at a given moment.
type Weigher[T Item] interface {
	Initial(item T, now time.Time) float64
	Accessed(item T, stored float64, now time.Time) float64
	Current(stored float64, now time.Time) float64
}

// Frequency weighs items by access count.
type Frequency[T Item] struct{}

func (Frequency[T]) Initial(T, time.Time) float64 { return 1 }

func (Frequency[T]) Accessed(_ T, stored float64, _ time.Time) float64 { return stored + 1 }

func (Frequency[T]) Current(stored float64, _ time.Time) float64 { return stored }

// Size weighs items by their size in bytes.
type Size[T Item] struct{}

func (Size[T]) Initial(item T, _ time.Time) float64 { return float64(item.Size()) }

func (Size[T]) Accessed(item T, _ float64, _ time.Time) float64 { return float64(item.Size()) }

func (Size[T]) Current(stored float64, _ time.Time) float64 { return stored }

// DefaultDecayUnit is the time unit ALPHA is expressed in.
const DefaultDecayUnit = time.Hour

// Decay is the exponential-decay weigher. A fresh item weighs 1, an item
// last touched Δ units ago weighs exp(-Alpha*Δ), and every access sets the
// weight to 1 plus the decayed previous weight.
//
// Weights are stored as ln(w) + Alpha*s(t) where s(t) is time since Origin in
// units. Every weight decays at the same rate, so this key never reorders.
type Decay[T Item] struct {
	Alpha  float64
	Unit   time.Duration
	Origin time.Time
}

// NewDecay returns a decay weigher anchored at origin.
func NewDecay[T Item](alpha float64, unit time.Duration, origin time.Time) Decay[T] {
	if unit <= 0 {
		unit = DefaultDecayUnit
	}
	return Decay[T]{Alpha: alpha, Unit: unit, Origin: origin}
}

func (d Decay[T]) units(t time.Time) float64 {
	unit := d.Unit
	if unit <= 0 {
		unit = DefaultDecayUnit
	}
	return float64(t.Sub(d.Origin)) / float64(unit)
}

func (d Decay[T]) store(weight float64, now time.Time) float64 {
	return math.Log(weight) + d.Alpha*d.units(now)
}

// Initial decays the item from its last access time. Values that round to a
// fresh item collapse to exactly 1.
func (d Decay[T]) Initial(item T, now time.Time) float64 {
	return d.store(d.Fresh(item.LastAccessed(), now), now)
}

// Fresh returns the decayed weight of an item last touched at last.
func (d Decay[T]) Fresh(last, now time.Time) float64 {
	age := d.units(now) - d.units(last)
	if age <= 0 {
		return 1
	}
	w := math.Exp(-d.Alpha * age)
	if math.Round(w*1000)/1000 >= 1 {
		return 1
	}
	return w
}

func (d Decay[T]) Accessed(_ T, stored float64, now time.Time) float64 {
	return d.store(1+d.Current(stored, now), now)
}

func (d Decay[T]) Current(stored float64, now time.Time) float64 {
	return math.Exp(stored - d.Alpha*d.units(now))
}

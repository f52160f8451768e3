package weighted

import (
	"time"

	"github.com/google/btree"
)

const btreeDegree = 16

// Entry is a disposable wrapper attaching a stored weight to an item.
type Entry[T Item] struct {
	Item      T
	Weight    float64
	UpdatedAt time.Time

	seq uint64
}

// SortedIndex keeps entries ordered by weight with O(log n) insert, update,
// delete, min and max, plus O(1) lookup by item.
type SortedIndex[T Item] struct {
	weigher Weigher[T]
	tree    *btree.BTreeG[*Entry[T]]
	entries map[T]*Entry[T]
	seq     uint64
}

// NewSortedIndex creates an empty index ranked by w.
func NewSortedIndex[T Item](w Weigher[T]) *SortedIndex[T] {
	return &SortedIndex[T]{
		weigher: w,
		tree:    btree.NewG[*Entry[T]](btreeDegree, lessEntry[T]),
		entries: make(map[T]*Entry[T]),
	}
}

func lessEntry[T Item](a, b *Entry[T]) bool {
	if a.Weight != b.Weight {
		return a.Weight < b.Weight
	}
	if ak, bk := a.Item.SortKey(), b.Item.SortKey(); ak != bk {
		return ak < bk
	}
	return a.seq < b.seq
}

// Weigher returns the weigher ranking the index.
func (s *SortedIndex[T]) Weigher() Weigher[T] {
	return s.weigher
}

// Add inserts item with its initial weight, replacing any existing entry.
func (s *SortedIndex[T]) Add(item T, now time.Time) Entry[T] {
	return s.Set(item, s.weigher.Initial(item, now), now)
}

// Set stores item with an explicit stored weight.
func (s *SortedIndex[T]) Set(item T, weight float64, now time.Time) Entry[T] {
	if old, ok := s.entries[item]; ok {
		s.tree.Delete(old)
	}
	s.seq++
	e := &Entry[T]{Item: item, Weight: weight, UpdatedAt: now, seq: s.seq}
	s.entries[item] = e
	s.tree.ReplaceOrInsert(e)
	return *e
}

// Touch applies an access to item. It reports false when item is absent.
func (s *SortedIndex[T]) Touch(item T, now time.Time) (Entry[T], bool) {
	e, ok := s.entries[item]
	if !ok {
		return Entry[T]{}, false
	}
	s.tree.Delete(e)
	e.Weight = s.weigher.Accessed(item, e.Weight, now)
	e.UpdatedAt = now
	s.tree.ReplaceOrInsert(e)
	return *e, true
}

// Remove deletes item from the index.
func (s *SortedIndex[T]) Remove(item T) bool {
	e, ok := s.entries[item]
	if !ok {
		return false
	}
	s.tree.Delete(e)
	delete(s.entries, item)
	return true
}

// Get returns the entry of item.
func (s *SortedIndex[T]) Get(item T) (Entry[T], bool) {
	e, ok := s.entries[item]
	if !ok {
		return Entry[T]{}, false
	}
	return *e, true
}

// Contains reports whether item is indexed.
func (s *SortedIndex[T]) Contains(item T) bool {
	_, ok := s.entries[item]
	return ok
}

// Min returns the lowest weighted entry.
func (s *SortedIndex[T]) Min() (Entry[T], bool) {
	e, ok := s.tree.Min()
	if !ok {
		return Entry[T]{}, false
	}
	return *e, true
}

// Max returns the highest weighted entry.
func (s *SortedIndex[T]) Max() (Entry[T], bool) {
	e, ok := s.tree.Max()
	if !ok {
		return Entry[T]{}, false
	}
	return *e, true
}

// Ascend calls fn for entries in ascending weight order until fn returns false.
func (s *SortedIndex[T]) Ascend(fn func(Entry[T]) bool) {
	s.tree.Ascend(func(e *Entry[T]) bool {
		return fn(*e)
	})
}

// Current returns the weight an entry represents at now.
func (s *SortedIndex[T]) Current(e Entry[T], now time.Time) float64 {
	return s.weigher.Current(e.Weight, now)
}

// Len returns the number of entries.
func (s *SortedIndex[T]) Len() int {
	return len(s.entries)
}

// Clear drops every entry.
func (s *SortedIndex[T]) Clear() {
	s.tree.Clear(false)
	s.entries = make(map[T]*Entry[T])
}

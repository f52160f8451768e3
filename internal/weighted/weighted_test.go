package weighted

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	name string
	size int64
	last time.Time
}

func (i *testItem) SortKey() string         { return i.name }
func (i *testItem) Size() int64             { return i.size }
func (i *testItem) LastAccessed() time.Time { return i.last }

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func item(name string, size int64) *testItem {
	return &testItem{name: name, size: size, last: epoch}
}

func keys(s *SortedIndex[*testItem]) []string {
	var out []string
	s.Ascend(func(e Entry[*testItem]) bool {
		out = append(out, e.Item.name)
		return true
	})
	return out
}

func TestSortedIndexFrequency(t *testing.T) {
	idx := NewSortedIndex[*testItem](Frequency[*testItem]{})
	a, b, c := item("a", 1), item("b", 1), item("c", 1)

	idx.Add(c, epoch)
	idx.Add(a, epoch)
	idx.Add(b, epoch)

	// ties resolved by sort key
	assert.Equal(t, []string{"a", "b", "c"}, keys(idx))

	idx.Touch(a, epoch)
	idx.Touch(a, epoch)
	idx.Touch(c, epoch)

	assert.Equal(t, []string{"b", "c", "a"}, keys(idx))

	min, ok := idx.Min()
	require.True(t, ok)
	assert.Equal(t, "b", min.Item.name)

	max, ok := idx.Max()
	require.True(t, ok)
	assert.Equal(t, "a", max.Item.name)
	assert.Equal(t, 3.0, max.Weight)

	assert.True(t, idx.Remove(b))
	assert.False(t, idx.Remove(b))
	assert.Equal(t, 2, idx.Len())

	_, ok = idx.Touch(b, epoch)
	assert.False(t, ok)

	idx.Clear()
	assert.Zero(t, idx.Len())
	_, ok = idx.Min()
	assert.False(t, ok)
}

func TestSortedIndexSameSortKeyDistinctItems(t *testing.T) {
	idx := NewSortedIndex[*testItem](Frequency[*testItem]{})
	v1, v2 := item("same", 1), item("same", 1)

	idx.Add(v1, epoch)
	idx.Add(v2, epoch)
	assert.Equal(t, 2, idx.Len())

	idx.Remove(v1)
	min, ok := idx.Min()
	require.True(t, ok)
	assert.Same(t, v2, min.Item)
}

func TestSortedIndexSize(t *testing.T) {
	idx := NewSortedIndex[*testItem](Size[*testItem]{})
	idx.Add(item("small", 10), epoch)
	idx.Add(item("large", 1000), epoch)
	idx.Add(item("medium", 100), epoch)

	assert.Equal(t, []string{"small", "medium", "large"}, keys(idx))
}

func TestDecayWeights(t *testing.T) {
	d := NewDecay[*testItem](0.5, time.Hour, epoch)
	idx := NewSortedIndex[*testItem](d)

	a := item("a", 1)
	e := idx.Add(a, epoch)
	assert.InDelta(t, 1.0, idx.Current(e, epoch), 1e-9)

	// decays strictly between accesses
	prev := idx.Current(e, epoch)
	for h := 1; h <= 5; h++ {
		now := epoch.Add(time.Duration(h) * time.Hour)
		cur := idx.Current(e, now)
		assert.Less(t, cur, prev)
		assert.InDelta(t, math.Exp(-0.5*float64(h)), cur, 1e-9)
		prev = cur
	}

	// access: 1 + decayed previous weight
	now := epoch.Add(2 * time.Hour)
	e, ok := idx.Touch(a, now)
	require.True(t, ok)
	assert.InDelta(t, 1+math.Exp(-1), idx.Current(e, now), 1e-9)
	assert.GreaterOrEqual(t, idx.Current(e, now), 1.0)
}

func TestDecayInitialUsesLastAccess(t *testing.T) {
	d := NewDecay[*testItem](1, time.Hour, epoch)

	stale := &testItem{name: "stale", last: epoch}
	now := epoch.Add(3 * time.Hour)
	assert.InDelta(t, math.Exp(-3), d.Current(d.Initial(stale, now), now), 1e-9)

	fresh := &testItem{name: "fresh", last: now.Add(-time.Millisecond)}
	assert.Equal(t, 1.0, d.Fresh(fresh.last, now))
}

func TestDecayOrderingStableOverTime(t *testing.T) {
	d := NewDecay[*testItem](0.5, time.Hour, epoch)
	idx := NewSortedIndex[*testItem](d)

	old := item("old", 1)
	idx.Add(old, epoch)
	idx.Touch(old, epoch)
	idx.Touch(old, epoch) // weight 3 at epoch

	young := item("young", 1)
	youngAt := epoch.Add(4 * time.Hour)
	young.last = youngAt
	idx.Add(young, youngAt) // weight 1 at +4h, old is 3*e^-2 ~ 0.41

	min, ok := idx.Min()
	require.True(t, ok)
	assert.Equal(t, "old", min.Item.name)

	later := epoch.Add(10 * time.Hour)
	oldE, _ := idx.Get(old)
	youngE, _ := idx.Get(young)
	assert.Less(t, idx.Current(oldE, later), idx.Current(youngE, later))
}

func TestAccessList(t *testing.T) {
	l := NewAccessList[string]()
	l.PushFront("a")
	l.PushFront("b")
	l.PushFront("c")

	front, _ := l.Front()
	back, _ := l.Back()
	assert.Equal(t, "c", front)
	assert.Equal(t, "a", back)

	assert.True(t, l.MoveToFront("a"))
	back, _ = l.Back()
	assert.Equal(t, "b", back)

	assert.True(t, l.MoveToBack("c"))
	back, _ = l.Back()
	assert.Equal(t, "c", back)

	l.PushFront("b") // present: moves
	assert.Equal(t, 3, l.Len())
	front, _ = l.Front()
	assert.Equal(t, "b", front)

	var order []string
	l.EachFromBack(func(s string) bool {
		order = append(order, s)
		if s == "a" {
			l.Remove(s)
		}
		return true
	})
	assert.Equal(t, []string{"c", "a", "b"}, order)
	assert.False(t, l.Contains("a"))
	assert.False(t, l.MoveToFront("a"))

	l.Clear()
	_, ok := l.Front()
	assert.False(t, ok)
}

func TestAccessListLRUOrdering(t *testing.T) {
	l := NewAccessList[string]()
	for _, k := range []string{"k1", "k2", "k3"} {
		l.PushFront(k)
	}
	// access sequence with repeats
	for _, k := range []string{"k1", "k3", "k1", "k2", "k3"} {
		l.MoveToFront(k)
	}
	back, ok := l.Back()
	require.True(t, ok)
	assert.Equal(t, "k1", back)
}

package weighted

import "container/list"

// AccessList is a doubly linked list with O(1) lookup, move-to-front and
// move-to-back. The front holds the most recently pushed or moved item.
type AccessList[T comparable] struct {
	ll    *list.List
	index map[T]*list.Element
}

// NewAccessList creates an empty list.
func NewAccessList[T comparable]() *AccessList[T] {
	return &AccessList[T]{
		ll:    list.New(),
		index: make(map[T]*list.Element),
	}
}

// PushFront inserts item at the front, moving it there if already present.
func (l *AccessList[T]) PushFront(item T) {
	if el, ok := l.index[item]; ok {
		l.ll.MoveToFront(el)
		return
	}
	l.index[item] = l.ll.PushFront(item)
}

// PushBack inserts item at the back, moving it there if already present.
func (l *AccessList[T]) PushBack(item T) {
	if el, ok := l.index[item]; ok {
		l.ll.MoveToBack(el)
		return
	}
	l.index[item] = l.ll.PushBack(item)
}

// MoveToFront moves a present item to the front.
func (l *AccessList[T]) MoveToFront(item T) bool {
	el, ok := l.index[item]
	if ok {
		l.ll.MoveToFront(el)
	}
	return ok
}

// MoveToBack moves a present item to the back.
func (l *AccessList[T]) MoveToBack(item T) bool {
	el, ok := l.index[item]
	if ok {
		l.ll.MoveToBack(el)
	}
	return ok
}

// Remove deletes item from the list.
func (l *AccessList[T]) Remove(item T) bool {
	el, ok := l.index[item]
	if ok {
		l.ll.Remove(el)
		delete(l.index, item)
	}
	return ok
}

// Contains reports whether item is present.
func (l *AccessList[T]) Contains(item T) bool {
	_, ok := l.index[item]
	return ok
}

// Front returns the most recent item.
func (l *AccessList[T]) Front() (T, bool) {
	var zero T
	el := l.ll.Front()
	if el == nil {
		return zero, false
	}
	return el.Value.(T), true
}

// Back returns the least recent item.
func (l *AccessList[T]) Back() (T, bool) {
	var zero T
	el := l.ll.Back()
	if el == nil {
		return zero, false
	}
	return el.Value.(T), true
}

// EachFromBack calls fn from the back toward the front until fn returns false.
// fn may remove the item it is given.
func (l *AccessList[T]) EachFromBack(fn func(T) bool) {
	for el := l.ll.Back(); el != nil; {
		prev := el.Prev()
		if !fn(el.Value.(T)) {
			return
		}
		el = prev
	}
}

// Len returns the number of items.
func (l *AccessList[T]) Len() int {
	return l.ll.Len()
}

// Clear drops every item.
func (l *AccessList[T]) Clear() {
	l.ll.Init()
	l.index = make(map[T]*list.Element)
}

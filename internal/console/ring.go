package console

import "sync"

// Ring is a fixed-size buffer that keeps the most recent items.
// When full, a push overwrites the oldest item.
type Ring[T any] struct {
	buf  []T
	size int
	head int // write position
	tail int // oldest item
	full bool
	mu   sync.RWMutex
}

// NewRing creates a ring holding up to size items. A size <= 0 defaults to 100.
func NewRing[T any](size int) *Ring[T] {
	if size <= 0 {
		size = 100
	}
	return &Ring[T]{
		buf:  make([]T, size),
		size: size,
	}
}

// Push appends v, evicting the oldest item when full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.full {
		r.tail = (r.tail + 1) % r.size
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % r.size
	if r.head == r.tail {
		r.full = true
	}
}

// Items returns the buffered items, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.lenLocked()
	out := make([]T, 0, n)
	for i := range n {
		out = append(out, r.buf[(r.tail+i)%r.size])
	}
	return out
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lenLocked()
}

func (r *Ring[T]) lenLocked() int {
	switch {
	case r.full:
		return r.size
	case r.head >= r.tail:
		return r.head - r.tail
	default:
		return r.size - r.tail + r.head
	}
}

// Reset drops every item.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.buf)
	r.head = 0
	r.tail = 0
	r.full = false
}

// Capacity returns the maximum number of items.
func (r *Ring[T]) Capacity() int {
	return r.size
}

// Package queue provides a fixed-capacity ring buffer that evicts its oldest
// item when full.
package queue

// Ring is a fixed-capacity circular buffer that overwrites its oldest item
// when full. The backing array is allocated once and never grows.
//
// Ring is NOT goroutine-safe; callers guard it with their own lock.
type Ring[T any] struct {
	items []T
	head  int // index of the oldest item
	size  int
}

// NewRing creates a Ring holding at most capacity items. It panics if capacity < 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		panic("queue: ring capacity must be >= 1")
	}

	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends v at the write cursor. When the ring is full the oldest item
// is overwritten and returned with evicted set to true.
func (r *Ring[T]) Push(v T) (old T, evicted bool) {
	if r.size < len(r.items) {
		r.items[(r.head+r.size)%len(r.items)] = v
		r.size++

		return old, false
	}

	old = r.items[r.head]
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)

	return old, true
}

// At returns the i-th item counting from the oldest. It panics if i is out of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.size {
		panic("queue: ring index out of range")
	}

	return r.items[(r.head+i)%len(r.items)]
}

// Each calls fn for every item from oldest to newest until fn returns false.
func (r *Ring[T]) Each(fn func(i int, v T) bool) {
	for i := 0; i < r.size; i++ {
		if !fn(i, r.items[(r.head+i)%len(r.items)]) {
			return
		}
	}
}

// Len returns the number of items in the ring.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the fixed capacity of the ring.
func (r *Ring[T]) Cap() int { return len(r.items) }

// IsFull returns true when the next Push will evict.
func (r *Ring[T]) IsFull() bool { return r.size == len(r.items) }

// Reset empties the ring and releases references held by the backing array.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}

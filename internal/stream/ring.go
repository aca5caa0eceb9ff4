package stream

import "sync"

// RingStats counts pushes and evictions since creation or Reset.
type RingStats struct {
	Written uint64
	Evicted uint64
}

// Ring is a fixed-capacity FIFO that evicts the oldest item when full.
type Ring[T any] struct {
	mu      sync.RWMutex
	items   []T
	head    int // next write position
	size    int
	stats   RingStats
	changed chan struct{}
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		items:   make([]T, capacity),
		changed: make(chan struct{}),
	}
}

// Push appends v and reports whether the oldest item was evicted.
func (r *Ring[T]) Push(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := r.size == len(r.items)
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)
	if evicted {
		r.stats.Evicted++
	} else {
		r.size++
	}
	r.stats.Written++

	close(r.changed)
	r.changed = make(chan struct{})
	return evicted
}

// Last returns up to n of the newest items, oldest first.
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n > r.size || n < 0 {
		n = r.size
	}
	out := make([]T, n)
	start := r.head - n
	if start < 0 {
		start += len(r.items)
	}
	for i := 0; i < n; i++ {
		out[i] = r.items[(start+i)%len(r.items)]
	}
	return out
}

// Since returns the retained items pushed after the Written count reached
// mark, oldest first. A mark ahead of Written (after Reset) counts from zero.
func (r *Ring[T]) Since(mark uint64) []T {
	r.mu.RLock()
	written := r.stats.Written
	r.mu.RUnlock()
	if mark > written {
		mark = 0
	}
	n := written - mark
	if n == 0 {
		return nil
	}
	if n > uint64(len(r.items)) {
		n = uint64(len(r.items))
	}
	return r.Last(int(n))
}

// Snapshot returns every retained item, oldest first.
func (r *Ring[T]) Snapshot() []T {
	return r.Last(-1)
}

// Changed is closed on the next Push.
func (r *Ring[T]) Changed() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.changed
}

func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

func (r *Ring[T]) Cap() int {
	return len(r.items)
}

func (r *Ring[T]) Stats() RingStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
	r.stats = RingStats{}
}

// Package ringbuf provides a generic, thread-safe bounded ring buffer with
// configurable overflow policies. It decouples packet reception from
// downstream processing: the ingest side keeps writing at line rate while a
// slower consumer drains, with overflow handled by policy instead of
// blocking the receiver.
package ringbuf

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota
	// DropNewest rejects new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// Stats reports buffer counters. All counters are cumulative.
type Stats struct {
	Written uint64
	Read    uint64
	Dropped uint64
}

// Ring is a fixed-capacity FIFO buffer of items of type T.
type Ring[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int // index of oldest item
	size   int
	policy OverflowPolicy
	stats  Stats

	// Optional Prometheus instrumentation
	dropped  prometheus.Counter
	occupied prometheus.Gauge
}

// Option configures a Ring.
type Option[T any] func(*Ring[T])

// WithOverflowPolicy sets the overflow policy (default DropOldest).
func WithOverflowPolicy[T any](p OverflowPolicy) Option[T] {
	return func(r *Ring[T]) { r.policy = p }
}

// WithMetrics attaches drop and occupancy metrics to the ring.
func WithMetrics[T any](dropped prometheus.Counter, occupied prometheus.Gauge) Option[T] {
	return func(r *Ring[T]) {
		r.dropped = dropped
		r.occupied = occupied
	}
}

// New creates a ring buffer with the given capacity.
func New[T any](capacity int, opts ...Option[T]) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, errors.New("ringbuf: capacity must be positive")
	}
	r := &Ring[T]{
		items:  make([]T, capacity),
		policy: DropOldest,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Write adds an item. Returns false if the item was dropped (DropNewest) or
// displaced an older item (DropOldest on a full buffer).
func (r *Ring[T]) Write(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == len(r.items) {
		r.stats.Dropped++
		if r.dropped != nil {
			r.dropped.Inc()
		}
		if r.policy == DropNewest {
			return false
		}
		// DropOldest: overwrite the head slot
		r.items[r.head] = item
		r.head = (r.head + 1) % len(r.items)
		r.stats.Written++
		return false
	}

	r.items[(r.head+r.size)%len(r.items)] = item
	r.size++
	r.stats.Written++
	if r.occupied != nil {
		r.occupied.Set(float64(r.size))
	}
	return true
}

// Read removes and returns the oldest item. Returns false when empty.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.head]
	r.items[r.head] = zero // release reference
	r.head = (r.head + 1) % len(r.items)
	r.size--
	r.stats.Read++
	if r.occupied != nil {
		r.occupied.Set(float64(r.size))
	}
	return item, true
}

// ReadBatch removes and returns up to max items, oldest first.
func (r *Ring[T]) ReadBatch(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := max
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}

	var zero T
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = r.items[r.head]
		r.items[r.head] = zero
		r.head = (r.head + 1) % len(r.items)
	}
	r.size -= n
	r.stats.Read += uint64(n)
	if r.occupied != nil {
		r.occupied.Set(float64(r.size))
	}
	return out
}

// Size returns the current number of buffered items.
func (r *Ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the maximum number of items the ring can hold.
func (r *Ring[T]) Capacity() int {
	return len(r.items)
}

// Stats returns a snapshot of the buffer counters.
func (r *Ring[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Snapshot returns the buffered items oldest-first without removing them.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}

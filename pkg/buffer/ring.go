package buffer

import (
	"sync"

	"github.com/c360/sensorstream/errors"
)

// Ring is a thread-safe fixed-capacity ring. A full ring never blocks:
// Write resolves the conflict with the configured DropPolicy, and the
// drop shows up in Stats and the optional Prometheus counters.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // next write slot
	tail  int // oldest item
	count int

	policy  DropPolicy
	stats   *Statistics
	metrics *ringMetrics
}

// NewRing builds a ring holding at most capacity items. Capacity is
// clamped to a minimum of 1. The only failure mode is Prometheus
// registration when WithMetrics is set.
func NewRing[T any](capacity int, opts ...Option) (*Ring[T], error) {
	if capacity <= 0 {
		capacity = 1
	}
	cfg := applyOptions(opts...)

	var metrics *ringMetrics
	if cfg.registry != nil {
		var err error
		metrics, err = newRingMetrics(cfg.registry, cfg.name)
		if err != nil {
			return nil, errors.WrapTransient(err, "Ring", "NewRing", "register metrics")
		}
	}

	return &Ring[T]{
		items:   make([]T, capacity),
		policy:  cfg.policy,
		stats:   newStatistics(),
		metrics: metrics,
	}, nil
}

// Write stores item. On a full ring DropOldest evicts the oldest entry
// to make room and DropNewest discards item instead.
func (r *Ring[T]) Write(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == len(r.items) {
		r.stats.drops.Add(1)
		if r.metrics != nil {
			r.metrics.drops.Inc()
		}
		if r.policy == DropNewest {
			return
		}
		var zero T
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % len(r.items)
		r.count--
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	r.count++

	r.stats.recordWrite(int64(r.count))
	if r.metrics != nil {
		r.metrics.recordWrite(r.count, len(r.items))
	}
}

// Read removes and returns the oldest item, or false on an empty ring.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.count == 0 {
		return zero, false
	}
	item := r.items[r.tail]
	r.items[r.tail] = zero
	r.tail = (r.tail + 1) % len(r.items)
	r.count--

	r.stats.recordRead(int64(r.count))
	if r.metrics != nil {
		r.metrics.recordRead(r.count, len(r.items))
	}
	return item, true
}

// Items returns the retained window oldest first without consuming it.
// An empty ring returns nil.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return nil
	}
	out := make([]T, r.count)
	for i := range out {
		out[i] = r.items[(r.tail+i)%len(r.items)]
	}
	return out
}

// Len returns the number of retained items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the capacity fixed at construction.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Clear drops the whole retained window.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.tail, r.count = 0, 0, 0

	r.stats.recordLen(0)
	if r.metrics != nil {
		r.metrics.updateLen(0, len(r.items))
	}
}

// Stats returns the ring's live lifetime counters.
func (r *Ring[T]) Stats() *Statistics {
	return r.stats
}

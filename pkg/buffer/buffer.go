// Package buffer implements a fixed-capacity generic ring that keeps
// a bounded window of items, resolving overflow with a drop policy
// instead of blocking.
//
// The health monitor stores its snapshot history in one: old
// observations age out silently as new ones arrive. Lifetime counters
// are always collected; Prometheus export is opt-in via WithMetrics.
//
// Rings never block and never grow. Queues that need backpressure or
// select-ability are channels in this codebase, not rings.
package buffer

// DropPolicy selects which end of a full ring loses an item on Write.
type DropPolicy int

const (
	// DropOldest evicts the oldest item to admit the new one. This is
	// the history-window behavior and the default.
	DropOldest DropPolicy = iota

	// DropNewest discards the incoming item and keeps the stored
	// window intact.
	DropNewest
)

func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

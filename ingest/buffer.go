package ingest

import (
	"sync"

	"github.com/google/uuid"

	"github.com/c360/sensorstream/mqttclient"
	"github.com/c360/sensorstream/pkg/timestamp"
)

const defaultMaxSize = 1000

// BufferedEntry is one broker delivery staged for the next flush. The
// ID is assigned at enqueue and follows the entry into the dead-letter
// store, so an operator can trace a payload across retries.
type BufferedEntry struct {
	ID            string
	Topic         string
	Payload       []byte
	QoS           byte
	Retained      bool
	ReceivedAt    int64 // Unix milliseconds
	RetryCount    int
	FirstFailedAt int64 // Unix milliseconds, zero until the first failed attempt
}

// NewEntry stages one broker message. The payload is copied because the
// transport may reuse its buffer after the handler returns.
func NewEntry(msg mqttclient.Message) BufferedEntry {
	payload := make([]byte, len(msg.Payload))
	copy(payload, msg.Payload)

	return BufferedEntry{
		ID:         uuid.NewString(),
		Topic:      msg.Topic,
		Payload:    payload,
		QoS:        msg.QoS,
		Retained:   msg.Retained,
		ReceivedAt: timestamp.ToUnixMs(msg.At),
	}
}

// Buffer stages entries between broker delivery and the next flush.
// Size pressure never drops data: Add always keeps the entry and its
// return value tells the caller to force an out-of-band flush instead.
type Buffer struct {
	mu      sync.Mutex
	entries []BufferedEntry
	maxSize int
}

// NewBuffer creates a buffer that signals pressure at maxSize entries.
// Non-positive sizes fall back to the default of 1000.
func NewBuffer(maxSize int) *Buffer {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &Buffer{
		entries: make([]BufferedEntry, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add appends one entry in arrival order. The returned flag reports
// size pressure: true means the buffer has reached capacity and the
// caller should kick a flush.
func (b *Buffer) Add(entry BufferedEntry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry)
	return len(b.entries) >= b.maxSize
}

// Snapshot atomically hands over the staged entries and resets the
// buffer, so arrivals during downstream processing land in a fresh
// slice. Entries are returned in arrival order; an empty buffer
// returns nil.
func (b *Buffer) Snapshot() []BufferedEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return nil
	}
	out := b.entries
	b.entries = make([]BufferedEntry, 0, b.maxSize)
	return out
}

// Requeue prepends a failed batch ahead of everything that arrived
// after its snapshot, preserving the batch's own order. Retried entries
// are therefore flushed before newer data on the next cycle.
func (b *Buffer) Requeue(entries []BufferedEntry) {
	if len(entries) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]BufferedEntry, 0, len(entries)+len(b.entries))
	merged = append(merged, entries...)
	merged = append(merged, b.entries...)
	b.entries = merged
}

// Len returns the number of staged entries
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Cap returns the size-pressure threshold
func (b *Buffer) Cap() int {
	return b.maxSize
}

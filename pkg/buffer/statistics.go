package buffer

import (
	"sync/atomic"
	"time"
)

// Statistics carries a ring's lifetime counters. All getters are safe
// for concurrent use and, except Len, monotonic.
type Statistics struct {
	writes atomic.Int64
	reads  atomic.Int64
	drops  atomic.Int64
	len    atomic.Int64
	maxLen atomic.Int64
	start  time.Time
}

func newStatistics() *Statistics {
	return &Statistics{start: time.Now()}
}

func (s *Statistics) recordWrite(n int64) {
	s.writes.Add(1)
	s.recordLen(n)
}

func (s *Statistics) recordRead(n int64) {
	s.reads.Add(1)
	s.recordLen(n)
}

func (s *Statistics) recordLen(n int64) {
	s.len.Store(n)
	for {
		high := s.maxLen.Load()
		if n <= high || s.maxLen.CompareAndSwap(high, n) {
			return
		}
	}
}

// Writes returns how many items were stored.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns how many items were consumed through Read.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Drops returns how many items the drop policy discarded.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// Len returns the item count as of the last update.
func (s *Statistics) Len() int64 { return s.len.Load() }

// MaxLen returns the high-water mark.
func (s *Statistics) MaxLen() int64 { return s.maxLen.Load() }

// Uptime returns the time since the ring was built.
func (s *Statistics) Uptime() time.Duration { return time.Since(s.start) }

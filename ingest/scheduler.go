package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/sensorstream/errors"
)

const defaultFlushInterval = 5 * time.Second

// FlushFunc drains one batch downstream. The scheduler guarantees at
// most one invocation is executing at any instant.
type FlushFunc func(ctx context.Context)

// Scheduler drives a FlushFunc on a fixed cadence, with an out-of-band
// Kick for size pressure. Triggers are never queued behind a running
// flush: a tick or kick arriving while one is in flight is skipped and
// counted, and the cadence continues.
type Scheduler struct {
	interval time.Duration
	flush    FlushFunc
	logger   *slog.Logger

	kick chan struct{}

	mu       sync.Mutex
	shutdown chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	running  atomic.Bool
	inFlight atomic.Bool
	flushes  atomic.Int64
	skipped  atomic.Int64
}

// NewScheduler creates a scheduler for the given flush function.
// Non-positive intervals fall back to the default of 5s.
func NewScheduler(interval time.Duration, flush FlushFunc, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		flush:    flush,
		logger:   logger,
		kick:     make(chan struct{}, 1),
	}
}

// Start begins the flush cadence. Starting a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flush == nil {
		return errors.WrapInvalid(
			fmt.Errorf("flush function is nil"),
			"Scheduler", "Start", "validate flush function")
	}
	if s.running.Load() {
		return nil
	}

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.run(ctx)
	}()

	return nil
}

// run is the cadence loop
func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.tryFlush(ctx, "tick")
		case <-s.kick:
			s.tryFlush(ctx, "kick")
		}
	}
}

// tryFlush runs the flush on its own goroutine unless one is already in
// flight
func (s *Scheduler) tryFlush(ctx context.Context, trigger string) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Debug("Flush already in flight, skipping trigger", "trigger", trigger)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.flushes.Add(1)
		s.flush(ctx)
	}()
}

// Kick requests an immediate out-of-band flush. Requests coalesce: at
// most one is pending, and one arriving during a flush is subject to
// the same non-reentrancy skip.
func (s *Scheduler) Kick() {
	if !s.running.Load() {
		return
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Stop halts the cadence, waits out any in-flight flush, then runs one
// final drain flush so staged entries are not lost at shutdown. The
// timeout bounds the wait and the drain together.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return nil
	}
	s.running.Store(false)
	close(s.shutdown)
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("stop timeout after %v", timeout),
			"Scheduler", "Stop", "await in-flight flush")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.flushes.Add(1)
	s.flush(ctx)

	return nil
}

// Flushes returns how many flushes have run, the final drain included
func (s *Scheduler) Flushes() int64 {
	return s.flushes.Load()
}

// Skipped returns how many triggers the non-reentrancy guard dropped
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

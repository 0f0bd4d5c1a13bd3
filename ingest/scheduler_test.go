package ingest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstream/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewScheduler_DefaultInterval(t *testing.T) {
	s := NewScheduler(0, func(context.Context) {}, nil)
	assert.Equal(t, defaultFlushInterval, s.interval)

	s = NewScheduler(time.Second, func(context.Context) {}, nil)
	assert.Equal(t, time.Second, s.interval)
}

func TestScheduler_StartNilFlush(t *testing.T) {
	s := NewScheduler(time.Second, nil, discardLogger())
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestScheduler_TickFlushes(t *testing.T) {
	var calls atomic.Int64
	s := NewScheduler(10*time.Millisecond, func(context.Context) {
		calls.Add(1)
	}, discardLogger())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(time.Second)

	require.Eventually(t, func() bool {
		return calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond, "ticker should keep flushing")
}

func TestScheduler_KickForcesFlush(t *testing.T) {
	var calls atomic.Int64
	s := NewScheduler(time.Hour, func(context.Context) {
		calls.Add(1)
	}, discardLogger())

	require.NoError(t, s.Start(context.Background()))

	s.Kick()
	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, time.Second, 5*time.Millisecond, "kick should flush without waiting for the tick")

	require.NoError(t, s.Stop(time.Second))
	assert.Equal(t, int64(2), calls.Load(), "stop should run one drain flush")
	assert.Equal(t, int64(2), s.Flushes())
}

func TestScheduler_NonReentrant(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int64

	s := NewScheduler(time.Hour, func(context.Context) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
	}, discardLogger())

	require.NoError(t, s.Start(context.Background()))

	s.Kick()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first flush never started")
	}

	// A trigger arriving while the flush is in flight is skipped, not
	// queued.
	s.Kick()
	require.Eventually(t, func() bool {
		return s.Skipped() == 1
	}, time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, s.Stop(time.Second))

	assert.Equal(t, int64(1), s.Skipped())
	assert.Equal(t, int64(2), calls.Load(), "the skipped trigger must not run later")
}

func TestScheduler_StopRunsDrainFlush(t *testing.T) {
	var calls atomic.Int64
	s := NewScheduler(time.Hour, func(context.Context) {
		calls.Add(1)
	}, discardLogger())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(time.Second))
	assert.Equal(t, int64(1), calls.Load())

	// Stopping again is a no-op and must not drain twice.
	require.NoError(t, s.Stop(time.Second))
	assert.Equal(t, int64(1), calls.Load())
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	var calls atomic.Int64
	s := NewScheduler(time.Hour, func(context.Context) {
		calls.Add(1)
	}, discardLogger())

	require.NoError(t, s.Stop(time.Second))
	assert.Equal(t, int64(0), calls.Load())
}

func TestScheduler_StartIdempotent(t *testing.T) {
	var calls atomic.Int64
	s := NewScheduler(time.Hour, func(context.Context) {
		calls.Add(1)
	}, discardLogger())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(time.Second))
	assert.Equal(t, int64(1), calls.Load(), "double start must not double the cadence")
}

func TestScheduler_KickBeforeStart(t *testing.T) {
	var calls atomic.Int64
	s := NewScheduler(time.Hour, func(context.Context) {
		calls.Add(1)
	}, discardLogger())

	s.Kick()
	assert.Equal(t, int64(0), s.Flushes())
	assert.Equal(t, int64(0), calls.Load())
}

func TestScheduler_StopTimeout(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	s := NewScheduler(time.Hour, func(context.Context) {
		once.Do(func() { close(started) })
		<-block
	}, discardLogger())
	defer close(block)

	require.NoError(t, s.Start(context.Background()))
	s.Kick()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("flush never started")
	}

	err := s.Stop(50 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Contains(t, err.Error(), "stop timeout")
}

func TestScheduler_RestartAfterStop(t *testing.T) {
	var calls atomic.Int64
	s := NewScheduler(10*time.Millisecond, func(context.Context) {
		calls.Add(1)
	}, discardLogger())

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(time.Second))

	afterStop := calls.Load()
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		return calls.Load() > afterStop
	}, time.Second, 5*time.Millisecond, "restart should resume the cadence")
	require.NoError(t, s.Stop(time.Second))
}

func TestScheduler_ContextCancelStopsCadence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int64
	s := NewScheduler(10*time.Millisecond, func(context.Context) {
		calls.Add(1)
	}, discardLogger())

	require.NoError(t, s.Start(ctx))
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(30 * time.Millisecond)
	settled := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, calls.Load(), "cancelled context should halt the cadence")
}

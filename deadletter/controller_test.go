package deadletter

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/ingest"
)

type stubRequeuer struct {
	mu      sync.Mutex
	batches [][]ingest.BufferedEntry
}

func (s *stubRequeuer) Requeue(entries []ingest.BufferedEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]ingest.BufferedEntry, len(entries))
	copy(batch, entries)
	s.batches = append(s.batches, batch)
}

func (s *stubRequeuer) all() []ingest.BufferedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ingest.BufferedEntry
	for _, batch := range s.batches {
		out = append(out, batch...)
	}
	return out
}

type stubPublisher struct {
	mu       sync.Mutex
	healthy  bool
	err      error
	topics   []string
	payloads [][]byte
}

func (s *stubPublisher) Publish(topic string, _ byte, _ bool, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.topics = append(s.topics, topic)
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	return nil
}

func (s *stubPublisher) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

func (s *stubPublisher) published() ([]string, [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := make([]string, len(s.topics))
	copy(topics, s.topics)
	payloads := make([][]byte, len(s.payloads))
	copy(payloads, s.payloads)
	return topics, payloads
}

func newTestController(t *testing.T, mutate func(*Deps)) (*Controller, *stubRequeuer) {
	t.Helper()

	req := &stubRequeuer{}
	deps := Deps{
		Requeuer:   req,
		MaxRetries: 3,
		MaxHold:    100,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&deps)
	}

	c, err := NewController(deps)
	require.NoError(t, err)
	return c, req
}

func entry(id string) ingest.BufferedEntry {
	return ingest.BufferedEntry{
		ID:         id,
		Topic:      "sensors/" + id + "/data",
		Payload:    []byte(`{"sensorId":"` + id + `","value":1}`),
		ReceivedAt: 1673785845000,
	}
}

func transientCause() error {
	return errors.WrapPersistence(
		stderrors.New("connection refused"), "Sink", "BulkInsert", "insert batch")
}

func invalidCause() error {
	return errors.WrapTransform(
		errors.ErrUnknownFormat, "Transformer", "Transform", "detect format")
}

func fatalCause() error {
	return errors.WrapFatal(
		stderrors.New("schema mismatch"), "Sink", "EnsureSchema", "verify schema")
}

func TestNewController_Validation(t *testing.T) {
	t.Run("requires requeuer", func(t *testing.T) {
		_, err := NewController(Deps{MaxRetries: 1})
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("rejects negative retry budget", func(t *testing.T) {
		_, err := NewController(Deps{Requeuer: &stubRequeuer{}, MaxRetries: -1})
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("defaults max hold", func(t *testing.T) {
		c, err := NewController(Deps{Requeuer: &stubRequeuer{}})
		require.NoError(t, err)
		assert.Equal(t, defaultMaxHold, c.maxHold)
	})
}

func TestHandleFailure_InvalidParksImmediately(t *testing.T) {
	c, req := newTestController(t, nil)

	disposition := c.HandleFailure([]ingest.BufferedEntry{entry("a"), entry("b")}, invalidCause())

	assert.Equal(t, ingest.DispositionParked, disposition)
	assert.Empty(t, req.all(), "invalid entries must not be retried")
	assert.Equal(t, 2, c.Size())

	parked := c.List()
	require.Len(t, parked, 2)
	assert.Equal(t, errors.ErrorInvalid, parked[0].Class)
	assert.Contains(t, parked[0].Reason, "unknown payload format")
	assert.Equal(t, 1, parked[0].Attempts, "an invalid entry is attempted exactly once")
	assert.Equal(t, 0, parked[0].Entry.RetryCount)
	assert.Equal(t, parked[0].ParkedAt, parked[0].FirstFailedAt,
		"the first failure is the parking failure")
}

func TestHandleFailure_FatalParksImmediately(t *testing.T) {
	c, req := newTestController(t, nil)

	disposition := c.HandleFailure([]ingest.BufferedEntry{entry("a")}, fatalCause())

	assert.Equal(t, ingest.DispositionParked, disposition)
	assert.Empty(t, req.all())

	parked := c.List()
	require.Len(t, parked, 1)
	assert.Equal(t, errors.ErrorFatal, parked[0].Class)
}

func TestHandleFailure_TransientRetryBudget(t *testing.T) {
	c, req := newTestController(t, func(d *Deps) { d.MaxRetries = 2 })

	// First failure requeues and stamps the first-failure time.
	disposition := c.HandleFailure([]ingest.BufferedEntry{entry("a")}, transientCause())
	assert.Equal(t, ingest.DispositionRequeued, disposition)

	requeued := req.all()
	require.Len(t, requeued, 1)
	assert.Equal(t, 1, requeued[0].RetryCount)
	assert.NotZero(t, requeued[0].FirstFailedAt)
	firstFailed := requeued[0].FirstFailedAt

	// Second failure consumes the last retry.
	disposition = c.HandleFailure([]ingest.BufferedEntry{requeued[0]}, transientCause())
	assert.Equal(t, ingest.DispositionRequeued, disposition)
	requeued = req.all()
	require.Len(t, requeued, 2)
	assert.Equal(t, 2, requeued[1].RetryCount)

	// Third failure exhausts the budget and parks.
	disposition = c.HandleFailure([]ingest.BufferedEntry{requeued[1]}, transientCause())
	assert.Equal(t, ingest.DispositionParked, disposition)
	assert.Len(t, req.all(), 2, "no further requeue after the budget is spent")

	parked := c.List()
	require.Len(t, parked, 1)
	assert.Equal(t, 2, parked[0].Entry.RetryCount, "retry count equals the budget at parking")
	assert.Equal(t, 3, parked[0].Attempts, "budget+1 attempts in total")
	assert.Equal(t, firstFailed, parked[0].FirstFailedAt,
		"the first-failure stamp survives the retries")
	assert.Equal(t, errors.ErrorTransient, parked[0].Class)
}

func TestHandleFailure_ZeroBudgetParksTransient(t *testing.T) {
	c, req := newTestController(t, func(d *Deps) { d.MaxRetries = 0 })

	disposition := c.HandleFailure([]ingest.BufferedEntry{entry("a")}, transientCause())

	assert.Equal(t, ingest.DispositionParked, disposition)
	assert.Empty(t, req.all())

	parked := c.List()
	require.Len(t, parked, 1)
	assert.Equal(t, 1, parked[0].Attempts)
}

func TestHandleFailure_SplitDisposition(t *testing.T) {
	c, req := newTestController(t, func(d *Deps) { d.MaxRetries = 1 })

	fresh := entry("fresh")
	spent := entry("spent")
	spent.RetryCount = 1

	disposition := c.HandleFailure([]ingest.BufferedEntry{fresh, spent}, transientCause())

	assert.Equal(t, ingest.DispositionSplit, disposition)

	requeued := req.all()
	require.Len(t, requeued, 1)
	assert.Equal(t, "fresh", requeued[0].ID)

	parked := c.List()
	require.Len(t, parked, 1)
	assert.Equal(t, "spent", parked[0].Entry.ID)
}

func TestHandleFailure_EmptyBatch(t *testing.T) {
	c, req := newTestController(t, nil)

	disposition := c.HandleFailure(nil, transientCause())

	assert.Equal(t, ingest.DispositionRequeued, disposition)
	assert.Empty(t, req.all())
	assert.Equal(t, 0, c.Size())
}

func TestHandleFailure_NilCause(t *testing.T) {
	// A nil cause classifies as transient; with no budget it parks with
	// a placeholder reason instead of panicking.
	c, _ := newTestController(t, func(d *Deps) { d.MaxRetries = 0 })

	disposition := c.HandleFailure([]ingest.BufferedEntry{entry("a")}, nil)

	assert.Equal(t, ingest.DispositionParked, disposition)
	parked := c.List()
	require.Len(t, parked, 1)
	assert.Equal(t, "unknown failure", parked[0].Reason)
}

func TestList_SortedCopies(t *testing.T) {
	c, _ := newTestController(t, nil)

	t.Run("ties break by entry id", func(t *testing.T) {
		c.HandleFailure([]ingest.BufferedEntry{entry("c"), entry("a"), entry("b")}, invalidCause())

		parked := c.List()
		require.Len(t, parked, 3)
		assert.Equal(t, "a", parked[0].Entry.ID)
		assert.Equal(t, "b", parked[1].Entry.ID)
		assert.Equal(t, "c", parked[2].Entry.ID)
	})

	t.Run("oldest parked first", func(t *testing.T) {
		c.Clear()
		c.HandleFailure([]ingest.BufferedEntry{entry("z-early")}, invalidCause())
		time.Sleep(2 * time.Millisecond)
		c.HandleFailure([]ingest.BufferedEntry{entry("a-late")}, invalidCause())

		parked := c.List()
		require.Len(t, parked, 2)
		assert.Equal(t, "z-early", parked[0].Entry.ID)
		assert.Equal(t, "a-late", parked[1].Entry.ID)
	})

	t.Run("payloads are copies", func(t *testing.T) {
		c.Clear()
		c.HandleFailure([]ingest.BufferedEntry{entry("a")}, invalidCause())

		first := c.List()
		first[0].Entry.Payload[0] = 'X'

		second := c.List()
		assert.Equal(t, byte('{'), second[0].Entry.Payload[0],
			"mutating a listed payload must not touch the held entry")
	})
}

func TestClear(t *testing.T) {
	c, _ := newTestController(t, nil)
	c.HandleFailure([]ingest.BufferedEntry{entry("a"), entry("b")}, invalidCause())

	assert.Equal(t, 2, c.Clear())
	assert.Equal(t, 0, c.Size())
	assert.Empty(t, c.List())
	assert.Equal(t, 0, c.Clear(), "clearing an empty store removes nothing")
}

func TestRetryAll(t *testing.T) {
	c, req := newTestController(t, func(d *Deps) { d.MaxRetries = 0 })

	c.HandleFailure([]ingest.BufferedEntry{entry("b"), entry("a")}, transientCause())
	require.Equal(t, 2, c.Size())

	reinjected := c.RetryAll()

	assert.Equal(t, 2, reinjected)
	assert.Equal(t, 0, c.Size())

	requeued := req.all()
	require.Len(t, requeued, 2)
	assert.Equal(t, "a", requeued[0].ID, "drained entries re-inject oldest first, ties by id")
	assert.Equal(t, "b", requeued[1].ID)
	assert.Equal(t, 0, requeued[0].RetryCount, "retry budgets reset on re-injection")

	assert.Equal(t, 0, c.RetryAll(), "an empty store re-injects nothing")
}

func TestRetryAll_ReparkKeepsSingleEntry(t *testing.T) {
	// An entry that fails again after RetryAll parks under the same id,
	// so the holding set never holds it twice.
	c, req := newTestController(t, func(d *Deps) { d.MaxRetries = 0 })

	c.HandleFailure([]ingest.BufferedEntry{entry("a")}, transientCause())
	require.Equal(t, 1, c.RetryAll())

	c.HandleFailure([]ingest.BufferedEntry{req.all()[0]}, transientCause())
	assert.Equal(t, 1, c.Size())
}

func TestEviction(t *testing.T) {
	c, _ := newTestController(t, func(d *Deps) {
		d.MaxRetries = 0
		d.MaxHold = 2
	})

	c.HandleFailure([]ingest.BufferedEntry{entry("a")}, transientCause())
	time.Sleep(2 * time.Millisecond)
	c.HandleFailure([]ingest.BufferedEntry{entry("b")}, transientCause())
	time.Sleep(2 * time.Millisecond)
	c.HandleFailure([]ingest.BufferedEntry{entry("c")}, transientCause())

	assert.Equal(t, 2, c.Size(), "the holding set stays bounded")

	parked := c.List()
	require.Len(t, parked, 2)
	assert.Equal(t, "b", parked[0].Entry.ID, "the oldest entry was evicted")
	assert.Equal(t, "c", parked[1].Entry.ID)
	assert.Equal(t, int64(1), c.Stats().Evicted)
}

func TestRepublish(t *testing.T) {
	t.Run("publishes original payload when connected", func(t *testing.T) {
		pub := &stubPublisher{healthy: true}
		c, _ := newTestController(t, func(d *Deps) {
			d.Publisher = pub
			d.DeadLetterTopic = "deadletter/sensorstream"
		})

		parked := entry("a")
		c.HandleFailure([]ingest.BufferedEntry{parked}, invalidCause())

		topics, payloads := pub.published()
		require.Len(t, topics, 1)
		assert.Equal(t, "deadletter/sensorstream", topics[0])
		assert.Equal(t, parked.Payload, payloads[0])
	})

	t.Run("skips while disconnected", func(t *testing.T) {
		pub := &stubPublisher{healthy: false}
		c, _ := newTestController(t, func(d *Deps) {
			d.Publisher = pub
			d.DeadLetterTopic = "deadletter/sensorstream"
		})

		c.HandleFailure([]ingest.BufferedEntry{entry("a")}, invalidCause())

		topics, _ := pub.published()
		assert.Empty(t, topics)
		assert.Equal(t, 1, c.Size(), "parking does not depend on the republish")
	})

	t.Run("publish errors do not propagate", func(t *testing.T) {
		pub := &stubPublisher{healthy: true, err: stderrors.New("publish failed")}
		c, _ := newTestController(t, func(d *Deps) {
			d.Publisher = pub
			d.DeadLetterTopic = "deadletter/sensorstream"
		})

		disposition := c.HandleFailure([]ingest.BufferedEntry{entry("a")}, invalidCause())
		assert.Equal(t, ingest.DispositionParked, disposition)
		assert.Equal(t, 1, c.Size())
	})
}

func TestRequeueIntoRealBuffer(t *testing.T) {
	buf := ingest.NewBuffer(10)
	c, err := NewController(Deps{
		Requeuer:   buf,
		MaxRetries: 3,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	buf.Add(entry("staged"))
	c.HandleFailure([]ingest.BufferedEntry{entry("retried")}, transientCause())

	drained := buf.Snapshot()
	require.Len(t, drained, 2)
	assert.Equal(t, "retried", drained[0].ID, "retried entries land in front of staged data")
	assert.Equal(t, "staged", drained[1].ID)
}

func TestStats(t *testing.T) {
	c, _ := newTestController(t, func(d *Deps) { d.MaxRetries = 1 })

	c.HandleFailure([]ingest.BufferedEntry{entry("a")}, transientCause()) // requeued
	c.HandleFailure([]ingest.BufferedEntry{entry("b")}, invalidCause())  // parked

	stats := c.Stats()
	assert.Equal(t, 1, stats.Held)
	assert.Equal(t, int64(1), stats.Parked)
	assert.Equal(t, int64(1), stats.Requeued)
	assert.Equal(t, int64(0), stats.Evicted)
}

func TestController_ConcurrentAccess(t *testing.T) {
	c, _ := newTestController(t, func(d *Deps) { d.MaxRetries = 1 })

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				id := fmt.Sprintf("%d-%d", g, i)
				switch i % 3 {
				case 0:
					c.HandleFailure([]ingest.BufferedEntry{entry(id)}, invalidCause())
				case 1:
					c.HandleFailure([]ingest.BufferedEntry{entry(id)}, transientCause())
				default:
					c.List()
					c.Size()
				}
			}
		}(g)
	}
	wg.Wait()

	stats := c.Stats()
	assert.Equal(t, stats.Held, c.Size())
	assert.Positive(t, stats.Parked)
}

package deadletter

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/ingest"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/pkg/timestamp"
)

const (
	componentName = "deadletter-controller"

	// defaultMaxHold bounds the holding set when no limit is configured
	defaultMaxHold = 10_000
)

// Requeuer re-stages entries at the front of the ingestion buffer so
// retried data precedes later arrivals. *ingest.Buffer satisfies it.
type Requeuer interface {
	Requeue(entries []ingest.BufferedEntry)
}

// TopicPublisher republishes parked payloads. The broker client
// satisfies it; publishing is skipped while the connection is down.
type TopicPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	IsHealthy() bool
}

// DeadLetterEntry is one parked delivery with its failure context.
type DeadLetterEntry struct {
	Entry         ingest.BufferedEntry
	Reason        string
	Class         errors.ErrorClass
	FirstFailedAt int64 // Unix milliseconds
	ParkedAt      int64 // Unix milliseconds
	Attempts      int
}

// Deps holds the controller's dependencies and limits.
type Deps struct {
	Requeuer        Requeuer
	Publisher       TopicPublisher // optional, enables dead-letter republish
	DeadLetterTopic string         // optional republish target
	MaxRetries      int            // redeliveries a transient failure earns before parking
	MaxHold         int            // holding set bound, defaults to 10000
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional
}

// Controller quarantines failed deliveries: transient failures bounce
// back into the buffer until their retry budget is spent, everything
// else parks in a bounded holding set.
type Controller struct {
	requeuer   Requeuer
	publisher  TopicPublisher
	topic      string
	maxRetries int
	maxHold    int
	logger     *slog.Logger

	mu      sync.Mutex
	holding map[string]DeadLetterEntry

	parked   atomic.Int64
	requeued atomic.Int64
	evicted  atomic.Int64

	metrics *controllerMetrics
}

var _ ingest.DeadLetters = (*Controller)(nil)

// Stats is a point-in-time summary of controller activity.
type Stats struct {
	Held     int
	Parked   int64
	Requeued int64
	Evicted  int64
}

// NewController creates the dead-letter controller.
func NewController(deps Deps) (*Controller, error) {
	if deps.Requeuer == nil {
		return nil, errors.WrapInvalid(
			stderrors.New("requeuer is required"),
			"Controller", "NewController", "validate dependencies")
	}
	if deps.MaxRetries < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("maxRetries %d must not be negative", deps.MaxRetries),
			"Controller", "NewController", "validate retry budget")
	}

	maxHold := deps.MaxHold
	if maxHold <= 0 {
		maxHold = defaultMaxHold
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", componentName)
	}

	metrics, err := newControllerMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "Controller", "NewController", "register metrics")
	}

	return &Controller{
		requeuer:   deps.Requeuer,
		publisher:  deps.Publisher,
		topic:      deps.DeadLetterTopic,
		maxRetries: deps.MaxRetries,
		maxHold:    maxHold,
		logger:     logger,
		holding:    make(map[string]DeadLetterEntry),
		metrics:    metrics,
	}, nil
}

// HandleFailure disposes of a failed batch by the cause's error class.
// Invalid and fatal causes park every entry immediately; transient
// causes requeue entries whose retry budget remains and park the rest.
// The returned disposition says which of those happened.
func (c *Controller) HandleFailure(entries []ingest.BufferedEntry, cause error) ingest.Disposition {
	if len(entries) == 0 {
		return ingest.DispositionRequeued
	}

	class := errors.Classify(cause)
	now := timestamp.Now()

	var requeue, park []ingest.BufferedEntry
	switch class {
	case errors.ErrorInvalid:
		park = entries
	case errors.ErrorFatal:
		park = entries
		c.logger.Error("Fatal failure, parking batch without retry",
			"entries", len(entries), "error", cause)
	default:
		for _, entry := range entries {
			if entry.FirstFailedAt == 0 {
				entry.FirstFailedAt = now
			}
			if entry.RetryCount < c.maxRetries {
				entry.RetryCount++
				requeue = append(requeue, entry)
			} else {
				park = append(park, entry)
			}
		}
	}

	if len(park) > 0 {
		c.park(park, cause, class, now)
	}
	if len(requeue) > 0 {
		c.requeued.Add(int64(len(requeue)))
		c.metrics.recordRequeued(len(requeue))
		c.requeuer.Requeue(requeue)
		c.logger.Debug("Requeued batch for retry",
			"entries", len(requeue), "error", cause)
	}

	switch {
	case len(park) == 0:
		return ingest.DispositionRequeued
	case len(requeue) == 0:
		return ingest.DispositionParked
	default:
		return ingest.DispositionSplit
	}
}

// park moves entries into the holding set, evicting the oldest parked
// entry whenever the set is at capacity.
func (c *Controller) park(entries []ingest.BufferedEntry, cause error, class errors.ErrorClass, now int64) {
	reason := "unknown failure"
	if cause != nil {
		reason = cause.Error()
	}

	c.mu.Lock()
	for _, entry := range entries {
		if entry.FirstFailedAt == 0 {
			entry.FirstFailedAt = now
		}
		if len(c.holding) >= c.maxHold {
			c.evictOldestLocked()
		}
		c.holding[entry.ID] = DeadLetterEntry{
			Entry:         entry,
			Reason:        reason,
			Class:         class,
			FirstFailedAt: entry.FirstFailedAt,
			ParkedAt:      now,
			Attempts:      entry.RetryCount + 1,
		}
	}
	held := len(c.holding)
	c.mu.Unlock()

	c.parked.Add(int64(len(entries)))
	c.metrics.recordParked(len(entries), held)
	c.logger.Warn("Parked entries in dead-letter store",
		"entries", len(entries),
		"class", class.String(),
		"reason", reason,
		"held", held)

	c.republish(entries)
}

// evictOldestLocked drops the oldest parked entry. Ties on ParkedAt
// break by entry id so eviction is deterministic.
func (c *Controller) evictOldestLocked() {
	var oldest DeadLetterEntry
	found := false
	for _, dle := range c.holding {
		if !found || dle.ParkedAt < oldest.ParkedAt ||
			(dle.ParkedAt == oldest.ParkedAt && dle.Entry.ID < oldest.Entry.ID) {
			oldest = dle
			found = true
		}
	}
	if !found {
		return
	}

	delete(c.holding, oldest.Entry.ID)
	c.evicted.Add(1)
	c.metrics.recordEvicted()
	c.logger.Warn("Dead-letter store at capacity, evicting oldest",
		"entry_id", oldest.Entry.ID,
		"parked_at", oldest.ParkedAt,
		"max_hold", c.maxHold)
}

// republish copies parked payloads to the dead-letter topic so external
// tooling can capture them. Failures are logged, never propagated.
func (c *Controller) republish(entries []ingest.BufferedEntry) {
	if c.publisher == nil || c.topic == "" || !c.publisher.IsHealthy() {
		return
	}

	for _, entry := range entries {
		if err := c.publisher.Publish(c.topic, 0, false, entry.Payload); err != nil {
			c.logger.Debug("Dead-letter republish failed",
				"topic", c.topic, "entry_id", entry.ID, "error", err)
		}
	}
}

// List returns the parked entries sorted oldest first, payloads copied
// so callers cannot mutate held data.
func (c *Controller) List() []DeadLetterEntry {
	c.mu.Lock()
	entries := make([]DeadLetterEntry, 0, len(c.holding))
	for _, dle := range c.holding {
		dle.Entry.Payload = append([]byte(nil), dle.Entry.Payload...)
		entries = append(entries, dle)
	}
	c.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ParkedAt != entries[j].ParkedAt {
			return entries[i].ParkedAt < entries[j].ParkedAt
		}
		return entries[i].Entry.ID < entries[j].Entry.ID
	})
	return entries
}

// Clear empties the holding set and returns the number removed.
func (c *Controller) Clear() int {
	c.mu.Lock()
	removed := len(c.holding)
	c.holding = make(map[string]DeadLetterEntry)
	c.mu.Unlock()

	c.metrics.recordHeld(0)
	if removed > 0 {
		c.logger.Info("Cleared dead-letter store", "removed", removed)
	}
	return removed
}

// RetryAll drains the holding set back into the ingestion buffer,
// oldest first, with retry budgets reset so each entry gets a full set
// of attempts again. Returns the number re-injected.
func (c *Controller) RetryAll() int {
	c.mu.Lock()
	if len(c.holding) == 0 {
		c.mu.Unlock()
		return 0
	}
	drained := make([]DeadLetterEntry, 0, len(c.holding))
	for _, dle := range c.holding {
		drained = append(drained, dle)
	}
	c.holding = make(map[string]DeadLetterEntry)
	c.mu.Unlock()

	sort.Slice(drained, func(i, j int) bool {
		if drained[i].ParkedAt != drained[j].ParkedAt {
			return drained[i].ParkedAt < drained[j].ParkedAt
		}
		return drained[i].Entry.ID < drained[j].Entry.ID
	})

	entries := make([]ingest.BufferedEntry, 0, len(drained))
	for _, dle := range drained {
		entry := dle.Entry
		entry.RetryCount = 0
		entries = append(entries, entry)
	}

	c.requeuer.Requeue(entries)
	c.requeued.Add(int64(len(entries)))
	c.metrics.recordRequeued(len(entries))
	c.metrics.recordHeld(0)
	c.logger.Info("Re-injected parked entries", "reinjected", len(entries))
	return len(entries)
}

// Size returns the number of parked entries.
func (c *Controller) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.holding)
}

// Stats returns a snapshot of controller activity.
func (c *Controller) Stats() Stats {
	return Stats{
		Held:     c.Size(),
		Parked:   c.parked.Load(),
		Requeued: c.requeued.Load(),
		Evicted:  c.evicted.Load(),
	}
}

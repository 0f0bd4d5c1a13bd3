package fanout

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/ingest"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/monitor"
	"github.com/c360/sensorstream/pkg/timestamp"
)

const defaultSubscriberDepth = 64

// Envelope is the frame subscribers receive. Payload carries the
// original event bytes; non-JSON payloads are quoted into a JSON
// string so the frame always marshals.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
}

// TranslateChannel maps a broker topic to an external channel name.
// ok=false means the topic has no external audience and the event is
// dropped.
func TranslateChannel(topic string) (string, bool) {
	if strings.HasPrefix(topic, "mqtt/") {
		return topic, true
	}

	levels := strings.Split(topic, "/")
	last := levels[len(levels)-1]

	if len(levels) == 3 && levels[0] == "sensors" && levels[2] == "data" && levels[1] != "" {
		return "metric:" + levels[1], true
	}
	if len(levels) >= 2 && (levels[0] == "control" || levels[0] == "status") && last != "" {
		return "event:" + last, true
	}
	return "", false
}

// Subscription is one consumer's feed from the bridge
type Subscription struct {
	name   string
	ch     chan Envelope
	bridge *Bridge
	once   sync.Once
}

// C returns the subscriber's channel. It is closed by Close.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// Close detaches the subscription and closes its channel. Idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bridge.unsubscribe(s)
	})
}

// Deps carries the bridge's dependencies; both are optional
type Deps struct {
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Bridge fans pipeline events out to its subscribers. Publishing never
// blocks: a subscriber whose channel is full loses its oldest frame.
type Bridge struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	published     atomic.Int64
	unroutable    atomic.Int64
	framesDropped atomic.Int64

	metrics *bridgeMetrics
	logger  *slog.Logger
}

var _ ingest.EventBridge = (*Bridge)(nil)
var _ monitor.EventPublisher = (*Bridge)(nil)

// BridgeStats is a counter snapshot
type BridgeStats struct {
	Published     int64
	Unroutable    int64
	FramesDropped int64
	Subscribers   int
}

// NewBridge creates an empty bridge
func NewBridge(deps Deps) (*Bridge, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "fanout-bridge")
	}

	metrics, err := newBridgeMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "NewBridge", "register metrics")
	}

	return &Bridge{
		subs:    make(map[*Subscription]struct{}),
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Subscribe attaches a consumer. depth <= 0 takes the default queue
// depth.
func (b *Bridge) Subscribe(name string, depth int) *Subscription {
	if depth <= 0 {
		depth = defaultSubscriberDepth
	}
	sub := &Subscription{
		name:   name,
		ch:     make(chan Envelope, depth),
		bridge: b,
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()

	b.metrics.recordSubscribers(count)
	b.logger.Debug("Subscriber attached", "name", name, "depth", depth, "subscribers", count)
	return sub
}

func (b *Bridge) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	_, present := b.subs[sub]
	delete(b.subs, sub)
	count := len(b.subs)
	if present {
		// Publishes send under the read lock, so closing here cannot
		// race a send.
		close(sub.ch)
	}
	b.mu.Unlock()

	if present {
		b.metrics.recordSubscribers(count)
		b.logger.Debug("Subscriber detached", "name", sub.name, "subscribers", count)
	}
}

// PublishTopic translates a broker topic and publishes on the result.
// Unroutable topics are counted and dropped.
func (b *Bridge) PublishTopic(topic string, payload []byte) {
	channel, ok := TranslateChannel(topic)
	if !ok {
		b.unroutable.Add(1)
		b.metrics.recordUnroutable()
		b.logger.Debug("No external channel for topic", "topic", topic)
		return
	}
	b.PublishEvent(channel, payload)
}

// PublishEvent hands one event to every subscriber, fire-and-forget
func (b *Bridge) PublishEvent(channel string, payload []byte) {
	env := Envelope{
		Type:      envelopeType(channel),
		ID:        uuid.NewString(),
		Timestamp: timestamp.ToUnixMs(time.Now()),
		Channel:   channel,
		Payload:   normalizePayload(payload),
	}
	b.published.Add(1)
	b.metrics.recordPublished()

	b.mu.RLock()
	for sub := range b.subs {
		if n := sendDropOldest(sub.ch, env); n > 0 {
			b.framesDropped.Add(int64(n))
			b.metrics.recordFramesDropped(n)
		}
	}
	b.mu.RUnlock()
}

// Stats returns a counter snapshot
func (b *Bridge) Stats() BridgeStats {
	b.mu.RLock()
	subscribers := len(b.subs)
	b.mu.RUnlock()
	return BridgeStats{
		Published:     b.published.Load(),
		Unroutable:    b.unroutable.Load(),
		FramesDropped: b.framesDropped.Load(),
		Subscribers:   subscribers,
	}
}

// sendDropOldest tries a non-blocking send, evicting the oldest queued
// item once to make room. Returns the number of items lost.
func sendDropOldest[T any](ch chan T, v T) int {
	select {
	case ch <- v:
		return 0
	default:
	}
	dropped := 0
	select {
	case <-ch:
		dropped++
	default:
	}
	select {
	case ch <- v:
		return dropped
	default:
		return dropped + 1
	}
}

func envelopeType(channel string) string {
	switch {
	case strings.HasPrefix(channel, "metric:"):
		return "metric"
	case strings.HasPrefix(channel, "event:"):
		return "event"
	case strings.HasPrefix(channel, "mqtt/"):
		return "mqtt"
	default:
		return "message"
	}
}

func normalizePayload(payload []byte) json.RawMessage {
	if len(payload) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(payload) {
		return json.RawMessage(append([]byte(nil), payload...))
	}
	quoted, err := json.Marshal(string(payload))
	if err != nil {
		return json.RawMessage("null")
	}
	return json.RawMessage(quoted)
}

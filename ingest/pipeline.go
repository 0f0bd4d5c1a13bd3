package ingest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/sensorstream/component"
	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/mqttclient"
	"github.com/c360/sensorstream/record"
	"github.com/c360/sensorstream/sink"
	"github.com/c360/sensorstream/transform"
)

const (
	componentName    = "ingestion-pipeline"
	componentVersion = "1.0.0"
)

// Disposition is a failure handler's verdict on a failed batch
type Disposition int

// Possible dispositions
const (
	// DispositionRequeued means every entry went back to the buffer front
	DispositionRequeued Disposition = iota
	// DispositionParked means every entry moved to the holding set
	DispositionParked
	// DispositionSplit means the batch split between requeue and parking
	DispositionSplit
)

// String returns the string representation of Disposition
func (d Disposition) String() string {
	switch d {
	case DispositionRequeued:
		return "requeued"
	case DispositionParked:
		return "parked"
	case DispositionSplit:
		return "split"
	default:
		return "unknown"
	}
}

// DeadLetters is the pipeline's view of the dead-letter controller.
// Failed batches go in through HandleFailure; operator commands drain
// or drop the holding set.
type DeadLetters interface {
	HandleFailure(entries []BufferedEntry, cause error) Disposition
	RetryAll() int
	Clear() int
}

// EventBridge receives pipeline outputs for fan-out to external
// subscribers. Implementations must not block the caller.
type EventBridge interface {
	PublishTopic(topic string, payload []byte)
}

// Deps holds the pipeline's runtime dependencies and settings
type Deps struct {
	Broker      *mqttclient.Client
	Transformer *transform.Transformer
	Buffer      *Buffer
	Sink        sink.Sink
	DeadLetters DeadLetters
	Events      EventBridge // optional, nil disables fan-out

	SensorPatterns []string      // defaults to sensors/+/data
	CommandPattern string        // optional operator command topic
	StatusPattern  string        // optional device heartbeat topic
	FlushInterval  time.Duration // scheduler cadence

	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional
}

// Pipeline is the ingestion component: broker deliveries are staged in
// the buffer and flushed on a schedule (or on size pressure) through
// transform, validation, and the sink, with dead-letter hand-off on
// failure.
type Pipeline struct {
	broker      *mqttclient.Client
	transformer *transform.Transformer
	buffer      *Buffer
	sink        sink.Sink
	deadLetters DeadLetters
	events      EventBridge
	logger      *slog.Logger

	scheduler *Scheduler

	sensorPatterns []string
	commandPattern string
	statusPattern  string

	mu          sync.RWMutex
	initialized bool
	startTime   time.Time
	lastSeen    map[string]time.Time
	running     atomic.Bool

	received     atomic.Int64
	bytesIn      atomic.Int64
	persisted    atomic.Int64
	failed       atomic.Int64
	lastActivity atomic.Value // stores time.Time

	metrics *pipelineMetrics
}

var _ component.Discoverable = (*Pipeline)(nil)
var _ component.LifecycleComponent = (*Pipeline)(nil)

// NewPipeline creates the ingestion pipeline from its dependencies
func NewPipeline(deps Deps) (*Pipeline, error) {
	if deps.Broker == nil {
		return nil, errors.WrapInvalid(
			stderrors.New("broker client is required"),
			"Pipeline", "NewPipeline", "validate dependencies")
	}
	if deps.Transformer == nil {
		return nil, errors.WrapInvalid(
			stderrors.New("transformer is required"),
			"Pipeline", "NewPipeline", "validate dependencies")
	}
	if deps.Buffer == nil {
		return nil, errors.WrapInvalid(
			stderrors.New("buffer is required"),
			"Pipeline", "NewPipeline", "validate dependencies")
	}
	if deps.Sink == nil {
		return nil, errors.WrapInvalid(
			stderrors.New("sink is required"),
			"Pipeline", "NewPipeline", "validate dependencies")
	}
	if deps.DeadLetters == nil {
		return nil, errors.WrapInvalid(
			stderrors.New("dead-letter controller is required"),
			"Pipeline", "NewPipeline", "validate dependencies")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", componentName)
	}

	patterns := deps.SensorPatterns
	if len(patterns) == 0 {
		patterns = []string{"sensors/+/data"}
	}

	metrics, err := newPipelineMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "Pipeline", "NewPipeline", "register metrics")
	}

	p := &Pipeline{
		broker:         deps.Broker,
		transformer:    deps.Transformer,
		buffer:         deps.Buffer,
		sink:           deps.Sink,
		deadLetters:    deps.DeadLetters,
		events:         deps.Events,
		logger:         logger,
		sensorPatterns: patterns,
		commandPattern: deps.CommandPattern,
		statusPattern:  deps.StatusPattern,
		lastSeen:       make(map[string]time.Time),
		metrics:        metrics,
	}
	p.lastActivity.Store(time.Time{})
	p.scheduler = NewScheduler(deps.FlushInterval, p.flush, logger)

	return p, nil
}

// Initialize validates the subscription patterns. Re-callable after
// Stop.
func (p *Pipeline) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return errors.WrapInvalid(
			stderrors.New("pipeline is running"),
			"Pipeline", "Initialize", "check lifecycle state")
	}

	for _, pattern := range p.sensorPatterns {
		if err := mqttclient.ValidateFilter(pattern); err != nil {
			return errors.WrapInvalid(err, "Pipeline", "Initialize",
				fmt.Sprintf("validate sensor pattern %s", pattern))
		}
	}
	if p.commandPattern != "" {
		if err := mqttclient.ValidateFilter(p.commandPattern); err != nil {
			return errors.WrapInvalid(err, "Pipeline", "Initialize", "validate command pattern")
		}
	}
	if p.statusPattern != "" {
		if err := mqttclient.ValidateFilter(p.statusPattern); err != nil {
			return errors.WrapInvalid(err, "Pipeline", "Initialize", "validate status pattern")
		}
	}

	p.initialized = true
	return nil
}

// Start registers the broker subscriptions and begins the flush
// cadence. Subscriptions survive broker reconnects; they take effect
// whenever the connection is up.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotInitialized, "Pipeline", "Start", "start ingestion")
	}
	if p.running.Load() {
		p.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Pipeline", "Start", "start ingestion")
	}
	p.mu.Unlock()

	if err := p.scheduler.Start(ctx); err != nil {
		return err
	}

	subscribed := make([]string, 0, len(p.sensorPatterns)+2)
	rollback := func() {
		for _, filter := range subscribed {
			_ = p.broker.Unsubscribe(filter)
		}
		_ = p.scheduler.Stop(time.Second)
	}

	qos := p.broker.DefaultQoS()
	for _, pattern := range p.sensorPatterns {
		if err := p.broker.Subscribe(pattern, qos, p.handleSensorMessage); err != nil {
			rollback()
			return errors.Wrap(err, "Pipeline", "Start", fmt.Sprintf("subscribe %s", pattern))
		}
		subscribed = append(subscribed, pattern)
	}
	if p.commandPattern != "" {
		if err := p.broker.Subscribe(p.commandPattern, qos, p.handleCommandMessage); err != nil {
			rollback()
			return errors.Wrap(err, "Pipeline", "Start", "subscribe command pattern")
		}
		subscribed = append(subscribed, p.commandPattern)
	}
	if p.statusPattern != "" {
		if err := p.broker.Subscribe(p.statusPattern, 0, p.handleStatusMessage); err != nil {
			rollback()
			return errors.Wrap(err, "Pipeline", "Start", "subscribe status pattern")
		}
	}

	p.mu.Lock()
	p.startTime = time.Now()
	p.mu.Unlock()
	p.running.Store(true)

	p.logger.Info("Ingestion pipeline started",
		"patterns", p.sensorPatterns,
		"buffer_capacity", p.buffer.Cap(),
		"flush_interval", p.scheduler.interval)

	return nil
}

// Stop unsubscribes from the broker, then drains the buffer through one
// final flush. Stopping a stopped pipeline is a no-op.
func (p *Pipeline) Stop(timeout time.Duration) error {
	if !p.running.Load() {
		return nil
	}
	p.running.Store(false)

	// Quiet the intake first so the drain flush sees a settled buffer
	for _, pattern := range p.sensorPatterns {
		if err := p.broker.Unsubscribe(pattern); err != nil {
			p.logger.Warn("Unsubscribe failed during stop", "pattern", pattern, "error", err)
		}
	}
	if p.commandPattern != "" {
		_ = p.broker.Unsubscribe(p.commandPattern)
	}
	if p.statusPattern != "" {
		_ = p.broker.Unsubscribe(p.statusPattern)
	}

	return p.scheduler.Stop(timeout)
}

// handleSensorMessage stages one broker delivery. It runs on the
// transport callback goroutine, so it only appends and kicks.
func (p *Pipeline) handleSensorMessage(msg mqttclient.Message) {
	entry := NewEntry(msg)

	p.received.Add(1)
	p.bytesIn.Add(int64(len(msg.Payload)))
	p.lastActivity.Store(time.Now())
	p.metrics.recordReceived("sensor", len(msg.Payload))

	if overflowed := p.buffer.Add(entry); overflowed {
		p.metrics.recordPressureKick()
		p.logger.Debug("Buffer at capacity, forcing flush", "staged", p.buffer.Len())
		p.scheduler.Kick()
	}
}

// handleCommandMessage dispatches one operator command
func (p *Pipeline) handleCommandMessage(msg mqttclient.Message) {
	command := parseCommand(msg.Payload)
	p.metrics.recordCommand()

	switch command {
	case "flush":
		p.scheduler.Kick()
		p.logger.Info("Operator requested flush", "topic", msg.Topic)
	case "retryAll":
		n := p.deadLetters.RetryAll()
		p.logger.Info("Operator requeued parked entries", "topic", msg.Topic, "reinjected", n)
	case "clearDeadLetters":
		n := p.deadLetters.Clear()
		p.logger.Info("Operator cleared parked entries", "topic", msg.Topic, "removed", n)
	case "status":
		p.publishStatus()
	default:
		p.logger.Warn("Unknown operator command", "topic", msg.Topic, "command", command)
	}
}

// parseCommand accepts either a bare command word or a JSON object with
// a "command" field
func parseCommand(payload []byte) string {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		var body struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal([]byte(trimmed), &body); err == nil && body.Command != "" {
			return body.Command
		}
	}
	return trimmed
}

// publishStatus logs a status summary and forwards it to the fan-out
// bridge when one is wired
func (p *Pipeline) publishStatus() {
	stats := p.broker.Stats()

	p.logger.Info("Pipeline status",
		"conn_state", stats.State.String(),
		"buffer_len", p.buffer.Len(),
		"received", p.received.Load(),
		"persisted", p.persisted.Load(),
		"failed", p.failed.Load(),
		"flushes", p.scheduler.Flushes())

	if p.events == nil {
		return
	}
	doc, err := json.Marshal(map[string]any{
		"conn_state": stats.State.String(),
		"buffer_len": p.buffer.Len(),
		"received":   p.received.Load(),
		"persisted":  p.persisted.Load(),
		"failed":     p.failed.Load(),
	})
	if err != nil {
		return
	}
	p.events.PublishTopic("status/pipeline", doc)
}

// handleStatusMessage records a device heartbeat. The device id is the
// final topic level.
func (p *Pipeline) handleStatusMessage(msg mqttclient.Message) {
	levels := strings.Split(msg.Topic, "/")
	device := levels[len(levels)-1]
	if device == "" {
		return
	}

	p.mu.Lock()
	p.lastSeen[device] = time.Now()
	p.mu.Unlock()
}

// flush drains one snapshot through transform, validation, and the
// sink. Entries that fail to decode or validate are handed to the
// dead-letter controller one by one with their own cause; a sink
// failure hands over the surviving batch and the controller decides
// requeue versus park.
func (p *Pipeline) flush(ctx context.Context) {
	entries := p.buffer.Snapshot()
	p.metrics.recordBufferLen(p.buffer.Len())
	if len(entries) == 0 {
		return
	}

	start := time.Now()

	records := make([]record.UnifiedRecord, 0, len(entries))
	persistable := make([]BufferedEntry, 0, len(entries))

	for _, entry := range entries {
		recs, err := p.transformer.Transform(entry.Topic, entry.Payload, entry.ReceivedAt)
		if err != nil {
			p.failed.Add(1)
			p.metrics.recordTransformError()
			p.deadLetters.HandleFailure([]BufferedEntry{entry}, err)
			continue
		}
		p.metrics.recordTransformed(len(recs))

		valid := true
		for i := range recs {
			if err := record.Validate(&recs[i]); err != nil {
				p.failed.Add(1)
				p.metrics.recordValidationError()
				p.deadLetters.HandleFailure([]BufferedEntry{entry}, err)
				valid = false
				break
			}
		}
		if !valid {
			continue
		}
		p.metrics.recordValidated(len(recs))

		records = append(records, recs...)
		persistable = append(persistable, entry)
	}

	if len(records) == 0 {
		p.metrics.recordFlush(len(entries), time.Since(start))
		return
	}

	inserted, err := p.sink.BulkInsert(ctx, records)
	if err != nil {
		p.failed.Add(int64(len(persistable)))
		p.metrics.recordPersistError()
		disposition := p.deadLetters.HandleFailure(persistable, err)
		p.logger.Warn("Batch persistence failed",
			"entries", len(persistable),
			"records", len(records),
			"disposition", disposition.String(),
			"error", err)
		p.metrics.recordFlush(len(entries), time.Since(start))
		return
	}

	p.persisted.Add(int64(len(records)))
	p.metrics.recordPersisted(inserted)

	if p.events != nil {
		for i := range records {
			payload, err := json.Marshal(&records[i])
			if err != nil {
				continue
			}
			p.events.PublishTopic(records[i].Source, payload)
		}
	}

	p.metrics.recordFlush(len(entries), time.Since(start))
	p.logger.Debug("Flushed batch",
		"entries", len(entries),
		"records", len(records),
		"inserted", inserted,
		"duration", time.Since(start))
}

// Kick forces an immediate flush attempt
func (p *Pipeline) Kick() {
	p.scheduler.Kick()
}

// BufferLen returns the number of staged entries
func (p *Pipeline) BufferLen() int {
	return p.buffer.Len()
}

// BufferCap returns the buffer's size-pressure threshold
func (p *Pipeline) BufferCap() int {
	return p.buffer.Cap()
}

// ReceivedTotal returns the number of entries staged since creation
func (p *Pipeline) ReceivedTotal() int64 {
	return p.received.Load()
}

// FailedTotal returns the number of entries that failed any stage
func (p *Pipeline) FailedTotal() int64 {
	return p.failed.Load()
}

// LastMessageAt returns the arrival time of the most recent delivery
func (p *Pipeline) LastMessageAt() time.Time {
	t, _ := p.lastActivity.Load().(time.Time)
	return t
}

// DeviceLastSeen returns a copy of the per-device heartbeat times
// gathered from the status topic
func (p *Pipeline) DeviceLastSeen() map[string]time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]time.Time, len(p.lastSeen))
	for device, at := range p.lastSeen {
		out[device] = at
	}
	return out
}

// Meta implements component.Discoverable
func (p *Pipeline) Meta() component.Metadata {
	return component.Metadata{
		Name:        componentName,
		Type:        "processor",
		Description: "Stages broker deliveries and flushes them through transform, validation, and the sink",
		Version:     componentVersion,
	}
}

// Health implements component.Discoverable
func (p *Pipeline) Health() component.HealthStatus {
	p.mu.RLock()
	started := p.startTime
	p.mu.RUnlock()

	status := component.HealthStatus{
		Healthy:    p.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(p.failed.Load()),
	}
	if p.running.Load() && !started.IsZero() {
		status.Uptime = time.Since(started)
	}
	return status
}

// DataFlow implements component.Discoverable
func (p *Pipeline) DataFlow() component.FlowMetrics {
	flow := component.FlowMetrics{
		LastActivity: p.LastMessageAt(),
	}

	p.mu.RLock()
	started := p.startTime
	p.mu.RUnlock()
	if started.IsZero() {
		return flow
	}
	elapsed := time.Since(started).Seconds()
	if elapsed <= 0 {
		return flow
	}

	received := float64(p.received.Load())
	flow.MessagesPerSecond = received / elapsed
	flow.BytesPerSecond = float64(p.bytesIn.Load()) / elapsed
	if received > 0 {
		flow.ErrorRate = float64(p.failed.Load()) / received
	}
	return flow
}

package monitor

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/sensorstream/component"
	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/mqttclient"
	"github.com/c360/sensorstream/pkg/buffer"
	"github.com/c360/sensorstream/pkg/timestamp"
)

const (
	componentName    = "health-monitor"
	componentVersion = "1.0.0"

	defaultCheckInterval = 10 * time.Second
	defaultHistorySize   = 360

	defaultStaleness              = 60 * time.Second
	defaultDeadLetterThreshold    = 100
	defaultBufferHighWatermarkPct = 80
	defaultErrorRatePct           = 10

	// Per-tick counter deltas averaged over this many samples.
	rateWindow = 6
)

// Fan-out channels the monitor publishes on.
const (
	healthChannel = "mqtt/health"
	stateChannel  = "mqtt/connection/state"
	alertsChannel = "event:alerts"
)

// ConnStateReader exposes the broker connection, satisfied by
// *mqttclient.Client.
type ConnStateReader interface {
	State() mqttclient.State
	StateChanges() <-chan mqttclient.StateChange
}

// BufferReader reports staging buffer occupancy, satisfied by
// *ingest.Pipeline.
type BufferReader interface {
	BufferLen() int
	BufferCap() int
}

// DeadLetterReader reports the held dead-letter volume, satisfied by
// *deadletter.Controller.
type DeadLetterReader interface {
	Size() int
}

// RateReader exposes the ingest counters the rates derive from,
// satisfied by *ingest.Pipeline.
type RateReader interface {
	ReceivedTotal() int64
	FailedTotal() int64
	LastMessageAt() time.Time
}

// DeviceReader exposes per-device heartbeat times, satisfied by
// *ingest.Pipeline.
type DeviceReader interface {
	DeviceLastSeen() map[string]time.Time
}

// Recorder persists snapshots and alerts. Failures are logged and
// dropped; the monitor never blocks on its recorder.
type Recorder interface {
	RecordHealthSnapshot(ctx context.Context, snap HealthSnapshot) error
	RecordAlert(ctx context.Context, alert Alert) error
}

// EventPublisher fans monitor output to live subscribers.
type EventPublisher interface {
	PublishEvent(channel string, payload []byte)
}

// Thresholds tune the status derivation. Zero fields take the
// defaults.
type Thresholds struct {
	// Staleness is the longest silence tolerated on a connected
	// broker before the pipeline degrades. Device heartbeats share
	// the same window.
	Staleness time.Duration

	// DeadLetterThreshold is the held-entry count at which the
	// pipeline degrades.
	DeadLetterThreshold int

	// BufferHighWatermarkPct degrades the pipeline when buffer
	// occupancy reaches this percentage of capacity.
	BufferHighWatermarkPct int

	// ErrorRatePct degrades the pipeline when the error rate exceeds
	// this percentage of the ingest rate.
	ErrorRatePct int
}

// Deps carries the monitor's dependencies. Conn, Buffer, DeadLetters,
// and Rates are required; the rest are optional.
type Deps struct {
	Conn        ConnStateReader
	Buffer      BufferReader
	DeadLetters DeadLetterReader
	Rates       RateReader
	Devices     DeviceReader
	Recorder    Recorder
	Events      EventPublisher

	CheckInterval   time.Duration
	Thresholds      Thresholds
	HistorySize     int
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// ratePoint is one tick's worth of counter movement.
type ratePoint struct {
	received float64
	failed   float64
	elapsed  float64
}

// Monitor samples the pipeline on a fixed cadence, derives a status,
// and alerts on transitions.
type Monitor struct {
	conn        ConnStateReader
	buffer      BufferReader
	deadLetters DeadLetterReader
	rates       RateReader
	devices     DeviceReader
	recorder    Recorder
	events      EventPublisher

	checkInterval time.Duration
	thresholds    Thresholds
	history       *buffer.Ring[HealthSnapshot]

	mu          sync.RWMutex
	initialized bool
	current     HealthSnapshot
	sampled     bool
	startTime   time.Time

	// Rate window state, touched only by the sampling goroutine.
	baselined    bool
	lastReceived int64
	lastFailed   int64
	lastSampleAt time.Time
	window       []ratePoint

	running  atomic.Bool
	shutdown chan struct{}
	wg       sync.WaitGroup

	samples      atomic.Int64
	alertsRaised atomic.Int64

	metrics *monitorMetrics
	logger  *slog.Logger
}

var _ component.Discoverable = (*Monitor)(nil)
var _ component.LifecycleComponent = (*Monitor)(nil)

// NewMonitor creates the health monitor from its dependencies
func NewMonitor(deps Deps) (*Monitor, error) {
	if deps.Conn == nil {
		return nil, errors.WrapInvalid(
			stderrors.New("connection state reader is required"),
			"Monitor", "NewMonitor", "validate dependencies")
	}
	if deps.Buffer == nil {
		return nil, errors.WrapInvalid(
			stderrors.New("buffer reader is required"),
			"Monitor", "NewMonitor", "validate dependencies")
	}
	if deps.DeadLetters == nil {
		return nil, errors.WrapInvalid(
			stderrors.New("dead-letter reader is required"),
			"Monitor", "NewMonitor", "validate dependencies")
	}
	if deps.Rates == nil {
		return nil, errors.WrapInvalid(
			stderrors.New("rate reader is required"),
			"Monitor", "NewMonitor", "validate dependencies")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", componentName)
	}

	interval := deps.CheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	thresholds := deps.Thresholds
	if thresholds.Staleness <= 0 {
		thresholds.Staleness = defaultStaleness
	}
	if thresholds.DeadLetterThreshold <= 0 {
		thresholds.DeadLetterThreshold = defaultDeadLetterThreshold
	}
	if thresholds.BufferHighWatermarkPct <= 0 || thresholds.BufferHighWatermarkPct > 100 {
		thresholds.BufferHighWatermarkPct = defaultBufferHighWatermarkPct
	}
	if thresholds.ErrorRatePct <= 0 {
		thresholds.ErrorRatePct = defaultErrorRatePct
	}

	historySize := deps.HistorySize
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	history, err := buffer.NewRing[HealthSnapshot](historySize,
		buffer.WithPolicy(buffer.DropOldest),
		buffer.WithMetrics(deps.MetricsRegistry, "health_history"))
	if err != nil {
		return nil, errors.WrapInvalid(err, "Monitor", "NewMonitor", "create history ring")
	}

	metrics, err := newMonitorMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "Monitor", "NewMonitor", "register metrics")
	}

	return &Monitor{
		conn:          deps.Conn,
		buffer:        deps.Buffer,
		deadLetters:   deps.DeadLetters,
		rates:         deps.Rates,
		devices:       deps.Devices,
		recorder:      deps.Recorder,
		events:        deps.Events,
		checkInterval: interval,
		thresholds:    thresholds,
		history:       history,
		metrics:       metrics,
		logger:        logger,
	}, nil
}

// Initialize resets the rate baseline. Re-callable after Stop; the
// snapshot history survives a restart, the rate window does not.
func (m *Monitor) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running.Load() {
		return errors.WrapInvalid(
			stderrors.New("monitor is running"),
			"Monitor", "Initialize", "check lifecycle state")
	}

	m.baselined = false
	m.lastSampleAt = time.Time{}
	m.window = nil
	m.initialized = true
	return nil
}

// Start takes an immediate first sample and begins the check cadence
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotInitialized, "Monitor", "Start", "start monitoring")
	}
	if m.running.Load() {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Monitor", "Start", "start monitoring")
	}
	m.shutdown = make(chan struct{})
	m.startTime = time.Now()
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx)
	m.running.Store(true)

	m.logger.Info("Health monitor started",
		"check_interval", m.checkInterval,
		"staleness", m.thresholds.Staleness,
		"dead_letter_threshold", m.thresholds.DeadLetterThreshold,
		"buffer_high_watermark_pct", m.thresholds.BufferHighWatermarkPct,
		"error_rate_pct", m.thresholds.ErrorRatePct)
	return nil
}

// Stop ends the check cadence. Idempotent; returns nil when the
// monitor is not running.
func (m *Monitor) Stop(timeout time.Duration) error {
	m.mu.Lock()
	if !m.running.Load() {
		m.mu.Unlock()
		return nil
	}
	m.running.Store(false)
	close(m.shutdown)
	m.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("stop timeout after %v", timeout),
			"Monitor", "Stop", "await check loop")
	}

	m.logger.Info("Health monitor stopped")
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	changes := m.conn.StateChanges()

	m.sample(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdown:
			return
		case change := <-changes:
			m.handleStateChange(ctx, change)
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

// handleStateChange forwards a broker transition to the fan-out bridge
// and, on entry to the terminal errored state, samples immediately so
// the critical alert does not wait out the tick.
func (m *Monitor) handleStateChange(ctx context.Context, change mqttclient.StateChange) {
	m.metrics.recordStateChange()

	doc := map[string]any{
		"from":    change.From.String(),
		"to":      change.To.String(),
		"attempt": change.Attempt,
		"at":      timestamp.ToUnixMs(change.At),
	}
	if change.Err != nil {
		doc["error"] = change.Err.Error()
	}
	if m.events != nil {
		if payload, err := json.Marshal(doc); err == nil {
			m.events.PublishEvent(stateChannel, payload)
		}
	}

	if change.To == mqttclient.StateErrored {
		m.sample(ctx)
	}
}

// sample derives one snapshot, stores it, and alerts when the status
// moved. The transition gate means holding in a bad state never
// re-alerts.
func (m *Monitor) sample(ctx context.Context) {
	snap := m.evaluate(time.Now())
	m.samples.Add(1)

	m.mu.Lock()
	prevStatus := StatusHealthy
	if m.sampled {
		prevStatus = m.current.Status
	}
	m.current = snap
	m.sampled = true
	m.mu.Unlock()

	m.history.Write(snap)
	m.metrics.recordSnapshot(snap)

	if m.recorder != nil {
		if err := m.recorder.RecordHealthSnapshot(ctx, snap); err != nil {
			m.logger.Debug("Snapshot record failed", "error", err)
		}
	}
	if m.events != nil {
		if payload, err := json.Marshal(snap); err == nil {
			m.events.PublishEvent(healthChannel, payload)
		}
	}

	if prevStatus != snap.Status {
		m.raiseAlert(ctx, prevStatus, snap)
	}
}

// evaluate derives a snapshot from the readers. The first matching
// check in priority order decides the status; every detected problem
// is recorded in Issues.
func (m *Monitor) evaluate(now time.Time) HealthSnapshot {
	state := m.conn.State()
	bufLen := m.buffer.BufferLen()
	bufCap := m.buffer.BufferCap()
	held := m.deadLetters.Size()
	lastMsg := m.rates.LastMessageAt()
	ingestRate, errorRate := m.rollRates(m.rates.ReceivedTotal(), m.rates.FailedTotal(), now)

	snap := HealthSnapshot{
		At:          timestamp.ToUnixMs(now),
		Status:      StatusHealthy,
		ConnState:   state.String(),
		BufferLen:   bufLen,
		BufferCap:   bufCap,
		DeadLetters: held,
		IngestRate:  ingestRate,
		ErrorRate:   errorRate,
	}
	if !lastMsg.IsZero() {
		snap.LastMessageAt = timestamp.ToUnixMs(lastMsg)
	}

	degrade := func(issue string) {
		if snap.Status == StatusHealthy {
			snap.Status = StatusDegraded
		}
		snap.Issues = append(snap.Issues, issue)
	}

	switch {
	case state == mqttclient.StateErrored:
		snap.Status = StatusUnhealthy
		snap.Issues = append(snap.Issues, "connection errored")
	case state != mqttclient.StateConnected:
		degrade("connection " + state.String())
	}

	if held >= m.thresholds.DeadLetterThreshold {
		degrade(fmt.Sprintf("%d entries parked in the dead-letter store", held))
	}
	if bufCap > 0 && bufLen*100 >= m.thresholds.BufferHighWatermarkPct*bufCap {
		degrade(fmt.Sprintf("buffer at %d%% of capacity", bufLen*100/bufCap))
	}
	if state == mqttclient.StateConnected {
		// Before the first message the monitor's own start time is
		// the silence reference.
		reference := lastMsg
		if reference.IsZero() {
			m.mu.RLock()
			reference = m.startTime
			m.mu.RUnlock()
		}
		if !reference.IsZero() {
			if silence := now.Sub(reference); silence > m.thresholds.Staleness {
				degrade(fmt.Sprintf("no messages for %ds", int(silence.Seconds())))
			}
		}
	}
	if ingestRate > 0 && errorRate*100 > float64(m.thresholds.ErrorRatePct)*ingestRate {
		degrade(fmt.Sprintf("error rate %.0f%% of ingest", errorRate/ingestRate*100))
	}

	if m.devices != nil {
		var stale []string
		for device, seen := range m.devices.DeviceLastSeen() {
			if silence := now.Sub(seen); silence > m.thresholds.Staleness {
				stale = append(stale, fmt.Sprintf("device %s silent for %ds", device, int(silence.Seconds())))
			}
		}
		sort.Strings(stale)
		snap.Issues = append(snap.Issues, stale...)
	}

	return snap
}

// rollRates folds the current counter readings into the rolling window
// and returns the smoothed per-second ingest and error rates. The
// first call only establishes the baseline.
func (m *Monitor) rollRates(received, failed int64, now time.Time) (float64, float64) {
	if !m.baselined {
		m.baselined = true
		m.lastReceived = received
		m.lastFailed = failed
		m.lastSampleAt = now
		return 0, 0
	}

	elapsed := now.Sub(m.lastSampleAt).Seconds()
	if elapsed <= 0 {
		elapsed = time.Millisecond.Seconds()
	}
	point := ratePoint{
		received: float64(received - m.lastReceived),
		failed:   float64(failed - m.lastFailed),
		elapsed:  elapsed,
	}
	// Counters reset when the pipeline restarts; a negative delta is
	// a quiet tick, not a rollback.
	if point.received < 0 {
		point.received = 0
	}
	if point.failed < 0 {
		point.failed = 0
	}
	m.lastReceived = received
	m.lastFailed = failed
	m.lastSampleAt = now

	m.window = append(m.window, point)
	if len(m.window) > rateWindow {
		m.window = m.window[len(m.window)-rateWindow:]
	}

	var receivedSum, failedSum, elapsedSum float64
	for _, p := range m.window {
		receivedSum += p.received
		failedSum += p.failed
		elapsedSum += p.elapsed
	}
	if elapsedSum <= 0 {
		return 0, 0
	}
	return receivedSum / elapsedSum, failedSum / elapsedSum
}

// raiseAlert emits the transition alert to the log, the recorder, and
// the fan-out bridge.
func (m *Monitor) raiseAlert(ctx context.Context, from Status, snap HealthSnapshot) {
	severity := SeverityInfo
	code := "status-recovered"
	message := "pipeline recovered"
	switch snap.Status {
	case StatusUnhealthy:
		severity = SeverityCritical
		code = "status-unhealthy"
		message = "pipeline unhealthy"
	case StatusDegraded:
		severity = SeverityWarning
		code = "status-degraded"
		message = "pipeline degraded"
	}
	if len(snap.Issues) > 0 {
		message += ": " + strings.Join(snap.Issues, "; ")
	}

	alert := Alert{
		ID:       uuid.NewString(),
		At:       snap.At,
		Severity: severity,
		Code:     code,
		Message:  message,
		Snapshot: snap,
	}
	m.alertsRaised.Add(1)
	m.metrics.recordAlert()

	args := []any{"from", from.String(), "to", snap.Status.String(), "message", message}
	switch severity {
	case SeverityCritical:
		m.logger.Error("Health status changed", args...)
	case SeverityWarning:
		m.logger.Warn("Health status changed", args...)
	default:
		m.logger.Info("Health status changed", args...)
	}

	if m.recorder != nil {
		if err := m.recorder.RecordAlert(ctx, alert); err != nil {
			m.logger.Debug("Alert record failed", "error", err)
		}
	}
	if m.events != nil {
		if payload, err := json.Marshal(alert); err == nil {
			m.events.PublishEvent(alertsChannel, payload)
		}
	}
}

// Current returns the latest snapshot, zero before the first sample
func (m *Monitor) Current() HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// History returns up to n retained snapshots in arrival order. n <= 0
// returns the whole retained window.
func (m *Monitor) History(n int) []HealthSnapshot {
	items := m.history.Items()
	if n > 0 && len(items) > n {
		items = items[len(items)-n:]
	}
	return items
}

// Samples returns how many snapshots have been taken
func (m *Monitor) Samples() int64 {
	return m.samples.Load()
}

// AlertsRaised returns how many transition alerts have fired
func (m *Monitor) AlertsRaised() int64 {
	return m.alertsRaised.Load()
}

// Meta implements component.Discoverable
func (m *Monitor) Meta() component.Metadata {
	return component.Metadata{
		Name:        componentName,
		Type:        "monitor",
		Description: "Derives pipeline health from the live components and alerts on status transitions",
		Version:     componentVersion,
	}
}

// Health implements component.Discoverable
func (m *Monitor) Health() component.HealthStatus {
	m.mu.RLock()
	started := m.startTime
	m.mu.RUnlock()

	status := component.HealthStatus{
		Healthy:   m.running.Load(),
		LastCheck: time.Now(),
	}
	if m.running.Load() && !started.IsZero() {
		status.Uptime = time.Since(started)
	}
	return status
}

// DataFlow implements component.Discoverable
func (m *Monitor) DataFlow() component.FlowMetrics {
	var flow component.FlowMetrics

	m.mu.RLock()
	started := m.startTime
	if m.sampled {
		flow.LastActivity = timestamp.FromUnixMs(m.current.At)
	}
	m.mu.RUnlock()

	if started.IsZero() {
		return flow
	}
	elapsed := time.Since(started).Seconds()
	if elapsed <= 0 {
		return flow
	}
	flow.MessagesPerSecond = float64(m.samples.Load()) / elapsed
	return flow
}

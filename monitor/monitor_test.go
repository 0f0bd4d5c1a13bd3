package monitor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstream/component"
	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/mqttclient"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeReaders backs every reader interface the monitor samples.
type fakeReaders struct {
	mu       sync.Mutex
	state    mqttclient.State
	changes  chan mqttclient.StateChange
	bufLen   int
	bufCap   int
	held     int
	received int64
	failed   int64
	lastMsg  time.Time
	devices  map[string]time.Time
}

var _ ConnStateReader = (*fakeReaders)(nil)
var _ BufferReader = (*fakeReaders)(nil)
var _ DeadLetterReader = (*fakeReaders)(nil)
var _ RateReader = (*fakeReaders)(nil)
var _ DeviceReader = (*fakeReaders)(nil)

func newFakeReaders() *fakeReaders {
	return &fakeReaders{
		state:   mqttclient.StateConnected,
		changes: make(chan mqttclient.StateChange, 8),
		bufCap:  1000,
		lastMsg: time.Now(),
	}
}

func (f *fakeReaders) set(mutate func(*fakeReaders)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(f)
}

func (f *fakeReaders) State() mqttclient.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeReaders) StateChanges() <-chan mqttclient.StateChange {
	return f.changes
}

func (f *fakeReaders) BufferLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bufLen
}

func (f *fakeReaders) BufferCap() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bufCap
}

func (f *fakeReaders) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}

func (f *fakeReaders) ReceivedTotal() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.received
}

func (f *fakeReaders) FailedTotal() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

func (f *fakeReaders) LastMessageAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMsg
}

func (f *fakeReaders) DeviceLastSeen() map[string]time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]time.Time, len(f.devices))
	for device, at := range f.devices {
		seen[device] = at
	}
	return seen
}

// captureRecorder collects what the monitor hands its recorder.
type captureRecorder struct {
	mu        sync.Mutex
	snapshots []HealthSnapshot
	alerts    []Alert
	snapErr   error
	alertErr  error
}

var _ Recorder = (*captureRecorder)(nil)

func (c *captureRecorder) RecordHealthSnapshot(_ context.Context, snap HealthSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots = append(c.snapshots, snap)
	return c.snapErr
}

func (c *captureRecorder) RecordAlert(_ context.Context, alert Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return c.alertErr
}

func (c *captureRecorder) recordedAlerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

func (c *captureRecorder) recordedSnapshots() []HealthSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]HealthSnapshot(nil), c.snapshots...)
}

// captureEvents collects fan-out publishes by channel.
type captureEvents struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
}

var _ EventPublisher = (*captureEvents)(nil)

func (c *captureEvents) PublishEvent(channel string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = append(c.channels, channel)
	c.payloads = append(c.payloads, append([]byte(nil), payload...))
}

func (c *captureEvents) byChannel(channel string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched [][]byte
	for i, ch := range c.channels {
		if ch == channel {
			matched = append(matched, c.payloads[i])
		}
	}
	return matched
}

func newTestMonitor(t *testing.T, mutate func(*Deps)) (*Monitor, *fakeReaders, *captureRecorder, *captureEvents) {
	t.Helper()

	readers := newFakeReaders()
	recorder := &captureRecorder{}
	events := &captureEvents{}

	deps := Deps{
		Conn:        readers,
		Buffer:      readers,
		DeadLetters: readers,
		Rates:       readers,
		Devices:     readers,
		Recorder:    recorder,
		Events:      events,
		Logger:      discardLogger(),
	}
	if mutate != nil {
		mutate(&deps)
	}

	m, err := NewMonitor(deps)
	require.NoError(t, err)
	return m, readers, recorder, events
}

func TestNewMonitor_RequiredDeps(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"nil conn", func(d *Deps) { d.Conn = nil }},
		{"nil buffer", func(d *Deps) { d.Buffer = nil }},
		{"nil dead letters", func(d *Deps) { d.DeadLetters = nil }},
		{"nil rates", func(d *Deps) { d.Rates = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			readers := newFakeReaders()
			deps := Deps{
				Conn:        readers,
				Buffer:      readers,
				DeadLetters: readers,
				Rates:       readers,
				Logger:      discardLogger(),
			}
			tc.mutate(&deps)

			m, err := NewMonitor(deps)
			require.Error(t, err)
			require.Nil(t, m)
			require.True(t, errors.IsInvalid(err))
		})
	}
}

func TestNewMonitor_Defaults(t *testing.T) {
	m, _, _, _ := newTestMonitor(t, nil)

	require.Equal(t, defaultCheckInterval, m.checkInterval)
	require.Equal(t, defaultStaleness, m.thresholds.Staleness)
	require.Equal(t, defaultDeadLetterThreshold, m.thresholds.DeadLetterThreshold)
	require.Equal(t, defaultBufferHighWatermarkPct, m.thresholds.BufferHighWatermarkPct)
	require.Equal(t, defaultErrorRatePct, m.thresholds.ErrorRatePct)
	require.Equal(t, defaultHistorySize, m.history.Cap())
}

func TestEvaluate_Healthy(t *testing.T) {
	m, readers, _, _ := newTestMonitor(t, nil)
	readers.set(func(r *fakeReaders) {
		r.bufLen = 10
		r.held = 3
	})

	snap := m.evaluate(time.Now())

	require.Equal(t, StatusHealthy, snap.Status)
	require.Empty(t, snap.Issues)
	require.Equal(t, "connected", snap.ConnState)
	require.Equal(t, 10, snap.BufferLen)
	require.Equal(t, 1000, snap.BufferCap)
	require.Equal(t, 3, snap.DeadLetters)
	require.NotZero(t, snap.At)
	require.NotZero(t, snap.LastMessageAt)
}

func TestEvaluate_Derivation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*fakeReaders)
		status Status
		issue  string
	}{
		{
			name:   "errored connection is unhealthy",
			mutate: func(r *fakeReaders) { r.state = mqttclient.StateErrored },
			status: StatusUnhealthy,
			issue:  "connection errored",
		},
		{
			name:   "disconnected degrades",
			mutate: func(r *fakeReaders) { r.state = mqttclient.StateDisconnected },
			status: StatusDegraded,
			issue:  "connection disconnected",
		},
		{
			name:   "reconnecting degrades",
			mutate: func(r *fakeReaders) { r.state = mqttclient.StateReconnecting },
			status: StatusDegraded,
			issue:  "connection reconnecting",
		},
		{
			name:   "dead letters at threshold degrade",
			mutate: func(r *fakeReaders) { r.held = defaultDeadLetterThreshold },
			status: StatusDegraded,
			issue:  "parked in the dead-letter store",
		},
		{
			name:   "buffer at high watermark degrades",
			mutate: func(r *fakeReaders) { r.bufLen = 800 },
			status: StatusDegraded,
			issue:  "buffer at 80% of capacity",
		},
		{
			name:   "stale ingest degrades",
			mutate: func(r *fakeReaders) { r.lastMsg = time.Now().Add(-2 * time.Minute) },
			status: StatusDegraded,
			issue:  "no messages for 120s",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, readers, _, _ := newTestMonitor(t, nil)
			readers.set(tc.mutate)

			snap := m.evaluate(time.Now())

			require.Equal(t, tc.status, snap.Status)
			require.Len(t, snap.Issues, 1)
			require.Contains(t, snap.Issues[0], tc.issue)
		})
	}
}

func TestEvaluate_IssuesAccumulate(t *testing.T) {
	m, readers, _, _ := newTestMonitor(t, nil)
	readers.set(func(r *fakeReaders) {
		r.state = mqttclient.StateErrored
		r.bufLen = 900
		r.held = 500
	})

	snap := m.evaluate(time.Now())

	require.Equal(t, StatusUnhealthy, snap.Status)
	require.Len(t, snap.Issues, 3)
	require.Contains(t, snap.Issues[0], "connection errored")
	require.Contains(t, snap.Issues[1], "dead-letter")
	require.Contains(t, snap.Issues[2], "buffer at 90%")
}

func TestEvaluate_StalenessNeedsConnection(t *testing.T) {
	// Silence on a broken connection is already reported as the
	// connection issue.
	m, readers, _, _ := newTestMonitor(t, nil)
	readers.set(func(r *fakeReaders) {
		r.state = mqttclient.StateDisconnected
		r.lastMsg = time.Now().Add(-time.Hour)
	})

	snap := m.evaluate(time.Now())

	require.Equal(t, StatusDegraded, snap.Status)
	require.Len(t, snap.Issues, 1)
	require.Contains(t, snap.Issues[0], "connection disconnected")
}

func TestEvaluate_ErrorRate(t *testing.T) {
	m, readers, _, _ := newTestMonitor(t, nil)
	now := time.Now()

	first := m.evaluate(now)
	require.Equal(t, StatusHealthy, first.Status)

	readers.set(func(r *fakeReaders) {
		r.received = 100
		r.failed = 20
		r.lastMsg = now.Add(time.Second)
	})
	second := m.evaluate(now.Add(time.Second))

	require.Equal(t, StatusDegraded, second.Status)
	require.Len(t, second.Issues, 1)
	require.Contains(t, second.Issues[0], "error rate 20% of ingest")
	require.InDelta(t, 100.0, second.IngestRate, 0.001)
	require.InDelta(t, 20.0, second.ErrorRate, 0.001)
}

func TestEvaluate_StaleDevicesListedWithoutDegrading(t *testing.T) {
	m, readers, _, _ := newTestMonitor(t, nil)
	now := time.Now()
	readers.set(func(r *fakeReaders) {
		r.lastMsg = now
		r.devices = map[string]time.Time{
			"press-4": now.Add(-3 * time.Minute),
			"oven-1":  now.Add(-2 * time.Minute),
			"mill-2":  now,
		}
	})

	snap := m.evaluate(now)

	require.Equal(t, StatusHealthy, snap.Status)
	require.Len(t, snap.Issues, 2)
	require.Contains(t, snap.Issues[0], "device oven-1 silent for 120s")
	require.Contains(t, snap.Issues[1], "device press-4 silent for 180s")
}

func TestRollRates_SmoothsOverWindow(t *testing.T) {
	m, _, _, _ := newTestMonitor(t, nil)
	base := time.Now()

	ingest, errRate := m.rollRates(0, 0, base)
	require.Zero(t, ingest)
	require.Zero(t, errRate)

	ingest, errRate = m.rollRates(100, 0, base.Add(time.Second))
	require.InDelta(t, 100.0, ingest, 0.001)
	require.Zero(t, errRate)

	ingest, errRate = m.rollRates(200, 10, base.Add(2*time.Second))
	require.InDelta(t, 100.0, ingest, 0.001)
	require.InDelta(t, 5.0, errRate, 0.001)
}

func TestRollRates_WindowBoundedAndResetTolerant(t *testing.T) {
	m, _, _, _ := newTestMonitor(t, nil)
	base := time.Now()

	m.rollRates(0, 0, base)
	for i := 1; i <= 10; i++ {
		m.rollRates(int64(i*10), 0, base.Add(time.Duration(i)*time.Second))
	}
	require.Len(t, m.window, rateWindow)

	// A counter that goes backwards reads as a quiet tick.
	ingest, _ := m.rollRates(0, 0, base.Add(11*time.Second))
	require.GreaterOrEqual(t, ingest, 0.0)
}

func TestSample_TransitionAlerts(t *testing.T) {
	m, readers, recorder, events := newTestMonitor(t, nil)
	ctx := context.Background()

	m.sample(ctx) // healthy baseline, no alert
	m.sample(ctx) // still healthy

	readers.set(func(r *fakeReaders) { r.state = mqttclient.StateReconnecting })
	m.sample(ctx) // -> degraded, warning
	m.sample(ctx) // holding, no new alert

	readers.set(func(r *fakeReaders) {
		r.state = mqttclient.StateConnected
		r.lastMsg = time.Now()
	})
	m.sample(ctx) // -> healthy, info

	readers.set(func(r *fakeReaders) { r.state = mqttclient.StateErrored })
	m.sample(ctx) // -> unhealthy, critical
	m.sample(ctx) // holding, no new alert

	alerts := recorder.recordedAlerts()
	require.Len(t, alerts, 3)

	require.Equal(t, SeverityWarning, alerts[0].Severity)
	require.Equal(t, "status-degraded", alerts[0].Code)
	require.Equal(t, StatusDegraded, alerts[0].Snapshot.Status)
	require.Contains(t, alerts[0].Message, "connection reconnecting")

	require.Equal(t, SeverityInfo, alerts[1].Severity)
	require.Equal(t, "status-recovered", alerts[1].Code)

	require.Equal(t, SeverityCritical, alerts[2].Severity)
	require.Equal(t, "status-unhealthy", alerts[2].Code)
	require.Contains(t, alerts[2].Message, "connection errored")

	require.NotEmpty(t, alerts[0].ID)
	require.NotEqual(t, alerts[0].ID, alerts[1].ID)

	require.Len(t, recorder.recordedSnapshots(), 7)
	require.Len(t, events.byChannel(healthChannel), 7)
	require.Len(t, events.byChannel(alertsChannel), 3)
	require.Equal(t, int64(3), m.AlertsRaised())
}

func TestSample_FirstSampleCanAlert(t *testing.T) {
	// The implicit baseline is healthy, so booting into a bad state
	// alerts straight away.
	m, readers, recorder, _ := newTestMonitor(t, nil)
	readers.set(func(r *fakeReaders) { r.state = mqttclient.StateConnecting })

	m.sample(context.Background())

	alerts := recorder.recordedAlerts()
	require.Len(t, alerts, 1)
	require.Equal(t, SeverityWarning, alerts[0].Severity)
}

func TestSample_RecorderFailuresAreSwallowed(t *testing.T) {
	m, _, recorder, _ := newTestMonitor(t, nil)
	recorder.snapErr = errors.WrapPersistence(
		errors.ErrSinkUnavailable, "test", "record", "injected")
	recorder.alertErr = recorder.snapErr

	m.sample(context.Background())

	require.Equal(t, int64(1), m.Samples())
	require.Equal(t, StatusHealthy, m.Current().Status)
}

func TestSample_AlertPayloadUnmarshals(t *testing.T) {
	m, readers, _, events := newTestMonitor(t, nil)
	readers.set(func(r *fakeReaders) { r.state = mqttclient.StateErrored })

	m.sample(context.Background())

	published := events.byChannel(alertsChannel)
	require.Len(t, published, 1)

	var alert Alert
	require.NoError(t, json.Unmarshal(published[0], &alert))
	require.Equal(t, SeverityCritical, alert.Severity)
	require.Equal(t, StatusUnhealthy, alert.Snapshot.Status)
	require.Equal(t, "errored", alert.Snapshot.ConnState)
}

func TestHistory_RingDropsOldest(t *testing.T) {
	m, readers, _, _ := newTestMonitor(t, func(d *Deps) { d.HistorySize = 3 })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		readers.set(func(r *fakeReaders) { r.bufLen = (i + 1) * 10 })
		m.sample(ctx)
	}

	all := m.History(0)
	require.Len(t, all, 3)
	require.Equal(t, 30, all[0].BufferLen)
	require.Equal(t, 40, all[1].BufferLen)
	require.Equal(t, 50, all[2].BufferLen)

	last := m.History(2)
	require.Len(t, last, 2)
	require.Equal(t, 40, last[0].BufferLen)
	require.Equal(t, 50, last[1].BufferLen)

	require.Len(t, m.History(100), 3)
}

func TestCurrent_ZeroBeforeFirstSample(t *testing.T) {
	m, _, _, _ := newTestMonitor(t, nil)

	snap := m.Current()
	require.Zero(t, snap.At)
	require.Equal(t, StatusHealthy, snap.Status)
}

func TestHandleStateChange_Forwarded(t *testing.T) {
	m, _, _, events := newTestMonitor(t, nil)

	m.handleStateChange(context.Background(), mqttclient.StateChange{
		From:    mqttclient.StateConnecting,
		To:      mqttclient.StateReconnecting,
		Err:     errors.ErrSinkUnavailable,
		Attempt: 2,
		At:      time.Now(),
	})

	published := events.byChannel(stateChannel)
	require.Len(t, published, 1)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(published[0], &doc))
	require.Equal(t, "connecting", doc["from"])
	require.Equal(t, "reconnecting", doc["to"])
	require.Equal(t, float64(2), doc["attempt"])
	require.NotEmpty(t, doc["error"])
}

func TestMonitor_Lifecycle(t *testing.T) {
	t.Run("start requires initialize", func(t *testing.T) {
		m, _, _, _ := newTestMonitor(t, nil)
		err := m.Start(context.Background())
		require.Error(t, err)
		require.ErrorIs(t, err, errors.ErrNotInitialized)
	})

	t.Run("double start rejected", func(t *testing.T) {
		m, _, _, _ := newTestMonitor(t, func(d *Deps) { d.CheckInterval = time.Hour })
		require.NoError(t, m.Initialize())
		require.NoError(t, m.Start(context.Background()))
		defer func() { require.NoError(t, m.Stop(time.Second)) }()

		err := m.Start(context.Background())
		require.Error(t, err)
		require.ErrorIs(t, err, errors.ErrAlreadyStarted)
	})

	t.Run("stop before start is a no-op", func(t *testing.T) {
		m, _, _, _ := newTestMonitor(t, nil)
		require.NoError(t, m.Stop(time.Second))
	})

	t.Run("initialize rejected while running", func(t *testing.T) {
		m, _, _, _ := newTestMonitor(t, func(d *Deps) { d.CheckInterval = time.Hour })
		require.NoError(t, m.Initialize())
		require.NoError(t, m.Start(context.Background()))
		defer func() { require.NoError(t, m.Stop(time.Second)) }()

		err := m.Initialize()
		require.Error(t, err)
		require.True(t, errors.IsInvalid(err))
	})

	t.Run("cadence samples until stopped", func(t *testing.T) {
		m, _, _, _ := newTestMonitor(t, func(d *Deps) { d.CheckInterval = 10 * time.Millisecond })
		require.NoError(t, m.Initialize())
		require.NoError(t, m.Start(context.Background()))

		require.Eventually(t, func() bool {
			return m.Samples() >= 3
		}, time.Second, 5*time.Millisecond)

		require.NoError(t, m.Stop(time.Second))
		require.NoError(t, m.Stop(time.Second))

		settled := m.Samples()
		time.Sleep(30 * time.Millisecond)
		require.Equal(t, settled, m.Samples())
	})
}

func TestMonitor_LifecycleConformance(t *testing.T) {
	component.StandardLifecycleTests(t, func() component.LifecycleComponent {
		m, _, _, _ := newTestMonitor(t, func(d *Deps) { d.CheckInterval = time.Hour })
		return m
	})
}

func TestMonitor_ErroredEntryAlertsOnce(t *testing.T) {
	m, readers, recorder, events := newTestMonitor(t, func(d *Deps) { d.CheckInterval = time.Hour })
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Start(context.Background()))
	defer func() { require.NoError(t, m.Stop(time.Second)) }()

	require.Eventually(t, func() bool {
		return m.Samples() == 1
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, recorder.recordedAlerts())

	readers.set(func(r *fakeReaders) { r.state = mqttclient.StateErrored })
	readers.changes <- mqttclient.StateChange{
		From: mqttclient.StateReconnecting,
		To:   mqttclient.StateErrored,
		Err:  errors.ErrSinkUnavailable,
		At:   time.Now(),
	}

	require.Eventually(t, func() bool {
		return m.AlertsRaised() == 1
	}, time.Second, 5*time.Millisecond)

	alerts := recorder.recordedAlerts()
	require.Len(t, alerts, 1)
	require.Equal(t, SeverityCritical, alerts[0].Severity)

	// A repeated notification while already errored must not re-alert.
	readers.changes <- mqttclient.StateChange{
		From: mqttclient.StateErrored,
		To:   mqttclient.StateErrored,
		At:   time.Now(),
	}
	require.Eventually(t, func() bool {
		return m.Samples() == 3
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, int64(1), m.AlertsRaised())
	require.Len(t, events.byChannel(stateChannel), 2)
}

func TestMonitor_Discoverable(t *testing.T) {
	m, _, _, _ := newTestMonitor(t, func(d *Deps) { d.CheckInterval = 10 * time.Millisecond })

	meta := m.Meta()
	require.Equal(t, "health-monitor", meta.Name)
	require.Equal(t, "monitor", meta.Type)

	require.False(t, m.Health().Healthy)

	require.NoError(t, m.Initialize())
	require.NoError(t, m.Start(context.Background()))
	defer func() { require.NoError(t, m.Stop(time.Second)) }()

	require.True(t, m.Health().Healthy)
	require.Eventually(t, func() bool {
		return m.DataFlow().MessagesPerSecond > 0
	}, time.Second, 5*time.Millisecond)
	require.False(t, m.DataFlow().LastActivity.IsZero())
}

func TestStatus_JSON(t *testing.T) {
	encoded, err := json.Marshal(StatusDegraded)
	require.NoError(t, err)
	require.Equal(t, `"degraded"`, string(encoded))

	var status Status
	require.NoError(t, json.Unmarshal([]byte(`"unhealthy"`), &status))
	require.Equal(t, StatusUnhealthy, status)

	require.Error(t, json.Unmarshal([]byte(`"broken"`), &status))
}

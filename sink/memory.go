package sink

import (
	"context"
	"sync"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/monitor"
	"github.com/c360/sensorstream/record"
)

// memoryKey mirrors the postgres unique index on (sensor_id, ts)
type memoryKey struct {
	sensorID string
	ts       int64
}

// Memory is an in-process Sink. Tests use it directly; the binary falls
// back to it when no DSN is configured so the pipeline still runs
// end to end.
type Memory struct {
	mu        sync.Mutex
	records   map[memoryKey]record.UnifiedRecord
	order     []memoryKey
	snapshots []monitor.HealthSnapshot
	alerts    []monitor.Alert
	closed    bool

	// Failure injection for pipeline tests
	failRemaining int
	failErr       error
}

var _ Sink = (*Memory)(nil)

// NewMemory creates an empty in-process sink
func NewMemory() *Memory {
	return &Memory{
		records: make(map[memoryKey]record.UnifiedRecord),
	}
}

// FailNext makes the next n BulkInsert calls fail with err. Used by
// pipeline tests to drive the retry and dead-letter paths.
func (m *Memory) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRemaining = n
	m.failErr = err
}

// BulkInsert implements Sink. Records whose (sensor id, timestamp) key
// already exists are skipped.
func (m *Memory) BulkInsert(_ context.Context, recs []record.UnifiedRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errors.WrapPersistence(errors.ErrSinkClosed, "MemorySink", "BulkInsert", "check sink state")
	}
	if m.failRemaining > 0 {
		m.failRemaining--
		return 0, m.failErr
	}

	inserted := 0
	for _, rec := range recs {
		key := memoryKey{sensorID: rec.SensorID, ts: rec.Timestamp}
		if _, dup := m.records[key]; dup {
			continue
		}
		m.records[key] = rec
		m.order = append(m.order, key)
		inserted++
	}
	return inserted, nil
}

// RecordHealthSnapshot implements Sink
func (m *Memory) RecordHealthSnapshot(_ context.Context, snap monitor.HealthSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.WrapPersistence(errors.ErrSinkClosed, "MemorySink", "RecordHealthSnapshot", "check sink state")
	}
	m.snapshots = append(m.snapshots, snap)
	return nil
}

// RecordAlert implements Sink
func (m *Memory) RecordAlert(_ context.Context, alert monitor.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.WrapPersistence(errors.ErrSinkClosed, "MemorySink", "RecordAlert", "check sink state")
	}
	m.alerts = append(m.alerts, alert)
	return nil
}

// Close implements Sink
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Records returns the persisted records in insertion order
func (m *Memory) Records() []record.UnifiedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]record.UnifiedRecord, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.records[key])
	}
	return out
}

// Snapshots returns the stored health snapshots in arrival order
func (m *Memory) Snapshots() []monitor.HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]monitor.HealthSnapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

// Alerts returns the stored alerts in arrival order
func (m *Memory) Alerts() []monitor.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]monitor.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Len returns the number of distinct persisted records
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

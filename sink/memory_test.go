package sink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/monitor"
	"github.com/c360/sensorstream/record"
)

func TestMemory_BulkInsertDeduplicates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	inserted, err := m.BulkInsert(ctx, []record.UnifiedRecord{
		reading("t-1", 1000, 21.5),
		reading("t-2", 2000, 21.7),
	})
	require.NoError(t, err)
	require.Equal(t, 2, inserted)

	// Redelivery of an existing key plus one new record.
	inserted, err = m.BulkInsert(ctx, []record.UnifiedRecord{
		reading("t-1", 1000, 21.5),
		reading("t-1", 3000, 21.9),
	})
	require.NoError(t, err)
	require.Equal(t, 1, inserted)
	require.Equal(t, 3, m.Len())

	records := m.Records()
	require.Len(t, records, 3)
	require.Equal(t, "t-1", records[0].SensorID)
	require.Equal(t, int64(3000), records[2].Timestamp)
}

func TestMemory_SameSensorDistinctTimestamps(t *testing.T) {
	m := NewMemory()

	inserted, err := m.BulkInsert(context.Background(), []record.UnifiedRecord{
		reading("t-1", 1000, 21.0),
		reading("t-1", 1001, 21.3),
		reading("t-1", 1002, 21.1),
	})
	require.NoError(t, err)
	require.Equal(t, 3, inserted)

	records := m.Records()
	require.Equal(t, 21.0, records[0].Value)
	require.Equal(t, 21.3, records[1].Value)
	require.Equal(t, 21.1, records[2].Value)
}

func TestMemory_FailNext(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	injected := errors.WrapPersistence(errors.ErrSinkUnavailable, "test", "inject", "forced failure")
	m.FailNext(2, injected)

	_, err := m.BulkInsert(ctx, []record.UnifiedRecord{reading("t-1", 1000, 21.5)})
	require.ErrorIs(t, err, errors.ErrSinkUnavailable)
	_, err = m.BulkInsert(ctx, []record.UnifiedRecord{reading("t-1", 1000, 21.5)})
	require.Error(t, err)

	inserted, err := m.BulkInsert(ctx, []record.UnifiedRecord{reading("t-1", 1000, 21.5)})
	require.NoError(t, err)
	require.Equal(t, 1, inserted)
}

func TestMemory_SnapshotsAndAlerts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.RecordHealthSnapshot(ctx, monitor.HealthSnapshot{At: 1, Status: monitor.StatusHealthy}))
	require.NoError(t, m.RecordHealthSnapshot(ctx, monitor.HealthSnapshot{At: 2, Status: monitor.StatusDegraded}))
	require.NoError(t, m.RecordAlert(ctx, monitor.Alert{ID: "a-1", Severity: monitor.SeverityWarning}))

	snaps := m.Snapshots()
	require.Len(t, snaps, 2)
	require.Equal(t, int64(1), snaps[0].At)
	require.Equal(t, monitor.StatusDegraded, snaps[1].Status)

	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	require.Equal(t, "a-1", alerts[0].ID)
}

func TestMemory_CloseRejectsWrites(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Close())

	_, err := m.BulkInsert(ctx, []record.UnifiedRecord{reading("t-1", 1000, 21.5)})
	require.ErrorIs(t, err, errors.ErrSinkClosed)
	require.True(t, errors.IsTransient(err))

	require.ErrorIs(t, m.RecordHealthSnapshot(ctx, monitor.HealthSnapshot{}), errors.ErrSinkClosed)
	require.ErrorIs(t, m.RecordAlert(ctx, monitor.Alert{}), errors.ErrSinkClosed)
}

//go:build integration
// +build integration

package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/sensorstream/monitor"
	"github.com/c360/sensorstream/record"
)

func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := pgcontainer.Run(ctx, "postgres:16-alpine",
		pgcontainer.WithDatabase("sensorstream"),
		pgcontainer.WithUsername("sensorstream"),
		pgcontainer.WithPassword("sensorstream"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestIntegration_PostgresRoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(ctx, t)

	db, err := Open(ctx, dsn)
	require.NoError(t, err)

	p := NewPostgres(db, discardLogger())
	defer p.Close()

	require.NoError(t, p.EnsureSchema(ctx))
	require.NoError(t, p.EnsureSchema(ctx))

	inserted, err := p.BulkInsert(ctx, []record.UnifiedRecord{
		reading("t-1", 1000, 21.0),
		reading("t-1", 1001, 21.3),
		reading("t-2", 1000, 18.4),
	})
	require.NoError(t, err)
	require.Equal(t, 3, inserted)

	// Overlapping redelivery: only the genuinely new row lands.
	inserted, err = p.BulkInsert(ctx, []record.UnifiedRecord{
		reading("t-1", 1000, 21.0),
		reading("t-1", 1002, 21.1),
	})
	require.NoError(t, err)
	require.Equal(t, 1, inserted)

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sensor_readings").Scan(&count))
	require.Equal(t, 4, count)

	var value float64
	var quality int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT value, quality FROM sensor_readings WHERE sensor_id = $1 AND ts = $2",
		"t-2", int64(1000)).Scan(&value, &quality))
	require.Equal(t, 18.4, value)
	require.Equal(t, record.QualityMax, quality)
}

func TestIntegration_PostgresOperationalHistory(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(ctx, t)

	db, err := Open(ctx, dsn)
	require.NoError(t, err)

	p := NewPostgres(db, discardLogger())
	defer p.Close()
	require.NoError(t, p.EnsureSchema(ctx))

	snap := monitor.HealthSnapshot{
		At:          1673785845000,
		Status:      monitor.StatusDegraded,
		ConnState:   "connected",
		BufferLen:   4,
		BufferCap:   1000,
		DeadLetters: 2,
		Issues:      []string{"no messages for 70s"},
	}
	require.NoError(t, p.RecordHealthSnapshot(ctx, snap))

	alert := monitor.Alert{
		ID:       "0b8e7f3c-1111-2222-3333-444455556666",
		At:       snap.At,
		Severity: monitor.SeverityWarning,
		Code:     "status-degraded",
		Message:  "pipeline degraded: no messages for 70s",
		Snapshot: snap,
	}
	require.NoError(t, p.RecordAlert(ctx, alert))
	require.NoError(t, p.RecordAlert(ctx, alert)) // replay skips on id

	var status string
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT status FROM health_snapshots WHERE at = $1", snap.At).Scan(&status))
	require.Equal(t, "degraded", status)

	var alertCount int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM alerts").Scan(&alertCount))
	require.Equal(t, 1, alertCount)
}

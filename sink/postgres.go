package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/monitor"
	"github.com/c360/sensorstream/pkg/retry"
	"github.com/c360/sensorstream/record"
)

// schemaStatements bootstrap the three tables. Every statement is
// idempotent so EnsureSchema can run on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sensor_readings (
		sensor_id TEXT NOT NULL,
		ts BIGINT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		quality SMALLINT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		meta JSONB,
		PRIMARY KEY (sensor_id, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS health_snapshots (
		at BIGINT NOT NULL,
		status TEXT NOT NULL,
		conn_state TEXT NOT NULL,
		buffer_len INTEGER NOT NULL,
		buffer_cap INTEGER NOT NULL,
		dead_letters INTEGER NOT NULL,
		ingest_rate DOUBLE PRECISION NOT NULL,
		error_rate DOUBLE PRECISION NOT NULL,
		last_message_at BIGINT NOT NULL,
		issues JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS health_snapshots_at_idx ON health_snapshots (at)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		at BIGINT NOT NULL,
		severity TEXT NOT NULL,
		code TEXT NOT NULL,
		message TEXT NOT NULL,
		snapshot JSONB NOT NULL
	)`,
}

// Postgres is the production Sink. The (sensor_id, ts) primary key
// plus ON CONFLICT DO NOTHING makes BulkInsert idempotent under QoS 1
// redelivery and requeue-after-failure.
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
	closed atomic.Bool
}

var _ Sink = (*Postgres)(nil)

// Open dials postgres and verifies the connection with a ping. The
// ping retries with backoff inside the caller's deadline, since the
// database often comes up alongside the daemon. The returned handle
// carries a small pool sized for one writer pipeline.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.WrapConfiguration(
			stderrors.New("postgres DSN is empty"),
			"PostgresSink", "Open", "validate DSN")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.WrapConfiguration(err, "PostgresSink", "Open", "parse DSN")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	err = retry.Do(ctx, retry.Quick(), func() error {
		pingErr := db.PingContext(ctx)
		var pqErr *pq.Error
		if stderrors.As(pingErr, &pqErr) && pqErr.Code.Class() == "28" {
			// Rejected credentials stay rejected; waiting out the
			// backoff window would only delay the failed boot.
			return retry.NonRetryable(pingErr)
		}
		return pingErr
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.WrapPersistence(err, "PostgresSink", "Open", "ping database")
	}
	return db, nil
}

// NewPostgres wraps an open database handle. Callers own schema
// bootstrap via EnsureSchema.
func NewPostgres(db *sql.DB, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default().With("component", "postgres-sink")
	}
	return &Postgres{db: db, logger: logger}
}

// EnsureSchema creates the tables and indexes when missing
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return classify(err, "EnsureSchema", "apply schema")
		}
	}
	p.logger.Debug("Schema verified")
	return nil
}

// BulkInsert implements Sink. The whole batch goes in one multi-row
// statement; rows whose (sensor_id, ts) key already exists are skipped
// and inserted counts only the rows actually written.
func (p *Postgres) BulkInsert(ctx context.Context, recs []record.UnifiedRecord) (int, error) {
	if p.closed.Load() {
		return 0, errors.WrapPersistence(errors.ErrSinkClosed, "PostgresSink", "BulkInsert", "check sink state")
	}
	if len(recs) == 0 {
		return 0, nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO sensor_readings (sensor_id, ts, value, quality, unit, source, meta) VALUES ")
	args := make([]any, 0, len(recs)*7)
	for i, rec := range recs {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5, len(args)+6, len(args)+7))

		var meta []byte
		if len(rec.Meta) > 0 {
			encoded, err := json.Marshal(rec.Meta)
			if err != nil {
				return 0, errors.WrapPersistence(err, "PostgresSink", "BulkInsert", "marshal meta")
			}
			meta = encoded
		}
		args = append(args, rec.SensorID, rec.Timestamp, rec.Value, rec.Quality, rec.Unit, rec.Source, meta)
	}
	b.WriteString(" ON CONFLICT (sensor_id, ts) DO NOTHING")

	result, err := p.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, classify(err, "BulkInsert", "insert readings")
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.WrapPersistence(err, "PostgresSink", "BulkInsert", "count inserted rows")
	}
	return int(inserted), nil
}

// RecordHealthSnapshot implements Sink
func (p *Postgres) RecordHealthSnapshot(ctx context.Context, snap monitor.HealthSnapshot) error {
	if p.closed.Load() {
		return errors.WrapPersistence(errors.ErrSinkClosed, "PostgresSink", "RecordHealthSnapshot", "check sink state")
	}

	var issues []byte
	if len(snap.Issues) > 0 {
		encoded, err := json.Marshal(snap.Issues)
		if err != nil {
			return errors.WrapPersistence(err, "PostgresSink", "RecordHealthSnapshot", "marshal issues")
		}
		issues = encoded
	}

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO health_snapshots (at, status, conn_state, buffer_len, buffer_cap, dead_letters, ingest_rate, error_rate, last_message_at, issues) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		snap.At, snap.Status.String(), snap.ConnState, snap.BufferLen, snap.BufferCap,
		snap.DeadLetters, snap.IngestRate, snap.ErrorRate, snap.LastMessageAt, issues)
	if err != nil {
		return classify(err, "RecordHealthSnapshot", "insert snapshot")
	}
	return nil
}

// RecordAlert implements Sink. Replayed alert ids are skipped.
func (p *Postgres) RecordAlert(ctx context.Context, alert monitor.Alert) error {
	if p.closed.Load() {
		return errors.WrapPersistence(errors.ErrSinkClosed, "PostgresSink", "RecordAlert", "check sink state")
	}

	snapshot, err := json.Marshal(alert.Snapshot)
	if err != nil {
		return errors.WrapPersistence(err, "PostgresSink", "RecordAlert", "marshal snapshot")
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO alerts (id, at, severity, code, message, snapshot) VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (id) DO NOTHING`,
		alert.ID, alert.At, alert.Severity.String(), alert.Code, alert.Message, snapshot)
	if err != nil {
		return classify(err, "RecordAlert", "insert alert")
	}
	return nil
}

// Close implements Sink. Idempotent.
func (p *Postgres) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return errors.WrapPersistence(err, "PostgresSink", "Close", "close database")
	}
	return nil
}

// classify wraps a database error by what the caller can do about it:
// schema drift (undefined table or column, SQLSTATE class 42) needs an
// operator and is fatal, an integrity violation (class 23) means the
// row can never insert, and everything else (network, timeout, pool
// exhaustion) is transient persistence trouble worth a retry.
func classify(err error, operation, context string) error {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "42":
			return errors.WrapFatal(err, "PostgresSink", operation, context)
		case "23":
			return errors.WrapInvalid(err, "PostgresSink", operation, context)
		}
	}
	return errors.WrapPersistence(err, "PostgresSink", operation, context)
}

// Package sink persists validated sensor records and the pipeline's
// operational history. Two implementations are provided: a postgres
// sink for production and an in-process memory sink for tests and for
// deployments with no database configured.
//
// BulkInsert is the idempotency boundary of the whole pipeline: QoS 1
// redelivery and requeue-after-failure both mean the same record can
// arrive more than once, and the sink absorbs that by skipping records
// whose (sensor id, timestamp) key already exists. The inserted count
// reports only rows actually written.
package sink

import (
	"context"

	"github.com/c360/sensorstream/monitor"
	"github.com/c360/sensorstream/record"
)

// Sink is the persistence boundary of the pipeline
type Sink interface {
	// BulkInsert writes a batch of validated records. Duplicate
	// records are skipped, not errored; inserted counts only the rows
	// actually written.
	BulkInsert(ctx context.Context, recs []record.UnifiedRecord) (inserted int, err error)

	// RecordHealthSnapshot stores one health evaluation. Best-effort:
	// callers log failures instead of propagating them.
	RecordHealthSnapshot(ctx context.Context, snap monitor.HealthSnapshot) error

	// RecordAlert stores one status-transition alert. Best-effort.
	RecordAlert(ctx context.Context, alert monitor.Alert) error

	// Close releases the sink's resources. A closed sink rejects
	// further writes.
	Close() error
}

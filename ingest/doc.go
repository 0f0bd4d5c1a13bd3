// Package ingest stages broker deliveries and flushes them downstream
// in batches, decoupling the broker's delivery rate from the sink's
// persistence rate.
//
// # The Flush Cycle
//
// Deliveries are staged as BufferedEntry values in a Buffer. A
// Scheduler drives the Pipeline's flush on a fixed cadence: each flush
// takes a snapshot-and-clear of the buffer, decodes every entry with
// the transformer, passes the resulting records through the validation
// gate, and hands the survivors to the sink in one BulkInsert. New
// arrivals during a flush land in the fresh buffer slice, so an entry
// is either staged or in exactly one in-flight flush, never both.
//
// Flushes never overlap. A tick or kick arriving while one is running
// is skipped and counted rather than queued, so a slow sink degrades
// to a lower flush rate instead of a goroutine pile-up.
//
// # Failure Handling
//
// Failures route to the dead-letter controller with their cause, and
// the controller disposes of them by error class: entries whose
// payload cannot be decoded or validated are parked immediately, while
// a batch the sink rejects with a transient error is requeued at the
// FRONT of the buffer, so retried entries precede data that arrived
// after their snapshot. The requeued batch is retried on the next
// scheduled flush; there is no immediate retry loop.
//
// # Size Pressure
//
// The buffer never drops data. When staging reaches the configured
// capacity, Add reports pressure and the pipeline kicks the scheduler
// for an immediate out-of-band flush. Kicks coalesce: at most one is
// pending, and one arriving mid-flush is subject to the same
// non-reentrancy skip.
//
// # Operator Commands
//
// When a command pattern is configured, the pipeline listens for
// operator commands (either a bare word or {"command": "..."} JSON):
//
//   - flush: force an immediate flush attempt
//   - retryAll: drain the dead-letter holding set back into the buffer
//   - clearDeadLetters: drop the holding set
//   - status: log a status summary and forward it to the fan-out bridge
//
// A status pattern additionally records per-device heartbeats that the
// health monitor folds into its staleness reporting.
//
// # Shutdown
//
// Stop unsubscribes the broker patterns first, then stops the
// scheduler, which runs one final drain flush so entries staged at
// shutdown are persisted rather than lost.
package ingest

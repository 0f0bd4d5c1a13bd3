// Package monitor derives a single pipeline-wide health status from
// the live components and turns status changes into alerts.
//
// # Status Derivation
//
// Every check interval the monitor samples the broker connection
// state, buffer occupancy, dead-letter volume, and ingest counters
// through narrow reader interfaces, then derives Status in priority
// order: an errored connection is Unhealthy; a connection in any other
// non-connected state, a dead-letter count at or over its threshold, a
// buffer at or over its high watermark, silence on a connected broker
// beyond the staleness window, or an error rate over its threshold is
// Degraded; otherwise the pipeline is Healthy. The first match decides
// the status, but every detected problem lands in the snapshot's
// Issues so a Degraded report still names all of its reasons. Devices
// whose heartbeat has gone stale are listed as issues without
// affecting the status.
//
// # Alerts
//
// Alerts fire on status transitions only: entering Unhealthy is
// critical, entering Degraded is a warning, and returning to Healthy
// is an informational resolution. A connection that reaches its
// terminal errored state is sampled immediately, so the critical alert
// fires once on entry rather than waiting out the tick, and holding in
// a bad state never re-alerts. Each alert carries the snapshot that
// triggered it and goes to the log, the sink, and the fan-out bridge,
// all best-effort.
//
// # History and Rates
//
// Snapshots land in a fixed-capacity ring that drops the oldest entry
// once full; History returns the retained window in arrival order.
// Ingest and error rates are per-tick counter deltas smoothed over a
// small rolling window, so a single quiet or bursty tick does not whip
// the derived status around.
package monitor

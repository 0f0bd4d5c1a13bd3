// Package sensorstream ingests manufacturing sensor telemetry from an
// MQTT broker, normalizes it into a unified record shape, and persists
// it in validated batches with health monitoring and live fan-out.
//
// # Data Path
//
// One delivery moves through five stages:
//
//	┌──────────┐      ┌─────────┐      ┌───────────┐      ┌──────┐
//	│   MQTT   │─────→│ Staging │─────→│ Transform │─────→│ Sink │
//	│  Client  │      │ Buffer  │flush │ +Validate │batch │      │
//	└──────────┘      └─────────┘      └───────────┘      └──────┘
//	     │                 ↑                  │
//	     │            requeue front           │ failures
//	     │                 │                  ↓
//	     │            ┌─────────────────────────┐
//	     │            │  Dead-Letter Controller │
//	     │            │  (bounded retry + park) │
//	     │            └─────────────────────────┘
//	     │
//	     │ state changes          ┌──────────┐     ws://.../ws
//	     └────────────────────────│  Fan-Out │────→ dashboards
//	        health, alerts  ─────→│  Bridge  │────→ NATS subjects
//	        records, events ─────→└──────────┘
//
// The broker client holds subscriptions across reconnects and reports
// every connection state change. Deliveries stage in a bounded buffer;
// a non-reentrant scheduler flushes them on a cadence or on size
// pressure. The transformer detects each payload's format (JSON
// variants, CSV, tag-value, binary) and maps it to record.UnifiedRecord;
// the validation gate rejects records that cannot be persisted. Batches
// that fail transiently bounce back to the buffer front with a retry
// budget; spent or invalid entries park in the dead-letter holding set.
// The monitor folds connection state, buffer occupancy, dead-letter
// volume, and ingest rates into one pipeline status and alerts only on
// transitions.
//
// # Delivery Semantics
//
// Persistence is at-least-once: a batch whose sink write fails is
// retried from the buffer front in arrival order, and the sink skips
// duplicate rows so a replay cannot double-count. Fan-out is
// at-most-once: every subscriber owns a bounded queue and a slow
// consumer loses its own oldest frames, never the producer's time.
//
// # Packages
//
// Pipeline:
//   - mqttclient: broker client with explicit connection state machine
//   - ingest: staging buffer, flush scheduler, and the pipeline component
//   - transform: payload format detection and normalization
//   - record: the unified record shape and its validation gate
//   - deadletter: bounded retry accounting and the parked holding set
//   - sink: batch persistence (postgres, in-memory)
//
// Observation:
//   - monitor: pipeline-wide health derivation and transition alerts
//   - fanout: bridge, WebSocket hub, and NATS relay for live subscribers
//   - metric: Prometheus registry, core metrics, and the scrape endpoint
//
// Infrastructure:
//   - component: lifecycle contracts and the start/stop runner
//   - config: layered JSON configuration with env overrides
//   - errors: classified errors (transient, invalid, fatal)
//   - pkg/buffer: generic ring buffers with overflow policies
//   - pkg/retry: exponential backoff for transient failures
//   - pkg/security, pkg/tlsutil: TLS configuration types and loaders
//   - pkg/timestamp: unix-millisecond time handling
//
// # Usage
//
// Components wire together explicitly; the runner starts them in
// registration order and stops them in reverse, so the broker client
// registers last and intake halts before the final drain:
//
//	client, _ := mqttclient.NewClient("tcp://broker:1883",
//		mqttclient.WithMetrics(registry))
//	buf := ingest.NewBuffer(1000)
//	letters, _ := deadletter.NewController(deadletter.Deps{
//		Requeuer: buf, Publisher: client, MaxRetries: 3,
//	})
//	pipeline, _ := ingest.NewPipeline(ingest.Deps{
//		Broker: client, Transformer: transform.New(nil), Buffer: buf,
//		Sink: sink.NewMemory(), DeadLetters: letters,
//	})
//
//	runner := component.NewRunner(logger)
//	runner.Add("pipeline", pipeline)
//	runner.Add("broker-client", client)
//	if err := runner.StartAll(ctx); err != nil { ... }
//	defer runner.StopAll(30 * time.Second)
//
// # Design Principles
//
// Explicit dependencies:
//   - Components take a Deps struct, no globals
//   - Optional dependencies are nil-safe (metrics, logger, fan-out)
//
// Bounded everything:
//   - Staging buffer, dead-letter holding set, subscriber queues
//   - Overflow drops the oldest and counts the loss
//
// Testability:
//   - Unit tests run without a broker, database, or NATS server
//   - Integration tests behind the integration build tag use
//     testcontainers
//
// # Binary
//
// cmd/sensorstream builds the daemon:
//
//	# Run on built-in defaults against a local broker
//	./bin/sensorstream
//
//	# Run with a config file and debug logging
//	./bin/sensorstream --config /etc/sensorstream/config.json --log-level debug
//
//	# Print the effective merged configuration
//	./bin/sensorstream --print-config
package sensorstream

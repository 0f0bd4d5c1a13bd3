// Package metric provides Prometheus-based metrics collection and an HTTP server
// for pipeline monitoring and observability.
//
// The package offers a centralized metrics registry managing both core platform
// metrics (component status, message counts, broker health, dead-letter size)
// and custom component-specific metrics. It includes an HTTP server exposing
// metrics in Prometheus format under the "sensorstream" namespace.
//
// # Architecture
//
// The package follows a three-layer design:
//
//  1. Core Metrics: Platform-level metrics automatically registered (Metrics type)
//  2. Component Registry: Extensible registration for component-specific metrics (MetricsRegistrar interface)
//  3. HTTP Server: Metrics endpoint with health check (Server type)
//
// # Basic Usage
//
// Setting up metrics collection and HTTP server:
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry, security.Config{})
//
//	// Start blocks while serving and returns nil after a graceful Stop,
//	// so anything it returns is a real bind or serve failure.
//	go func() {
//	    if err := server.Start(); err != nil {
//	        slog.Error("metrics server error", "error", err)
//	    }
//	}()
//
//	// Record core platform metrics
//	core := registry.CoreMetrics()
//	core.RecordComponentStatus("pipeline", 2) // 2 = running
//	core.RecordBrokerConnected(true)
//	core.RecordDeadLetterSize(0)
//
// Components register their own metrics through the MetricsRegistrar interface:
//
//	counter := prometheus.NewCounter(prometheus.CounterOpts{
//	    Namespace: "sensorstream",
//	    Subsystem: "ingest",
//	    Name:      "flushes_total",
//	    Help:      "Total number of buffer flushes",
//	})
//	if err := registry.RegisterCounter("pipeline", "flushes_total", counter); err != nil {
//	    return err
//	}
//
// # Nil Registry Convention
//
// Every component treats a nil *MetricsRegistry as "metrics disabled" and
// skips registration and recording. This keeps tests and minimal deployments
// free of metrics plumbing without conditional wiring at call sites.
package metric

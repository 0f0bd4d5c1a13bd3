package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not component-specific)
type Metrics struct {
	// Component metrics
	ComponentStatus    *prometheus.GaugeVec
	MessagesReceived   *prometheus.CounterVec
	RecordsTransformed *prometheus.CounterVec
	RecordsPersisted   *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	HealthCheckStatus  *prometheus.GaugeVec

	// Broker metrics
	BrokerConnected  prometheus.Gauge
	BrokerState      prometheus.Gauge
	BrokerReconnects prometheus.Counter

	// Dead-letter metrics
	DeadLetterSize    prometheus.Gauge
	DeadLetterParked  prometheus.Counter
	DeadLetterRetried prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sensorstream",
				Subsystem: "component",
				Name:      "status",
				Help:      "Component status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"component"},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorstream",
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of broker messages received",
			},
			[]string{"component", "type"},
		),

		RecordsTransformed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorstream",
				Subsystem: "records",
				Name:      "transformed_total",
				Help:      "Total number of payload transformations by format and outcome",
			},
			[]string{"component", "format", "status"},
		),

		RecordsPersisted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorstream",
				Subsystem: "records",
				Name:      "persisted_total",
				Help:      "Total number of unified records handed to the sink by outcome",
			},
			[]string{"component", "status"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sensorstream",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Pipeline operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"component", "operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorstream",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by pipeline stage",
			},
			[]string{"component", "kind"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sensorstream",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=degraded, 2=healthy)",
			},
			[]string{"component"},
		),

		BrokerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sensorstream",
				Subsystem: "broker",
				Name:      "connected",
				Help:      "Broker connection status (0=disconnected, 1=connected)",
			},
		),

		BrokerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sensorstream",
				Subsystem: "broker",
				Name:      "state",
				Help:      "Broker connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=errored)",
			},
		),

		BrokerReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sensorstream",
				Subsystem: "broker",
				Name:      "reconnects_total",
				Help:      "Total number of broker reconnection attempts",
			},
		),

		DeadLetterSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sensorstream",
				Subsystem: "deadletter",
				Name:      "size",
				Help:      "Current number of entries in the dead-letter holding set",
			},
		),

		DeadLetterParked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sensorstream",
				Subsystem: "deadletter",
				Name:      "parked_total",
				Help:      "Total number of entries parked in the dead-letter set",
			},
		),

		DeadLetterRetried: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sensorstream",
				Subsystem: "deadletter",
				Name:      "retried_total",
				Help:      "Total number of entries requeued for retry",
			},
		),
	}
}

// RecordComponentStatus updates component status metric
func (c *Metrics) RecordComponentStatus(component string, status int) {
	c.ComponentStatus.WithLabelValues(component).Set(float64(status))
}

// RecordMessageReceived increments received message counter
func (c *Metrics) RecordMessageReceived(component, messageType string) {
	c.MessagesReceived.WithLabelValues(component, messageType).Inc()
}

// RecordTransform increments the transformation counter for a format and outcome
func (c *Metrics) RecordTransform(component, format, status string) {
	c.RecordsTransformed.WithLabelValues(component, format, status).Inc()
}

// RecordPersist increments the persisted record counter for an outcome
func (c *Metrics) RecordPersist(component, status string) {
	c.RecordsPersisted.WithLabelValues(component, status).Inc()
}

// RecordProcessingDuration records processing time
func (c *Metrics) RecordProcessingDuration(component, operation string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(component, operation).Observe(duration.Seconds())
}

// RecordError increments error counter
func (c *Metrics) RecordError(component, kind string) {
	c.ErrorsTotal.WithLabelValues(component, kind).Inc()
}

// RecordHealthStatus updates health check status
// (0=unhealthy, 1=degraded, 2=healthy)
func (c *Metrics) RecordHealthStatus(component string, status int) {
	c.HealthCheckStatus.WithLabelValues(component).Set(float64(status))
}

// RecordBrokerConnected updates broker connection status
func (c *Metrics) RecordBrokerConnected(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.BrokerConnected.Set(value)
}

// RecordBrokerState updates the broker connection state gauge
func (c *Metrics) RecordBrokerState(state int) {
	c.BrokerState.Set(float64(state))
}

// RecordBrokerReconnect increments reconnection attempt counter
func (c *Metrics) RecordBrokerReconnect() {
	c.BrokerReconnects.Inc()
}

// RecordDeadLetterSize updates the dead-letter holding set gauge
func (c *Metrics) RecordDeadLetterSize(size int) {
	c.DeadLetterSize.Set(float64(size))
}

// RecordDeadLetterParked increments the parked entry counter
func (c *Metrics) RecordDeadLetterParked() {
	c.DeadLetterParked.Inc()
}

// RecordDeadLetterRetried increments the requeued entry counter
func (c *Metrics) RecordDeadLetterRetried() {
	c.DeadLetterRetried.Inc()
}

package component

import (
	"time"
)

// Discoverable is the inspection half of the component contract: every
// LifecycleComponent also reports what it is and how it is doing. The
// runner logs Meta for each component it starts; Health and DataFlow give
// callers a uniform probe surface no matter what sits behind a component.
//
// Component types in this pipeline:
//   - input: accepts external data (MQTT broker client)
//   - processor: transforms data (ingestion pipeline)
//   - output: sends data onward (fan-out bridges)
//   - monitor: observes the others (health monitor)
type Discoverable interface {
	// Meta identifies the component.
	Meta() Metadata

	// Health reports whether the component is currently working.
	Health() HealthStatus

	// DataFlow reports throughput through the component.
	DataFlow() FlowMetrics
}

// Metadata identifies a component to logs and operators.
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "input", "processor", "output", "monitor"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus is a point-in-time health report.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics is a point-in-time throughput report.
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	BytesPerSecond    float64   `json:"bytes_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}

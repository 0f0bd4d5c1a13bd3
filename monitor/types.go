package monitor

import (
	"encoding/json"
	"fmt"
)

// Status summarizes the pipeline's condition at a point in time
type Status int

// Health statuses, ordered from best to worst
const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// ParseStatus resolves a status name to its Status value
func ParseStatus(name string) (Status, bool) {
	switch name {
	case "healthy":
		return StatusHealthy, true
	case "degraded":
		return StatusDegraded, true
	case "unhealthy":
		return StatusUnhealthy, true
	default:
		return StatusHealthy, false
	}
}

// MarshalJSON encodes the status as its string name
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status from its string name
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, ok := ParseStatus(name)
	if !ok {
		return fmt.Errorf("unknown status %q", name)
	}
	*s = parsed
	return nil
}

// Severity ranks an alert
type Severity int

// Alert severities
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// String returns the string representation of Severity
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity resolves a severity name to its Severity value
func ParseSeverity(name string) (Severity, bool) {
	switch name {
	case "info":
		return SeverityInfo, true
	case "warning":
		return SeverityWarning, true
	case "critical":
		return SeverityCritical, true
	default:
		return SeverityInfo, false
	}
}

// MarshalJSON encodes the severity as its string name
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity from its string name
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, ok := ParseSeverity(name)
	if !ok {
		return fmt.Errorf("unknown severity %q", name)
	}
	*s = parsed
	return nil
}

// HealthSnapshot is one sampled view of the pipeline. Timestamps are
// Unix milliseconds.
type HealthSnapshot struct {
	At            int64    `json:"at"`
	Status        Status   `json:"status"`
	ConnState     string   `json:"conn_state"`
	BufferLen     int      `json:"buffer_len"`
	BufferCap     int      `json:"buffer_cap"`
	DeadLetters   int      `json:"dead_letters"`
	IngestRate    float64  `json:"ingest_rate"`
	ErrorRate     float64  `json:"error_rate"`
	LastMessageAt int64    `json:"last_message_at"`
	Issues        []string `json:"issues,omitempty"`
}

// Alert is one status-transition notification. Alerts fire on
// transitions only, never on every evaluation tick.
type Alert struct {
	ID       string         `json:"id"`
	At       int64          `json:"at"`
	Severity Severity       `json:"severity"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Snapshot HealthSnapshot `json:"snapshot"`
}

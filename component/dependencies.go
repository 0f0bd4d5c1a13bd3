package component

import (
	"log/slog"

	"github.com/c360/sensorstream/metric"
)

// Dependencies provides the ambient services shared by pipeline
// components. Components receive it at construction rather than pulling
// globals; nil fields fall back to safe defaults.
type Dependencies struct {
	MetricsRegistry *metric.MetricsRegistry // nil disables metrics
	Logger          *slog.Logger            // nil falls back to slog.Default()
}

// GetLogger returns the configured logger, or slog.Default() when none
// was wired.
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns the logger with the component name
// attached, so every line a component emits carries its origin.
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}

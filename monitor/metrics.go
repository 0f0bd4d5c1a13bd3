package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorstream/metric"
)

// monitorMetrics tracks sampling and alerting activity. All record
// methods are safe on a nil receiver so call sites never branch on
// whether metrics are enabled.
type monitorMetrics struct {
	core *metric.Metrics

	snapshots    prometheus.Counter
	alerts       prometheus.Counter
	stateChanges prometheus.Counter
	status       prometheus.Gauge
	issues       prometheus.Gauge
}

// newMonitorMetrics creates and registers the monitor metrics. A nil
// registry disables collection entirely.
func newMonitorMetrics(registry *metric.MetricsRegistry) (*monitorMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &monitorMetrics{
		core: registry.CoreMetrics(),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "monitor",
			Name:      "snapshots_total",
			Help:      "Health snapshots taken",
		}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "monitor",
			Name:      "alerts_total",
			Help:      "Alerts raised on status transitions",
		}),
		stateChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "monitor",
			Name:      "connection_state_changes_total",
			Help:      "Broker connection transitions observed",
		}),
		status: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensorstream",
			Subsystem: "monitor",
			Name:      "status",
			Help:      "Derived pipeline status (0=unhealthy, 1=degraded, 2=healthy)",
		}),
		issues: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensorstream",
			Subsystem: "monitor",
			Name:      "issues",
			Help:      "Problems detected by the latest snapshot",
		}),
	}

	counters := []struct {
		name    string
		counter prometheus.Counter
	}{
		{"snapshots", m.snapshots},
		{"alerts", m.alerts},
		{"connection_state_changes", m.stateChanges},
	}
	for _, reg := range counters {
		if err := registry.RegisterCounter("monitor", reg.name, reg.counter); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge("monitor", "status", m.status); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("monitor", "issues", m.issues); err != nil {
		return nil, err
	}

	return m, nil
}

// recordSnapshot folds one derived snapshot into the gauges. The core
// health gauge uses the inverse scale (2=healthy), so the derived
// Status is flipped before stamping both.
func (m *monitorMetrics) recordSnapshot(snap HealthSnapshot) {
	if m == nil {
		return
	}
	m.snapshots.Inc()
	scaled := 2 - int(snap.Status)
	m.status.Set(float64(scaled))
	m.issues.Set(float64(len(snap.Issues)))
	if m.core != nil {
		m.core.RecordHealthStatus("pipeline", scaled)
	}
}

func (m *monitorMetrics) recordAlert() {
	if m == nil {
		return
	}
	m.alerts.Inc()
}

func (m *monitorMetrics) recordStateChange() {
	if m == nil {
		return
	}
	m.stateChanges.Inc()
}

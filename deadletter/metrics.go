package deadletter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorstream/metric"
)

// controllerMetrics tracks holding-set movement. All record methods are
// safe on a nil receiver so call sites never branch on whether metrics
// are enabled.
type controllerMetrics struct {
	core *metric.Metrics

	parked   prometheus.Counter
	requeued prometheus.Counter
	evicted  prometheus.Counter
	held     prometheus.Gauge
}

// newControllerMetrics creates and registers the controller metrics. A
// nil registry disables collection entirely.
func newControllerMetrics(registry *metric.MetricsRegistry) (*controllerMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &controllerMetrics{
		core: registry.CoreMetrics(),
		parked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "deadletter",
			Name:      "entries_parked_total",
			Help:      "Entries moved into the holding set",
		}),
		requeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "deadletter",
			Name:      "entries_requeued_total",
			Help:      "Entries re-staged into the ingestion buffer for another attempt",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "deadletter",
			Name:      "entries_evicted_total",
			Help:      "Oldest parked entries dropped because the holding set was full",
		}),
		held: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensorstream",
			Subsystem: "deadletter",
			Name:      "held_entries",
			Help:      "Entries currently parked in the holding set",
		}),
	}

	counters := []struct {
		name    string
		counter prometheus.Counter
	}{
		{"entries_parked", m.parked},
		{"entries_requeued", m.requeued},
		{"entries_evicted", m.evicted},
	}
	for _, reg := range counters {
		if err := registry.RegisterCounter("deadletter", reg.name, reg.counter); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge("deadletter", "held_entries", m.held); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *controllerMetrics) recordParked(n, held int) {
	if m == nil {
		return
	}
	m.parked.Add(float64(n))
	m.held.Set(float64(held))
	if m.core != nil {
		m.core.DeadLetterParked.Add(float64(n))
		m.core.RecordDeadLetterSize(held)
	}
}

func (m *controllerMetrics) recordRequeued(n int) {
	if m == nil {
		return
	}
	m.requeued.Add(float64(n))
	if m.core != nil {
		m.core.DeadLetterRetried.Add(float64(n))
	}
}

func (m *controllerMetrics) recordEvicted() {
	if m == nil {
		return
	}
	m.evicted.Inc()
}

func (m *controllerMetrics) recordHeld(held int) {
	if m == nil {
		return
	}
	m.held.Set(float64(held))
	if m.core != nil {
		m.core.RecordDeadLetterSize(held)
	}
}

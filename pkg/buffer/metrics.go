package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorstream/metric"
)

// ringMetrics mirrors a ring's counters as Prometheus series labeled
// with the owning component.
type ringMetrics struct {
	writes      prometheus.Counter
	reads       prometheus.Counter
	drops       prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newRingMetrics(registry *metric.MetricsRegistry, component string) (*ringMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sensorstream",
			Subsystem:   "ring",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": component},
			Help:        help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "sensorstream",
			Subsystem:   "ring",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": component},
			Help:        help,
		})
	}

	m := &ringMetrics{
		writes:      counter("writes_total", "Items stored in the ring"),
		reads:       counter("reads_total", "Items consumed from the ring"),
		drops:       counter("drops_total", "Items discarded by the drop policy"),
		size:        gauge("size", "Items currently retained"),
		utilization: gauge("utilization", "Retained fraction of capacity, 0.0 to 1.0"),
	}

	for _, reg := range []struct {
		name    string
		counter prometheus.Counter
	}{
		{"ring_writes", m.writes},
		{"ring_reads", m.reads},
		{"ring_drops", m.drops},
	} {
		if err := registry.RegisterCounter(component, reg.name, reg.counter); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(component, "ring_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(component, "ring_utilization", m.utilization); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *ringMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateLen(size, capacity)
}

func (m *ringMetrics) recordRead(size, capacity int) {
	m.reads.Inc()
	m.updateLen(size, capacity)
}

func (m *ringMetrics) updateLen(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}

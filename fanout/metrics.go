package fanout

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorstream/metric"
)

// bridgeMetrics tracks event movement through the bridge. All record
// methods are safe on a nil receiver so call sites never branch on
// whether metrics are enabled.
type bridgeMetrics struct {
	published     prometheus.Counter
	unroutable    prometheus.Counter
	framesDropped prometheus.Counter
	subscribers   prometheus.Gauge
}

func newBridgeMetrics(registry *metric.MetricsRegistry) (*bridgeMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &bridgeMetrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "fanout",
			Name:      "events_published_total",
			Help:      "Events handed to the bridge for fan-out",
		}),
		unroutable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "fanout",
			Name:      "unroutable_topics_total",
			Help:      "Broker topics with no external channel mapping",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "fanout",
			Name:      "frames_dropped_total",
			Help:      "Frames lost because a subscriber queue was full",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensorstream",
			Subsystem: "fanout",
			Name:      "subscribers",
			Help:      "Subscribers currently attached to the bridge",
		}),
	}

	counters := []struct {
		name    string
		counter prometheus.Counter
	}{
		{"events_published", m.published},
		{"unroutable_topics", m.unroutable},
		{"frames_dropped", m.framesDropped},
	}
	for _, reg := range counters {
		if err := registry.RegisterCounter("fanout", reg.name, reg.counter); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge("fanout", "subscribers", m.subscribers); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *bridgeMetrics) recordPublished() {
	if m == nil {
		return
	}
	m.published.Inc()
}

func (m *bridgeMetrics) recordUnroutable() {
	if m == nil {
		return
	}
	m.unroutable.Inc()
}

func (m *bridgeMetrics) recordFramesDropped(n int) {
	if m == nil {
		return
	}
	m.framesDropped.Add(float64(n))
}

func (m *bridgeMetrics) recordSubscribers(count int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(count))
}

// hubMetrics tracks WebSocket delivery
type hubMetrics struct {
	clients       prometheus.Gauge
	connections   prometheus.Counter
	framesSent    prometheus.Counter
	framesDropped prometheus.Counter
}

func newHubMetrics(registry *metric.MetricsRegistry) (*hubMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &hubMetrics{
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensorstream",
			Subsystem: "fanout",
			Name:      "ws_clients",
			Help:      "WebSocket clients currently connected",
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "fanout",
			Name:      "ws_connections_total",
			Help:      "WebSocket connections accepted since start",
		}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "fanout",
			Name:      "ws_frames_sent_total",
			Help:      "Frames written to WebSocket clients",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "fanout",
			Name:      "ws_frames_dropped_total",
			Help:      "Frames lost because a client send queue was full",
		}),
	}

	counters := []struct {
		name    string
		counter prometheus.Counter
	}{
		{"ws_connections", m.connections},
		{"ws_frames_sent", m.framesSent},
		{"ws_frames_dropped", m.framesDropped},
	}
	for _, reg := range counters {
		if err := registry.RegisterCounter("fanout", reg.name, reg.counter); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge("fanout", "ws_clients", m.clients); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *hubMetrics) recordClients(count int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(count))
}

func (m *hubMetrics) recordConnection() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *hubMetrics) recordFrameSent() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

func (m *hubMetrics) recordFramesDropped(n int) {
	if m == nil {
		return
	}
	m.framesDropped.Add(float64(n))
}

// natsMetrics tracks mirroring to the NATS relay
type natsMetrics struct {
	published prometheus.Counter
	failed    prometheus.Counter
}

func newNATSMetrics(registry *metric.MetricsRegistry) (*natsMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &natsMetrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "fanout",
			Name:      "nats_published_total",
			Help:      "Frames mirrored onto NATS subjects",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "fanout",
			Name:      "nats_failed_total",
			Help:      "NATS publishes that returned an error",
		}),
	}

	counters := []struct {
		name    string
		counter prometheus.Counter
	}{
		{"nats_published", m.published},
		{"nats_failed", m.failed},
	}
	for _, reg := range counters {
		if err := registry.RegisterCounter("fanout", reg.name, reg.counter); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *natsMetrics) recordPublished() {
	if m == nil {
		return
	}
	m.published.Inc()
}

func (m *natsMetrics) recordFailed() {
	if m == nil {
		return
	}
	m.failed.Inc()
}

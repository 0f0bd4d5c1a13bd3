package mqttclient

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorstream/metric"
)

// brokerMetrics holds the Prometheus collectors for broker traffic.
// All record methods are nil-receiver safe so the client runs
// unchanged when metrics are disabled.
type brokerMetrics struct {
	core *metric.Metrics

	messagesIn  prometheus.Counter
	messagesOut prometheus.Counter
	bytesIn     prometheus.Counter
	bytesOut    prometheus.Counter
	dropped     prometheus.Counter
}

// newBrokerMetrics creates and registers broker metrics with the provided registry.
func newBrokerMetrics(registry *metric.MetricsRegistry) (*brokerMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &brokerMetrics{
		core: registry.CoreMetrics(),

		messagesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "broker",
			Name:      "messages_in_total",
			Help:      "Total messages received from the broker",
		}),

		messagesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "broker",
			Name:      "messages_out_total",
			Help:      "Total messages published to the broker",
		}),

		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "broker",
			Name:      "bytes_in_total",
			Help:      "Total payload bytes received from the broker",
		}),

		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "broker",
			Name:      "bytes_out_total",
			Help:      "Total payload bytes published to the broker",
		}),

		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "broker",
			Name:      "state_notifications_dropped_total",
			Help:      "State change notifications dropped because the channel was full",
		}),
	}

	if err := registry.RegisterCounter("broker", "messages_in", m.messagesIn); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("broker", "messages_out", m.messagesOut); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("broker", "bytes_in", m.bytesIn); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("broker", "bytes_out", m.bytesOut); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("broker", "notifications_dropped", m.dropped); err != nil {
		return nil, err
	}

	return m, nil
}

// recordState updates the state gauge and the derived connected gauge.
func (m *brokerMetrics) recordState(s State) {
	if m == nil {
		return
	}
	m.core.RecordBrokerState(int(s))
	m.core.RecordBrokerConnected(s == StateConnected)
}

// recordReconnect counts one reconnection attempt.
func (m *brokerMetrics) recordReconnect() {
	if m == nil {
		return
	}
	m.core.RecordBrokerReconnect()
}

// recordInbound counts one received message and its payload bytes.
func (m *brokerMetrics) recordInbound(bytes int) {
	if m == nil {
		return
	}
	m.messagesIn.Inc()
	m.bytesIn.Add(float64(bytes))
}

// recordOutbound counts one published message and its payload bytes.
func (m *brokerMetrics) recordOutbound(bytes int) {
	if m == nil {
		return
	}
	m.messagesOut.Inc()
	m.bytesOut.Add(float64(bytes))
}

// recordDroppedNotification counts one state change that could not be
// delivered on the notification channel.
func (m *brokerMetrics) recordDroppedNotification() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

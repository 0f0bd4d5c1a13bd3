package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorstream/metric"
)

// pipelineMetrics tracks per-stage counters for the ingestion path.
// All record methods are safe on a nil receiver so call sites never
// branch on whether metrics are enabled.
type pipelineMetrics struct {
	core *metric.Metrics

	received       prometheus.Counter
	bytesIn        prometheus.Counter
	transformed    prometheus.Counter
	transformErrs  prometheus.Counter
	validated      prometheus.Counter
	validationErrs prometheus.Counter
	persisted      prometheus.Counter
	persistErrs    prometheus.Counter
	pressureKicks  prometheus.Counter
	commands       prometheus.Counter
	bufferLen      prometheus.Gauge
	batchSize      prometheus.Histogram
	flushDuration  prometheus.Histogram
}

// newPipelineMetrics creates and registers the pipeline metrics. A nil
// registry disables collection entirely.
func newPipelineMetrics(registry *metric.MetricsRegistry) (*pipelineMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &pipelineMetrics{
		core: registry.CoreMetrics(),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "pipeline",
			Name:      "entries_received_total",
			Help:      "Broker deliveries staged into the ingestion buffer",
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "pipeline",
			Name:      "bytes_received_total",
			Help:      "Payload bytes staged into the ingestion buffer",
		}),
		transformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "pipeline",
			Name:      "records_transformed_total",
			Help:      "Unified records produced by the transformer",
		}),
		transformErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "pipeline",
			Name:      "transform_failures_total",
			Help:      "Entries whose payload could not be decoded",
		}),
		validated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "pipeline",
			Name:      "records_validated_total",
			Help:      "Records that passed the validation gate",
		}),
		validationErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "pipeline",
			Name:      "validation_failures_total",
			Help:      "Entries rejected by the validation gate",
		}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "pipeline",
			Name:      "records_persisted_total",
			Help:      "Rows the sink actually wrote",
		}),
		persistErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "pipeline",
			Name:      "persist_failures_total",
			Help:      "Batches the sink rejected",
		}),
		pressureKicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "pipeline",
			Name:      "pressure_kicks_total",
			Help:      "Out-of-band flushes forced by buffer size pressure",
		}),
		commands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "pipeline",
			Name:      "commands_total",
			Help:      "Operator commands received on the command topic",
		}),
		bufferLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensorstream",
			Subsystem: "pipeline",
			Name:      "buffer_entries",
			Help:      "Entries currently staged in the ingestion buffer",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sensorstream",
			Subsystem: "pipeline",
			Name:      "flush_batch_size",
			Help:      "Distribution of entries per flush",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sensorstream",
			Subsystem: "pipeline",
			Name:      "flush_duration_seconds",
			Help:      "Time to push one batch through transform, validation, and the sink",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	counters := []struct {
		name    string
		counter prometheus.Counter
	}{
		{"entries_received", m.received},
		{"bytes_received", m.bytesIn},
		{"records_transformed", m.transformed},
		{"transform_failures", m.transformErrs},
		{"records_validated", m.validated},
		{"validation_failures", m.validationErrs},
		{"records_persisted", m.persisted},
		{"persist_failures", m.persistErrs},
		{"pressure_kicks", m.pressureKicks},
		{"commands", m.commands},
	}
	for _, reg := range counters {
		if err := registry.RegisterCounter("pipeline", reg.name, reg.counter); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge("pipeline", "buffer_entries", m.bufferLen); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("pipeline", "flush_batch_size", m.batchSize); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("pipeline", "flush_duration", m.flushDuration); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *pipelineMetrics) recordReceived(kind string, bytes int) {
	if m == nil {
		return
	}
	m.received.Inc()
	m.bytesIn.Add(float64(bytes))
	if m.core != nil {
		m.core.RecordMessageReceived("pipeline", kind)
	}
}

func (m *pipelineMetrics) recordTransformed(records int) {
	if m == nil {
		return
	}
	m.transformed.Add(float64(records))
}

func (m *pipelineMetrics) recordTransformError() {
	if m == nil {
		return
	}
	m.transformErrs.Inc()
	if m.core != nil {
		m.core.RecordError("pipeline", "transform")
	}
}

func (m *pipelineMetrics) recordValidated(records int) {
	if m == nil {
		return
	}
	m.validated.Add(float64(records))
}

func (m *pipelineMetrics) recordValidationError() {
	if m == nil {
		return
	}
	m.validationErrs.Inc()
	if m.core != nil {
		m.core.RecordError("pipeline", "validation")
	}
}

func (m *pipelineMetrics) recordPersisted(rows int) {
	if m == nil {
		return
	}
	m.persisted.Add(float64(rows))
	if m.core != nil {
		m.core.RecordPersist("pipeline", "ok")
	}
}

func (m *pipelineMetrics) recordPersistError() {
	if m == nil {
		return
	}
	m.persistErrs.Inc()
	if m.core != nil {
		m.core.RecordPersist("pipeline", "error")
	}
}

func (m *pipelineMetrics) recordPressureKick() {
	if m == nil {
		return
	}
	m.pressureKicks.Inc()
}

func (m *pipelineMetrics) recordCommand() {
	if m == nil {
		return
	}
	m.commands.Inc()
}

func (m *pipelineMetrics) recordBufferLen(n int) {
	if m == nil {
		return
	}
	m.bufferLen.Set(float64(n))
}

func (m *pipelineMetrics) recordFlush(batch int, d time.Duration) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(batch))
	m.flushDuration.Observe(d.Seconds())
	if m.core != nil {
		m.core.RecordProcessingDuration("pipeline", "flush", d)
	}
}

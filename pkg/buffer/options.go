package buffer

import "github.com/c360/sensorstream/metric"

// Option configures a Ring at construction.
type Option func(*ringConfig)

type ringConfig struct {
	policy   DropPolicy
	registry *metric.MetricsRegistry
	name     string
}

// WithPolicy selects the full-ring behavior. The default is DropOldest.
func WithPolicy(p DropPolicy) Option {
	return func(cfg *ringConfig) {
		cfg.policy = p
	}
}

// WithMetrics exports the ring's counters through the shared Prometheus
// registry, labeled with the owning component's name. A nil registry or
// empty name disables the export.
func WithMetrics(registry *metric.MetricsRegistry, name string) Option {
	return func(cfg *ringConfig) {
		if registry != nil && name != "" {
			cfg.registry = registry
			cfg.name = name
		}
	}
}

func applyOptions(opts ...Option) ringConfig {
	cfg := ringConfig{policy: DropOldest}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

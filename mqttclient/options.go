package mqttclient

import (
	"crypto/tls"
	"fmt"
	"log"
	"time"

	"github.com/c360/sensorstream/metric"
)

// Logger interface for injecting custom loggers
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
	Debugf(format string, v ...any)
}

// defaultLogger implements Logger using the standard log package
type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	log.Printf("[MQTT] "+format, v...)
}

func (l *defaultLogger) Errorf(format string, v ...any) {
	log.Printf("[MQTT ERROR] "+format, v...)
}

func (l *defaultLogger) Debugf(_ string, _ ...any) {
	// Silent by default
}

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client) error

// WithLogger sets a custom logger for the client
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			logger = &defaultLogger{}
		}
		c.logger = logger
		return nil
	}
}

// WithClientID sets the MQTT client identifier. An empty id keeps the
// generated default.
func WithClientID(id string) ClientOption {
	return func(c *Client) error {
		if id != "" {
			c.clientID = id
		}
		return nil
	}
}

// WithCredentials sets username and password for broker authentication
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithKeepAlive sets the MQTT keep-alive interval. Zero disables
// keep-alive pings.
func WithKeepAlive(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			d = 0
		}
		c.keepAlive = d
		return nil
	}
}

// WithCleanStart controls whether the broker discards session state
// from a previous connection with the same client id.
func WithCleanStart(clean bool) ClientOption {
	return func(c *Client) error {
		c.cleanStart = clean
		return nil
	}
}

// WithConnectTimeout sets how long a single connect attempt may take
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			d = 5 * time.Second
		}
		c.connectTimeout = d
		return nil
	}
}

// WithReconnectPeriod sets the wait between reconnection attempts
func WithReconnectPeriod(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			d = 2 * time.Second
		}
		c.reconnectPeriod = d
		return nil
	}
}

// WithMaxReconnectAttempts bounds the reconnect loop. Negative means
// retry forever; zero means a single connection drop is terminal.
func WithMaxReconnectAttempts(n int) ClientOption {
	return func(c *Client) error {
		c.maxReconnectAttempts = n
		return nil
	}
}

// WithDefaultQoS sets the quality-of-service level components use when
// they have no per-topic override.
func WithDefaultQoS(qos byte) ClientOption {
	return func(c *Client) error {
		if qos > 2 {
			return fmt.Errorf("QoS %d out of range", qos)
		}
		c.defaultQoS = qos
		return nil
	}
}

// WithLastWill registers a will message the broker publishes on the
// client's behalf when the connection drops without a clean disconnect.
func WithLastWill(topic string, payload []byte, qos byte, retained bool) ClientOption {
	return func(c *Client) error {
		if err := ValidateTopic(topic); err != nil {
			return fmt.Errorf("invalid will topic: %w", err)
		}
		if qos > 2 {
			return fmt.Errorf("will QoS %d out of range", qos)
		}
		c.will = &willConfig{
			topic:    topic,
			payload:  payload,
			qos:      qos,
			retained: retained,
		}
		return nil
	}
}

// WithTLSConfig enables transport security using a prepared TLS
// configuration, typically built by pkg/tlsutil from the broker
// security settings.
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(c *Client) error {
		c.tlsConfig = cfg
		return nil
	}
}

// WithStateCallback sets a callback invoked on every state transition.
// The callback runs on its own goroutine so it cannot stall the
// connection callbacks.
func WithStateCallback(fn func(StateChange)) ClientOption {
	return func(c *Client) error {
		c.onState = fn
		return nil
	}
}

// WithNotifyBuffer sets the capacity of the state change notification
// channel. Transitions beyond a full buffer are dropped and counted.
func WithNotifyBuffer(n int) ClientOption {
	return func(c *Client) error {
		if n < 1 {
			n = defaultNotifyBuffer
		}
		c.notifyBuffer = n
		return nil
	}
}

// WithMetrics enables broker metrics collection using the provided
// registry. Connection state, reconnect attempts, and message counters
// are tracked.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry == nil {
			return nil // No metrics
		}

		metrics, err := newBrokerMetrics(registry)
		if err != nil {
			return err
		}

		c.metrics = metrics
		return nil
	}
}

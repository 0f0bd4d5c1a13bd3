package mqttclient

import (
	"context"
	stderrors "errors"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/c360/sensorstream/component"
	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/pkg/retry"
)

const (
	componentName    = "broker-client"
	componentVersion = "1.0.0"
)

// Initialize builds the underlying MQTT transport from the configured
// options. It is safe to call again after Stop, which is how an
// operator recovers a client that reached StateErrored.
func (c *Client) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.WrapInvalid(
			stderrors.New("client is running"),
			"Client", "Initialize", "check lifecycle state")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(c.brokerURL).
		SetClientID(c.clientID).
		SetCleanSession(c.cleanStart).
		SetKeepAlive(c.keepAlive).
		SetConnectTimeout(c.connectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false)

	if c.username != "" {
		opts.SetUsername(c.username)
		opts.SetPassword(c.password)
	}
	if c.tlsConfig != nil {
		opts.SetTLSConfig(c.tlsConfig)
	}
	if c.will != nil {
		opts.SetBinaryWill(c.will.topic, c.will.payload, c.will.qos, c.will.retained)
	}

	// The client owns reconnection so the state machine controls
	// attempt counting and the terminal transition. The transport's
	// own auto-reconnect stays disabled.
	opts.SetOnConnectHandler(c.handleConnect)
	opts.SetConnectionLostHandler(c.handleConnectionLost)

	c.paho = mqtt.NewClient(opts)
	c.deliberate = false
	c.resetLocked()
	c.initialized = true

	return nil
}

// Start connects to the broker, retrying the initial dial with quick
// backoff so a racing broker container or service restart does not
// fail the whole pipeline.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotInitialized, "Client", "Start", "start broker client")
	}
	if c.running {
		c.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Client", "Start", "start broker client")
	}
	c.running = true
	c.deliberate = false
	c.runCtx, c.runCancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.startedAt.Store(time.Now())

	err := retry.Do(ctx, retry.Quick(), func() error {
		return c.Connect(ctx)
	})
	if err != nil {
		c.mu.Lock()
		c.running = false
		if c.runCancel != nil {
			c.runCancel()
		}
		c.mu.Unlock()
		return errors.WrapConnection(err, "Client", "Start", "connect to broker")
	}

	return nil
}

// Stop disconnects from the broker. It is idempotent: stopping a
// client that never started returns nil.
func (c *Client) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	if c.runCancel != nil {
		c.runCancel()
	}
	c.mu.Unlock()

	c.Disconnect(timeout)
	return nil
}

// Meta implements component.Discoverable
func (c *Client) Meta() component.Metadata {
	return component.Metadata{
		Name:        componentName,
		Type:        "input",
		Description: "MQTT broker connection manager feeding the ingestion pipeline",
		Version:     componentVersion,
	}
}

// Health implements component.Discoverable. The client is healthy only
// while Connected; Reconnecting and Errored both report unhealthy with
// the causing error.
func (c *Client) Health() component.HealthStatus {
	c.mu.RLock()
	state := c.state
	lastErr := c.lastErr
	c.mu.RUnlock()

	status := component.HealthStatus{
		Healthy:    state == StateConnected,
		LastCheck:  time.Now(),
		ErrorCount: int(c.failures.Load()),
	}
	if lastErr != nil {
		status.LastError = lastErr.Error()
	}
	if last := c.lastConnected.Load().(time.Time); state == StateConnected && !last.IsZero() {
		status.Uptime = time.Since(last)
	}

	return status
}

// DataFlow implements component.Discoverable. Rates are averaged over
// the time since Start; the health monitor derives windowed rates from
// its own history.
func (c *Client) DataFlow() component.FlowMetrics {
	flow := component.FlowMetrics{
		LastActivity: c.lastMessage.Load().(time.Time),
	}

	started := c.startedAt.Load().(time.Time)
	if started.IsZero() {
		return flow
	}
	elapsed := time.Since(started).Seconds()
	if elapsed <= 0 {
		return flow
	}

	in := float64(c.messagesIn.Load())
	flow.MessagesPerSecond = in / elapsed
	flow.BytesPerSecond = float64(c.bytesIn.Load()) / elapsed
	if in > 0 {
		flow.ErrorRate = float64(c.failures.Load()) / in
	}

	return flow
}

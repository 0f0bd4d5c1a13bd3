package mqttclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/c360/sensorstream/errors"
)

// State represents the position of the connection state machine
type State int

// Possible connection states
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateErrored
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected   = stderrors.New("not connected to broker")
	ErrConnectTimeout = stderrors.New("broker connect timeout")
	ErrClientErrored  = stderrors.New("client errored, manual restart required")
)

const defaultNotifyBuffer = 32

// StateChange describes one transition of the connection state
// machine. During a reconnect wave each retry emits a change with an
// increasing Attempt; a terminal transition to StateErrored is emitted
// exactly once.
type StateChange struct {
	From    State
	To      State
	Err     error
	Attempt int
	At      time.Time
}

// Message is an inbound broker delivery handed to subscription
// handlers. Duplicate marks QoS 1 redeliveries; deduplication is the
// sink's responsibility.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retained  bool
	Duplicate bool
	At        time.Time
}

// Handler processes one inbound Message. Handlers run on the transport
// callback goroutine and must not block.
type Handler func(Message)

// subscription is one registered topic filter, kept for replay after
// every reconnect.
type subscription struct {
	filter  string
	qos     byte
	handler Handler
}

// willConfig holds the last-will declaration sent at connect time
type willConfig struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ConnStats is a point-in-time snapshot of connection counters
type ConnStats struct {
	State         State
	Attempt       int
	MessagesIn    int64
	MessagesOut   int64
	BytesIn       int64
	BytesOut      int64
	Reconnects    int64
	Failures      int32
	Dropped       int64
	LastConnected time.Time
	LastMessage   time.Time
}

// Client manages the MQTT broker connection and its state machine. It
// owns every subscription so filters can be replayed after reconnects,
// and it translates transport callbacks into StateChange notifications
// for the health monitor and fan-out bridges.
type Client struct {
	brokerURL string
	logger    Logger

	// Connection options, fixed at construction
	clientID             string
	username             string
	password             string
	keepAlive            time.Duration
	connectTimeout       time.Duration
	reconnectPeriod      time.Duration
	maxReconnectAttempts int
	defaultQoS           byte
	cleanStart           bool
	tlsConfig            *tls.Config
	will                 *willConfig

	// State machine. state and attempt always move together under mu
	// so observers never see a torn pair.
	mu           sync.RWMutex
	state        State
	attempt      int
	lastErr      error
	paho         mqtt.Client
	subs         map[string]*subscription
	initialized  bool
	running      bool
	deliberate   bool // graceful disconnect in progress, suppress reconnects
	reconnecting bool // a reconnect loop is driving the state machine

	runCtx    context.Context
	runCancel context.CancelFunc

	// Transition notifications
	changes      chan StateChange
	notifyBuffer int
	onState      func(StateChange)

	// Counters
	messagesIn    atomic.Int64
	messagesOut   atomic.Int64
	bytesIn       atomic.Int64
	bytesOut      atomic.Int64
	reconnects    atomic.Int64
	dropped       atomic.Int64
	failures      atomic.Int32
	lastConnected atomic.Value // stores time.Time
	lastMessage   atomic.Value // stores time.Time
	startedAt     atomic.Value // stores time.Time

	metrics *brokerMetrics
}

// NewClient creates a new broker client with optional configuration
func NewClient(brokerURL string, opts ...ClientOption) (*Client, error) {
	if brokerURL == "" {
		return nil, errors.WrapInvalid(
			stderrors.New("broker URL is empty"),
			"Client", "NewClient", "validate broker URL")
	}

	c := &Client{
		brokerURL: brokerURL,
		logger:    &defaultLogger{},
		clientID:  defaultClientID(),
		// Sensible defaults
		keepAlive:            30 * time.Second,
		connectTimeout:       5 * time.Second,
		reconnectPeriod:      2 * time.Second,
		maxReconnectAttempts: -1, // retry forever by default
		defaultQoS:           1,
		cleanStart:           true,
		notifyBuffer:         defaultNotifyBuffer,
		subs:                 make(map[string]*subscription),
		runCtx:               context.Background(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.state = StateDisconnected
	c.changes = make(chan StateChange, c.notifyBuffer)
	c.lastConnected.Store(time.Time{})
	c.lastMessage.Store(time.Time{})
	c.startedAt.Store(time.Time{})

	c.logger.Debugf("Created MQTT client %s for %s", c.clientID, brokerURL)

	return c, nil
}

// defaultClientID generates a unique client identifier so two pipeline
// instances never steal each other's broker session.
func defaultClientID() string {
	return "sensorstream-" + uuid.NewString()[:8]
}

// BrokerURL returns the broker address the client was built for
func (c *Client) BrokerURL() string {
	return c.brokerURL
}

// ClientID returns the MQTT client identifier
func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// DefaultQoS returns the quality-of-service level components use when
// they have no per-topic override
func (c *Client) DefaultQoS() byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultQoS
}

// ReconnectPeriod returns the wait between reconnection attempts
func (c *Client) ReconnectPeriod() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnectPeriod
}

// ConnectTimeout returns the bound on a single connect attempt
func (c *Client) ConnectTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectTimeout
}

// MaxReconnectAttempts returns the reconnect budget (-1 for unbounded)
func (c *Client) MaxReconnectAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxReconnectAttempts
}

// State returns the current connection state
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsHealthy returns true if the connection is established
func (c *Client) IsHealthy() bool {
	return c.State() == StateConnected
}

// LastError returns the most recent connection error, or nil when the
// connection is healthy
func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// StateChanges returns the transition notification channel. Sends
// never block the transport callbacks: when the buffer is full the
// change is counted as dropped instead of delivered. The channel is
// never closed.
func (c *Client) StateChanges() <-chan StateChange {
	return c.changes
}

// Stats returns a snapshot of the connection counters
func (c *Client) Stats() ConnStats {
	c.mu.RLock()
	state := c.state
	attempt := c.attempt
	c.mu.RUnlock()

	return ConnStats{
		State:         state,
		Attempt:       attempt,
		MessagesIn:    c.messagesIn.Load(),
		MessagesOut:   c.messagesOut.Load(),
		BytesIn:       c.bytesIn.Load(),
		BytesOut:      c.bytesOut.Load(),
		Reconnects:    c.reconnects.Load(),
		Failures:      c.failures.Load(),
		Dropped:       c.dropped.Load(),
		LastConnected: c.lastConnected.Load().(time.Time),
		LastMessage:   c.lastMessage.Load().(time.Time),
	}
}

// setStateLocked moves the state machine and emits one StateChange.
// Callers must hold mu. A transition is a change of the (state,
// attempt) pair, so a reconnect wave emits one change per retry.
// StateErrored is terminal here; only resetLocked leaves it.
func (c *Client) setStateLocked(to State, cause error, attempt int) {
	from := c.state
	if from == StateErrored {
		return
	}
	if from == to && attempt == c.attempt {
		return
	}

	c.state = to
	c.attempt = attempt
	if cause != nil {
		c.lastErr = cause
	}

	c.metrics.recordState(to)
	c.emitLocked(StateChange{
		From:    from,
		To:      to,
		Err:     cause,
		Attempt: attempt,
		At:      time.Now(),
	})

	c.logger.Debugf("State %s -> %s (attempt %d)", from, to, attempt)
}

// resetLocked forces the machine back to Disconnected. This is the
// operator-driven path (Disconnect, Initialize) that is allowed to
// leave the terminal StateErrored.
func (c *Client) resetLocked() {
	from := c.state
	c.state = StateDisconnected
	c.attempt = 0

	if from == StateDisconnected {
		return
	}

	c.metrics.recordState(StateDisconnected)
	c.emitLocked(StateChange{
		From: from,
		To:   StateDisconnected,
		At:   time.Now(),
	})
}

// emitLocked delivers one StateChange without ever blocking the
// caller. Callers must hold mu, which also serializes channel sends so
// receivers observe transitions in order.
func (c *Client) emitLocked(change StateChange) {
	select {
	case c.changes <- change:
	default:
		c.dropped.Add(1)
		c.metrics.recordDroppedNotification()
	}

	if c.onState != nil {
		go c.onState(change)
	}
}

// Connect performs a single connection attempt, honoring both the
// configured connect timeout and ctx cancellation. On failure the
// state returns to Disconnected and the caller may retry.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotInitialized, "Client", "Connect", "check lifecycle state")
	}
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateErrored:
		c.mu.Unlock()
		return errors.WrapConnection(ErrClientErrored, "Client", "Connect", "check connection state")
	case StateConnecting, StateReconnecting:
		state := c.state
		c.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("connect already in progress (state %s)", state),
			"Client", "Connect", "check connection state")
	}
	c.deliberate = false
	c.setStateLocked(StateConnecting, nil, 0)
	transport := c.paho
	c.mu.Unlock()

	c.logger.Printf("Connecting to broker at %s", c.brokerURL)

	token := transport.Connect()

	timer := time.NewTimer(c.connectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			c.connectFailed(err)
			return errors.WrapConnection(err, "Client", "Connect", "establish connection")
		}
	case <-timer.C:
		c.connectFailed(ErrConnectTimeout)
		return errors.WrapConnection(ErrConnectTimeout, "Client", "Connect", "establish connection")
	case <-ctx.Done():
		c.connectFailed(ctx.Err())
		return errors.WrapConnection(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.mu.Lock()
	c.setStateLocked(StateConnected, nil, 0)
	c.mu.Unlock()

	return nil
}

// connectFailed records a failed connect attempt
func (c *Client) connectFailed(err error) {
	c.failures.Add(1)

	c.mu.Lock()
	c.lastErr = err
	c.setStateLocked(StateDisconnected, err, 0)
	c.mu.Unlock()
}

// Disconnect closes the broker connection gracefully, allowing
// in-flight acknowledgements the given quiesce window. The state
// machine moves straight to Disconnected without passing through
// Reconnecting, and a registered last will is not published.
func (c *Client) Disconnect(timeout time.Duration) {
	c.mu.Lock()
	c.deliberate = true
	transport := c.paho
	connected := transport != nil && c.state == StateConnected
	c.mu.Unlock()

	if connected {
		quiesce := uint(timeout / time.Millisecond)
		transport.Disconnect(quiesce)
		c.logger.Printf("Disconnected from broker at %s", c.brokerURL)
	}

	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
}

// handleConnect runs on every successful connection, both the initial
// connect and reconnects. It owns the Connected transition and replays
// every registered subscription.
func (c *Client) handleConnect(transport mqtt.Client) {
	c.mu.Lock()
	if c.deliberate || c.state == StateErrored {
		// A connect attempt completed after the operator stopped the
		// client or the state machine gave up. Tear it down.
		c.mu.Unlock()
		transport.Disconnect(0)
		return
	}
	wasReconnect := c.state == StateReconnecting
	c.setStateLocked(StateConnected, nil, 0)
	c.lastErr = nil
	c.reconnecting = false
	subs := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	c.lastConnected.Store(time.Now())

	if wasReconnect {
		c.logger.Printf("Reconnected to broker at %s, replaying %d subscriptions", c.brokerURL, len(subs))
	} else {
		c.logger.Printf("Connected to broker at %s", c.brokerURL)
	}

	for _, sub := range subs {
		if err := c.subscribeTransport(transport, sub); err != nil {
			c.logger.Errorf("Subscribe %q failed after connect: %v", sub.filter, err)
		}
	}
}

// handleConnectionLost runs when an established connection drops
// without a clean disconnect. It hands recovery to the reconnect loop.
func (c *Client) handleConnectionLost(_ mqtt.Client, err error) {
	c.logger.Errorf("Connection to broker lost: %v", err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deliberate || c.state == StateErrored || c.reconnecting {
		return
	}

	c.reconnecting = true
	go c.reconnectLoop(err)
}

// reconnectLoop drives the Reconnecting state until the broker comes
// back, the attempt budget is exhausted, or the client is stopped.
// Attempt numbering starts at 1. A non-negative budget of n allows n
// retries before the terminal transition to StateErrored, so a budget
// of zero makes the first connection drop terminal.
func (c *Client) reconnectLoop(cause error) {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		c.mu.Lock()
		if c.deliberate {
			c.mu.Unlock()
			return
		}
		if c.maxReconnectAttempts >= 0 && attempt > c.maxReconnectAttempts {
			c.setStateLocked(StateErrored, cause, attempt-1)
			c.mu.Unlock()
			c.logger.Errorf("Gave up reconnecting after %d attempts, manual restart required", attempt-1)
			return
		}
		c.setStateLocked(StateReconnecting, cause, attempt)
		transport := c.paho
		runCtx := c.runCtx
		c.mu.Unlock()

		c.reconnects.Add(1)
		c.metrics.recordReconnect()

		select {
		case <-runCtx.Done():
			return
		case <-time.After(c.reconnectPeriod):
		}

		token := transport.Connect()
		if !token.WaitTimeout(c.connectTimeout) {
			cause = ErrConnectTimeout
			c.failures.Add(1)
			continue
		}
		if err := token.Error(); err != nil {
			cause = err
			c.failures.Add(1)
			continue
		}

		// handleConnect owns the Connected transition and the
		// subscription replay.
		return
	}
}

// Subscribe registers a handler for an MQTT topic filter. The
// subscription survives reconnects: it is replayed on every successful
// connection. Subscribing while the connection is down registers the
// filter for replay and returns nil; it takes effect at connect time.
func (c *Client) Subscribe(filter string, qos byte, handler Handler) error {
	if err := ValidateFilter(filter); err != nil {
		return errors.WrapInvalid(err, "Client", "Subscribe", "validate topic filter")
	}
	if qos > 2 {
		return errors.WrapInvalid(
			fmt.Errorf("QoS %d out of range", qos),
			"Client", "Subscribe", "validate QoS")
	}
	if handler == nil {
		return errors.WrapInvalid(
			stderrors.New("handler is nil"),
			"Client", "Subscribe", "validate handler")
	}

	sub := &subscription{filter: filter, qos: qos, handler: handler}

	c.mu.Lock()
	c.subs[filter] = sub
	connected := c.state == StateConnected
	transport := c.paho
	c.mu.Unlock()

	if !connected || transport == nil {
		return nil
	}

	if err := c.subscribeTransport(transport, sub); err != nil {
		return errors.WrapConnection(err, "Client", "Subscribe", fmt.Sprintf("subscribe %s", filter))
	}
	return nil
}

// Unsubscribe removes a registered topic filter. Unknown filters are a
// no-op.
func (c *Client) Unsubscribe(filter string) error {
	c.mu.Lock()
	_, known := c.subs[filter]
	delete(c.subs, filter)
	connected := c.state == StateConnected
	transport := c.paho
	c.mu.Unlock()

	if !known || !connected || transport == nil {
		return nil
	}

	token := transport.Unsubscribe(filter)
	if !token.WaitTimeout(c.connectTimeout) {
		return errors.WrapConnection(
			fmt.Errorf("unsubscribe %s timed out", filter),
			"Client", "Unsubscribe", "await broker ack")
	}
	if err := token.Error(); err != nil {
		return errors.WrapConnection(err, "Client", "Unsubscribe", fmt.Sprintf("unsubscribe %s", filter))
	}
	return nil
}

// Publish sends a payload to a concrete MQTT topic. QoS 1 and 2
// publications wait for the broker acknowledgement; QoS 0 is
// fire-and-forget.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if err := ValidateTopic(topic); err != nil {
		return errors.WrapInvalid(err, "Client", "Publish", "validate topic")
	}
	if qos > 2 {
		return errors.WrapInvalid(
			fmt.Errorf("QoS %d out of range", qos),
			"Client", "Publish", "validate QoS")
	}

	c.mu.RLock()
	connected := c.state == StateConnected
	transport := c.paho
	c.mu.RUnlock()

	if !connected || transport == nil {
		return ErrNotConnected
	}

	token := transport.Publish(topic, qos, retained, payload)
	if qos > 0 {
		if !token.WaitTimeout(c.connectTimeout) {
			c.failures.Add(1)
			return errors.WrapConnection(
				fmt.Errorf("publish to %s timed out", topic),
				"Client", "Publish", "await broker ack")
		}
		if err := token.Error(); err != nil {
			c.failures.Add(1)
			return errors.WrapConnection(err, "Client", "Publish", fmt.Sprintf("publish to %s", topic))
		}
	}

	c.messagesOut.Add(1)
	c.bytesOut.Add(int64(len(payload)))
	c.metrics.recordOutbound(len(payload))

	return nil
}

// subscribeTransport issues the MQTT SUBSCRIBE for one registered
// subscription. The adapter converts transport messages into pipeline
// Messages before invoking the registered handler.
func (c *Client) subscribeTransport(transport mqtt.Client, sub *subscription) error {
	handler := sub.handler
	adapter := func(_ mqtt.Client, raw mqtt.Message) {
		msg := Message{
			Topic:     raw.Topic(),
			Payload:   raw.Payload(),
			QoS:       raw.Qos(),
			Retained:  raw.Retained(),
			Duplicate: raw.Duplicate(),
			At:        time.Now(),
		}

		c.messagesIn.Add(1)
		c.bytesIn.Add(int64(len(msg.Payload)))
		c.lastMessage.Store(msg.At)
		c.metrics.recordInbound(len(msg.Payload))

		handler(msg)
	}

	token := transport.Subscribe(sub.filter, sub.qos, adapter)
	if !token.WaitTimeout(c.connectTimeout) {
		return fmt.Errorf("subscribe %s timed out", sub.filter)
	}
	return token.Error()
}

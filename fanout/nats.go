package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/sensorstream/component"
	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/pkg/security"
	"github.com/c360/sensorstream/pkg/timestamp"
	"github.com/c360/sensorstream/pkg/tlsutil"
)

const (
	natsComponentName = "nats-relay"
	natsVersion       = "1.0.0"

	defaultSubjectPrefix  = "sensorstream"
	defaultConnectTimeout = 5 * time.Second
	natsReconnectWait     = 2 * time.Second
)

var subjectSanitizer = strings.NewReplacer(":", ".", "/", ".")

// natsSubject maps an external channel onto a NATS subject under the
// given prefix. Channel separators become subject token separators;
// sensor and event names are expected to be token-safe.
func natsSubject(prefix, channel string) string {
	return prefix + "." + subjectSanitizer.Replace(channel)
}

// NATSDeps holds the relay's dependencies and settings
type NATSDeps struct {
	Bridge *Bridge // required
	URL    string  // required

	SubjectPrefix  string        // defaults to sensorstream
	ConnectTimeout time.Duration // defaults to 5s

	// TLS customizes the relay link beyond what a tls:// URL already
	// gives: extra CAs, a client certificate, or a version pin. The
	// zero value leaves the nats.go defaults alone.
	TLS security.ClientTLSConfig

	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// NATSPublisher mirrors bridge frames onto NATS subjects so services
// outside the plant network can consume the stream. Publishing is
// fire-and-forget; a failed publish is counted and the frame is gone.
type NATSPublisher struct {
	bridge         *Bridge
	url            string
	prefix         string
	connectTimeout time.Duration
	tls            security.ClientTLSConfig

	mu          sync.Mutex
	initialized bool
	startTime   time.Time
	conn        *nats.Conn
	sub         *Subscription

	running atomic.Bool
	wg      sync.WaitGroup

	published  atomic.Int64
	failed     atomic.Int64
	bytesOut   atomic.Int64
	lastSentMs atomic.Int64

	metrics *natsMetrics
	logger  *slog.Logger
}

var _ component.Discoverable = (*NATSPublisher)(nil)
var _ component.LifecycleComponent = (*NATSPublisher)(nil)

// NewNATSPublisher creates a relay bound to the given bridge
func NewNATSPublisher(deps NATSDeps) (*NATSPublisher, error) {
	if deps.Bridge == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("bridge is required"),
			"NATSPublisher", "NewNATSPublisher", "validate dependencies")
	}
	if deps.URL == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("server URL is required"),
			"NATSPublisher", "NewNATSPublisher", "validate dependencies")
	}

	prefix := deps.SubjectPrefix
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	connectTimeout := deps.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", natsComponentName)
	}

	metrics, err := newNATSMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "NATSPublisher", "NewNATSPublisher", "register metrics")
	}

	return &NATSPublisher{
		bridge:         deps.Bridge,
		url:            deps.URL,
		prefix:         prefix,
		connectTimeout: connectTimeout,
		tls:            deps.TLS,
		metrics:        metrics,
		logger:         logger,
	}, nil
}

// Initialize implements component.LifecycleComponent
func (n *NATSPublisher) Initialize() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running.Load() {
		return errors.WrapInvalid(
			fmt.Errorf("relay is running"),
			"NATSPublisher", "Initialize", "stop the relay before reinitializing")
	}
	if strings.ContainsAny(n.prefix, " *>") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "NATSPublisher", "Initialize",
			fmt.Sprintf("subject prefix %q contains reserved characters", n.prefix))
	}

	n.initialized = true
	return nil
}

// customTLS reports whether the relay link needs more than what a
// tls:// URL already provides, which is server verification against
// the system CA bundle.
func customTLS(cfg security.ClientTLSConfig) bool {
	return len(cfg.CAFiles) > 0 || cfg.InsecureSkipVerify ||
		cfg.MinVersion != "" || cfg.MTLS.Enabled
}

// Start connects to the NATS server and begins relaying bridge frames
func (n *NATSPublisher) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.initialized {
		return errors.WrapInvalid(errors.ErrNotInitialized, "NATSPublisher", "Start", "start relay")
	}
	if n.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "NATSPublisher", "Start", "start relay")
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "NATSPublisher", "Start", "context cannot be nil")
	}

	opts := []nats.Option{
		nats.Name(natsComponentName),
		nats.Timeout(n.connectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			n.logger.Warn("NATS connection lost", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			n.logger.Info("NATS connection restored", "url", c.ConnectedUrl())
		}),
	}
	if customTLS(n.tls) {
		tlsConfig, err := tlsutil.LoadClientTLSConfigWithMTLS(n.tls, n.tls.MTLS)
		if err != nil {
			return errors.WrapFatal(err, "NATSPublisher", "Start", "load TLS config")
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}

	conn, err := nats.Connect(n.url, opts...)
	if err != nil {
		return errors.WrapConnection(err, "NATSPublisher", "Start",
			fmt.Sprintf("connect to %s", n.url))
	}

	n.conn = conn
	n.startTime = time.Now()
	n.sub = n.bridge.Subscribe(natsComponentName, 0)

	n.wg.Add(1)
	go n.relayLoop(n.sub, conn)
	n.running.Store(true)

	n.logger.Info("NATS relay started", "url", n.url, "subject_prefix", n.prefix)
	return nil
}

// Stop detaches from the bridge, flushes pending publishes, and closes
// the connection. Idempotent; returns nil when the relay is not
// running.
func (n *NATSPublisher) Stop(timeout time.Duration) error {
	n.mu.Lock()
	if !n.running.Load() {
		n.mu.Unlock()
		return nil
	}
	n.running.Store(false)
	sub := n.sub
	conn := n.conn
	n.sub = nil
	n.conn = nil
	n.mu.Unlock()

	// Detaching closes the subscription channel; the relay loop
	// publishes what is already queued and exits.
	sub.Close()

	finished := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("stop timeout after %v", timeout),
			"NATSPublisher", "Stop", "await relay loop")
	}

	if err := conn.FlushTimeout(timeout); err != nil {
		n.logger.Warn("NATS flush on shutdown failed", "error", err)
	}
	conn.Close()

	n.logger.Info("NATS relay stopped")
	return nil
}

// relayLoop publishes each frame's payload under its channel subject
func (n *NATSPublisher) relayLoop(sub *Subscription, conn *nats.Conn) {
	defer n.wg.Done()

	for env := range sub.C() {
		subject := natsSubject(n.prefix, env.Channel)
		if err := conn.Publish(subject, env.Payload); err != nil {
			n.failed.Add(1)
			n.metrics.recordFailed()
			n.logger.Debug("NATS publish failed", "subject", subject, "error", err)
			continue
		}
		n.published.Add(1)
		n.bytesOut.Add(int64(len(env.Payload)))
		n.lastSentMs.Store(timestamp.ToUnixMs(time.Now()))
		n.metrics.recordPublished()
	}
}

// Meta implements component.Discoverable
func (n *NATSPublisher) Meta() component.Metadata {
	return component.Metadata{
		Name:        natsComponentName,
		Type:        "output",
		Description: fmt.Sprintf("Mirrors pipeline events onto NATS subjects under %s.>", n.prefix),
		Version:     natsVersion,
	}
}

// Health implements component.Discoverable
func (n *NATSPublisher) Health() component.HealthStatus {
	n.mu.Lock()
	started := n.startTime
	conn := n.conn
	n.mu.Unlock()

	healthy := n.running.Load() && conn != nil && conn.IsConnected()
	status := component.HealthStatus{
		Healthy:    healthy,
		LastCheck:  time.Now(),
		ErrorCount: int(n.failed.Load()),
	}
	if n.running.Load() && !started.IsZero() {
		status.Uptime = time.Since(started)
	}
	return status
}

// DataFlow implements component.Discoverable
func (n *NATSPublisher) DataFlow() component.FlowMetrics {
	flow := component.FlowMetrics{}
	if ms := n.lastSentMs.Load(); ms > 0 {
		flow.LastActivity = timestamp.FromUnixMs(ms)
	}

	n.mu.Lock()
	started := n.startTime
	n.mu.Unlock()
	if started.IsZero() {
		return flow
	}
	elapsed := time.Since(started).Seconds()
	if elapsed <= 0 {
		return flow
	}

	published := float64(n.published.Load())
	flow.MessagesPerSecond = published / elapsed
	flow.BytesPerSecond = float64(n.bytesOut.Load()) / elapsed
	if attempted := published + float64(n.failed.Load()); attempted > 0 {
		flow.ErrorRate = float64(n.failed.Load()) / attempted
	}
	return flow
}

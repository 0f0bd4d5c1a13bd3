package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/sensorstream/component"
	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/pkg/security"
	"github.com/c360/sensorstream/pkg/timestamp"
	"github.com/c360/sensorstream/pkg/tlsutil"
)

const (
	hubComponentName = "websocket-hub"
	hubVersion       = "1.0.0"

	defaultHubPort    = 8081
	defaultHubPath    = "/ws"
	defaultClientPool = 32

	hubWriteTimeout = 10 * time.Second
	hubPongTimeout  = 90 * time.Second
	hubPingInterval = 30 * time.Second
)

// hubClient is one WebSocket consumer. Frames queue on send and a
// dedicated writer drains them, so a slow client only loses its own
// frames.
type hubClient struct {
	conn        *websocket.Conn
	send        chan []byte
	connectedAt time.Time
	closed      atomic.Bool
	closeOnce   sync.Once
	writeMu     sync.Mutex
}

// writeFrame serializes writes between the client writer and the ping
// loop
func (c *hubClient) writeFrame(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// HubDeps holds the hub's dependencies and settings
type HubDeps struct {
	Bridge *Bridge // required

	Port       int    // defaults to 8081
	Path       string // defaults to /ws
	QueueDepth int    // per-client send queue, defaults to 32

	Security        security.Config
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Hub serves bridge frames to WebSocket clients. Delivery is
// at-most-once: a client that cannot keep up loses its oldest frames
// and nothing upstream notices.
type Hub struct {
	bridge     *Bridge
	port       int
	path       string
	queueDepth int
	security   security.Config
	upgrader   websocket.Upgrader

	mu          sync.Mutex
	initialized bool
	startTime   time.Time
	shutdown    chan struct{}
	server      *http.Server
	sub         *Subscription

	running atomic.Bool
	wg      sync.WaitGroup

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*hubClient

	connections   atomic.Int64
	framesSent    atomic.Int64
	framesDropped atomic.Int64
	bytesSent     atomic.Int64
	lastSentMs    atomic.Int64
	errorCount    atomic.Int64

	metrics *hubMetrics
	logger  *slog.Logger
}

var _ component.Discoverable = (*Hub)(nil)
var _ component.LifecycleComponent = (*Hub)(nil)

// NewHub creates a hub bound to the given bridge
func NewHub(deps HubDeps) (*Hub, error) {
	if deps.Bridge == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("bridge is required"),
			"Hub", "NewHub", "validate dependencies")
	}

	port := deps.Port
	if port == 0 {
		port = defaultHubPort
	}
	path := deps.Path
	if path == "" {
		path = defaultHubPath
	}
	queueDepth := deps.QueueDepth
	if queueDepth <= 0 {
		queueDepth = defaultClientPool
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", hubComponentName)
	}

	metrics, err := newHubMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "Hub", "NewHub", "register metrics")
	}

	return &Hub{
		bridge:     deps.Bridge,
		port:       port,
		path:       path,
		queueDepth: queueDepth,
		security:   deps.Security,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checks are left to the deployment's proxy layer
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*hubClient),
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Initialize implements component.LifecycleComponent
func (h *Hub) Initialize() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running.Load() {
		return errors.WrapInvalid(
			fmt.Errorf("hub is running"),
			"Hub", "Initialize", "stop the hub before reinitializing")
	}

	if h.port < 1024 || h.port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Hub", "Initialize",
			fmt.Sprintf("invalid port %d (out of range 1024-65535)", h.port))
	}
	if !strings.HasPrefix(h.path, "/") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Hub", "Initialize",
			fmt.Sprintf("path %q must start with /", h.path))
	}

	h.initialized = true
	return nil
}

// Start begins serving WebSocket clients and consuming bridge frames
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return errors.WrapInvalid(errors.ErrNotInitialized, "Hub", "Start", "start hub")
	}
	if h.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Hub", "Start", "start hub")
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Hub", "Start", "context cannot be nil")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(h.path, h.handleWebSocket)

	h.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", h.port),
		Handler: mux,
	}

	tlsEnabled := h.security.TLS.Server.Enabled
	if tlsEnabled {
		tlsConfig, err := tlsutil.LoadServerTLSConfigWithMTLS(
			h.security.TLS.Server,
			h.security.TLS.Server.MTLS,
		)
		if err != nil {
			h.server = nil
			return errors.WrapFatal(err, "Hub", "Start", "load TLS config")
		}
		h.server.TLSConfig = tlsConfig
	}

	h.shutdown = make(chan struct{})
	h.startTime = time.Now()
	h.sub = h.bridge.Subscribe(hubComponentName, 0)

	h.wg.Add(3)
	go h.runServer(tlsEnabled)
	go h.fanLoop(h.sub)
	go h.maintainClients()
	h.running.Store(true)

	h.logger.Info("WebSocket hub started", "port", h.port, "path", h.path, "tls", tlsEnabled)
	return nil
}

// Stop detaches from the bridge, closes every client, and shuts the
// server down. Idempotent; returns nil when the hub is not running.
func (h *Hub) Stop(timeout time.Duration) error {
	h.mu.Lock()
	if !h.running.Load() {
		h.mu.Unlock()
		return nil
	}
	h.running.Store(false)
	close(h.shutdown)
	server := h.server
	sub := h.sub
	h.server = nil
	h.sub = nil
	h.mu.Unlock()

	// Detaching closes the subscription channel, which ends fanLoop.
	sub.Close()

	// Shutdown stops the listener and waits for in-flight upgrades, so
	// no new client goroutines appear after it returns. WebSocket
	// connections are hijacked and stay open until closed below.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		h.logger.Warn("HTTP server shutdown error", "error", err)
	}

	h.closeAllClients()

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("stop timeout after %v", timeout),
			"Hub", "Stop", "await fan-out loop and client goroutines")
	}

	h.logger.Info("WebSocket hub stopped")
	return nil
}

func (h *Hub) runServer(tlsEnabled bool) {
	defer h.wg.Done()

	h.mu.Lock()
	server := h.server
	h.mu.Unlock()
	if server == nil {
		return
	}

	var err error
	if tlsEnabled {
		err = server.ListenAndServeTLS("", "")
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		h.errorCount.Add(1)
		h.logger.Error("WebSocket server failed", "error", err, "port", h.port)
	}
}

// fanLoop drains the bridge subscription, marshaling each envelope once
// and queueing the frame on every client
func (h *Hub) fanLoop(sub *Subscription) {
	defer h.wg.Done()

	for env := range sub.C() {
		data, err := json.Marshal(env)
		if err != nil {
			h.errorCount.Add(1)
			continue
		}

		// Queueing happens under the read lock so a client teardown
		// cannot close its channel mid-send.
		h.clientsMu.RLock()
		for _, client := range h.clients {
			if client.closed.Load() {
				continue
			}
			if n := sendDropOldest(client.send, data); n > 0 {
				h.framesDropped.Add(int64(n))
				h.metrics.recordFramesDropped(n)
			}
		}
		h.clientsMu.RUnlock()
	}
}

func (h *Hub) handleWebSocket(wr http.ResponseWriter, r *http.Request) {
	if !h.running.Load() {
		http.Error(wr, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(wr, r, nil)
	if err != nil {
		h.errorCount.Add(1)
		h.logger.Debug("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	client := &hubClient{
		conn:        conn,
		send:        make(chan []byte, h.queueDepth),
		connectedAt: time.Now(),
	}

	h.clientsMu.Lock()
	h.clients[conn] = client
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.connections.Add(1)
	h.metrics.recordConnection()
	h.metrics.recordClients(count)
	h.logger.Debug("Client connected", "remote", r.RemoteAddr, "clients", count)

	h.wg.Add(2)
	go h.writeClient(client)
	go h.readClient(client)
}

// writeClient drains the client's send queue. It exits when teardown
// closes the queue.
func (h *Hub) writeClient(client *hubClient) {
	defer h.wg.Done()

	for data := range client.send {
		if err := client.writeFrame(websocket.TextMessage, data); err != nil {
			h.errorCount.Add(1)
			h.removeClient(client)
			continue
		}
		h.framesSent.Add(1)
		h.bytesSent.Add(int64(len(data)))
		h.lastSentMs.Store(timestamp.ToUnixMs(time.Now()))
		h.metrics.recordFrameSent()
	}
}

// readClient consumes inbound frames so pong and close control frames
// are processed. Clients have nothing to say; data frames are
// discarded.
func (h *Hub) readClient(client *hubClient) {
	defer h.wg.Done()
	defer h.removeClient(client)

	client.conn.SetReadLimit(1024)
	_ = client.conn.SetReadDeadline(time.Now().Add(hubPongTimeout))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(hubPongTimeout))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(client *hubClient) {
	client.closeOnce.Do(func() {
		client.closed.Store(true)

		h.clientsMu.Lock()
		delete(h.clients, client.conn)
		count := len(h.clients)
		close(client.send)
		h.clientsMu.Unlock()

		h.metrics.recordClients(count)
		_ = client.conn.Close()
		h.logger.Debug("Client disconnected",
			"clients", count, "connected_for", time.Since(client.connectedAt))
	})
}

func (h *Hub) closeAllClients() {
	h.clientsMu.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clientsMu.RUnlock()

	for _, client := range clients {
		h.removeClient(client)
	}
}

func (h *Hub) maintainClients() {
	defer h.wg.Done()

	ticker := time.NewTicker(hubPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.shutdown:
			return
		case <-ticker.C:
			h.pingClients()
		}
	}
}

// pingClients probes every client; the pong resets the client's read
// deadline, so one that stops answering is torn down by its reader
func (h *Hub) pingClients() {
	h.clientsMu.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for _, client := range h.clients {
		if !client.closed.Load() {
			clients = append(clients, client)
		}
	}
	h.clientsMu.RUnlock()

	for _, client := range clients {
		if err := client.writeFrame(websocket.PingMessage, nil); err != nil {
			h.removeClient(client)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Meta implements component.Discoverable
func (h *Hub) Meta() component.Metadata {
	return component.Metadata{
		Name:        hubComponentName,
		Type:        "output",
		Description: fmt.Sprintf("Streams pipeline events to WebSocket clients on :%d%s", h.port, h.path),
		Version:     hubVersion,
	}
}

// Health implements component.Discoverable
func (h *Hub) Health() component.HealthStatus {
	h.mu.Lock()
	started := h.startTime
	h.mu.Unlock()

	status := component.HealthStatus{
		Healthy:    h.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(h.errorCount.Load()),
	}
	if h.running.Load() && !started.IsZero() {
		status.Uptime = time.Since(started)
	}
	return status
}

// DataFlow implements component.Discoverable
func (h *Hub) DataFlow() component.FlowMetrics {
	flow := component.FlowMetrics{}
	if ms := h.lastSentMs.Load(); ms > 0 {
		flow.LastActivity = timestamp.FromUnixMs(ms)
	}

	h.mu.Lock()
	started := h.startTime
	h.mu.Unlock()
	if started.IsZero() {
		return flow
	}
	elapsed := time.Since(started).Seconds()
	if elapsed <= 0 {
		return flow
	}

	sent := float64(h.framesSent.Load())
	flow.MessagesPerSecond = sent / elapsed
	flow.BytesPerSecond = float64(h.bytesSent.Load()) / elapsed
	if attempted := sent + float64(h.framesDropped.Load()); attempted > 0 {
		flow.ErrorRate = float64(h.framesDropped.Load()) / attempted
	}
	return flow
}

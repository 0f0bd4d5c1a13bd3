package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/c360/sensorstream/pkg/security"
)

// Sink driver names accepted by SinkConfig.Driver.
const (
	SinkDriverMemory   = "memory"
	SinkDriverPostgres = "postgres"
)

// Config represents the complete pipeline configuration. Sections map
// one-to-one onto the runtime components: broker connection, ingestion
// buffer, dead-letter handling, health monitoring, the storage sink, and
// the fan-out surfaces.
type Config struct {
	MQTT       MQTTConfig       `json:"mqtt"`
	Buffer     BufferConfig     `json:"buffer"`
	DeadLetter DeadLetterConfig `json:"deadLetter"`
	Monitor    MonitorConfig    `json:"monitor"`
	Sink       SinkConfig       `json:"sink"`
	Fanout     FanoutConfig     `json:"fanout"`
	Metrics    MetricsConfig    `json:"metrics"`
	Logging    LoggingConfig    `json:"logging"`
}

// MQTTConfig defines the broker connection settings.
type MQTTConfig struct {
	BrokerAddress string `json:"brokerAddress"`
	// ClientID is the broker session identifier. Left empty, the client
	// generates one at connect time.
	ClientID string `json:"clientId,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	TransportSecurity security.BrokerTLSConfig `json:"transportSecurity,omitempty"`

	ReconnectPeriodMs int  `json:"reconnectPeriodMs,omitempty"`
	ConnectTimeoutMs  int  `json:"connectTimeoutMs,omitempty"`
	KeepAliveSec      int  `json:"keepAliveSec,omitempty"`
	DefaultQoS        byte `json:"defaultQoS"`
	CleanStart        bool `json:"cleanStart"`
	// MaxReconnectAttempts bounds the reconnect loop. Negative means
	// retry forever; zero means give up on the first drop.
	MaxReconnectAttempts int `json:"maxReconnectAttempts,omitempty"`

	LastWill LastWillConfig `json:"lastWill,omitempty"`
	Topics   TopicsConfig   `json:"topics"`
}

// ReconnectPeriod returns the pause between reconnect attempts.
func (c MQTTConfig) ReconnectPeriod() time.Duration {
	return time.Duration(c.ReconnectPeriodMs) * time.Millisecond
}

// ConnectTimeout returns the per-attempt connection deadline.
func (c MQTTConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// KeepAlive returns the MQTT keep-alive interval.
func (c MQTTConfig) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSec) * time.Second
}

// LastWillConfig defines the testament the broker publishes on an
// ungraceful disconnect.
type LastWillConfig struct {
	Enabled  bool   `json:"enabled"`
	Topic    string `json:"topic,omitempty"`
	Payload  string `json:"payload,omitempty"`
	QoS      byte   `json:"qos"`
	Retained bool   `json:"retained"`
}

// TopicsConfig names the subscription filters and publish topics the
// pipeline uses. SensorPatterns feed the ingestion path; CommandPattern
// and StatusPattern feed the fan-out bridge; DeadLetterTopic receives
// best-effort copies of parked payloads.
type TopicsConfig struct {
	SensorPatterns  []string `json:"sensorPatterns"`
	CommandPattern  string   `json:"commandPattern,omitempty"`
	StatusPattern   string   `json:"statusPattern,omitempty"`
	DeadLetterTopic string   `json:"deadLetterTopic,omitempty"`
}

// BufferConfig sizes the ingestion buffer and its flush cadence.
type BufferConfig struct {
	MaxSize         int `json:"maxSize"`
	FlushIntervalMs int `json:"flushIntervalMs"`
}

// FlushInterval returns the scheduler period for buffer flushes.
func (c BufferConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// DeadLetterConfig bounds the dead-letter store. MaxRetries is the
// number of redeliveries a transient failure earns before parking;
// MaxHold caps how many parked entries are kept before the oldest are
// evicted.
type DeadLetterConfig struct {
	MaxRetries int `json:"maxRetries"`
	MaxHold    int `json:"maxHold"`
}

// MonitorConfig drives the health monitor.
type MonitorConfig struct {
	CheckIntervalMs int              `json:"checkIntervalMs"`
	Thresholds      ThresholdsConfig `json:"thresholds"`
}

// CheckInterval returns the health evaluation period.
func (c MonitorConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMs) * time.Millisecond
}

// ThresholdsConfig sets the trip points for health status derivation.
type ThresholdsConfig struct {
	StalenessSec           int `json:"stalenessSec"`
	DeadLetterThreshold    int `json:"deadLetterThreshold"`
	BufferHighWatermarkPct int `json:"bufferHighWatermarkPct"`
	ErrorRatePct           int `json:"errorRatePct"`
}

// Staleness returns how long the ingest path may stay silent before the
// monitor reports data as stale.
func (c ThresholdsConfig) Staleness() time.Duration {
	return time.Duration(c.StalenessSec) * time.Second
}

// SinkConfig selects and parameterizes the storage sink.
type SinkConfig struct {
	Driver           string `json:"driver"`
	DSN              string `json:"dsn,omitempty"`
	ConnectTimeoutMs int    `json:"connectTimeoutMs,omitempty"`
}

// ConnectTimeout returns the sink connection deadline.
func (c SinkConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// FanoutConfig enables the outbound bridges.
type FanoutConfig struct {
	WebSocket WebSocketFanoutConfig `json:"websocket"`
	NATS      NATSFanoutConfig      `json:"nats"`
}

// WebSocketFanoutConfig configures the WebSocket broadcast server.
type WebSocketFanoutConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address,omitempty"`

	// TLS serves wss:// to dashboards, with optional client
	// certificate checks via its mtls block.
	TLS security.ServerTLSConfig `json:"tls,omitempty"`
}

// NATSFanoutConfig configures the NATS republisher.
type NATSFanoutConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url,omitempty"`
	SubjectPrefix string `json:"subjectPrefix,omitempty"`

	// TLS adds CAs, a client certificate, or a version pin on top of
	// what a tls:// URL negotiates by itself.
	TLS security.ClientTLSConfig `json:"tls,omitempty"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address,omitempty"`

	// TLS switches the scrape endpoint to HTTPS.
	TLS security.ServerTLSConfig `json:"tls,omitempty"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"`
}

// Validate checks the configuration for values the pipeline cannot run
// with. It returns the first problem found.
func (c *Config) Validate() error {
	if err := c.validateMQTT(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateOutputs(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateMQTT() error {
	if c.MQTT.BrokerAddress == "" {
		return errors.New("mqtt.brokerAddress is required")
	}
	if err := validateBrokerAddress(c.MQTT.BrokerAddress); err != nil {
		return fmt.Errorf("mqtt.brokerAddress: %w", err)
	}
	if c.MQTT.DefaultQoS > 2 {
		return fmt.Errorf("mqtt.defaultQoS must be 0, 1, or 2 (got %d)", c.MQTT.DefaultQoS)
	}

	if c.MQTT.LastWill.Enabled {
		if c.MQTT.LastWill.Topic == "" {
			return errors.New("mqtt.lastWill.topic is required when the last will is enabled")
		}
		if strings.ContainsAny(c.MQTT.LastWill.Topic, "+#") {
			return fmt.Errorf("mqtt.lastWill.topic %q must not contain wildcards", c.MQTT.LastWill.Topic)
		}
		if c.MQTT.LastWill.QoS > 2 {
			return fmt.Errorf("mqtt.lastWill.qos must be 0, 1, or 2 (got %d)", c.MQTT.LastWill.QoS)
		}
	}

	if len(c.MQTT.Topics.SensorPatterns) == 0 {
		return errors.New("mqtt.topics.sensorPatterns must name at least one subscription filter")
	}
	for i, pattern := range c.MQTT.Topics.SensorPatterns {
		if err := validateTopicFilter(pattern); err != nil {
			return fmt.Errorf("mqtt.topics.sensorPatterns[%d]: %w", i, err)
		}
	}
	if c.MQTT.Topics.CommandPattern != "" {
		if err := validateTopicFilter(c.MQTT.Topics.CommandPattern); err != nil {
			return fmt.Errorf("mqtt.topics.commandPattern: %w", err)
		}
	}
	if c.MQTT.Topics.StatusPattern != "" {
		if err := validateTopicFilter(c.MQTT.Topics.StatusPattern); err != nil {
			return fmt.Errorf("mqtt.topics.statusPattern: %w", err)
		}
	}
	// The dead-letter topic is published to, never subscribed.
	if topic := c.MQTT.Topics.DeadLetterTopic; topic != "" && strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("mqtt.topics.deadLetterTopic %q must not contain wildcards", topic)
	}

	return c.validateTransportSecurity()
}

// validateTransportSecurity checks the broker TLS settings, including
// that referenced certificate files exist on disk.
func (c *Config) validateTransportSecurity() error {
	tls := c.MQTT.TransportSecurity
	if !tls.Enabled {
		return nil
	}

	if (tls.CertFile == "") != (tls.KeyFile == "") {
		return errors.New("mqtt.transportSecurity: certFile and keyFile must be set together")
	}
	for _, f := range []struct{ name, path string }{
		{"caFile", tls.CAFile},
		{"certFile", tls.CertFile},
		{"keyFile", tls.KeyFile},
	} {
		if f.path == "" {
			continue
		}
		if _, err := os.Stat(f.path); err != nil {
			return fmt.Errorf("mqtt.transportSecurity.%s: %w", f.name, err)
		}
	}

	if tls.InsecureSkipVerify {
		_, _ = fmt.Fprintf(
			os.Stderr,
			"WARNING: TLS certificate verification is disabled (insecureSkipVerify=true). This should only be used in development/testing!\n",
		)
	}

	if tls.MinVersion != "" {
		if err := validateTLSVersion(tls.MinVersion); err != nil {
			return fmt.Errorf("mqtt.transportSecurity.minVersion: %w", err)
		}
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Buffer.MaxSize <= 0 {
		return fmt.Errorf("buffer.maxSize must be positive (got %d)", c.Buffer.MaxSize)
	}
	if c.Buffer.FlushIntervalMs <= 0 {
		return fmt.Errorf("buffer.flushIntervalMs must be positive (got %d)", c.Buffer.FlushIntervalMs)
	}
	if c.DeadLetter.MaxRetries < 0 {
		return fmt.Errorf("deadLetter.maxRetries must not be negative (got %d)", c.DeadLetter.MaxRetries)
	}
	if c.DeadLetter.MaxHold <= 0 {
		return fmt.Errorf("deadLetter.maxHold must be positive (got %d)", c.DeadLetter.MaxHold)
	}
	if c.Monitor.CheckIntervalMs <= 0 {
		return fmt.Errorf("monitor.checkIntervalMs must be positive (got %d)", c.Monitor.CheckIntervalMs)
	}
	th := c.Monitor.Thresholds
	if th.StalenessSec <= 0 {
		return fmt.Errorf("monitor.thresholds.stalenessSec must be positive (got %d)", th.StalenessSec)
	}
	if th.DeadLetterThreshold <= 0 {
		return fmt.Errorf("monitor.thresholds.deadLetterThreshold must be positive (got %d)", th.DeadLetterThreshold)
	}
	if th.BufferHighWatermarkPct <= 0 || th.BufferHighWatermarkPct > 100 {
		return fmt.Errorf("monitor.thresholds.bufferHighWatermarkPct must be in 1..100 (got %d)", th.BufferHighWatermarkPct)
	}
	if th.ErrorRatePct <= 0 || th.ErrorRatePct > 100 {
		return fmt.Errorf("monitor.thresholds.errorRatePct must be in 1..100 (got %d)", th.ErrorRatePct)
	}

	switch c.Sink.Driver {
	case SinkDriverMemory:
	case SinkDriverPostgres:
		if c.Sink.DSN == "" {
			return errors.New("sink.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("sink.driver %q is not supported (use %q or %q)",
			c.Sink.Driver, SinkDriverMemory, SinkDriverPostgres)
	}
	return nil
}

func (c *Config) validateOutputs() error {
	if c.Fanout.WebSocket.Enabled {
		if c.Fanout.WebSocket.Address == "" {
			return errors.New("fanout.websocket.address is required when the WebSocket bridge is enabled")
		}
		if err := validateServerTLS("fanout.websocket.tls", c.Fanout.WebSocket.TLS); err != nil {
			return err
		}
	}
	if c.Fanout.NATS.Enabled {
		if c.Fanout.NATS.URL == "" {
			return errors.New("fanout.nats.url is required when the NATS bridge is enabled")
		}
		if c.Fanout.NATS.SubjectPrefix != "" && !isValidSubjectToken(c.Fanout.NATS.SubjectPrefix) {
			return fmt.Errorf(
				"fanout.nats.subjectPrefix %q is not valid for NATS subjects (must be alphanumeric with dots, dashes, underscores)",
				c.Fanout.NATS.SubjectPrefix,
			)
		}
		if err := validateClientTLS("fanout.nats.tls", c.Fanout.NATS.TLS); err != nil {
			return err
		}
	}
	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics.address is required when metrics are enabled")
		}
		if err := validateServerTLS("metrics.tls", c.Metrics.TLS); err != nil {
			return err
		}
	}
	return nil
}

// validateServerTLS checks a server-side TLS block: certificate and
// key must both be set and present on disk when the block is enabled.
func validateServerTLS(prefix string, tls security.ServerTLSConfig) error {
	if !tls.Enabled {
		return nil
	}
	if tls.CertFile == "" || tls.KeyFile == "" {
		return fmt.Errorf("%s: certFile and keyFile are required when TLS is enabled", prefix)
	}
	for _, f := range []struct{ name, path string }{
		{"certFile", tls.CertFile},
		{"keyFile", tls.KeyFile},
	} {
		if _, err := os.Stat(f.path); err != nil {
			return fmt.Errorf("%s.%s: %w", prefix, f.name, err)
		}
	}
	if tls.MinVersion != "" {
		if err := validateTLSVersion(tls.MinVersion); err != nil {
			return fmt.Errorf("%s.minVersion: %w", prefix, err)
		}
	}
	for _, caFile := range tls.MTLS.ClientCAFiles {
		if _, err := os.Stat(caFile); err != nil {
			return fmt.Errorf("%s.mtls: %w", prefix, err)
		}
	}
	return nil
}

// validateClientTLS checks a client-side TLS block. The block has no
// enable flag; any populated field activates it, so every referenced
// file must exist.
func validateClientTLS(prefix string, tls security.ClientTLSConfig) error {
	for _, caFile := range tls.CAFiles {
		if _, err := os.Stat(caFile); err != nil {
			return fmt.Errorf("%s.caFiles: %w", prefix, err)
		}
	}
	if tls.MinVersion != "" {
		if err := validateTLSVersion(tls.MinVersion); err != nil {
			return fmt.Errorf("%s.minVersion: %w", prefix, err)
		}
	}
	if tls.MTLS.Enabled {
		if tls.MTLS.CertFile == "" || tls.MTLS.KeyFile == "" {
			return fmt.Errorf("%s.mtls: certFile and keyFile are required when mTLS is enabled", prefix)
		}
		for _, f := range []struct{ name, path string }{
			{"certFile", tls.MTLS.CertFile},
			{"keyFile", tls.MTLS.KeyFile},
		} {
			if _, err := os.Stat(f.path); err != nil {
				return fmt.Errorf("%s.mtls.%s: %w", prefix, f.name, err)
			}
		}
	}
	if tls.InsecureSkipVerify {
		_, _ = fmt.Fprintf(
			os.Stderr,
			"WARNING: TLS certificate verification is disabled for %s. This should only be used in development/testing!\n",
			prefix,
		)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not valid (use debug, info, warn, or error)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not valid (use json or text)", c.Logging.Format)
	}
	return nil
}

// brokerSchemes lists the transports the broker client dials.
var brokerSchemes = map[string]bool{
	"tcp": true, "tls": true, "ssl": true,
	"ws": true, "wss": true,
	"mqtt": true, "mqtts": true,
}

func validateBrokerAddress(addr string) error {
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	if !brokerSchemes[u.Scheme] {
		return fmt.Errorf("unsupported scheme %q (use tcp, tls, ssl, ws, wss, mqtt, or mqtts)", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// validateTopicFilter checks a subscription filter against the MQTT
// wildcard rules: '+' must occupy a whole level, '#' must occupy the
// final level alone.
func validateTopicFilter(filter string) error {
	if filter == "" {
		return errors.New("filter cannot be empty")
	}
	if strings.ContainsRune(filter, 0) {
		return fmt.Errorf("filter %q contains a null character", filter)
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") {
			if level != "#" || i != len(levels)-1 {
				return fmt.Errorf("filter %q: '#' must be the final level on its own", filter)
			}
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("filter %q: '+' must occupy a whole level", filter)
		}
	}
	return nil
}

// isValidSubjectToken checks that a string is usable inside a NATS
// subject. Valid characters are alphanumeric, dots, dashes, and
// underscores.
func isValidSubjectToken(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// validateTLSVersion checks if a TLS version string is valid
func validateTLSVersion(version string) error {
	switch version {
	case "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("invalid TLS version %q (must be \"1.2\" or \"1.3\")", version)
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: false,
		envPrefix:  "SENSORSTREAM",
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	// Start with defaults
	cfg := l.getDefaults()

	// Load each layer and merge using map-based approach
	for _, path := range l.layers {
		rawConfig, err := l.loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, rawConfig)
	}

	// Apply environment overrides
	l.applyEnvOverrides(cfg)

	// Validate if enabled
	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// getDefaults returns default configuration
func (l *Loader) getDefaults() *Config {
	return &Config{
		MQTT: MQTTConfig{
			BrokerAddress:        "tcp://localhost:1883",
			ReconnectPeriodMs:    2000,
			ConnectTimeoutMs:     5000,
			KeepAliveSec:         30,
			DefaultQoS:           1,
			CleanStart:           true,
			MaxReconnectAttempts: 10,
			Topics: TopicsConfig{
				SensorPatterns:  []string{"sensors/+/data"},
				CommandPattern:  "control/+/command",
				StatusPattern:   "status/#",
				DeadLetterTopic: "deadletter/sensorstream",
			},
		},
		Buffer: BufferConfig{
			MaxSize:         1000,
			FlushIntervalMs: 5000,
		},
		DeadLetter: DeadLetterConfig{
			MaxRetries: 3,
			MaxHold:    10000,
		},
		Monitor: MonitorConfig{
			CheckIntervalMs: 10000,
			Thresholds: ThresholdsConfig{
				StalenessSec:           60,
				DeadLetterThreshold:    100,
				BufferHighWatermarkPct: 80,
				ErrorRatePct:           10,
			},
		},
		Sink: SinkConfig{
			Driver:           SinkDriverMemory,
			ConnectTimeoutMs: 5000,
		},
		Fanout: FanoutConfig{
			WebSocket: WebSocketFanoutConfig{Address: ":8081"},
			NATS:      NATSFanoutConfig{SubjectPrefix: "sensorstream"},
		},
		Metrics: MetricsConfig{Address: ":9090"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// loadRawJSON loads configuration from a JSON file as a map
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	// Use secure file reading with validation
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	// Validate JSON depth to prevent DoS
	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	// Unmarshal into map
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return nil, err
	}

	// Convert duration strings
	l.parseDurations(rawConfig)

	return rawConfig, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	// Marshal the base config to JSON then to map
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	// Deep merge the maps
	mergedMap := l.deepMergeMaps(baseMap, override)

	// Convert back to Config
	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return base
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}

	return &merged
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func (l *Loader) deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any)

	// Copy base values
	for k, v := range base {
		result[k] = v
	}

	// Override with values from override map
	for k, v := range override {
		if v == nil {
			continue
		}

		// If both base and override have maps at this key, merge them
		if baseMap, baseOk := base[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = l.deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		// Otherwise, override takes precedence
		result[k] = v
	}

	return result
}

// durationFields lists the interval settings that accept Go duration
// strings ("2s", "1m") in place of a bare count. Each is normalized to
// its declared unit before unmarshaling.
var durationFields = []struct {
	path []string
	unit time.Duration
}{
	{[]string{"mqtt", "reconnectPeriodMs"}, time.Millisecond},
	{[]string{"mqtt", "connectTimeoutMs"}, time.Millisecond},
	{[]string{"mqtt", "keepAliveSec"}, time.Second},
	{[]string{"buffer", "flushIntervalMs"}, time.Millisecond},
	{[]string{"monitor", "checkIntervalMs"}, time.Millisecond},
	{[]string{"monitor", "thresholds", "stalenessSec"}, time.Second},
	{[]string{"sink", "connectTimeoutMs"}, time.Millisecond},
}

// parseDurations converts duration strings to unit counts so the map
// unmarshals into the integer config fields.
func (l *Loader) parseDurations(data map[string]any) {
	for _, f := range durationFields {
		section := data
		ok := true
		for _, key := range f.path[:len(f.path)-1] {
			section, ok = section[key].(map[string]any)
			if !ok {
				break
			}
		}
		if !ok {
			continue
		}

		key := f.path[len(f.path)-1]
		s, isString := section[key].(string)
		if !isString {
			continue
		}
		if d, err := time.ParseDuration(s); err == nil {
			section[key] = float64(d / f.unit)
		}
	}
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) {
	// Broker connection overrides
	if val, ok := l.envValue("_MQTT_BROKER_ADDRESS"); ok {
		cfg.MQTT.BrokerAddress = val
	}
	if val, ok := l.envValue("_MQTT_CLIENT_ID"); ok {
		cfg.MQTT.ClientID = val
	}
	if val, ok := l.envValue("_MQTT_USERNAME"); ok {
		cfg.MQTT.Username = val
	}
	if val, ok := l.envValue("_MQTT_PASSWORD"); ok {
		cfg.MQTT.Password = val
	}

	// Downstream connection overrides
	if val, ok := l.envValue("_SINK_DSN"); ok {
		cfg.Sink.DSN = val
	}
	if val, ok := l.envValue("_FANOUT_NATS_URL"); ok {
		cfg.Fanout.NATS.URL = val
	}

	if val, ok := l.envValue("_LOG_LEVEL"); ok {
		cfg.Logging.Level = val
	}
}

// envValue reads a prefixed environment variable, discarding values
// that fail basic safety validation.
func (l *Loader) envValue(suffix string) (string, bool) {
	key := l.envPrefix + suffix
	val := os.Getenv(key)
	if val == "" {
		return "", false
	}
	if err := validateEnvVar(key, val); err != nil {
		return "", false
	}
	return val, true
}

// Package main implements the entry point for the sensorstream daemon.
// Sensorstream ingests manufacturing sensor telemetry from an MQTT
// broker, normalizes it through format detection and validation, and
// persists it in batches with health monitoring and live fan-out.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/c360/sensorstream/component"
	"github.com/c360/sensorstream/config"
	"github.com/c360/sensorstream/deadletter"
	"github.com/c360/sensorstream/fanout"
	"github.com/c360/sensorstream/ingest"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/monitor"
	"github.com/c360/sensorstream/mqttclient"
	"github.com/c360/sensorstream/pkg/security"
	"github.com/c360/sensorstream/pkg/tlsutil"
	"github.com/c360/sensorstream/sink"
	"github.com/c360/sensorstream/transform"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "sensorstream"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	// Run application with proper error handling
	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	// Parse and validate CLI flags
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	// Load and validate configuration
	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	// Logging settings resolve flags first, then the config file
	logger := setupLogger(resolveLogging(cliCfg, cfg))
	slog.SetDefault(logger)

	slog.Info("Starting sensorstream",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"broker", cfg.MQTT.BrokerAddress)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	if cliCfg.PrintConfig {
		fmt.Println(cfg.String())
		return nil
	}

	ctx := context.Background()

	// The sink outlives the runner: the pipeline's final drain during
	// shutdown still writes through it, so it closes last.
	dataSink, err := openSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := dataSink.Close(); err != nil {
			slog.Warn("Sink close failed", "error", err)
		}
	}()

	registry := metric.NewMetricsRegistry()

	runner, err := assembleComponents(cfg, registry, dataSink, logger)
	if err != nil {
		return err
	}

	metricsServer, err := buildMetricsServer(cfg, registry)
	if err != nil {
		return err
	}

	// Run application with signal handling
	return runWithSignalHandling(ctx, runner, metricsServer, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and handles the version/help early exits
func initializeCLI() (*CLIConfig, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printHelp()
		return nil, true, nil
	}

	return cliCfg, false, nil
}

// initializeConfiguration loads and validates configuration
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// resolveLogging picks the effective log level and format. Flags and
// their env fallbacks win; empty values defer to the config file.
func resolveLogging(cliCfg *CLIConfig, cfg *config.Config) (level, format string) {
	level = cliCfg.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	format = cliCfg.LogFormat
	if format == "" {
		format = cfg.Logging.Format
	}
	return level, format
}

// openSink builds the persistence backend named by the config. The
// postgres driver connects and bootstraps the schema up front so a bad
// DSN fails the start instead of the first flush.
func openSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sink.Sink, error) {
	switch cfg.Sink.Driver {
	case config.SinkDriverPostgres:
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Sink.ConnectTimeout())
		defer cancel()

		db, err := sink.Open(dialCtx, cfg.Sink.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres sink: %w", err)
		}

		pg := sink.NewPostgres(db, logger)
		if err := pg.EnsureSchema(dialCtx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("ensure sink schema: %w", err)
		}

		slog.Info("Postgres sink ready")
		return pg, nil
	default:
		slog.Info("Using in-memory sink")
		return sink.NewMemory(), nil
	}
}

// buildBrokerClient constructs the MQTT client from config. The client
// is not connected here; the runner starts it after the consumers.
func buildBrokerClient(cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*mqttclient.Client, error) {
	opts := []mqttclient.ClientOption{
		mqttclient.WithClientID(cfg.MQTT.ClientID),
		mqttclient.WithKeepAlive(cfg.MQTT.KeepAlive()),
		mqttclient.WithCleanStart(cfg.MQTT.CleanStart),
		mqttclient.WithConnectTimeout(cfg.MQTT.ConnectTimeout()),
		mqttclient.WithReconnectPeriod(cfg.MQTT.ReconnectPeriod()),
		mqttclient.WithMaxReconnectAttempts(cfg.MQTT.MaxReconnectAttempts),
		mqttclient.WithDefaultQoS(cfg.MQTT.DefaultQoS),
		mqttclient.WithMetrics(registry),
		mqttclient.WithLogger(newBrokerLogger(logger)),
	}

	if cfg.MQTT.Username != "" {
		opts = append(opts, mqttclient.WithCredentials(cfg.MQTT.Username, cfg.MQTT.Password))
	}

	if cfg.MQTT.LastWill.Enabled {
		opts = append(opts, mqttclient.WithLastWill(
			cfg.MQTT.LastWill.Topic,
			[]byte(cfg.MQTT.LastWill.Payload),
			cfg.MQTT.LastWill.QoS,
			cfg.MQTT.LastWill.Retained))
	}

	if cfg.MQTT.TransportSecurity.Enabled {
		tlsCfg, err := tlsutil.LoadBrokerTLSConfig(cfg.MQTT.TransportSecurity)
		if err != nil {
			return nil, fmt.Errorf("load broker TLS config: %w", err)
		}
		opts = append(opts, mqttclient.WithTLSConfig(tlsCfg))
	}

	return mqttclient.NewClient(cfg.MQTT.BrokerAddress, opts...)
}

// assembleComponents wires the pipeline and registers everything with
// a runner. Registration order is start order; the runner stops in
// reverse, so the broker client registers last: intake halts first and
// the pipeline drains into a still-open sink and fan-out.
func assembleComponents(
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	dataSink sink.Sink,
	logger *slog.Logger,
) (*component.Runner, error) {
	bridge, err := fanout.NewBridge(fanout.Deps{
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create fan-out bridge: %w", err)
	}

	client, err := buildBrokerClient(cfg, registry, logger)
	if err != nil {
		return nil, fmt.Errorf("create broker client: %w", err)
	}

	buf := ingest.NewBuffer(cfg.Buffer.MaxSize)

	letters, err := deadletter.NewController(deadletter.Deps{
		Requeuer:        buf,
		Publisher:       client,
		DeadLetterTopic: cfg.MQTT.Topics.DeadLetterTopic,
		MaxRetries:      cfg.DeadLetter.MaxRetries,
		MaxHold:         cfg.DeadLetter.MaxHold,
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create dead-letter controller: %w", err)
	}

	pipeline, err := ingest.NewPipeline(ingest.Deps{
		Broker:          client,
		Transformer:     transform.New(logger),
		Buffer:          buf,
		Sink:            dataSink,
		DeadLetters:     letters,
		Events:          bridge,
		SensorPatterns:  cfg.MQTT.Topics.SensorPatterns,
		CommandPattern:  cfg.MQTT.Topics.CommandPattern,
		StatusPattern:   cfg.MQTT.Topics.StatusPattern,
		FlushInterval:   cfg.Buffer.FlushInterval(),
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	mon, err := monitor.NewMonitor(monitor.Deps{
		Conn:        client,
		Buffer:      pipeline,
		DeadLetters: letters,
		Rates:       pipeline,
		Devices:     pipeline,
		Recorder:    dataSink,
		Events:      bridge,

		CheckInterval: cfg.Monitor.CheckInterval(),
		Thresholds: monitor.Thresholds{
			Staleness:              cfg.Monitor.Thresholds.Staleness(),
			DeadLetterThreshold:    cfg.Monitor.Thresholds.DeadLetterThreshold,
			BufferHighWatermarkPct: cfg.Monitor.Thresholds.BufferHighWatermarkPct,
			ErrorRatePct:           cfg.Monitor.Thresholds.ErrorRatePct,
		},
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create monitor: %w", err)
	}

	runner := component.NewRunner(logger)

	if cfg.Fanout.WebSocket.Enabled {
		port, err := portFromAddress(cfg.Fanout.WebSocket.Address)
		if err != nil {
			return nil, fmt.Errorf("websocket fan-out: %w", err)
		}
		hub, err := fanout.NewHub(fanout.HubDeps{
			Bridge:          bridge,
			Port:            port,
			Security:        security.Config{TLS: security.TLSConfig{Server: cfg.Fanout.WebSocket.TLS}},
			MetricsRegistry: registry,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create websocket hub: %w", err)
		}
		runner.Add("websocket-hub", hub)
	}

	if cfg.Fanout.NATS.Enabled {
		relay, err := fanout.NewNATSPublisher(fanout.NATSDeps{
			Bridge:          bridge,
			URL:             cfg.Fanout.NATS.URL,
			SubjectPrefix:   cfg.Fanout.NATS.SubjectPrefix,
			TLS:             cfg.Fanout.NATS.TLS,
			MetricsRegistry: registry,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create nats relay: %w", err)
		}
		runner.Add("nats-relay", relay)
	}

	runner.Add("monitor", mon)
	runner.Add("pipeline", pipeline)
	runner.Add("broker-client", client)

	return runner, nil
}

// buildMetricsServer returns the Prometheus endpoint server, or nil
// when metrics are disabled.
func buildMetricsServer(cfg *config.Config, registry *metric.MetricsRegistry) (*metric.Server, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}

	port, err := portFromAddress(cfg.Metrics.Address)
	if err != nil {
		return nil, fmt.Errorf("metrics endpoint: %w", err)
	}

	return metric.NewServer(port, "/metrics", registry,
		security.Config{TLS: security.TLSConfig{Server: cfg.Metrics.TLS}}), nil
}

// portFromAddress extracts the port from a listen address like
// ":9090" or "0.0.0.0:9090".
func portFromAddress(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	return port, nil
}

// runWithSignalHandling starts the components and blocks until a
// shutdown signal arrives
func runWithSignalHandling(ctx context.Context, runner *component.Runner, metricsServer *metric.Server, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if metricsServer != nil {
		// Start returns nil on a graceful Stop, so anything surfacing
		// here is a real bind or serve failure.
		go func() {
			if err := metricsServer.Start(); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		slog.Info("Starting metrics server", "address", metricsServer.Address())
	}

	if err := runner.StartAll(signalCtx); err != nil {
		stopMetricsServer(metricsServer)
		return fmt.Errorf("start components: %w", err)
	}
	slog.Info("Sensorstream started", "components", len(runner.Components()))

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	err := runner.StopAll(shutdownTimeout)
	stopMetricsServer(metricsServer)
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("Sensorstream shutdown complete")
	return nil
}

func stopMetricsServer(srv *metric.Server) {
	if srv == nil {
		return
	}
	if err := srv.Stop(); err != nil {
		slog.Warn("Metrics server stop failed", "error", err)
	}
}

// printHelp prints help information
func printHelp() {
	printDetailedHelp()
}

// loadConfig builds the effective configuration: defaults, then the
// file when one was named, then environment overrides.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path == "" {
		return loader.Load()
	}
	cfg, err := loader.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

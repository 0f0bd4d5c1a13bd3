// Package config provides configuration management for the sensor
// ingestion pipeline.
//
// Configuration is loaded from JSON files with layer merging, then
// overridden by environment variables, then validated. Every section of
// the Config struct maps onto one runtime component: the MQTT broker
// connection, the ingestion buffer, the dead-letter store, the health
// monitor, the storage sink, and the fan-out bridges.
//
// # Basic Usage
//
// A daemon stacks the built-in defaults, then site files, then env:
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.json")
//	loader.AddLayer("config/production.json") // later layers win
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Layer Merging
//
// Later layers win key-by-key; nested objects merge rather than replace:
//
//	base.json:
//	  {"mqtt": {"brokerAddress": "tcp://dev:1883", "keepAliveSec": 30}}
//
//	production.json:
//	  {"mqtt": {"brokerAddress": "ssl://plant-broker:8883"}}
//
//	Result:
//	  {"mqtt": {"brokerAddress": "ssl://plant-broker:8883", "keepAliveSec": 30}}
//
// Lists are replaced wholesale, never merged element-wise, so a layer
// that sets mqtt.topics.sensorPatterns fully replaces the default set.
//
// # Duration Fields
//
// Interval settings are integers in their declared unit
// (reconnectPeriodMs, keepAliveSec). Each also accepts a Go duration
// string, normalized at load time:
//
//	{"buffer": {"flushIntervalMs": "2s"}}   // same as 2000
//	{"mqtt": {"keepAliveSec": "1m"}}        // same as 60
//
// # Environment Variable Overrides
//
// Connection settings and credentials can be overridden without
// touching files:
//
//	export SENSORSTREAM_MQTT_BROKER_ADDRESS="ssl://plant-broker:8883"
//	export SENSORSTREAM_MQTT_USERNAME="ingest"
//	export SENSORSTREAM_MQTT_PASSWORD="secret"
//	export SENSORSTREAM_SINK_DSN="postgres://sensor:pw@db:5432/readings"
//	export SENSORSTREAM_LOG_LEVEL="debug"
//
// # Security
//
// Config files pass guard rails before parsing: relative paths must
// resolve inside the working directory and end in .json, files over 10MB
// or nested deeper than 100 levels are rejected, and symlinks and device
// files are refused. Env override values are length-capped and screened
// for null bytes.
package config

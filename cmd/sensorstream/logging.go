package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler

	// Parse level
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug",
	}

	// Create handler based on format
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	)
}

// brokerLogger adapts slog to the printf-style logger the broker
// client takes.
type brokerLogger struct {
	logger *slog.Logger
}

func newBrokerLogger(logger *slog.Logger) *brokerLogger {
	return &brokerLogger{logger: logger.With("component", "mqtt-client")}
}

func (b *brokerLogger) Printf(format string, v ...any) {
	b.logger.Info(fmt.Sprintf(format, v...))
}

func (b *brokerLogger) Errorf(format string, v ...any) {
	b.logger.Error(fmt.Sprintf(format, v...))
}

func (b *brokerLogger) Debugf(format string, v ...any) {
	b.logger.Debug(fmt.Sprintf(format, v...))
}

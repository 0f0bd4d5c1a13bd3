// Package transform converts heterogeneous sensor payloads into unified
// records. Six built-in decoders cover the formats seen on the floor
// (JSON objects and batches, CSV exports, fixed-layout binary readings,
// Modbus-style register reads, OPC-style tag values); a registry lets
// callers install named custom decoders for vendor formats.
//
// Decoding is pure on the data path: given the same topic, payload, and
// receive time, a decoder always yields the same records. Malformed
// batch elements and CSV rows are skipped with a warning rather than
// failing the whole payload; every other decode failure is an
// invalid-class transform error and is never retried.
package transform

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/record"
)

// DecodeFunc decodes one payload into unified records. Custom decoders
// installed via Register must be safe for concurrent use.
type DecodeFunc func(topic string, payload []byte, receivedAt int64) ([]record.UnifiedRecord, error)

// Transformer holds the decoder registry and the skip bookkeeping shared
// by the batch-shaped decoders. The zero value is not usable; construct
// with New.
type Transformer struct {
	logger *slog.Logger

	mu     sync.RWMutex
	custom map[string]DecodeFunc

	skipped atomic.Int64
}

// New creates a Transformer. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transformer{
		logger: logger,
		custom: make(map[string]DecodeFunc),
	}
}

// Register installs a named custom decoder. Names resolve before the
// built-in formats in TransformAs, so a custom decoder may also shadow a
// built-in name. Duplicate registrations are rejected.
func (t *Transformer) Register(name string, fn DecodeFunc) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Transformer", "Register", "decoder name validation")
	}
	if fn == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Transformer", "Register", "decoder function validation")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.custom[name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("decoder %q is already registered", name),
			"Transformer", "Register", "duplicate decoder check")
	}

	t.custom[name] = fn
	return nil
}

// Transform auto-detects the payload format and decodes it. An
// undetectable payload yields an invalid-class transform error.
func (t *Transformer) Transform(topic string, payload []byte, receivedAt int64) ([]record.UnifiedRecord, error) {
	if len(payload) == 0 {
		return nil, errors.WrapTransform(errors.ErrPayloadEmpty, "Transformer", "Transform", "payload check")
	}

	format := DetectFormat(topic, payload)
	if format == FormatUnknown {
		return nil, errors.WrapTransform(errors.ErrUnknownFormat, "Transformer", "Transform",
			fmt.Sprintf("detect format on topic %s", topic))
	}

	return t.decode(format, topic, payload, receivedAt)
}

// TransformAs decodes with an explicitly named decoder. Custom decoders
// take priority over built-in format names; an unresolvable name yields
// an invalid-class transform error.
func (t *Transformer) TransformAs(name, topic string, payload []byte, receivedAt int64) ([]record.UnifiedRecord, error) {
	t.mu.RLock()
	fn, ok := t.custom[name]
	t.mu.RUnlock()
	if ok {
		return fn(topic, payload, receivedAt)
	}

	format, ok := ParseFormat(name)
	if !ok {
		return nil, errors.WrapTransform(errors.ErrUnknownFormat, "Transformer", "TransformAs",
			fmt.Sprintf("resolve decoder %q", name))
	}

	return t.decode(format, topic, payload, receivedAt)
}

// Skipped returns the count of malformed batch elements and CSV rows
// skipped since construction.
func (t *Transformer) Skipped() int64 {
	return t.skipped.Load()
}

func (t *Transformer) decode(format Format, topic string, payload []byte, receivedAt int64) ([]record.UnifiedRecord, error) {
	switch format {
	case FormatJSON:
		rec, err := decodeObject(topic, payload, receivedAt)
		if err != nil {
			return nil, err
		}
		return []record.UnifiedRecord{rec}, nil
	case FormatJSONBatch:
		return t.decodeBatch(topic, payload, receivedAt)
	case FormatCSV:
		return t.decodeCSV(topic, payload, receivedAt)
	case FormatBinary:
		return decodeBinary(topic, payload)
	case FormatRegisterPair:
		return decodeRegisterPair(topic, payload, receivedAt)
	case FormatTagValue:
		return decodeTagValue(topic, payload, receivedAt)
	default:
		return nil, errors.WrapTransform(errors.ErrUnknownFormat, "Transformer", "decode",
			fmt.Sprintf("no decoder for format %s", format))
	}
}

func (t *Transformer) skip(method, topic string, index int, err error) {
	t.skipped.Add(1)
	t.logger.Warn("skipping malformed element",
		"method", method,
		"topic", topic,
		"index", index,
		"error", err)
}

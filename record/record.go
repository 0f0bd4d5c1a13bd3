// Package record defines the unified sensor reading that every payload
// format normalizes into, plus the validation gate applied before a
// reading is persisted or fanned out.
package record

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/pkg/timestamp"
)

// Validation limits for unified records.
const (
	// MaxSensorIDLength bounds sensor identifiers. Longer ids come from
	// corrupt payloads, not real devices.
	MaxSensorIDLength = 128

	// MaxFutureDrift is how far ahead of wall clock a reading's timestamp
	// may sit before it is rejected. Covers device clock skew without
	// accepting garbage epochs.
	MaxFutureDrift = 24 * time.Hour

	// QualityMin and QualityMax bound the quality score. Out-of-range
	// values are clamped, not rejected.
	QualityMin = 0
	QualityMax = 100
)

// UnifiedRecord is the normalized form of a single sensor reading.
// Every decoder in the transform package produces these, and every
// downstream consumer (sink, fan-out, monitor) speaks only this shape.
type UnifiedRecord struct {
	// SensorID identifies the originating sensor or tag.
	SensorID string `json:"sensorId"`

	// Value is the reading itself.
	Value float64 `json:"value"`

	// Timestamp is the reading time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// Quality is a 0-100 score; 100 means good, 0 means bad.
	Quality int `json:"quality"`

	// Unit is the engineering unit if the payload carried one.
	Unit string `json:"unit,omitempty"`

	// Source is the broker topic the payload arrived on.
	Source string `json:"source,omitempty"`

	// Meta carries extra payload fields that survived normalization.
	Meta map[string]string `json:"meta,omitempty"`
}

// Time returns the reading time as a time.Time in UTC.
func (r *UnifiedRecord) Time() time.Time {
	return timestamp.FromUnixMs(r.Timestamp)
}

// Age returns how long ago the reading was taken.
func (r *UnifiedRecord) Age() time.Duration {
	return timestamp.Since(r.Timestamp)
}

// String renders a compact human-readable form for logs.
func (r *UnifiedRecord) String() string {
	return fmt.Sprintf("%s=%g@%d(q=%d)", r.SensorID, r.Value, r.Timestamp, r.Quality)
}

// Validate checks a record against the persistence contract and clamps
// the quality score into [QualityMin, QualityMax] in place. Clamping is
// a correction, not an error; all other violations return a
// validation-classified error and leave the record untouched.
func Validate(r *UnifiedRecord) error {
	if r == nil {
		return errors.WrapValidation(errors.ErrInvalidData, "Record", "Validate", "record is nil")
	}

	if r.SensorID == "" {
		return errors.WrapValidation(errors.ErrMissingSensorID, "Record", "Validate", "sensor id check")
	}
	if len(r.SensorID) > MaxSensorIDLength {
		return errors.WrapValidation(errors.ErrInvalidData, "Record", "Validate",
			fmt.Sprintf("sensor id exceeds %d chars", MaxSensorIDLength))
	}
	if strings.ContainsRune(r.SensorID, '\x00') {
		return errors.WrapValidation(errors.ErrInvalidData, "Record", "Validate",
			"sensor id contains NUL byte")
	}

	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return errors.WrapValidation(errors.ErrValueNotFinite, "Record", "Validate",
			fmt.Sprintf("value %v check", r.Value))
	}

	if r.Timestamp <= 0 {
		return errors.WrapValidation(errors.ErrTimestampOutOfRange, "Record", "Validate",
			fmt.Sprintf("timestamp %d is not positive", r.Timestamp))
	}
	maxTS := timestamp.Now() + MaxFutureDrift.Milliseconds()
	if r.Timestamp > maxTS {
		return errors.WrapValidation(errors.ErrTimestampOutOfRange, "Record", "Validate",
			fmt.Sprintf("timestamp %d more than %s in the future", r.Timestamp, MaxFutureDrift))
	}

	// Quality is corrected, never rejected
	if r.Quality < QualityMin {
		r.Quality = QualityMin
	} else if r.Quality > QualityMax {
		r.Quality = QualityMax
	}

	return nil
}

// ValidateAll validates a batch in order and stops at the first failure,
// returning the failing index alongside the error.
func ValidateAll(records []UnifiedRecord) (int, error) {
	for i := range records {
		if err := Validate(&records[i]); err != nil {
			return i, err
		}
	}
	return -1, nil
}

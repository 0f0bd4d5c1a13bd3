// Package timestamp normalizes device time to Unix milliseconds.
//
// Sensor firmware reports time in whatever unit and encoding the vendor
// picked: RFC3339 strings, epoch seconds, epoch milliseconds, sometimes
// floats with fractional seconds. The pipeline stores one canonical
// form, int64 milliseconds since the Unix epoch, and this package is the
// only place conversions happen.
//
// Numeric inputs are disambiguated by magnitude: values below
// 10_000_000_000 are seconds, values at or above it milliseconds.
// 10^10 seconds is year 2286 and 10^10 milliseconds is March 2001, so
// real readings never straddle the boundary.
//
// A zero timestamp means "unknown". Conversions map zero to zero (or to
// the zero time.Time) instead of to the 1970 epoch.
package timestamp

import (
	"strconv"
	"time"
)

// secondsLimit is the magnitude boundary between second and millisecond
// epochs. See the package comment.
const secondsLimit = int64(10_000_000_000)

// Now returns the current wall clock as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds, mapping the zero
// time to 0.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to a time.Time, mapping 0 to
// the zero time.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Since reports how long ago the timestamp was, or 0 if it is unset.
func Since(ms int64) time.Duration {
	if ms == 0 {
		return 0
	}
	return time.Since(time.UnixMilli(ms))
}

// Format renders a timestamp as an RFC3339 UTC string for display, or
// "" if it is unset.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// Parse converts whatever timestamp shape a payload carried to Unix
// milliseconds. It accepts integers and floats (seconds or milliseconds
// by magnitude), RFC3339 strings, numeric epoch strings, and time.Time
// values. Unparseable or unsupported input yields 0, the "unknown"
// timestamp; decoders substitute arrival time in that case rather than
// dropping the reading.
func Parse(input any) int64 {
	switch v := input.(type) {
	case nil:
		return 0
	case int64:
		return fromEpochInt(v)
	case int:
		return fromEpochInt(int64(v))
	case int32:
		return fromEpochInt(int64(v))
	case uint64:
		return fromEpochInt(int64(v))
	case float64:
		return fromEpochFloat(v)
	case string:
		return fromString(v)
	case time.Time:
		return ToUnixMs(v)
	case *time.Time:
		if v == nil {
			return 0
		}
		return ToUnixMs(*v)
	default:
		return 0
	}
}

// fromEpochInt maps an integer epoch to milliseconds using the
// magnitude rule. Pre-1970 epochs keep their sign and get the same
// treatment on the negative side.
func fromEpochInt(v int64) int64 {
	if v >= secondsLimit || v <= -secondsLimit {
		return v
	}
	return v * 1000
}

func fromEpochFloat(v float64) int64 {
	if v >= float64(secondsLimit) || v <= -float64(secondsLimit) {
		return int64(v)
	}
	// Below the boundary the value is seconds; multiplying before the
	// truncation keeps fractional-second precision.
	return int64(v * 1000)
}

func fromString(s string) int64 {
	if s == "" {
		return 0
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return ToUnixMs(t)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromEpochInt(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpochFloat(f)
	}
	return 0
}

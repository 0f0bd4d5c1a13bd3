package timestamp

import (
	"testing"
	"time"
)

// Test constants
var (
	testTime       = time.Date(2023, 1, 15, 12, 30, 45, 123000000, time.UTC)
	testTimeMs     = int64(1673785845123)
	testTimeString = "2023-01-15T12:30:45Z"
)

func TestNow(t *testing.T) {
	before := time.Now().UnixMilli()
	ts := Now()
	after := time.Now().UnixMilli()

	if ts < before || ts > after {
		t.Errorf("Now() = %d, expected between %d and %d", ts, before, after)
	}
}

func TestToUnixMs(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Time
		expected int64
	}{
		{"normal time", testTime, testTimeMs},
		{"zero time", time.Time{}, 0},
		{"unix epoch", time.Unix(0, 0), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ToUnixMs(tt.input)
			if result != tt.expected {
				t.Errorf("ToUnixMs(%v) = %d, expected %d", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFromUnixMs(t *testing.T) {
	if got := FromUnixMs(testTimeMs); !got.Equal(time.UnixMilli(testTimeMs)) {
		t.Errorf("FromUnixMs(%d) = %v", testTimeMs, got)
	}
	if got := FromUnixMs(0); !got.IsZero() {
		t.Errorf("FromUnixMs(0) = %v, expected zero time", got)
	}
}

func TestParse_EpochCutover(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected int64
	}{
		{"nil", nil, 0},
		{"zero int64", int64(0), 0},
		{"seconds below cutover", int64(1673785845), 1673785845000},
		{"milliseconds above cutover", int64(1673785845123), 1673785845123},
		{"cutover boundary is milliseconds", int64(10_000_000_000), 10_000_000_000},
		{"just below cutover is seconds", int64(9_999_999_999), 9_999_999_999_000},
		{"negative seconds", int64(-86400), -86400000},
		{"negative milliseconds", int64(-10_000_000_001), -10_000_000_001},
		{"float seconds", float64(1673785845), 1673785845000},
		{"float fractional seconds", float64(1673785845.5), 1673785845500},
		{"float milliseconds", float64(1673785845123), 1673785845123},
		{"int seconds", int(1673785845), 1673785845000},
		{"int32 seconds", int32(1673785845), 1673785845000},
		{"uint64 milliseconds", uint64(1673785845123), 1673785845123},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse(tt.input)
			if result != tt.expected {
				t.Errorf("Parse(%v) = %d, expected %d", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParse_Strings(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{"empty", "", 0},
		{"rfc3339", testTimeString, 1673785845000},
		{"rfc3339 with millis", "2023-01-15T12:30:45.123Z", 1673785845123},
		{"rfc3339 with offset", "2023-01-15T13:30:45+01:00", 1673785845000},
		{"epoch seconds string", "1673785845", 1673785845000},
		{"epoch millis string", "1673785845123", 1673785845123},
		{"float seconds string", "1673785845.5", 1673785845500},
		{"garbage", "not a timestamp", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse(tt.input)
			if result != tt.expected {
				t.Errorf("Parse(%q) = %d, expected %d", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParse_TimeValues(t *testing.T) {
	if got := Parse(testTime); got != testTimeMs {
		t.Errorf("Parse(time.Time) = %d, expected %d", got, testTimeMs)
	}
	if got := Parse(&testTime); got != testTimeMs {
		t.Errorf("Parse(*time.Time) = %d, expected %d", got, testTimeMs)
	}
	var nilTime *time.Time
	if got := Parse(nilTime); got != 0 {
		t.Errorf("Parse(nil *time.Time) = %d, expected 0", got)
	}
	if got := Parse(struct{}{}); got != 0 {
		t.Errorf("Parse(unsupported type) = %d, expected 0", got)
	}
}

func TestFormat(t *testing.T) {
	if got := Format(1673785845000); got != testTimeString {
		t.Errorf("Format() = %q, expected %q", got, testTimeString)
	}
	if got := Format(0); got != "" {
		t.Errorf("Format(0) = %q, expected empty", got)
	}
}

func TestSince(t *testing.T) {
	past := Now() - 5000
	d := Since(past)
	if d < 4*time.Second || d > 10*time.Second {
		t.Errorf("Since() = %v, expected roughly 5s", d)
	}
	if Since(0) != 0 {
		t.Error("Since(0) should be 0")
	}
}

func TestParse_RoundTripsThroughFromUnixMs(t *testing.T) {
	ts := Parse(testTimeString)
	if got := ToUnixMs(FromUnixMs(ts)); got != ts {
		t.Errorf("round trip changed timestamp: %d != %d", got, ts)
	}
}

package mqttclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFilter(t *testing.T) {
	valid := []string{
		"sensors/+/data",
		"sensors/+/+/raw",
		"status/#",
		"#",
		"+",
		"+/+",
		"/leading",
		"plant/press4/temperature",
		"$SYS/#",
	}
	for _, filter := range valid {
		assert.NoError(t, ValidateFilter(filter), "filter %q", filter)
	}

	invalid := []string{
		"",
		"sensors/#/data",
		"sensors/a#",
		"#extra",
		"a+b/data",
		"sensors/+x",
		"a\x00b",
	}
	for _, filter := range invalid {
		assert.Error(t, ValidateFilter(filter), "filter %q", filter)
	}
}

func TestValidateTopic(t *testing.T) {
	valid := []string{
		"sensors/press4/data",
		"status/ingest",
		"/leading",
		"a",
	}
	for _, topic := range valid {
		assert.NoError(t, ValidateTopic(topic), "topic %q", topic)
	}

	invalid := []string{
		"",
		"+",
		"sensors/+/data",
		"a/#",
		"a\x00b",
	}
	for _, topic := range invalid {
		assert.Error(t, ValidateTopic(topic), "topic %q", topic)
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		// Exact matches
		{"sensors/press4/data", "sensors/press4/data", true},
		{"sensors/press4/data", "sensors/press4/status", false},
		{"sensors/press4/data", "sensors/press4", false},

		// Multi-level wildcard, including the parent level itself
		{"sport/tennis/player1/#", "sport/tennis/player1", true},
		{"sport/tennis/player1/#", "sport/tennis/player1/ranking", true},
		{"sport/tennis/player1/#", "sport/tennis/player1/score/wimbledon", true},
		{"sport/#", "sport", true},
		{"sport/tennis/#", "sport/badminton", false},
		{"#", "sport/tennis", true},
		{"#", "sport", true},

		// Single-level wildcard matches exactly one level
		{"sport/tennis/+", "sport/tennis/player1", true},
		{"sport/tennis/+", "sport/tennis/player1/ranking", false},
		{"sport/+", "sport", false},
		{"sport/+", "sport/", true},
		{"sensors/+/data", "sensors/press4/data", true},
		{"sensors/+/data", "sensors/press4/status", false},
		{"+/+", "/finance", true},
		{"/+", "/finance", true},
		{"+", "/finance", false},

		// Topics starting with $ never match wildcard-first filters
		{"#", "$SYS/broker/load", false},
		{"+/monitor/Clients", "$SYS/monitor/Clients", false},
		{"$SYS/#", "$SYS/broker", true},
		{"$SYS/monitor/+", "$SYS/monitor/Clients", true},

		// Length mismatches
		{"a/b/c", "a/b", false},
		{"a/b", "a/b/c", false},
		{"", "a", false},
	}

	for _, tt := range tests {
		got := MatchTopic(tt.filter, tt.topic)
		assert.Equal(t, tt.want, got, "MatchTopic(%q, %q)", tt.filter, tt.topic)
	}
}

package transform

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Format identifies a payload encoding the transformer knows how to decode.
type Format int

// Known payload formats, in detection priority order.
const (
	FormatUnknown Format = iota
	FormatJSON
	FormatJSONBatch
	FormatCSV
	FormatBinary
	FormatRegisterPair
	FormatTagValue
)

// String returns the wire name of the format. These names double as the
// built-in decoder names accepted by TransformAs.
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatJSONBatch:
		return "json-batch"
	case FormatCSV:
		return "csv"
	case FormatBinary:
		return "binary"
	case FormatRegisterPair:
		return "register-pair"
	case FormatTagValue:
		return "tag-value"
	default:
		return "unknown"
	}
}

// ParseFormat resolves a format name to its Format value.
func ParseFormat(name string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return FormatJSON, true
	case "json-batch", "batch":
		return FormatJSONBatch, true
	case "csv":
		return FormatCSV, true
	case "binary":
		return FormatBinary, true
	case "register-pair", "register":
		return FormatRegisterPair, true
	case "tag-value", "tag":
		return FormatTagValue, true
	default:
		return FormatUnknown, false
	}
}

// Fixed payload sizes for the two raw binary encodings.
const (
	// binaryRecordLen is the full fixed-layout reading: 16-byte NUL-padded
	// sensor id, uint64 Unix-ms timestamp, float32 value, uint8 quality.
	binaryRecordLen = 29

	// rawRegisterLen is a bare read of two consecutive 16-bit registers.
	rawRegisterLen = 4
)

// shapeProbe distinguishes the specific JSON object shapes (tag-value and
// register reads) from the generic sensor-object path. One unmarshal
// serves every probe.
type shapeProbe struct {
	TagID     json.RawMessage `json:"tagId"`
	V         json.RawMessage `json:"v"`
	NodeID    json.RawMessage `json:"nodeId"`
	Value     json.RawMessage `json:"value"`
	Registers json.RawMessage `json:"registers"`
	Address   json.RawMessage `json:"address"`
}

// DetectFormat classifies a payload by shape. Detection is deterministic:
// arrays first, then JSON objects (specific shapes before the generic
// path), then CSV, then the fixed-length binary encodings.
func DetectFormat(topic string, payload []byte) Format {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return FormatUnknown
	}

	switch trimmed[0] {
	case '[':
		return FormatJSONBatch
	case '{':
		return detectObjectFormat(topic, trimmed)
	}

	if hasCSVHeader(payload) {
		return FormatCSV
	}

	switch len(payload) {
	case binaryRecordLen:
		return FormatBinary
	case rawRegisterLen:
		return FormatRegisterPair
	}

	return FormatUnknown
}

// detectObjectFormat picks among the JSON object formats. Tag-value and
// register shapes win over the generic object path; a malformed object
// still classifies as FormatJSON so the decoder reports the parse error.
func detectObjectFormat(topic string, trimmed []byte) Format {
	if strings.HasSuffix(topic, "/tag") {
		return FormatTagValue
	}

	var probe shapeProbe
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return FormatJSON
	}

	if len(probe.TagID) > 0 && len(probe.V) > 0 {
		return FormatTagValue
	}
	if len(probe.NodeID) > 0 && len(probe.Value) > 0 && probe.Value[0] == '{' {
		return FormatTagValue
	}
	if len(probe.Registers) > 0 && probe.Registers[0] == '[' && len(probe.Address) > 0 {
		return FormatRegisterPair
	}

	return FormatJSON
}

// Column synonym sets for CSV headers. Matching is case-insensitive after
// trimming spaces and quotes.
var (
	csvIDColumns      = []string{"sensor_id", "sensorid", "sensor", "id"}
	csvValueColumns   = []string{"value", "val", "reading"}
	csvTimeColumns    = []string{"timestamp", "ts", "time"}
	csvQualityColumns = []string{"quality", "q"}
	csvUnitColumns    = []string{"unit", "uom"}
)

// hasCSVHeader reports whether the first line looks like a CSV header:
// comma-separated, containing a value column synonym plus at least one
// other recognized column.
func hasCSVHeader(payload []byte) bool {
	line := payload
	if idx := bytes.IndexByte(payload, '\n'); idx >= 0 {
		line = payload[:idx]
	}
	if len(line) > 1024 || !bytes.ContainsRune(line, ',') {
		return false
	}

	hasValue := false
	others := 0
	for _, field := range strings.Split(string(line), ",") {
		name := normalizeColumn(field)
		switch {
		case matchesColumn(name, csvValueColumns):
			hasValue = true
		case matchesColumn(name, csvIDColumns),
			matchesColumn(name, csvTimeColumns),
			matchesColumn(name, csvQualityColumns),
			matchesColumn(name, csvUnitColumns):
			others++
		}
	}
	return hasValue && others > 0
}

func normalizeColumn(field string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(field), `"'`))
}

func matchesColumn(name string, synonyms []string) bool {
	for _, s := range synonyms {
		if name == s {
			return true
		}
	}
	return false
}

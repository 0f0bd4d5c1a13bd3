package transform

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/pkg/timestamp"
	"github.com/c360/sensorstream/record"
)

// decodeObject decodes the generic JSON sensor object. The value key is
// mandatory; everything else has a default. A missing sensor id is left
// empty for the validation gate to reject, since id policy lives there.
func decodeObject(topic string, payload []byte, receivedAt int64) (record.UnifiedRecord, error) {
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return record.UnifiedRecord{}, errors.WrapTransform(err, "Transformer", "decodeObject", "JSON object parse")
	}

	value, ok := numberField(obj, "value")
	if !ok {
		return record.UnifiedRecord{}, errors.WrapTransform(errors.ErrParsingFailed,
			"Transformer", "decodeObject", "numeric value derivation")
	}

	id, _ := stringField(obj, "sensorId", "sensor_id", "id")

	ts := receivedAt
	if raw, ok := anyField(obj, "timestamp", "ts"); ok {
		if parsed := timestamp.Parse(raw); parsed != 0 {
			ts = parsed
		} else {
			return record.UnifiedRecord{}, errors.WrapTransform(errors.ErrParsingFailed,
				"Transformer", "decodeObject", fmt.Sprintf("timestamp parse of %v", raw))
		}
	}

	quality := record.QualityMax
	if q, ok := numberField(obj, "quality"); ok {
		quality = int(q)
	}

	unit, _ := stringField(obj, "unit")

	rec := record.UnifiedRecord{
		SensorID:  id,
		Value:     value,
		Timestamp: ts,
		Quality:   quality,
		Unit:      unit,
		Source:    topic,
	}
	if meta, ok := obj["meta"]; ok {
		rec.Meta = toStringMap(meta)
	}
	return rec, nil
}

// decodeBatch decodes a JSON array of sensor objects. Malformed elements
// are skipped; a batch where nothing decodes is an error.
func (t *Transformer) decodeBatch(topic string, payload []byte, receivedAt int64) ([]record.UnifiedRecord, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(payload, &elems); err != nil {
		return nil, errors.WrapTransform(err, "Transformer", "decodeBatch", "JSON array parse")
	}
	if len(elems) == 0 {
		return nil, errors.WrapTransform(errors.ErrPayloadEmpty, "Transformer", "decodeBatch", "batch size check")
	}

	recs := make([]record.UnifiedRecord, 0, len(elems))
	for i, raw := range elems {
		rec, err := decodeObject(topic, raw, receivedAt)
		if err != nil {
			t.skip("decodeBatch", topic, i, err)
			continue
		}
		recs = append(recs, rec)
	}

	if len(recs) == 0 {
		return nil, errors.WrapTransform(errors.ErrParsingFailed, "Transformer", "decodeBatch",
			fmt.Sprintf("all %d batch elements failed", len(elems)))
	}
	return recs, nil
}

// anyField returns the first present key's value.
func anyField(obj map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// stringField returns the first present key's value as a string.
func stringField(obj map[string]any, keys ...string) (string, bool) {
	v, ok := anyField(obj, keys...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// numberField returns the first present key's value coerced to float64.
func numberField(obj map[string]any, keys ...string) (float64, bool) {
	v, ok := anyField(obj, keys...)
	if !ok {
		return 0, false
	}
	return coerceFloat(v)
}

// coerceFloat derives a float64 from JSON-decoded values: numbers
// directly, numeric strings via ParseFloat. Booleans and structures are
// not numeric values.
func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// coerceUint32 derives an unsigned status code. Missing (nil) is zero.
func coerceUint32(v any) (uint32, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case float64:
		if n < 0 || n > float64(^uint32(0)) || n != float64(uint32(n)) {
			return 0, false
		}
		return uint32(n), true
	case string:
		u, err := strconv.ParseUint(n, 0, 32)
		return uint32(u), err == nil
	default:
		return 0, false
	}
}

// toStringMap flattens a JSON object into string metadata. Non-string
// scalars stringify; nested structures marshal back to JSON text.
func toStringMap(v any) map[string]string {
	obj, ok := v.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, val := range obj {
		switch s := val.(type) {
		case string:
			out[k] = s
		case float64:
			out[k] = strconv.FormatFloat(s, 'g', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(s)
		case nil:
			out[k] = ""
		default:
			if data, err := json.Marshal(s); err == nil {
				out[k] = string(data)
			}
		}
	}
	return out
}

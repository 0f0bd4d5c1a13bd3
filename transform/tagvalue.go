package transform

import (
	"encoding/json"
	"fmt"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/pkg/timestamp"
	"github.com/c360/sensorstream/record"
)

// statusUncertainBit is the OPC-style "uncertain" severity bit. Codes
// with this bit set carry a usable but suspect measurement.
const statusUncertainBit = 0x40000000

// qualityFromStatus maps an OPC-style status code onto the 0-100 quality
// scale: zero is good, the uncertain bit halves confidence, anything
// else is bad.
func qualityFromStatus(code uint32) int {
	switch {
	case code == 0:
		return record.QualityMax
	case code&statusUncertainBit != 0:
		return 50
	default:
		return record.QualityMin
	}
}

// tagEnvelope covers both tag-value shapes: the flat {tagId, v, q, t}
// form and the nested {nodeId, value: {...}} form.
type tagEnvelope struct {
	TagID string `json:"tagId"`
	V     any    `json:"v"`
	Q     any    `json:"q"`
	T     any    `json:"t"`
	Unit  string `json:"unit"`

	NodeID string          `json:"nodeId"`
	Value  json.RawMessage `json:"value"`
}

// nodeValue is the nested value object of the nodeId form.
type nodeValue struct {
	Value           any `json:"value"`
	Timestamp       any `json:"timestamp"`
	SourceTimestamp any `json:"sourceTimestamp"`
	Status          any `json:"status"`
	StatusCode      any `json:"statusCode"`
}

// decodeTagValue decodes a tag-value payload in either shape.
func decodeTagValue(topic string, payload []byte, receivedAt int64) ([]record.UnifiedRecord, error) {
	var env tagEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.WrapTransform(err, "Transformer", "decodeTagValue", "tag payload parse")
	}

	switch {
	case env.TagID != "" || env.V != nil:
		return decodeFlatTag(topic, env, receivedAt)
	case env.NodeID != "" && len(env.Value) > 0:
		return decodeNodeTag(topic, env, receivedAt)
	default:
		return nil, errors.WrapTransform(errors.ErrParsingFailed,
			"Transformer", "decodeTagValue", "payload matches no tag shape")
	}
}

func decodeFlatTag(topic string, env tagEnvelope, receivedAt int64) ([]record.UnifiedRecord, error) {
	value, ok := coerceFloat(env.V)
	if !ok {
		return nil, errors.WrapTransform(errors.ErrParsingFailed,
			"Transformer", "decodeFlatTag", "numeric value derivation")
	}

	code, ok := coerceUint32(env.Q)
	if !ok {
		return nil, errors.WrapTransform(errors.ErrParsingFailed,
			"Transformer", "decodeFlatTag", fmt.Sprintf("status code parse of %v", env.Q))
	}

	ts := receivedAt
	if env.T != nil {
		parsed := timestamp.Parse(env.T)
		if parsed == 0 {
			return nil, errors.WrapTransform(errors.ErrParsingFailed,
				"Transformer", "decodeFlatTag", fmt.Sprintf("timestamp parse of %v", env.T))
		}
		ts = parsed
	}

	rec := record.UnifiedRecord{
		SensorID:  env.TagID,
		Value:     value,
		Timestamp: ts,
		Quality:   qualityFromStatus(code),
		Unit:      env.Unit,
		Source:    topic,
	}
	return []record.UnifiedRecord{rec}, nil
}

func decodeNodeTag(topic string, env tagEnvelope, receivedAt int64) ([]record.UnifiedRecord, error) {
	var nv nodeValue
	if err := json.Unmarshal(env.Value, &nv); err != nil {
		return nil, errors.WrapTransform(err, "Transformer", "decodeNodeTag", "node value parse")
	}

	value, ok := coerceFloat(nv.Value)
	if !ok {
		return nil, errors.WrapTransform(errors.ErrParsingFailed,
			"Transformer", "decodeNodeTag", "numeric value derivation")
	}

	rawStatus := nv.StatusCode
	if rawStatus == nil {
		rawStatus = nv.Status
	}
	code, ok := coerceUint32(rawStatus)
	if !ok {
		return nil, errors.WrapTransform(errors.ErrParsingFailed,
			"Transformer", "decodeNodeTag", fmt.Sprintf("status code parse of %v", rawStatus))
	}

	rawTS := nv.SourceTimestamp
	if rawTS == nil {
		rawTS = nv.Timestamp
	}
	ts := receivedAt
	if rawTS != nil {
		parsed := timestamp.Parse(rawTS)
		if parsed == 0 {
			return nil, errors.WrapTransform(errors.ErrParsingFailed,
				"Transformer", "decodeNodeTag", fmt.Sprintf("timestamp parse of %v", rawTS))
		}
		ts = parsed
	}

	rec := record.UnifiedRecord{
		SensorID:  env.NodeID,
		Value:     value,
		Timestamp: ts,
		Quality:   qualityFromStatus(code),
		Source:    topic,
	}
	return []record.UnifiedRecord{rec}, nil
}

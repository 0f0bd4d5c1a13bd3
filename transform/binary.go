package transform

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/pkg/timestamp"
	"github.com/c360/sensorstream/record"
)

// decodeBinary decodes the fixed 29-byte big-endian reading:
// bytes 0..15 sensor id (ASCII, NUL right-padded), 16..23 uint64 Unix-ms
// timestamp, 24..27 float32 value, 28 uint8 quality.
func decodeBinary(topic string, payload []byte) ([]record.UnifiedRecord, error) {
	if len(payload) != binaryRecordLen {
		return nil, errors.WrapTransform(
			fmt.Errorf("want %d bytes, have %d", binaryRecordLen, len(payload)),
			"Transformer", "decodeBinary", "length check")
	}

	id := string(bytes.TrimRight(payload[:16], "\x00"))
	ts := int64(binary.BigEndian.Uint64(payload[16:24]))
	value := float64(math.Float32frombits(binary.BigEndian.Uint32(payload[24:28])))
	quality := int(payload[28])

	rec := record.UnifiedRecord{
		SensorID:  id,
		Value:     value,
		Timestamp: ts,
		Quality:   quality,
		Source:    topic,
	}
	return []record.UnifiedRecord{rec}, nil
}

// registerRead is the JSON form of a Modbus-style register read.
type registerRead struct {
	Address   *int64   `json:"address"`
	Registers []uint16 `json:"registers"`
	SensorID  string   `json:"sensorId"`
	Unit      string   `json:"unit"`
	Timestamp any      `json:"timestamp"`
}

// decodeRegisterPair decodes a register-pair reading in either form: the
// JSON object {address, registers: [hi, lo]} or a raw 4-byte read. Two
// consecutive 16-bit registers combine high word first into one float32.
func decodeRegisterPair(topic string, payload []byte, receivedAt int64) ([]record.UnifiedRecord, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return decodeRegisterObject(topic, trimmed, receivedAt)
	}

	if len(payload) != rawRegisterLen {
		return nil, errors.WrapTransform(
			fmt.Errorf("want %d bytes, have %d", rawRegisterLen, len(payload)),
			"Transformer", "decodeRegisterPair", "length check")
	}

	hi := binary.BigEndian.Uint16(payload[0:2])
	lo := binary.BigEndian.Uint16(payload[2:4])

	rec := record.UnifiedRecord{
		SensorID:  sensorIDFromTopic(topic),
		Value:     float64(combineRegisters(hi, lo)),
		Timestamp: receivedAt,
		Quality:   record.QualityMax,
		Source:    topic,
	}
	return []record.UnifiedRecord{rec}, nil
}

func decodeRegisterObject(topic string, payload []byte, receivedAt int64) ([]record.UnifiedRecord, error) {
	var read registerRead
	if err := json.Unmarshal(payload, &read); err != nil {
		return nil, errors.WrapTransform(err, "Transformer", "decodeRegisterObject", "register read parse")
	}
	if read.Address == nil {
		return nil, errors.WrapTransform(errors.ErrParsingFailed,
			"Transformer", "decodeRegisterObject", "register read has no address")
	}
	if len(read.Registers) < 2 {
		return nil, errors.WrapTransform(
			fmt.Errorf("register pair needs 2 registers, have %d", len(read.Registers)),
			"Transformer", "decodeRegisterObject", "register count check")
	}

	id := read.SensorID
	if id == "" {
		id = fmt.Sprintf("register-%d", *read.Address)
	}

	ts := receivedAt
	if read.Timestamp != nil {
		parsed := timestamp.Parse(read.Timestamp)
		if parsed == 0 {
			return nil, errors.WrapTransform(errors.ErrParsingFailed,
				"Transformer", "decodeRegisterObject", fmt.Sprintf("timestamp parse of %v", read.Timestamp))
		}
		ts = parsed
	}

	rec := record.UnifiedRecord{
		SensorID:  id,
		Value:     float64(combineRegisters(read.Registers[0], read.Registers[1])),
		Timestamp: ts,
		Quality:   record.QualityMax,
		Unit:      read.Unit,
		Source:    topic,
	}
	return []record.UnifiedRecord{rec}, nil
}

// combineRegisters joins two consecutive 16-bit registers, high word
// first, and reinterprets the 32 bits as an IEEE-754 float.
func combineRegisters(hi, lo uint16) float32 {
	return math.Float32frombits(uint32(hi)<<16 | uint32(lo))
}

// sensorIDFromTopic derives an id from the topic's second level, the
// device segment in the sensors/{device}/... layout.
func sensorIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	return topic
}

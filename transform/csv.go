package transform

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/pkg/timestamp"
	"github.com/c360/sensorstream/record"
)

// csvColumns maps recognized header synonyms to column indexes; -1 means
// the column is absent.
type csvColumns struct {
	id      int
	value   int
	ts      int
	quality int
	unit    int
}

func mapCSVHeader(header []string) csvColumns {
	cols := csvColumns{id: -1, value: -1, ts: -1, quality: -1, unit: -1}
	for i, field := range header {
		name := normalizeColumn(field)
		switch {
		case cols.id < 0 && matchesColumn(name, csvIDColumns):
			cols.id = i
		case cols.value < 0 && matchesColumn(name, csvValueColumns):
			cols.value = i
		case cols.ts < 0 && matchesColumn(name, csvTimeColumns):
			cols.ts = i
		case cols.quality < 0 && matchesColumn(name, csvQualityColumns):
			cols.quality = i
		case cols.unit < 0 && matchesColumn(name, csvUnitColumns):
			cols.unit = i
		}
	}
	return cols
}

// decodeCSV decodes a header-plus-rows CSV payload. Malformed rows are
// skipped like malformed batch elements; a payload where nothing decodes
// is an error.
func (t *Transformer) decodeCSV(topic string, payload []byte, receivedAt int64) ([]record.UnifiedRecord, error) {
	reader := csv.NewReader(bytes.NewReader(payload))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1 // ragged rows are handled per row

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.WrapTransform(err, "Transformer", "decodeCSV", "CSV parse")
	}
	if len(rows) < 2 {
		return nil, errors.WrapTransform(errors.ErrPayloadEmpty, "Transformer", "decodeCSV", "data row check")
	}

	cols := mapCSVHeader(rows[0])
	if cols.value < 0 {
		return nil, errors.WrapTransform(errors.ErrParsingFailed, "Transformer", "decodeCSV",
			"header has no value column")
	}

	recs := make([]record.UnifiedRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := csvRow(cols, row, topic, receivedAt)
		if err != nil {
			t.skip("decodeCSV", topic, i+1, err)
			continue
		}
		recs = append(recs, rec)
	}

	if len(recs) == 0 {
		return nil, errors.WrapTransform(errors.ErrParsingFailed, "Transformer", "decodeCSV",
			fmt.Sprintf("all %d data rows failed", len(rows)-1))
	}
	return recs, nil
}

func csvRow(cols csvColumns, row []string, topic string, receivedAt int64) (record.UnifiedRecord, error) {
	field := func(idx int) (string, bool) {
		if idx < 0 || idx >= len(row) {
			return "", false
		}
		return strings.TrimSpace(row[idx]), true
	}

	raw, ok := field(cols.value)
	if !ok {
		return record.UnifiedRecord{}, fmt.Errorf("row shorter than header: no value column")
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return record.UnifiedRecord{}, fmt.Errorf("value %q: %w", raw, err)
	}

	rec := record.UnifiedRecord{
		Value:     value,
		Timestamp: receivedAt,
		Quality:   record.QualityMax,
		Source:    topic,
	}

	if id, ok := field(cols.id); ok {
		rec.SensorID = id
	}
	if unit, ok := field(cols.unit); ok {
		rec.Unit = unit
	}
	if raw, ok := field(cols.ts); ok && raw != "" {
		ms := timestamp.Parse(raw)
		if ms == 0 {
			return record.UnifiedRecord{}, fmt.Errorf("unparseable timestamp %q", raw)
		}
		rec.Timestamp = ms
	}
	if raw, ok := field(cols.quality); ok && raw != "" {
		q, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return record.UnifiedRecord{}, fmt.Errorf("quality %q: %w", raw, err)
		}
		rec.Quality = int(q)
	}

	return rec, nil
}

package jsonldb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/maruel/recdb/internal/errors"
)

// Values are stored in canonical Go types, one per column type:
//
//	text    → string
//	integer → int64
//	real    → float64
//	null    → nil
//
// Unlike SQLite affinity, conversion never crosses types: a string is never
// parsed as a number and an integer is never widened to a real. The only
// inputs accepted besides the canonical types are the other Go numeric kinds
// of the same family and json.Number, which is what the JSON decoder yields
// for every number.

// Row is one record, positionally aligned with the table columns.
type Row []any

// Clone returns a shallow copy; values are immutable scalars.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	c := make(Row, len(r))
	copy(c, r)
	return c
}

// coerceValue converts v to the canonical Go type of ct. nil passes through.
func coerceValue(ct ColumnType, v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch ct {
	case ColumnTypeText:
		s, ok := v.(string)
		return s, ok
	case ColumnTypeInteger:
		return coerceToInteger(v)
	case ColumnTypeReal:
		return coerceToReal(v)
	default:
		return nil, false
	}
}

func coerceToInteger(value any) (any, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint:
		if uint64(v) > math.MaxInt64 {
			return nil, false
		}
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return nil, false
		}
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil, false
		}
		return i, true
	default:
		return nil, false
	}
}

func coerceToReal(value any) (any, bool) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case json.Number:
		var err error
		if f, err = v.Float64(); err != nil {
			return nil, false
		}
	default:
		return nil, false
	}
	// JSON cannot represent them.
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return f, true
}

// typeName describes a value for error messages.
func typeName(v any) string {
	switch v.(type) {
	case string:
		return "text"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case float32, float64:
		return "real"
	case json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// decodeRows parses the persisted rows of a table and coerces every value to
// its column type.
func decodeRows(table string, defs []Column, names []string, data json.RawMessage) ([]Row, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []Row{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw [][]any
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Corrupt(table, "", fmt.Sprintf("failed to decode rows: %v", err))
	}
	rows := make([]Row, 0, len(raw))
	for i, r := range raw {
		if len(r) != len(defs) {
			return nil, errors.Corrupt(table, "", fmt.Sprintf("row %d has %d values, expected %d", i, len(r), len(defs)))
		}
		row := make(Row, len(r))
		for j, v := range r {
			c, ok := coerceValue(defs[j].Type, v)
			if !ok {
				return nil, errors.Corrupt(table, names[j], fmt.Sprintf("row %d: value %v is not %s", i, v, defs[j].Type))
			}
			row[j] = c
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// encodeRows serializes rows for the persisted document.
func encodeRows(rows []Row) (json.RawMessage, error) {
	if len(rows) == 0 {
		return json.RawMessage("[]"), nil
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rows: %w", err)
	}
	return data, nil
}

package query

import (
	"bytes"
	"encoding/json"
)

// Row maps column labels to cell values and marshals its keys in insertion
// order. Setting an existing label replaces the value in place.
type Row struct {
	keys   []string
	values map[string]any
}

func NewRow(capacity int) Row {
	return Row{keys: make([]string, 0, capacity), values: make(map[string]any, capacity)}
}

func (r *Row) Set(key string, value any) {
	if r.values == nil {
		r.values = map[string]any{}
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		encodedValue, err := json.Marshal(r.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(encodedKey)
		buf.WriteByte(':')
		buf.Write(encodedValue)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

package value

import (
	"bytes"
	"encoding/json"
)

// FromJSON decodes JSON into a value tree. Numbers keep integer
// fidelity: anything that fits an int64 decodes as int64, everything
// else as float64.
func FromJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalize(v), nil
}

// ToJSON encodes a value tree as JSON.
func ToJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	default:
		return v
	}
}

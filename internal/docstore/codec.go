package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// timeKey marks an encoded timestamp; JSON has no native time type.
const timeKey = "$time"

func encodeFields(f Fields) ([]byte, error) {
	return json.Marshal(encodeValue(map[string]any(f)))
}

func encodeValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return map[string]string{timeKey: x.UTC().Format(time.RFC3339Nano)}
	case Fields:
		return encodeValue(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = encodeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = encodeValue(e)
		}
		return out
	default:
		return v
	}
}

func decodeFields(data []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	out, err := decodeValue(raw)
	if err != nil {
		return nil, err
	}
	return Fields(out.(map[string]any)), nil
}

func decodeValue(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if s, ok := x[timeKey].(string); ok && len(x) == 1 {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("decode timestamp: %w", err)
			}
			return t, nil
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			d, err := decodeValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = d
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			d, err := decodeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		return x.Float64()
	default:
		return v, nil
	}
}

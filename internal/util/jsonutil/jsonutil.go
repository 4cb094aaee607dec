package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MarshalNoEscape encodes v into JSON without escaping <, >, & into \u003c, etc.
func MarshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Remove trailing newline from json.Encoder.Encode
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Normalize converts v into the plain shapes encoding/json decodes to
// (map[string]any, []any, float64, string, bool, nil). Typed maps, slices
// and named string types become their generic equivalents.
func Normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NormalizeObject is Normalize for values that must encode to a JSON object.
func NormalizeObject(v any) (map[string]any, error) {
	out, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return map[string]any{}, nil
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", out)
	}
	return m, nil
}

// DecodeObject parses text as a JSON object. Text holding a JSON string that
// itself encodes an object (double-encoded payloads) is unwrapped once.
func DecodeObject(text string) (map[string]any, error) {
	raw := []byte(strings.TrimSpace(text))
	var out map[string]any
	err := json.Unmarshal(raw, &out)
	if err == nil {
		if out == nil {
			return nil, fmt.Errorf("expected a JSON object, got null")
		}
		return out, nil
	}
	var inner string
	if json.Unmarshal(raw, &inner) != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(inner), &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("expected a JSON object, got null")
	}
	return out, nil
}

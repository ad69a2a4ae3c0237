// Package ejson converts between Go values and EJSON, the JSON dialect used
// by DDP payloads. EJSON extends JSON with dates, binary data and
// non-finite numbers, each encoded as a single-key object:
//
//	{"$date": 1700000000000}      time.Time (milliseconds since the epoch)
//	{"$binary": "aGVsbG8="}       []byte (standard base64)
//	{"$InfNaN": 1}                +Inf (-1 for -Inf, 0 for NaN)
//	{"$escape": {"$date": 1}}     an ordinary object whose keys collide with the above
//
// Conversion is applied to generic trees (map[string]any, []any and scalars).
// Structs and typed maps are handed to encoding/json unchanged.
package ejson

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

const (
	keyDate   = "$date"
	keyBinary = "$binary"
	keyInfNaN = "$InfNaN"
	keyEscape = "$escape"
)

// Marshal encodes v as EJSON.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(ToJSONValue(v))
}

// Unmarshal decodes EJSON data into a generic Go value.
func Unmarshal(data []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return FromJSONValue(raw)
}

// ToJSONValue rewrites the EJSON-special Go values inside v into their
// JSON object forms.
func ToJSONValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return map[string]any{keyDate: val.UnixMilli()}
	case *time.Time:
		if val == nil {
			return nil
		}
		return map[string]any{keyDate: val.UnixMilli()}
	case []byte:
		return map[string]any{keyBinary: base64.StdEncoding.EncodeToString(val)}
	case float64:
		return encodeFloat(val)
	case float32:
		return encodeFloat(float64(val))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ToJSONValue(item)
		}
		if isReserved(val) {
			return map[string]any{keyEscape: out}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ToJSONValue(item)
		}
		return out
	default:
		return v
	}
}

// FromJSONValue converts a tree produced by encoding/json back into Go
// values, decoding the EJSON object forms.
func FromJSONValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 1 {
			for k, inner := range val {
				switch k {
				case keyDate:
					ms, ok := inner.(float64)
					if !ok {
						return nil, fmt.Errorf("ejson: %s must be a number, got %T", keyDate, inner)
					}
					return time.UnixMilli(int64(ms)).UTC(), nil
				case keyBinary:
					s, ok := inner.(string)
					if !ok {
						return nil, fmt.Errorf("ejson: %s must be a string, got %T", keyBinary, inner)
					}
					b, err := base64.StdEncoding.DecodeString(s)
					if err != nil {
						return nil, fmt.Errorf("ejson: invalid %s: %w", keyBinary, err)
					}
					return b, nil
				case keyInfNaN:
					n, ok := inner.(float64)
					if !ok {
						return nil, fmt.Errorf("ejson: %s must be a number, got %T", keyInfNaN, inner)
					}
					switch {
					case n > 0:
						return math.Inf(1), nil
					case n < 0:
						return math.Inf(-1), nil
					default:
						return math.NaN(), nil
					}
				case keyEscape:
					escaped, ok := inner.(map[string]any)
					if !ok {
						return nil, fmt.Errorf("ejson: %s must be an object, got %T", keyEscape, inner)
					}
					return convertMap(escaped)
				}
			}
		}
		return convertMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			converted, err := FromJSONValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	default:
		return v, nil
	}
}

func convertMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, item := range m {
		converted, err := FromJSONValue(item)
		if err != nil {
			return nil, err
		}
		out[k] = converted
	}
	return out, nil
}

func encodeFloat(f float64) any {
	switch {
	case math.IsInf(f, 1):
		return map[string]any{keyInfNaN: 1}
	case math.IsInf(f, -1):
		return map[string]any{keyInfNaN: -1}
	case math.IsNaN(f):
		return map[string]any{keyInfNaN: 0}
	default:
		return f
	}
}

// isReserved reports whether a plain map would be mistaken for an EJSON form.
func isReserved(m map[string]any) bool {
	if len(m) != 1 {
		return false
	}
	for k := range m {
		switch k {
		case keyDate, keyBinary, keyInfNaN, keyEscape:
			return true
		}
	}
	return false
}

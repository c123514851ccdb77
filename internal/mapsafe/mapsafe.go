// Package mapsafe reads typed values out of loosely typed parameter maps.
package mapsafe

import "encoding/json"

// Get retrieves a typed value from a map[string]any.
// If the key is missing or the value cannot be converted, it returns defaultValue.
// Numbers decoded from JSON (float64, json.Number) or YAML (int) convert between int
// and float64.
func Get[T any](m map[string]any, key string, defaultValue T) T {
	val, ok := m[key]
	if !ok {
		return defaultValue
	}

	var out any
	switch any(defaultValue).(type) {
	case int:
		n, ok := toFloat(val)
		if !ok {
			return defaultValue
		}
		out = int(n)
	case float64:
		n, ok := toFloat(val)
		if !ok {
			return defaultValue
		}
		out = n
	default:
		v, ok := val.(T)
		if !ok {
			return defaultValue
		}
		return v
	}
	return out.(T)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

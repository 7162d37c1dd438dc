package types

import (
	"fmt"
	"strconv"
)

// =============================================================================
// STEP OUTPUT EXTRACTION UTILITIES
// =============================================================================
//
// Workflow step handlers exchange data through map[string]any outputs. These
// helpers provide safe, type-aware extraction from those maps, replacing
// bare type assertions that panic on mismatch. JSON round-trips turn ints
// into float64, so every numeric extractor accepts both.

// ExtractString extracts a string value for key. Non-string scalars are
// formatted rather than rejected.
func ExtractString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case fmt.Stringer:
		return t.String(), true
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", t), true
	default:
		return "", false
	}
}

// ExtractInt extracts an integer value for key.
func ExtractInt(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// ExtractFloat extracts a float value for key.
func ExtractFloat(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ExtractBool extracts a boolean value for key.
func ExtractBool(m map[string]any, key string) (bool, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// ExtractStringSlice extracts a []string for key, tolerating []any with
// string elements (the shape JSON decoding produces).
func ExtractStringSlice(m map[string]any, key string) ([]string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...), true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// ExtractReview extracts a *Review stored directly in a step output map.
func ExtractReview(m map[string]any, key string) (*Review, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	r, ok := v.(*Review)
	if !ok || r == nil {
		return nil, false
	}
	return r, true
}

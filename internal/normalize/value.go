// Package normalize turns loosely typed request input into the canonical
// values stored for events. None of these functions fail; malformed input
// degrades to a safe default.
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"
)

const (
	MinValence = -3
	MaxValence = 3

	KindMoment = "moment"
	KindDay    = "day"
)

// Backend columns that the wizard's property steps write to.
const (
	ColumnOccurrenceDate = "occurrence_date"
	ColumnOccurrenceTime = "occurrence_time"
	ColumnValence        = "valence"
)

// ClampValence rounds half up and clamps to [-3, 3]. Non-finite input is 0.
func ClampValence(n float64) int {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	rounded := math.Floor(n + 0.5)
	if rounded < MinValence {
		return MinValence
	}
	if rounded > MaxValence {
		return MaxValence
	}
	return int(rounded)
}

// EventValence accepts a number or numeric string. Anything else is 0.
func EventValence(raw any) int {
	if n, ok := number(raw); ok {
		return ClampValence(n)
	}
	if s, ok := raw.(string); ok {
		if parsed, ok := ParseLeadingInt(s); ok {
			return ClampValence(float64(parsed))
		}
	}
	return 0
}

// OptionalValence is like EventValence but returns nil instead of 0 when no
// usable value was supplied, so "no preference" stays distinct from neutral.
func OptionalValence(raw any) *int {
	if raw == nil {
		return nil
	}
	if n, ok := number(raw); ok {
		v := ClampValence(n)
		return &v
	}
	if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
		if parsed, ok := ParseLeadingInt(s); ok {
			v := ClampValence(float64(parsed))
			return &v
		}
	}
	return nil
}

func Text(raw any) string {
	s, ok := raw.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// Kind passes "moment" and "day" through, keeps any other non-blank string
// trimmed, and defaults to "day".
func Kind(raw any) string {
	s, ok := raw.(string)
	if !ok {
		return KindDay
	}
	if s == KindMoment || s == KindDay {
		return s
	}
	if trimmed := strings.TrimSpace(s); trimmed != "" {
		return trimmed
	}
	return KindDay
}

// Time returns nil for absent or empty input. Non-empty strings are kept
// as-is, without trimming.
func Time(raw any) *string {
	s, ok := raw.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

// PropertyValue parses a wizard form value for the given backend column.
// The date column is returned even when empty; the caller rejects it.
func PropertyValue(column, raw string) any {
	trimmed := strings.TrimSpace(raw)
	switch column {
	case ColumnOccurrenceDate:
		return trimmed
	case ColumnOccurrenceTime:
		if trimmed == "" {
			return nil
		}
		return trimmed
	case ColumnValence:
		parsed, ok := ParseLeadingInt(trimmed)
		if !ok {
			return 0
		}
		return ClampValence(float64(parsed))
	}
	if trimmed == "" {
		return nil
	}
	return trimmed
}

// ParseLeadingInt reads an optionally signed base-10 integer prefix after
// leading whitespace: "2.9" is 2, "12abc" is 12, "abc" is not a number.
// Values beyond the int range saturate.
func ParseLeadingInt(s string) (int, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	negative := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		negative = s[0] == '-'
		s = s[1:]
	}
	digits := 0
	var value int64
	saturated := false
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		if !saturated {
			value = value*10 + int64(s[digits]-'0')
			if value > math.MaxInt32 {
				saturated = true
			}
		}
		digits++
	}
	if digits == 0 {
		return 0, false
	}
	if saturated {
		value = math.MaxInt32
	}
	if negative {
		value = -value
	}
	return int(value), true
}

func number(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// identifier stringifies a scalar id; composite values yield "".
func identifier(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	}
	if n, ok := number(raw); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}

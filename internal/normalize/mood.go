package normalize

import (
	"math"
	"strconv"
	"strings"
)

const ScaleIntensity = "intensity"

// MoodCollection normalizes the scaled entries sent by the mood form. Each
// entry keeps its fields, with "value" coerced to a number. When
// omitZeroIntensity is set, intensity entries at or below zero are dropped.
// A value that is not a finite number is kept and sent as null.
func MoodCollection(items any, idField string, omitZeroIntensity bool) []map[string]any {
	byID := NewOrderedMap[string, map[string]any]()
	for _, entry := range objects(items) {
		id := identifier(entry[idField])
		if id == "" {
			continue
		}
		value := moodValue(entry["value"])
		// NaN never compares <= 0, so unparseable intensities stay.
		if omitZeroIntensity && entry["scale_type"] == ScaleIntensity && value <= 0 {
			continue
		}
		normalized := make(map[string]any, len(entry))
		for k, v := range entry {
			normalized[k] = v
		}
		normalized[idField] = id
		if math.IsNaN(value) || math.IsInf(value, 0) {
			normalized["value"] = nil
		} else {
			normalized["value"] = value
		}
		byID.Set(id, normalized)
	}
	return byID.Values()
}

// moodValue coerces like a numeric cast: absent is 0, blank strings are 0,
// anything unparseable is NaN.
func moodValue(raw any) float64 {
	if raw == nil {
		return 0
	}
	if n, ok := number(raw); ok {
		return n
	}
	switch v := raw.(type) {
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}

package wizard

import (
	"encoding/json"
	"strings"

	"moodlog/api/internal/normalize"
)

type MappingKind string

const (
	MappingSelection MappingKind = "selection"
	MappingIntensity MappingKind = "intensity"
)

// MappingValue is one entry of the serialized "mapping" form field.
type MappingValue struct {
	ID    string      `json:"id"`
	Kind  MappingKind `json:"kind"`
	Value *int        `json:"value,omitempty"`
}

// ParseMappingPayload decodes the mapping field. Entries without an id or
// with an unknown kind are dropped, later entries for an id replace earlier
// ones, and an intensity entry without a usable value becomes a selection.
// Malformed JSON yields an empty list.
func ParseMappingPayload(raw string) []MappingValue {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var entries []any
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil
	}

	byID := normalize.NewOrderedMap[string, MappingValue]()
	for _, item := range entries {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := normalize.Text(entry["id"])
		kind, _ := entry["kind"].(string)
		if id == "" || (kind != string(MappingSelection) && kind != string(MappingIntensity)) {
			continue
		}
		if kind == string(MappingIntensity) {
			if value := normalize.OptionalValence(entry["value"]); value != nil {
				byID.Set(id, MappingValue{ID: id, Kind: MappingIntensity, Value: value})
				continue
			}
		}
		byID.Set(id, MappingValue{ID: id, Kind: MappingSelection})
	}
	return byID.Values()
}

func emotionMappings(values []MappingValue) []normalize.EmotionMapping {
	byID := normalize.NewOrderedMap[string, normalize.EmotionMapping]()
	for _, v := range values {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			continue
		}
		byID.Set(id, normalize.EmotionMapping{EmotionID: id, Valence: intensity(v)})
	}
	return byID.Values()
}

func associationMappings(values []MappingValue) []normalize.AssociationMapping {
	byID := normalize.NewOrderedMap[string, normalize.AssociationMapping]()
	for _, v := range values {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			continue
		}
		byID.Set(id, normalize.AssociationMapping{AssociationID: id, Valence: intensity(v)})
	}
	return byID.Values()
}

func intensity(v MappingValue) *int {
	if v.Kind != MappingIntensity || v.Value == nil {
		return nil
	}
	clamped := normalize.ClampValence(float64(*v.Value))
	return &clamped
}

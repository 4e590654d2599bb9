package normalize

type EmotionMapping struct {
	EmotionID string `json:"emotion_id"`
	Valence   *int   `json:"valence,omitempty"`
}

type AssociationMapping struct {
	AssociationID string `json:"association_id"`
	Valence       *int   `json:"valence,omitempty"`
}

type Response struct {
	QuestionID string `json:"question_id"`
	Value      string `json:"value"`
}

// EmotionCollection dedupes by emotion_id. A repeated id keeps the position
// of its first occurrence and the value of its last.
func EmotionCollection(items any) []EmotionMapping {
	byID := NewOrderedMap[string, EmotionMapping]()
	for _, entry := range objects(items) {
		id := identifier(entry["emotion_id"])
		if id == "" {
			continue
		}
		byID.Set(id, EmotionMapping{EmotionID: id, Valence: OptionalValence(entry["valence"])})
	}
	return byID.Values()
}

func AssociationCollection(items any) []AssociationMapping {
	byID := NewOrderedMap[string, AssociationMapping]()
	for _, entry := range objects(items) {
		id := identifier(entry["association_id"])
		if id == "" {
			continue
		}
		byID.Set(id, AssociationMapping{AssociationID: id, Valence: OptionalValence(entry["valence"])})
	}
	return byID.Values()
}

// ResponseCollection drops entries whose trimmed value is empty.
func ResponseCollection(items any) []Response {
	byID := NewOrderedMap[string, Response]()
	for _, entry := range objects(items) {
		id := identifier(entry["question_id"])
		if id == "" {
			continue
		}
		value := Text(entry["value"])
		if value == "" {
			continue
		}
		byID.Set(id, Response{QuestionID: id, Value: value})
	}
	return byID.Values()
}

// objects returns the object-shaped entries of a JSON array. Non-arrays
// yield nothing.
func objects(items any) []map[string]any {
	switch list := items.(type) {
	case []map[string]any:
		out := make([]map[string]any, 0, len(list))
		for _, entry := range list {
			if entry != nil {
				out = append(out, entry)
			}
		}
		return out
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, raw := range list {
			if entry, ok := raw.(map[string]any); ok && entry != nil {
				out = append(out, entry)
			}
		}
		return out
	}
	return nil
}

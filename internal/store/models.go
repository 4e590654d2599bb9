package store

import (
	"encoding/json"
	"time"

	"moodlog/api/internal/normalize"
)

// NewEvent is a normalized row for the events table.
type NewEvent struct {
	ProfileID      string  `json:"profile_id"`
	Kind           string  `json:"kind"`
	Valence        int     `json:"valence"`
	OccurrenceDate string  `json:"occurrence_date"`
	OccurrenceTime *string `json:"occurrence_time"`
	Name           *string `json:"name"`
	Description    *string `json:"description"`
}

// OwnedEvent is the slice of an event used for ownership checks.
type OwnedEvent struct {
	ID      string `db:"id" json:"id"`
	Valence *int   `db:"valence" json:"valence"`
}

type UpsertEventArgs struct {
	ProfileID      string                         `json:"p_profile_id"`
	Kind           string                         `json:"p_kind"`
	Valence        int                            `json:"p_valence"`
	OccurrenceDate string                         `json:"p_occurrence_date"`
	OccurrenceTime *string                        `json:"p_occurrence_time"`
	Name           string                         `json:"p_name"`
	Description    string                         `json:"p_description"`
	Emotions       []normalize.EmotionMapping     `json:"p_emotions"`
	Associations   []normalize.AssociationMapping `json:"p_associations"`
}

type UpsertMoodArgs struct {
	ProfileID      string           `json:"p_profile_id"`
	Kind           string           `json:"p_kind"`
	Valence        any              `json:"p_valence"`
	OccurrenceDate string           `json:"p_occurrence_date"`
	OccurrenceTime *string          `json:"p_occurrence_time"`
	Emotions       []map[string]any `json:"p_emotions"`
	Associations   []map[string]any `json:"p_associations"`
}

type EventFilter struct {
	Kind   *string `json:"p_kind"`
	From   *string `json:"p_from"`
	To     *string `json:"p_to"`
	Limit  int     `json:"p_limit"`
	Offset int     `json:"p_offset"`
}

type EventActivity struct {
	CreatedActivity    json.RawMessage `db:"created_activity" json:"created_activity"`
	OccurrenceActivity json.RawMessage `db:"occurrence_activity" json:"occurrence_activity"`
}

type Profile struct {
	FullName  *string    `db:"full_name" json:"full_name"`
	AvatarURL *string    `db:"avatar_url" json:"avatar_url"`
	Role      *string    `db:"role" json:"role"`
	CreatedAt *time.Time `db:"created_at" json:"created_at"`
}

type NewsroomRecord struct {
	ID            string     `db:"id" json:"id"`
	CreatedAt     *time.Time `db:"created_at" json:"created_at"`
	Category      *string    `db:"category" json:"category"`
	Published     *bool      `db:"published" json:"published"`
	Name          *string    `db:"name" json:"name"`
	NameEN        *string    `db:"name_en" json:"name_en"`
	Description   *string    `db:"description" json:"description"`
	DescriptionEN *string    `db:"description_en" json:"description_en"`
	Content       *string    `db:"content" json:"content"`
	ContentEN     *string    `db:"content_en" json:"content_en"`
	Resource      *string    `db:"resource" json:"resource"`
	Type          *string    `db:"type" json:"type"`
}

var newsroomColumns = []string{
	"id::text AS id", "created_at", "category", "published", "name", "name_en",
	"description", "description_en", "content", "content_en", "resource", "type",
}

package store

import (
	"context"
	"encoding/json"

	"moodlog/api/internal/normalize"
)

// EventStore is the backend the gateway talks to: table reads and writes
// plus the named procedures. Implementations act as the caller identified
// in ctx (see ctxutil.RequestData) and report failures as *Error.
type EventStore interface {
	InsertEvent(ctx context.Context, event NewEvent) (string, error)
	FindOwnedEvent(ctx context.Context, eventID, profileID string) (*OwnedEvent, error)
	ListEventEmotions(ctx context.Context, eventID string) ([]normalize.EmotionMapping, error)
	ListEventAssociations(ctx context.Context, eventID string) ([]normalize.AssociationMapping, error)
	GetResponse(ctx context.Context, eventID, questionID, profileID string) (*string, bool, error)

	ListEmotions(ctx context.Context) ([]map[string]any, error)
	ListAssociations(ctx context.Context) ([]map[string]any, error)
	ListQuestions(ctx context.Context, ids []string) ([]map[string]any, error)

	GetProfile(ctx context.Context, profileID string) (*Profile, error)
	GetEventActivity(ctx context.Context, profileID string) (*EventActivity, error)
	ListPublishedNewsroom(ctx context.Context) ([]NewsroomRecord, error)
	GetNewsroom(ctx context.Context, id string) (*NewsroomRecord, error)

	UpsertEventFull(ctx context.Context, args UpsertEventArgs) (*string, error)
	GetEventFull(ctx context.Context, eventID string) (json.RawMessage, error)
	GetEvents(ctx context.Context, filter EventFilter) (json.RawMessage, error)
	UpdateEventField(ctx context.Context, eventID string, patch map[string]any) (json.RawMessage, error)
	UpdateEmotionMappings(ctx context.Context, eventID string, emotions []normalize.EmotionMapping, eventValence int) error
	UpdateAssociationMappings(ctx context.Context, eventID string, associations []normalize.AssociationMapping, eventValence int) error
	UpdateResponseValue(ctx context.Context, eventID, questionID string, value *string) error
	UpsertMoodFull(ctx context.Context, args UpsertMoodArgs) (*string, error)
	GetUserAuditLogs(ctx context.Context, limit int) ([]map[string]any, error)

	Ping(ctx context.Context) error
}

var (
	_ EventStore = (*PostgresStore)(nil)
	_ EventStore = (*PostgRESTStore)(nil)
)

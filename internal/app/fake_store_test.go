package app

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"moodlog/api/internal/ctxutil"
	"moodlog/api/internal/normalize"
	"moodlog/api/internal/store"
)

type fakeEvent struct {
	store.NewEvent
	ID string
}

// fakeStore is an in-memory EventStore. Ownership follows the caller in the
// request data, like the backend's row policies. Func fields override a
// method when set.
type fakeStore struct {
	mu           sync.Mutex
	events       map[string]*fakeEvent
	emotions     map[string][]normalize.EmotionMapping
	associations map[string][]normalize.AssociationMapping
	responses    map[string]map[string]string
	calls        []string

	emotionRows     []map[string]any
	associationRows []map[string]any
	questionRows    []map[string]any
	profiles        map[string]*store.Profile
	activity        *store.EventActivity
	newsroom        []store.NewsroomRecord
	auditLogs       []map[string]any

	pingFn                  func(context.Context) error
	insertEventFn           func(context.Context, store.NewEvent) (string, error)
	getEventFullFn          func(context.Context, string) (json.RawMessage, error)
	updateEmotionMappingsFn func(context.Context, string, []normalize.EmotionMapping, int) error
	upsertEventFullFn       func(context.Context, store.UpsertEventArgs) (*string, error)
	upsertMoodFullFn        func(context.Context, store.UpsertMoodArgs) (*string, error)
	getEventsFn             func(context.Context, store.EventFilter) (json.RawMessage, error)
	getUserAuditLogsFn      func(context.Context, int) ([]map[string]any, error)
	listNewsroomFn          func(context.Context) ([]store.NewsroomRecord, error)
}

var _ store.EventStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:       map[string]*fakeEvent{},
		emotions:     map[string][]normalize.EmotionMapping{},
		associations: map[string][]normalize.AssociationMapping{},
		responses:    map[string]map[string]string{},
		profiles:     map[string]*store.Profile{},
	}
}

func (f *fakeStore) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeStore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func callerID(ctx context.Context) string {
	if rd := ctxutil.GetRequestData(ctx); rd != nil {
		return rd.ProfileID
	}
	return ""
}

func (f *fakeStore) owned(ctx context.Context, eventID string) (*fakeEvent, bool) {
	event, ok := f.events[eventID]
	if !ok || event.ProfileID != callerID(ctx) {
		return nil, false
	}
	return event, true
}

func permissionDenied(op string) error {
	return &store.Error{Op: op, Message: "event is not accessible", Code: store.CodePermissionDenied}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) InsertEvent(ctx context.Context, event store.NewEvent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("InsertEvent")
	if f.insertEventFn != nil {
		return f.insertEventFn(ctx, event)
	}
	id := uuid.NewString()
	f.events[id] = &fakeEvent{NewEvent: event, ID: id}
	return id, nil
}

func (f *fakeStore) FindOwnedEvent(ctx context.Context, eventID, profileID string) (*store.OwnedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("FindOwnedEvent")
	event, ok := f.events[eventID]
	if !ok || event.ProfileID != profileID {
		return nil, nil
	}
	valence := event.Valence
	return &store.OwnedEvent{ID: event.ID, Valence: &valence}, nil
}

func (f *fakeStore) ListEventEmotions(_ context.Context, eventID string) ([]normalize.EmotionMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListEventEmotions")
	return append([]normalize.EmotionMapping{}, f.emotions[eventID]...), nil
}

func (f *fakeStore) ListEventAssociations(_ context.Context, eventID string) ([]normalize.AssociationMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListEventAssociations")
	return append([]normalize.AssociationMapping{}, f.associations[eventID]...), nil
}

func (f *fakeStore) GetResponse(_ context.Context, eventID, questionID, profileID string) (*string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetResponse")
	event, ok := f.events[eventID]
	if !ok || event.ProfileID != profileID {
		return nil, false, nil
	}
	value, ok := f.responses[eventID][questionID]
	if !ok {
		return nil, false, nil
	}
	return &value, true, nil
}

func (f *fakeStore) ListEmotions(context.Context) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListEmotions")
	return f.emotionRows, nil
}

func (f *fakeStore) ListAssociations(context.Context) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListAssociations")
	return f.associationRows, nil
}

func (f *fakeStore) ListQuestions(_ context.Context, ids []string) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListQuestions")
	wanted := map[string]bool{}
	for _, id := range ids {
		wanted[id] = true
	}
	var out []map[string]any
	for _, row := range f.questionRows {
		if id, _ := row["id"].(string); wanted[id] {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeStore) GetProfile(_ context.Context, profileID string) (*store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetProfile")
	return f.profiles[profileID], nil
}

func (f *fakeStore) GetEventActivity(context.Context, string) (*store.EventActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetEventActivity")
	return f.activity, nil
}

func (f *fakeStore) ListPublishedNewsroom(ctx context.Context) ([]store.NewsroomRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListPublishedNewsroom")
	if f.listNewsroomFn != nil {
		return f.listNewsroomFn(ctx)
	}
	return f.newsroom, nil
}

func (f *fakeStore) GetNewsroom(_ context.Context, id string) (*store.NewsroomRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetNewsroom")
	for i := range f.newsroom {
		if f.newsroom[i].ID == id {
			record := f.newsroom[i]
			return &record, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpsertEventFull(ctx context.Context, args store.UpsertEventArgs) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpsertEventFull")
	if f.upsertEventFullFn != nil {
		return f.upsertEventFullFn(ctx, args)
	}
	id := uuid.NewString()
	event := &fakeEvent{ID: id, NewEvent: store.NewEvent{
		ProfileID:      args.ProfileID,
		Kind:           args.Kind,
		Valence:        args.Valence,
		OccurrenceDate: args.OccurrenceDate,
		OccurrenceTime: args.OccurrenceTime,
	}}
	f.events[id] = event
	f.emotions[id] = args.Emotions
	f.associations[id] = args.Associations
	return &id, nil
}

func (f *fakeStore) GetEventFull(ctx context.Context, eventID string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetEventFull")
	if f.getEventFullFn != nil {
		return f.getEventFullFn(ctx, eventID)
	}
	event, ok := f.owned(ctx, eventID)
	if !ok {
		return nil, nil
	}
	return f.eventJSON(event)
}

func (f *fakeStore) eventJSON(event *fakeEvent) (json.RawMessage, error) {
	questions := make([]string, 0, len(f.responses[event.ID]))
	for id := range f.responses[event.ID] {
		questions = append(questions, id)
	}
	sort.Strings(questions)
	responses := make([]normalize.Response, 0, len(questions))
	for _, id := range questions {
		responses = append(responses, normalize.Response{QuestionID: id, Value: f.responses[event.ID][id]})
	}
	emotions := append([]normalize.EmotionMapping{}, f.emotions[event.ID]...)
	associations := append([]normalize.AssociationMapping{}, f.associations[event.ID]...)
	return json.Marshal(map[string]any{
		"id":              event.ID,
		"profile_id":      event.ProfileID,
		"kind":            event.Kind,
		"valence":         event.Valence,
		"occurrence_date": event.OccurrenceDate,
		"occurrence_time": event.OccurrenceTime,
		"name":            event.Name,
		"description":     event.Description,
		"emotions":        emotions,
		"associations":    associations,
		"responses":       responses,
	})
}

func (f *fakeStore) GetEvents(ctx context.Context, filter store.EventFilter) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetEvents")
	if f.getEventsFn != nil {
		return f.getEventsFn(ctx, filter)
	}
	return json.RawMessage("[]"), nil
}

func (f *fakeStore) UpdateEventField(ctx context.Context, eventID string, patch map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateEventField")
	event, ok := f.owned(ctx, eventID)
	if !ok {
		return nil, permissionDenied("update_event_field")
	}
	for column, value := range patch {
		switch column {
		case "kind":
			event.Kind, _ = value.(string)
		case "valence":
			event.Valence, _ = value.(int)
		case "occurrence_date":
			event.OccurrenceDate, _ = value.(string)
		case "occurrence_time":
			event.OccurrenceTime = stringPtr(value)
		case "name":
			event.Name = stringPtr(value)
		case "description":
			event.Description = stringPtr(value)
		}
	}
	return f.eventJSON(event)
}

func stringPtr(value any) *string {
	if s, ok := value.(string); ok {
		return &s
	}
	return nil
}

func (f *fakeStore) UpdateEmotionMappings(ctx context.Context, eventID string, emotions []normalize.EmotionMapping, eventValence int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateEmotionMappings")
	if f.updateEmotionMappingsFn != nil {
		return f.updateEmotionMappingsFn(ctx, eventID, emotions, eventValence)
	}
	if _, ok := f.owned(ctx, eventID); !ok {
		return permissionDenied("update_emotion_mappings")
	}
	f.emotions[eventID] = append([]normalize.EmotionMapping{}, emotions...)
	return nil
}

func (f *fakeStore) UpdateAssociationMappings(ctx context.Context, eventID string, associations []normalize.AssociationMapping, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateAssociationMappings")
	if _, ok := f.owned(ctx, eventID); !ok {
		return permissionDenied("update_association_mappings")
	}
	f.associations[eventID] = append([]normalize.AssociationMapping{}, associations...)
	return nil
}

func (f *fakeStore) UpdateResponseValue(ctx context.Context, eventID, questionID string, value *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateResponseValue")
	if _, ok := f.owned(ctx, eventID); !ok {
		return permissionDenied("update_response_value")
	}
	if value == nil {
		delete(f.responses[eventID], questionID)
		return nil
	}
	if f.responses[eventID] == nil {
		f.responses[eventID] = map[string]string{}
	}
	f.responses[eventID][questionID] = *value
	return nil
}

func (f *fakeStore) UpsertMoodFull(ctx context.Context, args store.UpsertMoodArgs) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpsertMoodFull")
	if f.upsertMoodFullFn != nil {
		return f.upsertMoodFullFn(ctx, args)
	}
	id := uuid.NewString()
	return &id, nil
}

func (f *fakeStore) GetUserAuditLogs(ctx context.Context, limit int) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetUserAuditLogs")
	if f.getUserAuditLogsFn != nil {
		return f.getUserAuditLogsFn(ctx, limit)
	}
	return f.auditLogs, nil
}

func timePtr(t time.Time) *time.Time { return &t }

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"moodlog/api/internal/ctxutil"
	"moodlog/api/internal/normalize"
)

// PostgRESTStore reaches the same schema through a PostgREST gateway. The
// caller's access token is forwarded so row level security and the
// procedures' ownership checks see the real user.
type PostgRESTStore struct {
	client  *resty.Client
	anonKey string
}

type PostgRESTConfig struct {
	URL     string
	AnonKey string
	Timeout time.Duration
}

func NewPostgRESTStore(cfg PostgRESTConfig) *PostgRESTStore {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")+"/rest/v1").
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &PostgRESTStore{client: client, anonKey: cfg.AnonKey}
}

// restError is the error body PostgREST returns.
type restError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (s *PostgRESTStore) request(ctx context.Context) *resty.Request {
	token := ctxutil.AccessToken(ctx)
	if token == "" {
		token = s.anonKey
	}
	r := s.client.R().
		SetContext(ctx).
		SetError(&restError{})
	if s.anonKey != "" {
		r.SetHeader("apikey", s.anonKey)
	}
	if token != "" {
		r.SetAuthToken(token)
	}
	if id := ctxutil.RequestID(ctx); id != "" {
		r.SetHeader("X-Request-ID", id)
	}
	return r
}

func (s *PostgRESTStore) do(op string, resp *resty.Response, err error) error {
	if err != nil {
		return wrapErr(op, err)
	}
	if !resp.IsError() {
		return nil
	}
	storeErr := &Error{Op: op, Message: http.StatusText(resp.StatusCode())}
	if body, ok := resp.Error().(*restError); ok && body.Message != "" {
		storeErr.Message = body.Message
		storeErr.Code = body.Code
	}
	if storeErr.Code == "" && resp.StatusCode() == http.StatusForbidden {
		storeErr.Code = CodePermissionDenied
	}
	return storeErr
}

func (s *PostgRESTStore) Ping(ctx context.Context) error {
	resp, err := s.request(ctx).Get("/")
	return s.do("ping", resp, err)
}

func (s *PostgRESTStore) InsertEvent(ctx context.Context, event NewEvent) (string, error) {
	var rows []struct {
		ID string `json:"id"`
	}
	resp, err := s.request(ctx).
		SetHeader("Prefer", "return=representation").
		SetQueryParam("select", "id").
		SetBody(event).
		SetResult(&rows).
		Post("/events")
	if err := s.do("insert event", resp, err); err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].ID, nil
}

func (s *PostgRESTStore) FindOwnedEvent(ctx context.Context, eventID, profileID string) (*OwnedEvent, error) {
	if !validUUID(eventID) || !validUUID(profileID) {
		return nil, nil
	}
	var rows []OwnedEvent
	resp, err := s.request(ctx).
		SetQueryParams(map[string]string{
			"select":     "id,valence",
			"id":         "eq." + eventID,
			"profile_id": "eq." + profileID,
		}).
		SetResult(&rows).
		Get("/events")
	if err := s.do("find event", resp, err); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *PostgRESTStore) ListEventEmotions(ctx context.Context, eventID string) ([]normalize.EmotionMapping, error) {
	rows := []normalize.EmotionMapping{}
	resp, err := s.request(ctx).
		SetQueryParams(map[string]string{
			"select":   "emotion_id,valence",
			"event_id": "eq." + eventID,
			"order":    "emotion_id",
		}).
		SetResult(&rows).
		Get("/event_emotions")
	if err := s.do("list event emotions", resp, err); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *PostgRESTStore) ListEventAssociations(ctx context.Context, eventID string) ([]normalize.AssociationMapping, error) {
	rows := []normalize.AssociationMapping{}
	resp, err := s.request(ctx).
		SetQueryParams(map[string]string{
			"select":   "association_id,valence",
			"event_id": "eq." + eventID,
			"order":    "association_id",
		}).
		SetResult(&rows).
		Get("/event_associations")
	if err := s.do("list event associations", resp, err); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *PostgRESTStore) GetResponse(ctx context.Context, eventID, questionID, profileID string) (*string, bool, error) {
	if !validUUID(eventID) || !validUUID(questionID) {
		return nil, false, nil
	}
	var rows []struct {
		Value *string `json:"value"`
	}
	resp, err := s.request(ctx).
		SetQueryParams(map[string]string{
			"select":      "value",
			"event_id":    "eq." + eventID,
			"question_id": "eq." + questionID,
			"profile_id":  "eq." + profileID,
		}).
		SetResult(&rows).
		Get("/event_responses")
	if err := s.do("get response", resp, err); err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0].Value, true, nil
}

func (s *PostgRESTStore) ListEmotions(ctx context.Context) ([]map[string]any, error) {
	return s.listObjects(ctx, "list emotions", "/emotions", map[string]string{"select": "*", "order": "name"})
}

func (s *PostgRESTStore) ListAssociations(ctx context.Context) ([]map[string]any, error) {
	return s.listObjects(ctx, "list associations", "/associations", map[string]string{"select": "*", "order": "name"})
}

func (s *PostgRESTStore) ListQuestions(ctx context.Context, ids []string) ([]map[string]any, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validUUID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return []map[string]any{}, nil
	}
	return s.listObjects(ctx, "list questions", "/questions", map[string]string{
		"select": "*",
		"id":     "in.(" + strings.Join(valid, ",") + ")",
	})
}

func (s *PostgRESTStore) GetProfile(ctx context.Context, profileID string) (*Profile, error) {
	if !validUUID(profileID) {
		return nil, nil
	}
	var rows []Profile
	resp, err := s.request(ctx).
		SetQueryParams(map[string]string{
			"select": "full_name,avatar_url,role,created_at",
			"id":     "eq." + profileID,
		}).
		SetResult(&rows).
		Get("/profiles")
	if err := s.do("get profile", resp, err); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *PostgRESTStore) GetEventActivity(ctx context.Context, profileID string) (*EventActivity, error) {
	if !validUUID(profileID) {
		return nil, nil
	}
	var rows []EventActivity
	resp, err := s.request(ctx).
		SetQueryParams(map[string]string{
			"select":     "created_activity,occurrence_activity",
			"profile_id": "eq." + profileID,
		}).
		SetResult(&rows).
		Get("/event_activity_projection")
	if err := s.do("get event activity", resp, err); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

const newsroomSelect = "id::text,created_at,category,published,name,name_en,description,description_en,content,content_en,resource,type"

func (s *PostgRESTStore) ListPublishedNewsroom(ctx context.Context) ([]NewsroomRecord, error) {
	records := []NewsroomRecord{}
	resp, err := s.request(ctx).
		SetQueryParams(map[string]string{
			"select":    newsroomSelect,
			"published": "is.true",
			"order":     "created_at.desc",
		}).
		SetResult(&records).
		Get("/newsroom")
	if err := s.do("list newsroom", resp, err); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *PostgRESTStore) GetNewsroom(ctx context.Context, id string) (*NewsroomRecord, error) {
	if _, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err != nil {
		return nil, nil
	}
	var records []NewsroomRecord
	resp, err := s.request(ctx).
		SetQueryParams(map[string]string{
			"select":    newsroomSelect,
			"id":        "eq." + strings.TrimSpace(id),
			"published": "is.true",
		}).
		SetResult(&records).
		Get("/newsroom")
	if err := s.do("get newsroom", resp, err); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (s *PostgRESTStore) UpsertEventFull(ctx context.Context, args UpsertEventArgs) (*string, error) {
	if args.Emotions == nil {
		args.Emotions = []normalize.EmotionMapping{}
	}
	if args.Associations == nil {
		args.Associations = []normalize.AssociationMapping{}
	}
	return s.rpcID(ctx, "upsert_event_full", args)
}

func (s *PostgRESTStore) GetEventFull(ctx context.Context, eventID string) (json.RawMessage, error) {
	if !validUUID(eventID) {
		return nil, nil
	}
	raw, err := s.rpc(ctx, "get_event_full", map[string]any{"event_uuid": eventID}, nil)
	if err != nil || isJSONNull(raw) {
		return nil, err
	}
	return raw, nil
}

func (s *PostgRESTStore) GetEvents(ctx context.Context, filter EventFilter) (json.RawMessage, error) {
	raw, err := s.rpc(ctx, "get_events", filter, nil)
	if err != nil {
		return nil, err
	}
	if isJSONNull(raw) {
		return json.RawMessage("[]"), nil
	}
	return raw, nil
}

func (s *PostgRESTStore) UpdateEventField(ctx context.Context, eventID string, patch map[string]any) (json.RawMessage, error) {
	raw, err := s.rpc(ctx, "update_event_field", map[string]any{"p_event_id": eventID, "p_patch": patch}, nil)
	if err != nil || isJSONNull(raw) {
		return nil, err
	}
	return raw, nil
}

func (s *PostgRESTStore) UpdateEmotionMappings(ctx context.Context, eventID string, emotions []normalize.EmotionMapping, eventValence int) error {
	if emotions == nil {
		emotions = []normalize.EmotionMapping{}
	}
	_, err := s.rpc(ctx, "update_emotion_mappings", map[string]any{
		"p_event_id":      eventID,
		"p_emotions":      emotions,
		"p_event_valence": eventValence,
	}, nil)
	return err
}

func (s *PostgRESTStore) UpdateAssociationMappings(ctx context.Context, eventID string, associations []normalize.AssociationMapping, eventValence int) error {
	if associations == nil {
		associations = []normalize.AssociationMapping{}
	}
	_, err := s.rpc(ctx, "update_association_mappings", map[string]any{
		"p_event_id":      eventID,
		"p_associations":  associations,
		"p_event_valence": eventValence,
	}, nil)
	return err
}

func (s *PostgRESTStore) UpdateResponseValue(ctx context.Context, eventID, questionID string, value *string) error {
	_, err := s.rpc(ctx, "update_response_value", map[string]any{
		"p_event_id":    eventID,
		"p_question_id": questionID,
		"p_value":       value,
	}, nil)
	return err
}

func (s *PostgRESTStore) UpsertMoodFull(ctx context.Context, args UpsertMoodArgs) (*string, error) {
	body := map[string]any{
		"p_profile_id":      args.ProfileID,
		"p_kind":            args.Kind,
		"p_valence":         scalarText(args.Valence),
		"p_occurrence_date": args.OccurrenceDate,
		"p_occurrence_time": args.OccurrenceTime,
		"p_emotions":        emptyIfNil(args.Emotions),
		"p_associations":    emptyIfNil(args.Associations),
	}
	return s.rpcID(ctx, "upsert_mood_full", body)
}

func (s *PostgRESTStore) GetUserAuditLogs(ctx context.Context, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 20
	}
	raw, err := s.rpc(ctx, "get_user_audit_logs", map[string]any{}, map[string]string{"limit": strconv.Itoa(limit)})
	if err != nil {
		return nil, err
	}
	out := []map[string]any{}
	if isJSONNull(raw) {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &Error{Op: "get_user_audit_logs", Message: fmt.Sprintf("decode response: %v", err)}
	}
	return out, nil
}

func (s *PostgRESTStore) listObjects(ctx context.Context, op, path string, params map[string]string) ([]map[string]any, error) {
	rows := []map[string]any{}
	resp, err := s.request(ctx).SetQueryParams(params).SetResult(&rows).Get(path)
	if err := s.do(op, resp, err); err != nil {
		return nil, err
	}
	return rows, nil
}

// rpc posts body to /rpc/<fn> and returns the raw JSON result.
func (s *PostgRESTStore) rpc(ctx context.Context, fn string, body any, params map[string]string) (json.RawMessage, error) {
	r := s.request(ctx).SetBody(body)
	if len(params) > 0 {
		r.SetQueryParams(params)
	}
	resp, err := r.Post("/rpc/" + fn)
	if err := s.do(fn, resp, err); err != nil {
		return nil, err
	}
	raw := strings.TrimSpace(string(resp.Body()))
	if raw == "" {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(raw), nil
}

// rpcID calls a procedure that returns a scalar id.
func (s *PostgRESTStore) rpcID(ctx context.Context, fn string, body any) (*string, error) {
	raw, err := s.rpc(ctx, fn, body, nil)
	if err != nil {
		return nil, err
	}
	if isJSONNull(raw) {
		return nil, nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, &Error{Op: fn, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return &id, nil
}

func isJSONNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

func emptyIfNil(items []map[string]any) []map[string]any {
	if items == nil {
		return []map[string]any{}
	}
	return items
}

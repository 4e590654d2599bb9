package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"moodlog/api/internal/ctxutil"
	"moodlog/api/internal/normalize"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// PostgresStore talks to the database directly. Procedures run in a short
// transaction that carries the caller's profile id in request.jwt.claim.sub,
// which is what the SQL functions check ownership against.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return wrapErr("ping", s.db.Ping(ctx))
}

func (s *PostgresStore) InsertEvent(ctx context.Context, event NewEvent) (string, error) {
	query, args, err := psql.Insert("events").
		Columns("profile_id", "kind", "valence", "occurrence_date", "occurrence_time", "name", "description").
		Values(event.ProfileID, event.Kind, event.Valence, event.OccurrenceDate, event.OccurrenceTime, event.Name, event.Description).
		Suffix("RETURNING id::text").
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build insert event: %w", err)
	}
	var id string
	if err := s.db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return "", wrapErr("insert event", err)
	}
	return id, nil
}

// FindOwnedEvent returns nil when the event does not exist or belongs to
// someone else.
func (s *PostgresStore) FindOwnedEvent(ctx context.Context, eventID, profileID string) (*OwnedEvent, error) {
	if !validUUID(eventID) || !validUUID(profileID) {
		return nil, nil
	}
	query, args, err := psql.Select("id::text AS id", "valence").
		From("events").
		Where(squirrel.Eq{"id": eventID, "profile_id": profileID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find event: %w", err)
	}
	var event OwnedEvent
	if err := pgxscan.Get(ctx, s.db, &event, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, wrapErr("find event", err)
	}
	return &event, nil
}

func (s *PostgresStore) ListEventEmotions(ctx context.Context, eventID string) ([]normalize.EmotionMapping, error) {
	query, args, err := psql.Select("emotion_id", "valence").
		From("event_emotions").
		Where(squirrel.Eq{"event_id": eventID}).
		OrderBy("emotion_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list event emotions: %w", err)
	}
	rows := []normalize.EmotionMapping{}
	if err := pgxscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, wrapErr("list event emotions", err)
	}
	return rows, nil
}

func (s *PostgresStore) ListEventAssociations(ctx context.Context, eventID string) ([]normalize.AssociationMapping, error) {
	query, args, err := psql.Select("association_id", "valence").
		From("event_associations").
		Where(squirrel.Eq{"event_id": eventID}).
		OrderBy("association_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list event associations: %w", err)
	}
	rows := []normalize.AssociationMapping{}
	if err := pgxscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, wrapErr("list event associations", err)
	}
	return rows, nil
}

func (s *PostgresStore) GetResponse(ctx context.Context, eventID, questionID, profileID string) (*string, bool, error) {
	if !validUUID(eventID) || !validUUID(questionID) {
		return nil, false, nil
	}
	query, args, err := psql.Select("value").
		From("event_responses").
		Where(squirrel.Eq{"event_id": eventID, "question_id": questionID, "profile_id": profileID}).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build get response: %w", err)
	}
	var value *string
	if err := s.db.QueryRow(ctx, query, args...).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, wrapErr("get response", err)
	}
	return value, true, nil
}

func (s *PostgresStore) ListEmotions(ctx context.Context) ([]map[string]any, error) {
	return s.selectObjects(ctx, "list emotions", psql.Select("to_jsonb(e)::text").From("emotions e").OrderBy("e.name"))
}

func (s *PostgresStore) ListAssociations(ctx context.Context) ([]map[string]any, error) {
	return s.selectObjects(ctx, "list associations", psql.Select("to_jsonb(a)::text").From("associations a").OrderBy("a.name"))
}

// ListQuestions silently skips ids that are not UUIDs; callers fill in
// placeholders for anything missing.
func (s *PostgresStore) ListQuestions(ctx context.Context, ids []string) ([]map[string]any, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validUUID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return []map[string]any{}, nil
	}
	return s.selectObjects(ctx, "list questions",
		psql.Select("to_jsonb(q)::text").From("questions q").Where(squirrel.Eq{"q.id": valid}))
}

func (s *PostgresStore) GetProfile(ctx context.Context, profileID string) (*Profile, error) {
	if !validUUID(profileID) {
		return nil, nil
	}
	query, args, err := psql.Select("full_name", "avatar_url", "role", "created_at").
		From("profiles").
		Where(squirrel.Eq{"id": profileID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get profile: %w", err)
	}
	var profile Profile
	if err := pgxscan.Get(ctx, s.db, &profile, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, wrapErr("get profile", err)
	}
	return &profile, nil
}

func (s *PostgresStore) GetEventActivity(ctx context.Context, profileID string) (*EventActivity, error) {
	if !validUUID(profileID) {
		return nil, nil
	}
	query, args, err := psql.Select("created_activity::text", "occurrence_activity::text").
		From("event_activity_projection").
		Where(squirrel.Eq{"profile_id": profileID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get event activity: %w", err)
	}
	var created, occurred string
	if err := s.db.QueryRow(ctx, query, args...).Scan(&created, &occurred); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("get event activity", err)
	}
	return &EventActivity{
		CreatedActivity:    json.RawMessage(created),
		OccurrenceActivity: json.RawMessage(occurred),
	}, nil
}

func (s *PostgresStore) ListPublishedNewsroom(ctx context.Context) ([]NewsroomRecord, error) {
	query, args, err := psql.Select(newsroomColumns...).
		From("newsroom").
		Where(squirrel.Eq{"published": true}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list newsroom: %w", err)
	}
	records := []NewsroomRecord{}
	if err := pgxscan.Select(ctx, s.db, &records, query, args...); err != nil {
		return nil, wrapErr("list newsroom", err)
	}
	return records, nil
}

func (s *PostgresStore) GetNewsroom(ctx context.Context, id string) (*NewsroomRecord, error) {
	query, args, err := psql.Select(newsroomColumns...).
		From("newsroom").
		Where(squirrel.Eq{"id::text": id, "published": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get newsroom: %w", err)
	}
	var record NewsroomRecord
	if err := pgxscan.Get(ctx, s.db, &record, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, wrapErr("get newsroom", err)
	}
	return &record, nil
}

func (s *PostgresStore) UpsertEventFull(ctx context.Context, args UpsertEventArgs) (*string, error) {
	emotions, err := jsonArg(args.Emotions)
	if err != nil {
		return nil, err
	}
	associations, err := jsonArg(args.Associations)
	if err != nil {
		return nil, err
	}
	return s.callText(ctx, "upsert_event_full", []rpcArg{
		{"p_profile_id", "uuid", args.ProfileID},
		{"p_kind", "", args.Kind},
		{"p_valence", "integer", args.Valence},
		{"p_occurrence_date", "date", args.OccurrenceDate},
		{"p_occurrence_time", "time", args.OccurrenceTime},
		{"p_name", "", args.Name},
		{"p_description", "", args.Description},
		{"p_emotions", "jsonb", emotions},
		{"p_associations", "jsonb", associations},
	})
}

// GetEventFull returns nil when the event is missing or not owned by the
// caller.
func (s *PostgresStore) GetEventFull(ctx context.Context, eventID string) (json.RawMessage, error) {
	if !validUUID(eventID) {
		return nil, nil
	}
	out, err := s.callText(ctx, "get_event_full", []rpcArg{{"event_uuid", "uuid", eventID}})
	if err != nil || out == nil {
		return nil, err
	}
	return json.RawMessage(*out), nil
}

func (s *PostgresStore) GetEvents(ctx context.Context, filter EventFilter) (json.RawMessage, error) {
	out, err := s.callText(ctx, "get_events", []rpcArg{
		{"p_kind", "", filter.Kind},
		{"p_from", "date", filter.From},
		{"p_to", "date", filter.To},
		{"p_limit", "integer", filter.Limit},
		{"p_offset", "integer", filter.Offset},
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return json.RawMessage("[]"), nil
	}
	return json.RawMessage(*out), nil
}

func (s *PostgresStore) UpdateEventField(ctx context.Context, eventID string, patch map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("encode event patch: %w", err)
	}
	out, err := s.callText(ctx, "update_event_field", []rpcArg{
		{"p_event_id", "uuid", eventID},
		{"p_patch", "jsonb", string(body)},
	})
	if err != nil || out == nil {
		return nil, err
	}
	return json.RawMessage(*out), nil
}

func (s *PostgresStore) UpdateEmotionMappings(ctx context.Context, eventID string, emotions []normalize.EmotionMapping, eventValence int) error {
	body, err := jsonArg(emotions)
	if err != nil {
		return err
	}
	return s.callVoid(ctx, "update_emotion_mappings", []rpcArg{
		{"p_event_id", "uuid", eventID},
		{"p_emotions", "jsonb", body},
		{"p_event_valence", "integer", eventValence},
	})
}

func (s *PostgresStore) UpdateAssociationMappings(ctx context.Context, eventID string, associations []normalize.AssociationMapping, eventValence int) error {
	body, err := jsonArg(associations)
	if err != nil {
		return err
	}
	return s.callVoid(ctx, "update_association_mappings", []rpcArg{
		{"p_event_id", "uuid", eventID},
		{"p_associations", "jsonb", body},
		{"p_event_valence", "integer", eventValence},
	})
}

// UpdateResponseValue stores value, or removes the response when value is nil.
func (s *PostgresStore) UpdateResponseValue(ctx context.Context, eventID, questionID string, value *string) error {
	return s.callVoid(ctx, "update_response_value", []rpcArg{
		{"p_event_id", "uuid", eventID},
		{"p_question_id", "uuid", questionID},
		{"p_value", "", value},
	})
}

func (s *PostgresStore) UpsertMoodFull(ctx context.Context, args UpsertMoodArgs) (*string, error) {
	emotions, err := jsonArg(args.Emotions)
	if err != nil {
		return nil, err
	}
	associations, err := jsonArg(args.Associations)
	if err != nil {
		return nil, err
	}
	return s.callText(ctx, "upsert_mood_full", []rpcArg{
		{"p_profile_id", "uuid", args.ProfileID},
		{"p_kind", "", args.Kind},
		{"p_valence", "", scalarText(args.Valence)},
		{"p_occurrence_date", "date", args.OccurrenceDate},
		{"p_occurrence_time", "time", args.OccurrenceTime},
		{"p_emotions", "jsonb", emotions},
		{"p_associations", "jsonb", associations},
	})
}

func (s *PostgresStore) GetUserAuditLogs(ctx context.Context, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 20
	}
	builder := psql.Select("to_jsonb(l)::text").From("get_user_audit_logs() l").Limit(uint64(limit))
	var out []map[string]any
	err := s.asCaller(ctx, "get_user_audit_logs", func(tx pgx.Tx) error {
		var err error
		out, err = selectObjects(ctx, tx, builder)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type rpcArg struct {
	name  string
	cast  string
	value any
}

// rpcQuery renders a named-argument call: SELECT fn(p_a => $1::uuid, ...).
func rpcQuery(fn string, args []rpcArg, resultCast string) (string, []any, error) {
	parts := make([]string, 0, len(args))
	values := make([]any, 0, len(args))
	for _, arg := range args {
		placeholder := "?"
		if arg.cast != "" {
			placeholder += "::" + arg.cast
		}
		parts = append(parts, arg.name+" => "+placeholder)
		values = append(values, arg.value)
	}
	expr := fn + "(" + strings.Join(parts, ", ") + ")"
	if resultCast != "" {
		expr += "::" + resultCast
	}
	return psql.Select().Column(squirrel.Expr(expr, values...)).ToSql()
}

func (s *PostgresStore) callText(ctx context.Context, fn string, args []rpcArg) (*string, error) {
	query, values, err := rpcQuery(fn, args, "text")
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", fn, err)
	}
	var out *string
	err = s.asCaller(ctx, fn, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, values...).Scan(&out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) callVoid(ctx context.Context, fn string, args []rpcArg) error {
	query, values, err := rpcQuery(fn, args, "")
	if err != nil {
		return fmt.Errorf("build %s: %w", fn, err)
	}
	return s.asCaller(ctx, fn, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query, values...)
		return err
	})
}

// asCaller runs fn in a transaction scoped to the caller's profile id.
func (s *PostgresStore) asCaller(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	var profileID string
	if rd := ctxutil.GetRequestData(ctx); rd != nil {
		profileID = rd.ProfileID
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return wrapErr(op, err)
	}
	if _, err := tx.Exec(ctx, "SELECT set_config('request.jwt.claim.sub', $1, true)", profileID); err != nil {
		_ = tx.Rollback(ctx)
		return wrapErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return wrapErr(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

func (s *PostgresStore) selectObjects(ctx context.Context, op string, builder squirrel.SelectBuilder) ([]map[string]any, error) {
	out, err := selectObjects(ctx, s.db, builder)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return out, nil
}

// selectObjects runs a single-column query whose rows are JSON objects.
func selectObjects(ctx context.Context, q pgxscan.Querier, builder squirrel.SelectBuilder) ([]map[string]any, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var raw []string
	if err := pgxscan.Select(ctx, q, &raw, query, args...); err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		var obj map[string]any
		if err := json.Unmarshal([]byte(item), &obj); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, obj)
	}
	return out, nil
}

func jsonArg[T any](items []T) (string, error) {
	if items == nil {
		return "[]", nil
	}
	body, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode argument: %w", err)
	}
	return string(body), nil
}

// scalarText renders a loosely typed request value as the text the
// procedures parse. nil stays nil.
func scalarText(v any) *string {
	var s string
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		s = x
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		s = x.String()
	default:
		s = fmt.Sprint(x)
	}
	return &s
}

func validUUID(s string) bool {
	_, err := uuid.Parse(strings.TrimSpace(s))
	return err == nil
}

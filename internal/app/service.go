package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"moodlog/api/internal/apierr"
	"moodlog/api/internal/auth"
	"moodlog/api/internal/i18n"
	"moodlog/api/internal/logger"
	"moodlog/api/internal/normalize"
	"moodlog/api/internal/store"
	"moodlog/api/internal/templates"
	"moodlog/api/internal/wizard"
)

// Revocations records logged-out tokens until they expire.
type Revocations interface {
	Revoke(ctx context.Context, tokenID, profileID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	Ping(ctx context.Context) error
}

type Options struct {
	Store store.EventStore
	// Lookups defaults to Store; main wires the Redis lookup cache here.
	Lookups     templates.LookupStore
	Catalog     *templates.Catalog
	Verifier    *auth.Verifier
	Revocations Revocations
	I18n        *i18n.Bundle
	Logger      *logger.Logger
	Metrics     *Metrics
}

type Service struct {
	store       store.EventStore
	lookups     templates.LookupStore
	resolver    *templates.Resolver
	wizard      *wizard.Controller
	verifier    *auth.Verifier
	revocations Revocations
	i18n        *i18n.Bundle
	log         *logger.Logger
	metrics     *Metrics
}

var _ wizard.Gateway = (*Service)(nil)

func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("app: store is required")
	}
	if opts.Verifier == nil {
		return nil, errors.New("app: token verifier is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Lookups == nil {
		opts.Lookups = opts.Store
	}
	if opts.Catalog == nil {
		catalog, err := templates.DefaultCatalog()
		if err != nil {
			return nil, fmt.Errorf("load default templates: %w", err)
		}
		opts.Catalog = catalog
	}
	if opts.I18n == nil {
		bundle, err := i18n.Load("fr")
		if err != nil {
			return nil, fmt.Errorf("load locales: %w", err)
		}
		opts.I18n = bundle
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	s := &Service{
		store:       opts.Store,
		lookups:     opts.Lookups,
		verifier:    opts.Verifier,
		revocations: opts.Revocations,
		i18n:        opts.I18n,
		log:         opts.Logger,
		metrics:     opts.Metrics,
	}
	s.resolver = templates.NewResolver(opts.Catalog, opts.Lookups, opts.Logger)
	s.wizard = wizard.NewController(s.resolver, s, opts.Logger)
	return s, nil
}

// Ping checks the backend and, when configured, the revocation store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingRevocations(ctx context.Context) error {
	if s.revocations == nil {
		return nil
	}
	return s.revocations.Ping(ctx)
}

// Authenticate verifies token and rejects revoked ones. A revocation store
// that cannot answer fails the request rather than letting it through.
func (s *Service) Authenticate(ctx context.Context, token string) (*auth.Identity, error) {
	identity, err := s.verifier.Verify(token)
	if err != nil {
		return nil, err
	}
	if s.revocations == nil {
		return identity, nil
	}
	revoked, err := s.revocations.IsRevoked(ctx, identity.RevocationKey())
	if err != nil {
		s.log.Error("revocation lookup failed", "profile_id", identity.ProfileID, "error", err)
		return nil, apierr.New(apierr.KindUpstream, http.StatusInternalServerError, "Session lookup failed", nil)
	}
	if revoked {
		return nil, auth.ErrInvalidToken
	}
	return identity, nil
}

// Logout revokes the caller's token until it expires. Without a revocation
// store the call is a no-op; the client drops its token either way.
func (s *Service) Logout(ctx context.Context, identity *auth.Identity) error {
	if identity == nil || s.revocations == nil {
		return nil
	}
	if err := s.revocations.Revoke(ctx, identity.RevocationKey(), identity.ProfileID, identity.ExpiresAt); err != nil {
		s.log.Error("revoke token failed", "profile_id", identity.ProfileID, "error", err)
		return apierr.New(apierr.KindUpstream, http.StatusInternalServerError, "Unable to sign out", nil)
	}
	return nil
}

// CreateBasicEvent inserts an event from a loosely shaped body. Only
// occurrence_date is required.
func (s *Service) CreateBasicEvent(ctx context.Context, body map[string]any) (string, error) {
	profileID, err := requireProfile(ctx)
	if err != nil {
		return "", err
	}
	date := normalize.Text(body["occurrence_date"])
	if date == "" {
		return "", apierr.Validation("occurrence_date is required")
	}
	id, err := s.store.InsertEvent(ctx, store.NewEvent{
		ProfileID:      profileID,
		Kind:           normalize.Kind(body["kind"]),
		Valence:        normalize.EventValence(body["valence"]),
		OccurrenceDate: date,
		OccurrenceTime: normalize.Time(body["occurrence_time"]),
		Name:           optionalText(body["name"]),
		Description:    optionalText(body["description"]),
	})
	if err != nil {
		return "", s.backendError(ctx, "insert event", "Unable to create event", err)
	}
	return id, nil
}

// UpsertEvent saves a complete event with its mappings in one procedure
// call. The profile is always the caller's, whatever the payload says.
func (s *Service) UpsertEvent(ctx context.Context, payload map[string]any) (*string, error) {
	profileID, err := requireProfile(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireFields(payload, "p_kind", "p_valence", "p_occurrence_date"); err != nil {
		return nil, err
	}
	id, err := s.store.UpsertEventFull(ctx, store.UpsertEventArgs{
		ProfileID:      profileID,
		Kind:           normalize.Kind(payload["p_kind"]),
		Valence:        normalize.EventValence(payload["p_valence"]),
		OccurrenceDate: normalize.Text(payload["p_occurrence_date"]),
		OccurrenceTime: normalize.Time(payload["p_occurrence_time"]),
		Name:           normalize.Text(payload["p_name"]),
		Description:    normalize.Text(payload["p_description"]),
		Emotions:       normalize.EmotionCollection(payload["p_emotions"]),
		Associations:   normalize.AssociationCollection(payload["p_associations"]),
	})
	if err != nil {
		return nil, s.backendError(ctx, "upsert_event_full", "Unable to save event", err)
	}
	return id, nil
}

// UpsertMood saves a mood entry. Intensity entries at or below zero are
// left out of both collections.
func (s *Service) UpsertMood(ctx context.Context, payload map[string]any) (*string, error) {
	profileID, err := requireProfile(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireFields(payload, "p_kind", "p_valence", "p_occurrence_date"); err != nil {
		return nil, err
	}
	id, err := s.store.UpsertMoodFull(ctx, store.UpsertMoodArgs{
		ProfileID:      profileID,
		Kind:           normalize.Text(payload["p_kind"]),
		Valence:        payload["p_valence"],
		OccurrenceDate: normalize.Text(payload["p_occurrence_date"]),
		OccurrenceTime: normalize.Time(payload["p_occurrence_time"]),
		Emotions:       normalize.MoodCollection(payload["p_emotions"], "emotion_id", true),
		Associations:   normalize.MoodCollection(payload["p_associations"], "association_id", true),
	})
	if err != nil {
		return nil, s.backendError(ctx, "upsert_mood_full", "Unable to save mood", err)
	}
	return id, nil
}

// GetEvent returns the full event document, NotFound when the backend has
// nothing for the caller.
func (s *Service) GetEvent(ctx context.Context, eventID string) (map[string]any, error) {
	if _, err := requireProfile(ctx); err != nil {
		return nil, err
	}
	raw, err := s.store.GetEventFull(ctx, eventID)
	if err != nil {
		return nil, s.upstreamError(ctx, "get_event_full", "Unable to load event", err)
	}
	if raw == nil {
		return nil, apierr.NotFound("Event not found")
	}
	return s.decodeEvent(ctx, "get_event_full", "Unable to load event", raw)
}

func (s *Service) ListEvents(ctx context.Context, filter store.EventFilter) (json.RawMessage, error) {
	if _, err := requireProfile(ctx); err != nil {
		return nil, err
	}
	raw, err := s.store.GetEvents(ctx, filter)
	if err != nil {
		return nil, s.upstreamError(ctx, "get_events", "Unable to load events", err)
	}
	return raw, nil
}

// UpdateEvent applies a partial update. Every key must name an editable
// column; values are normalized per column.
func (s *Service) UpdateEvent(ctx context.Context, eventID string, patch map[string]any) (map[string]any, error) {
	if _, err := requireProfile(ctx); err != nil {
		return nil, err
	}
	normalized, err := normalizePatch(patch)
	if err != nil {
		return nil, err
	}
	raw, err := s.store.UpdateEventField(ctx, eventID, normalized)
	if err != nil {
		return nil, s.backendError(ctx, "update_event_field", "Unable to update event", err)
	}
	if raw == nil {
		return nil, apierr.NotFound("Event not found")
	}
	return s.decodeEvent(ctx, "update_event_field", "Unable to update event", raw)
}

func (s *Service) PatchEvent(ctx context.Context, eventID string, patch map[string]any) error {
	_, err := s.UpdateEvent(ctx, eventID, patch)
	return err
}

var patchableColumns = []string{
	"kind", "valence", normalize.ColumnOccurrenceDate, normalize.ColumnOccurrenceTime, "name", "description",
}

func normalizePatch(patch map[string]any) (map[string]any, error) {
	if len(patch) == 0 {
		return nil, apierr.Validation("Patch payload must include at least one field")
	}
	keys := make([]string, 0, len(patch))
	for key := range patch {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(patch))
	for _, key := range keys {
		raw := patch[key]
		switch key {
		case "kind":
			out[key] = normalize.Kind(raw)
		case "valence":
			out[key] = normalize.EventValence(raw)
		case normalize.ColumnOccurrenceDate:
			date := normalize.Text(raw)
			if date == "" {
				return nil, apierr.Validation("occurrence_date cannot be empty")
			}
			out[key] = date
		case normalize.ColumnOccurrenceTime:
			if t := normalize.Time(raw); t != nil {
				out[key] = *t
			} else {
				out[key] = nil
			}
		case "name", "description":
			if text := optionalText(raw); text != nil {
				out[key] = *text
			} else {
				out[key] = nil
			}
		default:
			return nil, apierr.Validation(fmt.Sprintf("Unsupported field: %s", key)).
				WithDetails(map[string]any{"allowed": patchableColumns})
		}
	}
	return out, nil
}

func (s *Service) decodeEvent(ctx context.Context, op, message string, raw json.RawMessage) (map[string]any, error) {
	var event map[string]any
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, s.upstreamError(ctx, op, message, fmt.Errorf("decode event: %w", err))
	}
	if event == nil {
		return nil, apierr.NotFound("Event not found")
	}
	return event, nil
}

// GetResponse returns the caller's answer to one question of an event.
func (s *Service) GetResponse(ctx context.Context, eventID, questionID string) (string, error) {
	profileID, err := requireProfile(ctx)
	if err != nil {
		return "", err
	}
	value, found, err := s.store.GetResponse(ctx, eventID, questionID, profileID)
	if err != nil {
		return "", s.upstreamError(ctx, "load response", "Unable to load response", err)
	}
	if !found {
		return "", apierr.NotFound("Response not found")
	}
	if value == nil {
		return "", nil
	}
	return *value, nil
}

// PutResponse stores a trimmed answer. A blank answer clears it instead.
func (s *Service) PutResponse(ctx context.Context, eventID, questionID, value string) error {
	if _, err := requireProfile(ctx); err != nil {
		return err
	}
	normalized := normalize.Text(value)
	var stored *string
	if normalized != "" {
		stored = &normalized
	}
	if err := s.store.UpdateResponseValue(ctx, eventID, questionID, stored); err != nil {
		return s.backendError(ctx, "update_response_value", "Unable to upsert response", err)
	}
	return nil
}

func (s *Service) DeleteResponse(ctx context.Context, eventID, questionID string) error {
	if _, err := requireProfile(ctx); err != nil {
		return err
	}
	if err := s.store.UpdateResponseValue(ctx, eventID, questionID, nil); err != nil {
		return s.backendError(ctx, "update_response_value delete", "Unable to delete response", err)
	}
	return nil
}

// ownedEvent loads the caller's event or fails with NotFound.
func (s *Service) ownedEvent(ctx context.Context, eventID string) (*store.OwnedEvent, error) {
	profileID, err := requireProfile(ctx)
	if err != nil {
		return nil, err
	}
	event, err := s.store.FindOwnedEvent(ctx, eventID, profileID)
	if err != nil {
		return nil, s.upstreamError(ctx, "verify event ownership", "Unable to verify event ownership", err)
	}
	if event == nil {
		return nil, apierr.NotFound("Event not found")
	}
	return event, nil
}

func eventValence(event *store.OwnedEvent) int {
	if event == nil || event.Valence == nil {
		return 0
	}
	return normalize.ClampValence(float64(*event.Valence))
}

func (s *Service) EmotionMappings(ctx context.Context, eventID string) ([]normalize.EmotionMapping, error) {
	if _, err := s.ownedEvent(ctx, eventID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListEventEmotions(ctx, eventID)
	if err != nil {
		return nil, s.upstreamError(ctx, "load emotion mappings", "Unable to load emotion mappings", err)
	}
	if rows == nil {
		rows = []normalize.EmotionMapping{}
	}
	return rows, nil
}

func (s *Service) AssociationMappings(ctx context.Context, eventID string) ([]normalize.AssociationMapping, error) {
	if _, err := s.ownedEvent(ctx, eventID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListEventAssociations(ctx, eventID)
	if err != nil {
		return nil, s.upstreamError(ctx, "load association mappings", "Unable to load association mappings", err)
	}
	if rows == nil {
		rows = []normalize.AssociationMapping{}
	}
	return rows, nil
}

// PutEmotionMappings replaces the event's emotions with payload["emotions"].
// Ownership is checked before the payload shape.
func (s *Service) PutEmotionMappings(ctx context.Context, eventID string, payload map[string]any) ([]normalize.EmotionMapping, error) {
	event, err := s.ownedEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	raw, ok := payload["emotions"].([]any)
	if !ok {
		return nil, apierr.Validation("Payload must include an emotions array")
	}
	emotions := normalize.EmotionCollection(raw)
	if err := s.updateEmotions(ctx, event, emotions); err != nil {
		return nil, err
	}
	return emotions, nil
}

func (s *Service) PutAssociationMappings(ctx context.Context, eventID string, payload map[string]any) ([]normalize.AssociationMapping, error) {
	event, err := s.ownedEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	raw, ok := payload["associations"].([]any)
	if !ok {
		return nil, apierr.Validation("Payload must include an associations array")
	}
	associations := normalize.AssociationCollection(raw)
	if err := s.updateAssociations(ctx, event, associations); err != nil {
		return nil, err
	}
	return associations, nil
}

func (s *Service) ReplaceEmotionMappings(ctx context.Context, eventID string, emotions []normalize.EmotionMapping) error {
	event, err := s.ownedEvent(ctx, eventID)
	if err != nil {
		return err
	}
	return s.updateEmotions(ctx, event, emotions)
}

func (s *Service) ReplaceAssociationMappings(ctx context.Context, eventID string, associations []normalize.AssociationMapping) error {
	event, err := s.ownedEvent(ctx, eventID)
	if err != nil {
		return err
	}
	return s.updateAssociations(ctx, event, associations)
}

func (s *Service) updateEmotions(ctx context.Context, event *store.OwnedEvent, emotions []normalize.EmotionMapping) error {
	if err := s.store.UpdateEmotionMappings(ctx, event.ID, emotions, eventValence(event)); err != nil {
		return s.backendError(ctx, "update_emotion_mappings", "Unable to update emotion mappings", err)
	}
	return nil
}

func (s *Service) updateAssociations(ctx context.Context, event *store.OwnedEvent, associations []normalize.AssociationMapping) error {
	if err := s.store.UpdateAssociationMappings(ctx, event.ID, associations, eventValence(event)); err != nil {
		return s.backendError(ctx, "update_association_mappings", "Unable to update association mappings", err)
	}
	return nil
}

// requireFields rejects absent, null or empty-string values. Zero is a
// valid value.
func requireFields(payload map[string]any, fields ...string) error {
	for _, field := range fields {
		value, ok := payload[field]
		if !ok || value == nil {
			return apierr.Validation("Missing required field: " + field)
		}
		if str, isString := value.(string); isString && strings.TrimSpace(str) == "" {
			return apierr.Validation("Missing required field: " + field)
		}
	}
	return nil
}

func optionalText(raw any) *string {
	text := normalize.Text(raw)
	if text == "" {
		return nil
	}
	return &text
}

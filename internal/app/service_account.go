package app

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"moodlog/api/internal/apierr"
	"moodlog/api/internal/auth"
	"moodlog/api/internal/ctxutil"
	"moodlog/api/internal/store"
	"moodlog/api/internal/templates"
)

const auditLogLimit = 20

type ProfileView struct {
	FullName  *string    `json:"full_name"`
	AvatarURL *string    `json:"avatar_url"`
	Role      *string    `json:"role"`
	CreatedAt *time.Time `json:"created_at"`
}

type ProfilePage struct {
	Profile        ProfileView `json:"profile"`
	HasProfileInfo bool        `json:"hasProfileInfo"`
}

// Profile reads the caller's profile row. Callers without a row get one
// derived from their token metadata.
func (s *Service) Profile(ctx context.Context, identity *auth.Identity) (*ProfilePage, error) {
	if identity == nil {
		return nil, apierr.Authentication()
	}
	row, err := s.store.GetProfile(ctx, identity.ProfileID)
	if err != nil {
		return nil, s.upstreamError(ctx, "load profile", "Unable to load profile", err)
	}

	var view ProfileView
	if row != nil {
		view = ProfileView{FullName: row.FullName, AvatarURL: row.AvatarURL, Role: row.Role, CreatedAt: row.CreatedAt}
	} else {
		view = fallbackProfile(identity)
	}
	return &ProfilePage{Profile: view, HasProfileInfo: view.hasInfo()}, nil
}

func fallbackProfile(identity *auth.Identity) ProfileView {
	view := ProfileView{
		FullName:  metadataString(identity.Metadata, "full_name", "full-name", "name"),
		AvatarURL: metadataString(identity.Metadata, "avatar_url", "avatar", "picture", "image"),
		Role:      metadataString(identity.Metadata, "role", "user_role"),
	}
	if view.FullName == nil && identity.Email != "" {
		email := identity.Email
		view.FullName = &email
	}
	return view
}

func (v ProfileView) hasInfo() bool {
	return nonEmpty(v.FullName) || nonEmpty(v.AvatarURL) || nonEmpty(v.Role) || v.CreatedAt != nil
}

func metadataString(metadata map[string]any, keys ...string) *string {
	for _, key := range keys {
		if value, ok := metadata[key].(string); ok && strings.TrimSpace(value) != "" {
			return &value
		}
	}
	return nil
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}

type EventActivity struct {
	CreatedActivity    json.RawMessage `json:"created_activity"`
	OccurrenceActivity json.RawMessage `json:"occurrence_activity"`
}

// EventActivity returns per-day counts of created and occurring events.
func (s *Service) EventActivity(ctx context.Context) (*EventActivity, error) {
	profileID, err := requireProfile(ctx)
	if err != nil {
		return nil, err
	}
	row, err := s.store.GetEventActivity(ctx, profileID)
	if err != nil {
		return nil, s.upstreamError(ctx, "load event activity", "Unable to load event activity", err)
	}
	out := &EventActivity{CreatedActivity: json.RawMessage("{}"), OccurrenceActivity: json.RawMessage("{}")}
	if row == nil {
		return out, nil
	}
	if len(row.CreatedActivity) > 0 && string(row.CreatedActivity) != "null" {
		out.CreatedActivity = row.CreatedActivity
	}
	if len(row.OccurrenceActivity) > 0 && string(row.OccurrenceActivity) != "null" {
		out.OccurrenceActivity = row.OccurrenceActivity
	}
	return out, nil
}

type AuditLogEntry struct {
	Timestamp *time.Time `json:"timestamp"`
	Event     *string    `json:"event"`
}

type AuditLogPage struct {
	AuthProvider string          `json:"authProvider"`
	Logs         []AuditLogEntry `json:"logs"`
}

// AuditLogs lists the caller's latest account events. A failing backend is
// logged and yields an empty list.
func (s *Service) AuditLogs(ctx context.Context, identity *auth.Identity) (*AuditLogPage, error) {
	if identity == nil {
		return nil, apierr.Authentication()
	}
	page := &AuditLogPage{AuthProvider: identity.Provider, Logs: []AuditLogEntry{}}
	if page.AuthProvider == "" {
		page.AuthProvider = "unknown"
	}
	rows, err := s.store.GetUserAuditLogs(ctx, auditLogLimit)
	if err != nil {
		s.log.Warn("get_user_audit_logs failed, returning no entries",
			"request_id", ctxutil.RequestID(ctx),
			"profile_id", identity.ProfileID,
			"error", err,
		)
		return page, nil
	}
	page.Logs = normalizeAuditLogs(rows)
	return page, nil
}

var (
	auditTimestampKeys = []string{"created_at", "timestamp"}
	auditEventKeys     = []string{"event", "action", "type"}
)

func normalizeAuditLogs(rows []map[string]any) []AuditLogEntry {
	out := make([]AuditLogEntry, 0, len(rows))
	for _, row := range rows {
		var entry AuditLogEntry
		for _, key := range auditTimestampKeys {
			if ts, ok := parseTimestamp(row[key]); ok {
				entry.Timestamp = &ts
				break
			}
		}
		for _, key := range auditEventKeys {
			if value, ok := row[key].(string); ok && strings.TrimSpace(value) != "" {
				trimmed := strings.TrimSpace(value)
				entry.Event = &trimmed
				break
			}
		}
		out = append(out, entry)
	}
	return out
}

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07", "2006-01-02"}

func parseTimestamp(raw any) (time.Time, bool) {
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, strings.TrimSpace(value)); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

type Lookups struct {
	Emotions     []templates.Lookup `json:"emotions"`
	Associations []templates.Lookup `json:"associations"`
}

// Lookups loads the emotion and association lists for the mood form.
func (s *Service) Lookups(ctx context.Context) (*Lookups, error) {
	if _, err := requireProfile(ctx); err != nil {
		return nil, err
	}
	var emotions, associations []map[string]any
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.lookups.ListEmotions(gctx)
		if err != nil {
			return apierr.Lookup("Unable to load emotions", err).WithDetails(store.Message(err))
		}
		emotions = rows
		return nil
	})
	g.Go(func() error {
		rows, err := s.lookups.ListAssociations(gctx)
		if err != nil {
			return apierr.Lookup("Unable to load associations", err).WithDetails(store.Message(err))
		}
		associations = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		s.log.Error("load lookups failed", "profile_id", profileIDFrom(ctx), "error", err)
		return nil, err
	}
	return &Lookups{
		Emotions:     templates.NormalizeEmotions(emotions),
		Associations: templates.NormalizeAssociations(associations),
	}, nil
}

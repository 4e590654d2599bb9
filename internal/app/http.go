package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"moodlog/api/internal/apierr"
	"moodlog/api/internal/auth"
	"moodlog/api/internal/ctxutil"
	"moodlog/api/internal/normalize"
	"moodlog/api/internal/store"
)

const (
	defaultEventLimit = 50
	maxBodyBytes      = 1 << 20
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	cookieName string
}

func NewHTTPServer(service *Service, corsOrigin, cookieName string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, cookieName: cookieName}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.service.metrics.Handler().ServeHTTP(w, r)
		return
	}

	parts := splitPath(r.URL.Path)

	// Newsroom is public.
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "newsroom" {
		s.handleNewsroom(w, r, parts[2:])
		return
	}

	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	if len(parts) > 0 && (parts[0] == "create" || parts[0] == "events") {
		s.handleWizard(w, r, parts)
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "events" {
		s.handleEvents(w, r, parts[2:])
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/logout":
		if err := s.service.Logout(r.Context(), identity); err != nil {
			writeServiceError(w, err)
			return
		}
		if s.cookieName != "" {
			http.SetCookie(w, &http.Cookie{Name: s.cookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return

	case r.Method == http.MethodPost && r.URL.Path == "/api/moods":
		payload, err := decodeObject(r)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		id, err := s.service.UpsertMood(r.Context(), payload)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id})
		return

	case r.Method == http.MethodGet && r.URL.Path == "/api/event-activity":
		activity, err := s.service.EventActivity(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, activity)
		return

	case r.Method == http.MethodGet && r.URL.Path == "/api/profile":
		page, err := s.service.Profile(r.Context(), identity)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
		return

	case r.Method == http.MethodGet && r.URL.Path == "/api/audit-logs":
		page, err := s.service.AuditLogs(r.Context(), identity)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
		return

	case r.Method == http.MethodGet && r.URL.Path == "/api/lookups":
		lookups, err := s.service.Lookups(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lookups)
		return
	}

	writeError(w, http.StatusNotFound, string(apierr.KindNotFound), "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if s.service.revocations != nil {
		checks["cache"] = map[string]any{"status": "ok"}
		if err := s.service.PingRevocations(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["cache"] = map[string]any{"status": "error", "error": err.Error()}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleEvents serves everything under /api/events; parts excludes that
// prefix.
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		raw, err := s.service.ListEvents(ctx, eventFilter(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeRawJSON(w, http.StatusOK, raw)
		return

	case len(parts) == 0 && r.Method == http.MethodPost:
		payload, err := decodeObject(r)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		id, err := s.service.UpsertEvent(ctx, payload)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id})
		return

	case len(parts) == 1 && parts[0] == "basic" && r.Method == http.MethodPost:
		payload, err := decodeObject(r)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		id, err := s.service.CreateBasicEvent(ctx, payload)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": id})
		return

	case len(parts) == 1 && r.Method == http.MethodGet:
		event, err := s.service.GetEvent(ctx, parts[0])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, event)
		return

	case len(parts) == 1 && r.Method == http.MethodPatch:
		payload, err := decodeObject(r)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		patch := payload
		if nested, ok := payload["patch"].(map[string]any); ok {
			patch = nested
		}
		event, err := s.service.UpdateEvent(ctx, parts[0], patch)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, event)
		return

	case len(parts) == 3 && parts[1] == "mappings":
		s.handleMappings(w, r, parts[0], parts[2])
		return

	case len(parts) == 3 && parts[1] == "responses":
		s.handleResponse(w, r, parts[0], parts[2])
		return
	}

	if len(parts) <= 1 {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	writeError(w, http.StatusNotFound, string(apierr.KindNotFound), "Not found", nil)
}

func (s *HTTPServer) handleMappings(w http.ResponseWriter, r *http.Request, eventID, model string) {
	ctx := r.Context()
	switch {
	case model == "emotions" && r.Method == http.MethodGet:
		rows, err := s.service.EmotionMappings(ctx, eventID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"emotions": rows})

	case model == "emotions" && r.Method == http.MethodPut:
		payload, err := decodeObject(r)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		emotions, err := s.service.PutEmotionMappings(ctx, eventID, payload)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"emotions": emotions})

	case model == "associations" && r.Method == http.MethodGet:
		rows, err := s.service.AssociationMappings(ctx, eventID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"associations": rows})

	case model == "associations" && r.Method == http.MethodPut:
		payload, err := decodeObject(r)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		associations, err := s.service.PutAssociationMappings(ctx, eventID, payload)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"associations": associations})

	case model != "emotions" && model != "associations":
		writeError(w, http.StatusNotFound, string(apierr.KindNotFound), "Not found", nil)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleResponse(w http.ResponseWriter, r *http.Request, eventID, questionID string) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		value, err := s.service.GetResponse(ctx, eventID, questionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": value})

	case http.MethodPut:
		payload, err := decodeObject(r)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		value := normalize.Text(payload["value"])
		if err := s.service.PutResponse(ctx, eventID, questionID, value); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": value})

	case http.MethodDelete:
		if err := s.service.DeleteResponse(ctx, eventID, questionID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleNewsroom(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	switch len(parts) {
	case 0:
		page, err := s.service.Newsroom(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case 1:
		item, err := s.service.NewsroomEntry(r.Context(), parts[0])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": item})
	default:
		writeError(w, http.StatusNotFound, string(apierr.KindNotFound), "Newsroom entry not found", nil)
	}
}

// eventFilter reads the list query. Absent or non-numeric limit and offset
// fall back to 50 and 0.
func eventFilter(r *http.Request) store.EventFilter {
	q := r.URL.Query()
	return store.EventFilter{
		Kind:   optionalQuery(q.Get("kind")),
		From:   optionalQuery(q.Get("from")),
		To:     optionalQuery(q.Get("to")),
		Limit:  queryInt(q.Get("limit"), defaultEventLimit),
		Offset: queryInt(q.Get("offset"), 0),
	}
}

func optionalQuery(raw string) *string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return &raw
}

func queryInt(raw string, fallback int) int {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return fallback
	}
	return int(math.Trunc(parsed))
}

// requireIdentity authenticates the request and records the caller in the
// request data so backends can act on their behalf.
func (s *HTTPServer) requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	token := auth.TokenFromRequest(r, s.cookieName)
	if token == "" {
		writeServiceError(w, apierr.Authentication())
		return nil, false
	}
	identity, err := s.service.Authenticate(r.Context(), token)
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	if rd := ctxutil.GetRequestData(r.Context()); rd != nil {
		rd.ProfileID = identity.ProfileID
		rd.AccessToken = identity.Token
	}
	return identity, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		rd := &ctxutil.RequestData{
			RequestID: requestID,
			Locale:    s.service.i18n.Match(r.Header.Get("Accept-Language")),
		}
		r = r.WithContext(ctxutil.WithRequestData(r.Context(), rd))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		s.service.metrics.observeRequest(routeLabel(splitPath(r.URL.Path)), r.Method, writer.status, elapsed)

		fields := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", elapsed.Milliseconds(),
			"profile_id", rd.ProfileID,
		}
		switch {
		case writer.status >= http.StatusInternalServerError:
			s.service.log.Error("request", fields...)
		case writer.status >= http.StatusBadRequest:
			s.service.log.Warn("request", fields...)
		default:
			s.service.log.Info("request", fields...)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, Accept-Language")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRawJSON(w http.ResponseWriter, status int, raw json.RawMessage) {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":    code,
		"message": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

// decodeObject reads a JSON object body. Anything else, including an empty
// body, is a validation error.
func decodeObject(r *http.Request) (map[string]any, error) {
	if r.Body == nil {
		return nil, apierr.Validation("Invalid JSON payload")
	}
	defer r.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apierr.Validation("Invalid JSON payload").WithDetails("empty body")
		}
		return nil, apierr.Validation("Invalid JSON payload").WithDetails(err.Error())
	}
	if payload == nil {
		return nil, apierr.Validation("Invalid JSON payload").WithDetails("body must be a JSON object")
	}
	return payload, nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

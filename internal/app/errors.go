package app

import (
	"context"
	"errors"
	"net/http"

	"moodlog/api/internal/apierr"
	"moodlog/api/internal/auth"
	"moodlog/api/internal/ctxutil"
	"moodlog/api/internal/store"
)

// mapError turns any failure into the status and body fields of an error
// response. Unknown errors never leak their text.
func mapError(err error) (status int, code, message string, details any) {
	if apiErr, ok := apierr.As(err); ok {
		return apierr.StatusOf(err), apiErr.Code(), apiErr.Message, apiErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, string(apierr.KindAuthentication), "Authentication required", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// backendError logs a failed backend call and translates it. message is what
// the caller sees; the backend's own message only goes to details.
func (s *Service) backendError(ctx context.Context, op, message string, err error) error {
	s.log.Error(op+" failed",
		"request_id", ctxutil.RequestID(ctx),
		"profile_id", profileIDFrom(ctx),
		"permission_denied", store.IsPermissionDenied(err),
		"error", err,
	)
	return apierr.Backend(message, err, store.IsPermissionDenied(err)).WithDetails(store.Message(err))
}

// upstreamError is backendError for calls whose permission failures are not
// surfaced as 403 (ownership checks, reads).
func (s *Service) upstreamError(ctx context.Context, op, message string, err error) error {
	s.log.Error(op+" failed",
		"request_id", ctxutil.RequestID(ctx),
		"profile_id", profileIDFrom(ctx),
		"error", err,
	)
	return apierr.Backend(message, err, false).WithDetails(store.Message(err))
}

func profileIDFrom(ctx context.Context) string {
	if rd := ctxutil.GetRequestData(ctx); rd != nil {
		return rd.ProfileID
	}
	return ""
}

// requireProfile returns the caller's profile id or AuthenticationRequired.
func requireProfile(ctx context.Context) (string, error) {
	if id := profileIDFrom(ctx); id != "" {
		return id, nil
	}
	return "", apierr.Authentication()
}

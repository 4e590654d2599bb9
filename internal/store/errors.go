package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// CodePermissionDenied is the SQLSTATE the backend raises when the caller
// may not touch a row.
const CodePermissionDenied = "42501"

// Error is a failed backend call as reported by the backend.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Op      string `json:"-"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func IsPermissionDenied(err error) bool {
	var storeErr *Error
	return errors.As(err, &storeErr) && storeErr.Code == CodePermissionDenied
}

// Message returns the backend's own message for err.
func Message(err error) string {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &Error{Op: op, Message: pgErr.Message, Code: pgErr.Code}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Op: op, Message: "backend call timed out"}
	}
	return &Error{Op: op, Message: err.Error()}
}

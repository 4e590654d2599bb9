// Package apierr defines the typed failures that cross package boundaries and
// the HTTP status each one maps to.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation     Kind = "VALIDATION_ERROR"
	KindAuthentication Kind = "AUTHENTICATION_REQUIRED"
	KindAuthorization  Kind = "AUTHORIZATION_DENIED"
	KindNotFound       Kind = "NOT_FOUND"
	KindUpstream       Kind = "UPSTREAM_FAILURE"
	KindLookup         Kind = "LOOKUP_FAILURE"
	KindConfiguration  Kind = "CONFIGURATION_ERROR"
)

// Error carries a stable user-facing Message; backend detail goes in Details.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Code() string { return string(e.Kind) }

func New(kind Kind, status int, message string, details any) *Error {
	return &Error{Kind: kind, Status: status, Message: message, Details: details}
}

func Validation(message string) *Error {
	return New(KindValidation, http.StatusBadRequest, message, nil)
}

func Authentication() *Error {
	return New(KindAuthentication, http.StatusUnauthorized, "Authentication required", nil)
}

func NotFound(message string) *Error {
	return New(KindNotFound, http.StatusNotFound, message, nil)
}

// Configuration is 400 when the caller can correct it, 500 when the fault is
// in server-side template data.
func Configuration(message string, callerCorrectable bool) *Error {
	status := http.StatusInternalServerError
	if callerCorrectable {
		status = http.StatusBadRequest
	}
	return New(KindConfiguration, status, message, nil)
}

func Lookup(message string, err error) *Error {
	e := New(KindLookup, http.StatusInternalServerError, message, nil)
	e.Err = err
	return e
}

// Backend translates a failed backend call. Permission denials keep their
// 403, everything else is an upstream failure.
func Backend(message string, err error, permissionDenied bool) *Error {
	var details any
	if err != nil {
		details = err.Error()
	}
	if permissionDenied {
		e := New(KindAuthorization, http.StatusForbidden, message, details)
		e.Err = err
		return e
	}
	e := New(KindUpstream, http.StatusInternalServerError, message, details)
	e.Err = err
	return e
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// StatusOf reports the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	if e, ok := As(err); ok && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

func IsNotFound(err error) bool {
	e, ok := As(err)
	return ok && e.Kind == KindNotFound
}

// Package apperr defines the error taxonomy shared by the ledger, matching,
// lifecycle and dispatch layers, and its mapping onto transport status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a failure for callers.
type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeNotFound     Code = "NOT_FOUND"
	CodeForbidden    Code = "FORBIDDEN"
	CodeBusinessRule Code = "BUSINESS_RULE_VIOLATION"
	CodeConflict     Code = "CONFLICT"
	CodeInternal     Code = "INTERNAL_ERROR"
)

// Error is a classified failure. Message is safe to show to the caller;
// Err is the underlying cause and is never rendered.
type Error struct {
	Code    Code
	Message string

	// Details carries structured context such as the offending field or the
	// attempted status transition.
	Details map[string]any

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// WithDetail returns e with key set in its details.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is checks against a code.
var (
	ErrValidation   = &Error{Code: CodeValidation}
	ErrNotFound     = &Error{Code: CodeNotFound}
	ErrForbidden    = &Error{Code: CodeForbidden}
	ErrBusinessRule = &Error{Code: CodeBusinessRule}
	ErrConflict     = &Error{Code: CodeConflict}
	ErrInternal     = &Error{Code: CodeInternal}
)

// Validation reports malformed or missing input. field may be empty.
func Validation(field, format string, args ...any) *Error {
	e := &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
	if field != "" {
		e.WithDetail("field", field)
	}
	return e
}

// NotFound reports an entity that is absent or outside the caller's tenant.
func NotFound(entity, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", entity, id),
		Details: map[string]any{"entity": entity, "id": id},
	}
}

// Forbidden reports a role that may not perform an operation.
func Forbidden(operation string) *Error {
	return &Error{
		Code:    CodeForbidden,
		Message: fmt.Sprintf("not permitted to %s", operation),
		Details: map[string]any{"operation": operation},
	}
}

// BusinessRule reports a violated domain rule.
func BusinessRule(format string, args ...any) *Error {
	return &Error{Code: CodeBusinessRule, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a lost compare-and-swap.
func Conflict(entity, id string) *Error {
	return &Error{
		Code:    CodeConflict,
		Message: fmt.Sprintf("%s %s was modified concurrently, reload and retry", entity, id),
		Details: map[string]any{"entity": entity, "id": id},
	}
}

// Internal wraps an unexpected failure behind a generic message.
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", Err: err}
}

// From returns err as an *Error, classifying unknown errors as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// CodeOf returns the classification of err, or "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return From(err).Code
}

// HTTPStatus maps a code onto an HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeBusinessRule:
		return http.StatusUnprocessableEntity
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

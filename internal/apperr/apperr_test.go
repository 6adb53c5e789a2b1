package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"validation", Validation("description", "description is required"), CodeValidation},
		{"wrapped not found", fmt.Errorf("load item: %w", NotFound("cost item", "x")), CodeNotFound},
		{"plain error", errors.New("disk full"), CodeInternal},
		{"conflict", Conflict("cost item", "x"), CodeConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("apply: %w", BusinessRule("invalid transition"))
	if !errors.Is(err, ErrBusinessRule) {
		t.Error("expected errors.Is to match ErrBusinessRule")
	}
	if errors.Is(err, ErrValidation) {
		t.Error("did not expect errors.Is to match ErrValidation")
	}
}

func TestInternalHidesCause(t *testing.T) {
	e := From(errors.New("sqlite: database is locked"))
	if e.Message != "internal error" {
		t.Errorf("Message = %q, want generic message", e.Message)
	}
	if e.Err == nil {
		t.Error("expected underlying cause to be kept for logging")
	}
}

func TestHTTPStatus(t *testing.T) {
	want := map[Code]int{
		CodeValidation:   http.StatusBadRequest,
		CodeNotFound:     http.StatusNotFound,
		CodeForbidden:    http.StatusForbidden,
		CodeBusinessRule: http.StatusUnprocessableEntity,
		CodeConflict:     http.StatusConflict,
		CodeInternal:     http.StatusInternalServerError,
	}
	for code, status := range want {
		if got := HTTPStatus(code); got != status {
			t.Errorf("HTTPStatus(%s) = %d, want %d", code, got, status)
		}
	}
}

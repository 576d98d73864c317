package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/target/reclaim/internal/domain/lifecycle"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	withCause := &AppError{Code: ErrCodeInternal, Message: "load entity", Cause: cause}
	if got := withCause.Error(); got != "load entity: connection reset" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(withCause, cause) {
		t.Error("errors.Is should reach the cause")
	}

	bare := &AppError{Code: ErrCodeNotFound, Message: "volume/v1 not found"}
	if got := bare.Error(); got != "volume/v1 not found" {
		t.Errorf("Error() = %q", got)
	}
	if bare.Unwrap() != nil {
		t.Error("Unwrap() should be nil without a cause")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name      string
		err       *AppError
		wantCode  ErrorCode
		wantMsg   string
		wantField string
	}{
		{"not found", NotFoundf("%s/%s not found", "volume", "v1"), ErrCodeNotFound, "volume/v1 not found", ""},
		{"conflict", Conflictf("parent %s is deleted", "server/s1"), ErrCodeConflict, "parent server/s1 is deleted", ""},
		{"validation", Validation("type is required"), ErrCodeValidation, "type is required", ""},
		{"validation field", ValidationField("id", "id is required"), ErrCodeValidation, "id is required", "id"},
		{"unprocessable", Unprocessable("volume is attached"), ErrCodeUnprocessable, "volume is attached", ""},
		{"internal", Internalf("queue %d unavailable", 3), ErrCodeInternal, "queue 3 unavailable", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.wantCode)
			}
			if tt.err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", tt.err.Message, tt.wantMsg)
			}
			if tt.err.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", tt.err.Field, tt.wantField)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, ErrCodeConflict, "mark deleted")
	if err.Code != ErrCodeConflict || err.Cause != cause {
		t.Fatalf("Wrap() = %+v", err)
	}
	if err.Error() != "mark deleted: boom" {
		t.Errorf("Error() = %q", err.Error())
	}

	if Wrap(nil, ErrCodeInternal, "noop") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	wrapped := func(e error) error { return fmt.Errorf("outer: %w", e) }

	if !IsNotFound(wrapped(NotFoundf("x"))) {
		t.Error("IsNotFound")
	}
	if !IsConflict(wrapped(Conflictf("x"))) {
		t.Error("IsConflict")
	}
	if !IsValidation(wrapped(ValidationField("id", "x"))) {
		t.Error("IsValidation")
	}
	if !IsForeignKey(wrapped(&AppError{Code: ErrCodeForeignKey, Message: "x"})) {
		t.Error("IsForeignKey")
	}
	if IsNotFound(errors.New("plain")) || IsConflict(nil) {
		t.Error("plain and nil errors match no code")
	}
	if got := GetField(wrapped(ValidationField("type", "x"))); got != "type" {
		t.Errorf("GetField() = %q", got)
	}
	if GetCode(errors.New("plain")) != "" || GetField(nil) != "" {
		t.Error("plain errors have no code or field")
	}
}

func TestClassifyAndHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   ErrorCode
		wantStatus int
	}{
		{"nil", nil, "", http.StatusOK},
		{"app error wins", fmt.Errorf("x: %w", Unprocessable("attached")), ErrCodeUnprocessable, http.StatusUnprocessableEntity},
		{"entity not found", fmt.Errorf("volume/v1: %w", lifecycle.ErrEntityNotFound), ErrCodeNotFound, http.StatusNotFound},
		{"unknown type", lifecycle.ErrUnknownType, ErrCodeValidation, http.StatusBadRequest},
		{"direct destroy", lifecycle.ErrIllegalDirectDestroy, ErrCodeConflict, http.StatusConflict},
		{"foreign key", &AppError{Code: ErrCodeForeignKey}, ErrCodeForeignKey, http.StatusBadRequest},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout, http.StatusGatewayTimeout},
		{"canceled", fmt.Errorf("reserve: %w", context.Canceled), ErrCodeCanceled, 499},
		{"plain", errors.New("disk full"), ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.wantCode {
				t.Errorf("Classify() = %q, want %q", got, tt.wantCode)
			}
			if got := HTTPStatus(tt.err); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.wantStatus)
			}
		})
	}
}

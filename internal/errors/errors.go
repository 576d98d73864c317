// Package errors holds AppError, the coded error the stores and services return and the
// HTTP layer turns into a status.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/target/reclaim/internal/domain/lifecycle"
)

// ErrorCode is the category of an AppError. It is also the "error" field of API answers.
type ErrorCode string

// Codes. Unprocessable is a well-formed request the type's rules refuse, such as a
// denied safe erase; Canceled and Timeout come from the caller's context.
const (
	ErrCodeNotFound      ErrorCode = "not_found"
	ErrCodeConflict      ErrorCode = "conflict"
	ErrCodeValidation    ErrorCode = "validation"
	ErrCodeForeignKey    ErrorCode = "foreign_key"
	ErrCodeUnprocessable ErrorCode = "unprocessable"
	ErrCodeInternal      ErrorCode = "internal"
	ErrCodeTimeout       ErrorCode = "timeout"
	ErrCodeCanceled      ErrorCode = "canceled"
)

// statusClientClosedRequest is the nginx convention for a request the client abandoned.
const statusClientClosedRequest = 499

var statusByCode = map[ErrorCode]int{
	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeConflict:      http.StatusConflict,
	ErrCodeValidation:    http.StatusBadRequest,
	ErrCodeForeignKey:    http.StatusBadRequest,
	ErrCodeUnprocessable: http.StatusUnprocessableEntity,
	ErrCodeTimeout:       http.StatusGatewayTimeout,
	ErrCodeCanceled:      statusClientClosedRequest,
}

// AppError carries a code, a message safe to show callers and, optionally, the cause and
// the input field at fault.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Field   string
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *AppError) Unwrap() error { return e.Cause }

func newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *AppError { return newf(ErrCodeNotFound, format, args...) }
func Conflictf(format string, args ...any) *AppError { return newf(ErrCodeConflict, format, args...) }
func Internalf(format string, args ...any) *AppError { return newf(ErrCodeInternal, format, args...) }

func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// ValidationField is Validation naming the offending field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

func Unprocessable(message string) *AppError {
	return &AppError{Code: ErrCodeUnprocessable, Message: message}
}

// Wrap attaches code and message to err. Wrap(nil, ...) is nil.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

func asAppError(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// GetCode is the code of the outermost AppError in err's chain, or "".
func GetCode(err error) ErrorCode {
	if ae := asAppError(err); ae != nil {
		return ae.Code
	}
	return ""
}

// GetField is the Field of the outermost AppError in err's chain, or "".
func GetField(err error) string {
	if ae := asAppError(err); ae != nil {
		return ae.Field
	}
	return ""
}

func IsNotFound(err error) bool   { return GetCode(err) == ErrCodeNotFound }
func IsConflict(err error) bool   { return GetCode(err) == ErrCodeConflict }
func IsValidation(err error) bool { return GetCode(err) == ErrCodeValidation }
func IsForeignKey(err error) bool { return GetCode(err) == ErrCodeForeignKey }

// Classify codes any error: AppErrors keep theirs, lifecycle sentinels and context errors
// map to the matching code, the rest are internal. Nil is "".
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if code := GetCode(err); code != "" {
		return code
	}
	for _, m := range []struct {
		target error
		code   ErrorCode
	}{
		{lifecycle.ErrEntityNotFound, ErrCodeNotFound},
		{lifecycle.ErrUnknownType, ErrCodeValidation},
		{lifecycle.ErrIllegalDirectDestroy, ErrCodeConflict},
		{context.DeadlineExceeded, ErrCodeTimeout},
		{context.Canceled, ErrCodeCanceled},
	} {
		if errors.Is(err, m.target) {
			return m.code
		}
	}
	return ErrCodeInternal
}

// HTTPStatus is the status the API answers err with. Nil is 200.
func HTTPStatus(err error) int {
	code := Classify(err)
	if code == "" {
		return http.StatusOK
	}
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal     ErrorType = "EXTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired       ErrorCode = "TOKEN_EXPIRED"
	ErrCodeSessionExpired     ErrorCode = "SESSION_EXPIRED"
	ErrCodeRefreshFailed      ErrorCode = "REFRESH_FAILED"
	ErrCodeNoRefreshToken     ErrorCode = "NO_REFRESH_TOKEN"
	ErrCodeNotAuthenticated   ErrorCode = "NOT_AUTHENTICATED"
	ErrCodePermissionDenied   ErrorCode = "PERMISSION_DENIED"

	ErrCodeNotificationNotFound ErrorCode = "NOTIFICATION_NOT_FOUND"
	ErrCodeToastNotFound        ErrorCode = "TOAST_NOT_FOUND"

	ErrCodeUpstream ErrorCode = "UPSTREAM_ERROR"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches AppErrors by code so sentinel values work with errors.Is
// even after WithCause copies.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy carrying cause; shared sentinels stay untouched.
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewExternalError(message string, statusCode int) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       ErrCodeUpstream,
		Message:    message,
		StatusCode: statusCode,
	}
}

var (
	ErrInvalidCredentials = NewUnauthorizedError("Invalid email or password", ErrCodeInvalidCredentials)
	ErrInvalidToken       = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired       = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
	ErrSessionExpired     = NewUnauthorizedError("Session expired, please sign in again", ErrCodeSessionExpired)
	ErrRefreshFailed      = NewUnauthorizedError("Token refresh failed", ErrCodeRefreshFailed)
	ErrNoRefreshToken     = NewUnauthorizedError("No refresh token stored", ErrCodeNoRefreshToken)
	ErrNotAuthenticated   = NewUnauthorizedError("Not authenticated", ErrCodeNotAuthenticated)
	ErrPermissionDenied   = NewForbiddenError("Forbidden: insufficient permissions", ErrCodePermissionDenied)

	ErrNotificationNotFound = NewNotFoundError("Notification not found", ErrCodeNotificationNotFound)
	ErrToastNotFound        = NewNotFoundError("Toast not found", ErrCodeToastNotFound)
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}

// DecodeErrorResponse turns an upstream error body into an AppError. Bodies
// that are not in the {"error":{...}} shape become an EXTERNAL_ERROR carrying
// the raw text.
func DecodeErrorResponse(statusCode int, body []byte) *AppError {
	var envelope struct {
		Error *struct {
			Type    ErrorType   `json:"type"`
			Code    ErrorCode   `json:"code"`
			Message string      `json:"message"`
			Details interface{} `json:"details,omitempty"`
		} `json:"error"`
		Message string `json:"message"`
	}

	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error != nil && envelope.Error.Message != "" {
			return &AppError{
				Type:       envelope.Error.Type,
				Code:       envelope.Error.Code,
				Message:    envelope.Error.Message,
				Details:    envelope.Error.Details,
				StatusCode: statusCode,
			}
		}
		if envelope.Message != "" {
			return NewExternalError(envelope.Message, statusCode)
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return NewExternalError(msg, statusCode)
}

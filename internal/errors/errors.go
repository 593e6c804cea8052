// Package errors defines the typed error taxonomy shared across the
// ingestion, review, and orchestration layers. Every error that crosses
// an API boundary is, or wraps, an *AppError so the HTTP layer can
// translate it into a status code and error code prefix without
// inspecting message text.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorType names one entry of the service's error taxonomy.
type ErrorType string

const (
	ErrorTypeInvalidInput    ErrorType = "invalid_input"
	ErrorTypeAuthentication  ErrorType = "authentication"
	ErrorTypeAuthorization   ErrorType = "authorization"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeInvalidState    ErrorType = "invalid_state"
	ErrorTypeRateLimit       ErrorType = "rate_limited"
	ErrorTypeExternal        ErrorType = "external"
	ErrorTypeInternal        ErrorType = "internal"
	ErrorTypePayloadTooLarge ErrorType = "payload_too_large"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeInvalidInput:    http.StatusBadRequest,
	ErrorTypeAuthentication:  http.StatusUnauthorized,
	ErrorTypeAuthorization:   http.StatusForbidden,
	ErrorTypeNotFound:        http.StatusNotFound,
	ErrorTypeInvalidState:    http.StatusBadRequest,
	ErrorTypeRateLimit:       http.StatusTooManyRequests,
	ErrorTypeExternal:        http.StatusBadGateway,
	ErrorTypeInternal:        http.StatusInternalServerError,
	ErrorTypePayloadTooLarge: http.StatusRequestEntityTooLarge,
}

// AppError is the typed result every public operation returns on
// failure.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
	}
}

func Newf(t ErrorType, format string, args ...any) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
		Cause:      cause,
	}
}

func Wrapf(cause error, t ErrorType, format string, args ...any) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func statusCodeFor(t ErrorType) int {
	if code, ok := statusCodes[t]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Predefined constructors for the taxonomy's most common shapes.

func NewInvalidInput(message string) *AppError {
	return New(ErrorTypeInvalidInput, message)
}

func NewNotFound(resource string) *AppError {
	return New(ErrorTypeNotFound, resource+" not found")
}

func NewAuthorization(message string) *AppError {
	return New(ErrorTypeAuthorization, message)
}

func NewAuthentication(message string) *AppError {
	return New(ErrorTypeAuthentication, message)
}

func NewInvalidState(message string) *AppError {
	return New(ErrorTypeInvalidState, message)
}

// NewPayloadTooLarge reports an upload whose size violates the
// 50 MiB ceiling (checked against the advertised length or the bytes
// actually read, whichever catches it first) — distinct from
// ErrorTypeInvalidInput so the HTTP layer can render 413, not 400.
func NewPayloadTooLarge(message string) *AppError {
	return New(ErrorTypePayloadTooLarge, message)
}

func NewInternal(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeInternal, "internal operation failed: %s", operation)
}

func NewExternal(provider string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeExternal, "upstream provider failed: %s", provider)
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Type == t
}

// GetType returns the AppError's type, or ErrorTypeInternal for any
// other error (including nil-safe default for callers that already
// checked err != nil).
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status code to render for err.
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// safeMessages holds the messages returned to callers for error types
// whose raw Message may carry internal detail (SQL text, stack traces).
var safeMessages = map[ErrorType]string{
	ErrorTypeNotFound:        "the requested resource was not found",
	ErrorTypeAuthentication:  "authentication failed",
	ErrorTypeAuthorization:   "you do not have access to this resource",
	ErrorTypeInvalidState:    "the resource is not in a state that allows this operation",
	ErrorTypeRateLimit:       "rate limit exceeded, try again later",
	ErrorTypeExternal:        "an upstream dependency is currently unavailable",
	ErrorTypePayloadTooLarge: "uploaded document exceeds the maximum object size",
}

// SafeErrorMessage returns a message safe to render to an API caller.
// Validation/invalid-input messages are passed through verbatim since
// they are constructed from the request the caller themselves sent.
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "an unexpected error occurred"
	}
	if appErr.Type == ErrorTypeInvalidInput {
		return appErr.Message
	}
	if msg, ok := safeMessages[appErr.Type]; ok {
		return msg
	}
	return "an internal error occurred"
}

// LogFields renders err into a structured field map suitable for a
// zap.Any("error", ...) or logr.Error(...) call site.
func LogFields(err error) map[string]any {
	fields := map[string]any{"error": err.Error()}
	appErr, ok := err.(*AppError)
	if !ok {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins non-nil errors with " -> " for contexts (e.g. complementary
// validator aggregation) where several independent failures must be
// reported as one error without losing any of them.
func Chain(errs ...error) error {
	var msgs []string
	var first error
	for _, e := range errs {
		if e == nil {
			continue
		}
		if first == nil {
			first = e
		}
		msgs = append(msgs, e.Error())
	}
	switch len(msgs) {
	case 0:
		return nil
	case 1:
		return first
	default:
		joined := msgs[0]
		for _, m := range msgs[1:] {
			joined += " -> " + m
		}
		return fmt.Errorf("%s", joined)
	}
}

package portal

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors classifying backend failures.
var (
	// ErrBadRequest indicates the backend rejected the request (4xx).
	ErrBadRequest = errors.New("request rejected")

	// ErrUnauthorized indicates a missing or invalid bearer credential (401/403).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the job or artifact does not exist (404).
	ErrNotFound = errors.New("not found")

	// ErrThrottled indicates the backend rate limited the request (429).
	ErrThrottled = errors.New("request throttled")

	// ErrUnavailable indicates a transport failure or a 5xx response.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrInvalidResponse indicates a 2xx response the client could not use.
	ErrInvalidResponse = errors.New("invalid backend response")
)

// APIError wraps a failed backend call with context.
type APIError struct {
	// Op is the client operation (e.g. "Upload", "TaskStatus").
	Op string

	// Method and Path identify the HTTP request.
	Method string
	Path   string

	// StatusCode is the HTTP status, or 0 for transport failures.
	StatusCode int

	// Detail is the human-readable message from the backend body, if any.
	Detail string

	// Err is the classification sentinel.
	Err error

	// Cause is the underlying transport or decode error, if any.
	Cause error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("portal %s %s %s: HTTP %d: %s", e.Op, e.Method, e.Path, e.StatusCode, msg)
	}
	return fmt.Sprintf("portal %s %s %s: %s", e.Op, e.Method, e.Path, msg)
}

// Unwrap exposes both the classification sentinel and the cause.
func (e *APIError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Err != nil {
		out = append(out, e.Err)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// Message returns the text a user should see: the backend detail when
// present, otherwise a short description of the failure.
func (e *APIError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (HTTP %d)", http.StatusText(e.StatusCode), e.StatusCode)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "request failed"
}

// classifyStatus maps a non-2xx status code to a sentinel.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrThrottled
	case code >= 500:
		return ErrUnavailable
	default:
		return ErrBadRequest
	}
}

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsNotFound reports whether err is a 404.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient reports whether retrying the same request may succeed:
// transport failures, 5xx and 429.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrThrottled)
}

// UserMessage returns the human-readable text for err, preferring the
// backend detail of a wrapped APIError.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message()
	}
	return err.Error()
}

package llm

import "fmt"

// ErrorKind classifies a provider error for retry/fallback decisions.
type ErrorKind string

const (
	ErrorKindHTTPStatus      ErrorKind = "http_status"
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindConnect         ErrorKind = "connect"
	ErrorKindRequest         ErrorKind = "request"
	ErrorKindBody            ErrorKind = "body"
	ErrorKindMissingAPIKey   ErrorKind = "missing_api_key"
	ErrorKindSerde           ErrorKind = "serde"
	ErrorKindInvalidResponse ErrorKind = "invalid_response"
)

// Error is the tagged-union error type every provider adapter returns.
type Error struct {
	Kind    ErrorKind
	Status  int // only meaningful when Kind == ErrorKindHTTPStatus
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm: %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("llm: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewHTTPStatusError builds a status-carrying error.
func NewHTTPStatusError(status int, message string) *Error {
	return &Error{Kind: ErrorKindHTTPStatus, Status: status, Message: message}
}

// Retryable reports whether this error should trigger a retry of the same
// route, mirroring is_retryable_provider_error from the ported reference
// implementation: status-based for HTTPStatus, true for
// timeout/connect/request/body, false for MissingApiKey/Serde/InvalidResponse.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrorKindHTTPStatus:
		return shouldRetryStatus(e.Status)
	case ErrorKindTimeout, ErrorKindConnect, ErrorKindRequest, ErrorKindBody:
		return true
	case ErrorKindMissingAPIKey, ErrorKindSerde, ErrorKindInvalidResponse:
		return false
	default:
		return false
	}
}

func shouldRetryStatus(status int) bool {
	switch status {
	case 408, 409, 425, 429:
		return true
	}
	return status >= 500
}

// IsRetryable reports whether err (if an *Error) should be retried.
func IsRetryable(err error) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Retryable()
}

package synth

import (
	"errors"
	"fmt"
)

// ErrorCode identifies specific synthesis failures
type ErrorCode string

const (
	// Input errors
	CodeTextTooShort ErrorCode = "TEXT_TOO_SHORT"

	// Upstream errors
	CodeHTTPStatus ErrorCode = "HTTP_STATUS"
	CodeQuota      ErrorCode = "QUOTA"
	CodeTransport  ErrorCode = "TRANSPORT"
	CodeEmptyAudio ErrorCode = "EMPTY_AUDIO"

	// Local errors
	CodeNoAPIKey ErrorCode = "NO_API_KEY"
	CodeCanceled ErrorCode = "CANCELED"
)

// Error is a synthesis failure. Synthesizers never panic; everything that can
// go wrong is reported as an *Error.
type Error struct {
	Code    ErrorCode
	Message string
	Status  int // HTTP status, when there was a response
	Cause   error
}

// ErrTextTooShort is returned, without a network round-trip, for text below
// the minimum length. Callers treat it as "nothing to say", not as a failure.
var ErrTextTooShort = &Error{Code: CodeTextTooShort, Message: "text too short to synthesize"}

// ErrNoAPIKey is returned when no credentials are configured.
var ErrNoAPIKey = &Error{Code: CodeNoAPIKey, Message: "ELEVENLABS_API_KEY is not set"}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// IsRetryable reports whether trying the same request again may succeed.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case CodeTransport, CodeEmptyAudio:
		return true
	case CodeHTTPStatus:
		return e.Status >= 500 || e.Status == 408
	default:
		return false
	}
}

// IsRetryable reports whether err is a retryable synthesis failure.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.IsRetryable()
}

// CodeOf returns the code of err, or "" if err is not a synthesis error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func newError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

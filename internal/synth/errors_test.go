package synth

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Error{Code: CodeTextTooShort, Message: "x"})
	if !errors.Is(err, ErrTextTooShort) {
		t.Error("errors.Is should match by code through wrapping")
	}
	if errors.Is(err, ErrNoAPIKey) {
		t.Error("different codes must not match")
	}
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"plain", &Error{Code: CodeQuota, Message: "out of credits"}, "QUOTA: out of credits"},
		{"status", &Error{Code: CodeHTTPStatus, Message: "bad", Status: 400}, "HTTP_STATUS: bad (status 400)"},
		{"cause", newError(CodeTransport, "request failed", errors.New("eof")), "TRANSPORT: request failed: eof"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrTextTooShort, false},
		{ErrNoAPIKey, false},
		{&Error{Code: CodeTransport}, true},
		{&Error{Code: CodeHTTPStatus, Status: 503}, true},
		{&Error{Code: CodeHTTPStatus, Status: 404}, false},
		{&Error{Code: CodeQuota, Status: 429}, false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

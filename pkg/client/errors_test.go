package client

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		statusCode int
		expected   ErrorClass
	}{
		{429, ErrorClassThrottled},
		{503, ErrorClassTransient},
		{400, ErrorClassClient},
		{404, ErrorClassClient},
		{420, ErrorClassClient},
		{500, ErrorClassServer},
		{502, ErrorClassServer},
		{504, ErrorClassServer},
		{200, ""},
		{304, ""},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.statusCode), func(t *testing.T) {
			if got := classify(tt.statusCode); got != tt.expected {
				t.Errorf("classify(%d) = %q, want %q", tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{
			name:     "api_error",
			err:      &APIError{StatusCode: 503, Class: ErrorClassTransient},
			expected: ErrorClassTransient,
		},
		{
			name:     "wrapped_api_error",
			err:      fmt.Errorf("fetch page: %w", &APIError{StatusCode: 429, Class: ErrorClassThrottled}),
			expected: ErrorClassThrottled,
		},
		{
			name:     "plain_error",
			err:      errors.New("connection refused"),
			expected: ErrorClassNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classOf(tt.err); got != tt.expected {
				t.Errorf("classOf() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{
		StatusCode: 429,
		Class:      ErrorClassThrottled,
		Message:    "rate limit exceeded",
	}

	msg := err.Error()
	for _, want := range []string{"throttled", "429", "rate limit exceeded"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want it to contain %q", msg, want)
		}
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	inner := errors.New("underlying failure")
	err := &APIError{StatusCode: 500, Class: ErrorClassServer, Message: "boom", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}
	if !strings.Contains(err.Error(), "underlying failure") {
		t.Errorf("Error() = %q, want it to include the wrapped error", err.Error())
	}
}

func TestIsThrottled(t *testing.T) {
	throttled := &APIError{StatusCode: 429, Class: ErrorClassThrottled}

	if !IsThrottled(throttled) {
		t.Error("IsThrottled should be true for a 429 error")
	}
	if !IsThrottled(fmt.Errorf("embed: %w", throttled)) {
		t.Error("IsThrottled should see through wrapping")
	}
	if IsThrottled(&APIError{StatusCode: 503, Class: ErrorClassTransient}) {
		t.Error("IsThrottled should be false for a transient error")
	}
	if IsThrottled(errors.New("plain")) {
		t.Error("IsThrottled should be false for a plain error")
	}
}

func TestIsTransient(t *testing.T) {
	transient := &APIError{StatusCode: 503, Class: ErrorClassTransient}

	if !IsTransient(transient) {
		t.Error("IsTransient should be true for a 503 error")
	}
	if IsTransient(&APIError{StatusCode: 429, Class: ErrorClassThrottled}) {
		t.Error("IsTransient should be false for a throttled error")
	}
}

func TestRetryAfterHint(t *testing.T) {
	withHint := &APIError{
		StatusCode: 429,
		Class:      ErrorClassThrottled,
		RetryAfter: 30 * time.Second,
	}

	if got := RetryAfterHint(withHint); got != 30*time.Second {
		t.Errorf("RetryAfterHint() = %v, want 30s", got)
	}
	if got := RetryAfterHint(&APIError{StatusCode: 429, Class: ErrorClassThrottled}); got != 0 {
		t.Errorf("RetryAfterHint() without hint = %v, want 0", got)
	}
	if got := RetryAfterHint(&APIError{StatusCode: 500, Class: ErrorClassServer, RetryAfter: time.Minute}); got != 0 {
		t.Errorf("RetryAfterHint() for non-throttled = %v, want 0", got)
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected bool
	}{
		{ErrorClassServer, true},
		{ErrorClassNetwork, true},
		{ErrorClassThrottled, false},
		{ErrorClassTransient, false},
		{ErrorClassClient, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			if got := shouldRetry(tt.class); got != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.expected)
			}
		})
	}
}

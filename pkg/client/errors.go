package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common errors returned by the clients.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of remote API errors.
type ErrorClass string

const (
	// ErrorClassThrottled represents 429 rate limiting by the remote.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassTransient represents 503 temporary unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassClient represents other 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents other 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError represents a remote API error with its classification. The
// class is always recoverable from the returned value via errors.As;
// callers never need to inspect message strings.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string

	// RetryAfter is the optional retry hint carried by throttling
	// responses. Zero when the remote gave none.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("remote %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// classify categorizes an HTTP status code.
func classify(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassThrottled
	case statusCode == http.StatusServiceUnavailable:
		return ErrorClassTransient
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// classOf extracts the error class from any error in the chain.
// Errors without an APIError are treated as network failures.
func classOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ErrorClassNetwork
}

// IsThrottled reports whether the error chain carries a throttling
// signal from the remote.
func IsThrottled(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Class == ErrorClassThrottled
}

// IsTransient reports whether the error chain carries a temporary-
// unavailability signal.
func IsTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Class == ErrorClassTransient
}

// RetryAfterHint returns the retry hint of a throttling error, or zero.
func RetryAfterHint(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Class == ErrorClassThrottled {
		return apiErr.RetryAfter
	}
	return 0
}

// shouldRetry determines if an error class should be retried inside the
// client. Throttling and transient unavailability are surfaced to the
// caller instead: the sync orchestrator records them as lastError and
// the backfill runner freezes on throttling.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer:
		// 5xx server errors should be retried
		return true
	case ErrorClassNetwork:
		// Network errors should be retried
		return true
	default:
		return false
	}
}

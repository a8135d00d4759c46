package llm

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConfigured indicates no model endpoint has been configured.
	ErrNotConfigured = errors.New("model endpoint not configured")

	// ErrTimeout indicates the request exceeded its per-task timeout.
	ErrTimeout = errors.New("model request timed out")
)

// ErrorKind classifies a failed invocation for the caller's retry policy.
type ErrorKind string

const (
	// KindTransport covers network failures, timeouts and 5xx responses.
	KindTransport ErrorKind = "transport"
	// KindRateLimited is a 429; back off longer than for transport errors.
	KindRateLimited ErrorKind = "rate_limited"
	// KindAuth is a credential or permission failure and is never retried.
	KindAuth ErrorKind = "auth"
	// KindRejected is any other 4xx: the request itself is unacceptable.
	KindRejected ErrorKind = "rejected"
)

// InvocationError is returned for every failed model call. It never
// carries the provider's response body.
type InvocationError struct {
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *InvocationError) Error() string {
	msg := "model invocation failed: " + string(e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Transient reports whether the failure may succeed on a later attempt.
func (e *InvocationError) Transient() bool {
	return e.Kind == KindTransport || e.Kind == KindRateLimited
}

// KindOf returns the invocation error kind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var ie *InvocationError
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	return "", false
}

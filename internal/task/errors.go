package task

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Common errors
var (
	ErrNilEchoStore  = errors.New("local echo store cannot be nil")
	ErrNilSender     = errors.New("remote sender cannot be nil")
	ErrNilEncryption = errors.New("encryption checker cannot be nil")
	ErrNilLogger     = errors.New("logger cannot be nil")
	ErrNilEcho       = errors.New("local echo cannot be nil")
	ErrNotSendable   = errors.New("local echo is a redaction, not a sendable event")
	ErrNotRedaction  = errors.New("local echo is not a redaction")
)

// ErrCancelled is returned by Execute when a cancellation is observed
// before the remote call. It is a terminal outcome, not a failure.
var ErrCancelled = errors.New("task cancelled")

// ErrSessionInvalid marks failures caused by a rejected access token. Such
// errors are unretryable and are reported to the session owner.
var ErrSessionInvalid = errors.New("session access token rejected")

// ConnectivityError wraps a transport failure. Connectivity failures are
// retried without counting against the retry budget.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity failure: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// RateLimitedError signals that the homeserver asked the client to slow
// down. RetryAfter is zero when the server gave no hint.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitedError) Unwrap() error {
	return e.Err
}

// UnretryableError wraps a failure that must not be retried.
type UnretryableError struct {
	Err error
}

func (e *UnretryableError) Error() string {
	return fmt.Sprintf("unretryable: %v", e.Err)
}

func (e *UnretryableError) Unwrap() error {
	return e.Err
}

// Category is the retry class of an execution error.
type Category int

const (
	CategoryNone Category = iota
	CategoryConnectivity
	CategoryRateLimited
	CategoryCancelled
	CategoryUnretryable
)

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryConnectivity:
		return "connectivity"
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryCancelled:
		return "cancelled"
	default:
		return "unretryable"
	}
}

// Classify maps an execution error onto its retry class. Explicitly
// unretryable errors win over anything they wrap; bare net.Error values
// count as connectivity failures.
func Classify(err error) Category {
	if err == nil {
		return CategoryNone
	}

	var unretryable *UnretryableError
	if errors.As(err, &unretryable) {
		return CategoryUnretryable
	}
	if errors.Is(err, ErrCancelled) {
		return CategoryCancelled
	}

	var rateLimited *RateLimitedError
	if errors.As(err, &rateLimited) {
		return CategoryRateLimited
	}

	var connectivity *ConnectivityError
	if errors.As(err, &connectivity) {
		return CategoryConnectivity
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryConnectivity
	}

	return CategoryUnretryable
}

// RetryAfter returns the server-suggested delay carried by err, if any.
func RetryAfter(err error) time.Duration {
	var rateLimited *RateLimitedError
	if errors.As(err, &rateLimited) {
		return rateLimited.RetryAfter
	}
	return 0
}

package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/matrix-outbox/internal/domain"
	"github.com/phrazzld/matrix-outbox/internal/sendqueue"
	"github.com/phrazzld/matrix-outbox/internal/store"
)

// Common service errors. The API layer maps them to HTTP status codes.
var (
	// ErrLocalEchoNotFound indicates that the local echo does not exist.
	// API layer should map this to HTTP 404 Not Found.
	ErrLocalEchoNotFound = errors.New("local echo not found")

	// ErrNotPending indicates the echo is no longer owned by the send queue,
	// for example because it was already sent.
	// API layer should map this to HTTP 409 Conflict.
	ErrNotPending = errors.New("local echo is not pending")

	// ErrNotUndelivered indicates a resend of an echo that did not fail.
	// API layer should map this to HTTP 409 Conflict.
	ErrNotUndelivered = errors.New("local echo is not undelivered")

	// ErrAlreadyQueued indicates the echo already has a task in the queue.
	// API layer should map this to HTTP 409 Conflict.
	ErrAlreadyQueued = errors.New("local echo is already queued")

	// ErrQueueStopped indicates the session has ended.
	// API layer should map this to HTTP 503 Service Unavailable.
	ErrQueueStopped = errors.New("send queue is stopped")
)

// SendServiceError wraps errors from the send service with context.
type SendServiceError struct {
	// Operation is the operation that failed (e.g., "post_send", "resend")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for SendServiceError.
func (e *SendServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("send service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *SendServiceError) Unwrap() error {
	return e.Err
}

// NewSendServiceError creates a new SendServiceError.
// It returns known sentinel errors directly without wrapping.
func NewSendServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrLocalEchoNotFound), errors.Is(err, store.ErrLocalEchoNotFound):
		return ErrLocalEchoNotFound
	case errors.Is(err, ErrNotPending), errors.Is(err, domain.ErrNotPending):
		return ErrNotPending
	case errors.Is(err, ErrNotUndelivered):
		return ErrNotUndelivered
	case errors.Is(err, ErrAlreadyQueued), errors.Is(err, sendqueue.ErrDuplicateTask):
		return ErrAlreadyQueued
	case errors.Is(err, ErrQueueStopped), errors.Is(err, sendqueue.ErrProcessorStopped):
		return ErrQueueStopped
	}

	return &SendServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

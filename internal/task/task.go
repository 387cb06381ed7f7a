package task

import (
	"context"
	"log/slog"

	"github.com/phrazzld/matrix-outbox/internal/domain"
)

// Task type constants, also used as the discriminant of persisted records.
const (
	TaskTypeSendEvent = "send"
	TaskTypeRedact    = "redact"
)

// Task represents a unit of outbound work owned by the send queue.
// Version: 1.0
type Task interface {
	// ID returns the local echo id the task delivers. It is unique among
	// tracked tasks.
	ID() string

	// RoomID returns the room the task belongs to; tasks of one room run
	// one at a time in submission order.
	RoomID() string

	// Type returns the task type identifier.
	Type() string

	// Payload returns the minimal data needed to rebuild the task after a
	// restart, encoded as JSON.
	Payload() []byte

	// RetryCount returns the number of counted failed attempts.
	RetryCount() int

	// IncrementRetryCount records one counted failure and returns the new count.
	IncrementRetryCount() int

	// Execute performs the remote operation. It is a no-op when the task
	// is cancelled.
	Execute(ctx context.Context) error

	// OnPermanentFailure updates the local echo once no further attempt
	// will be made.
	OnPermanentFailure(ctx context.Context) error

	// Cancel marks the task cancelled. It is idempotent and does not
	// interrupt an in-flight remote call.
	Cancel()

	// IsCancelled reports whether the task was cancelled locally or
	// through the cancel tracker.
	IsCancelled() bool
}

// EchoStore is the subset of local echo persistence the tasks need.
// store.LocalEchoStore satisfies it.
type EchoStore interface {
	Get(ctx context.Context, eventID string) (*domain.LocalEcho, error)
	UpdateSendState(ctx context.Context, eventID string, state domain.SendState) error
	MarkSent(ctx context.Context, eventID, remoteEventID string) error
	Delete(ctx context.Context, eventID string) error
}

// EncryptionChecker decides whether events for a room must be encrypted.
type EncryptionChecker interface {
	IsRoomEncrypted(ctx context.Context, roomID string) (bool, error)
}

// RemoteSender performs the homeserver calls. Implementations classify
// their failures with the error types of this package.
type RemoteSender interface {
	// SendEvent sends echo to its room and returns the server event id.
	SendEvent(ctx context.Context, echo *domain.LocalEcho, encrypt bool) (string, error)

	// Redact redacts targetEventID in roomID and returns the event id of
	// the redaction. txnID makes retries of the same redaction idempotent.
	Redact(ctx context.Context, txnID, targetEventID, roomID, reason string) (string, error)
}

// CancelTracker reports out-of-band cancellation requests, such as a user
// deleting a pending message.
type CancelTracker interface {
	IsCancelRequested(eventID, roomID string) bool
}

// discardCancelled deletes the echo of a task cancelled after it was marked
// sending. Nothing restores or resends an echo left in that state.
func discardCancelled(ctx context.Context, echoes EchoStore, id string, logger *slog.Logger) {
	if err := echoes.Delete(ctx, id); err != nil {
		logger.Error("failed to delete cancelled local echo", "error", err)
		return
	}
	logger.Info("deleted cancelled local echo")
}

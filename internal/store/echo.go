package store

import (
	"context"

	"github.com/phrazzld/matrix-outbox/internal/domain"
)

// LocalEchoStore defines the interface for local echo persistence.
// Version: 1.0
type LocalEchoStore interface {
	// Save inserts a new local echo.
	// Returns ErrLocalEchoExists if an echo with the same event id exists.
	Save(ctx context.Context, echo *domain.LocalEcho) error

	// Get retrieves a local echo by its event id.
	// Returns ErrLocalEchoNotFound if the echo does not exist.
	Get(ctx context.Context, eventID string) (*domain.LocalEcho, error)

	// UpdateSendState changes the delivery state of a local echo.
	// Returns ErrLocalEchoNotFound if the echo does not exist.
	UpdateSendState(ctx context.Context, eventID string, state domain.SendState) error

	// MarkSent records the event id assigned by the homeserver and moves
	// the echo to sent. Both changes land together or not at all.
	// Returns ErrLocalEchoNotFound if the echo does not exist.
	MarkSent(ctx context.Context, eventID, remoteEventID string) error

	// Delete removes a local echo. Deleting a missing echo is a no-op.
	Delete(ctx context.Context, eventID string) error

	// ListByRoom returns the echoes of a room ordered by creation time.
	ListByRoom(ctx context.Context, roomID string) ([]*domain.LocalEcho, error)
}

// RoomEncryptionStore records which rooms have encryption enabled.
type RoomEncryptionStore interface {
	// IsRoomEncrypted reports whether events sent to roomID must be encrypted.
	IsRoomEncrypted(ctx context.Context, roomID string) (bool, error)

	// SetRoomEncrypted marks a room as encrypted or not.
	SetRoomEncrypted(ctx context.Context, roomID string, encrypted bool) error
}

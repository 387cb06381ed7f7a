package task

import (
	"context"
	"sync"

	"github.com/phrazzld/matrix-outbox/internal/domain"
)

// MockRemoteSender records remote calls and delegates to its Fn fields.
// Without a Fn the call succeeds with a generated event id.
type MockRemoteSender struct {
	mutex   sync.Mutex
	sends   []string
	redacts []string

	SendEventFn func(ctx context.Context, echo *domain.LocalEcho, encrypt bool) (string, error)
	RedactFn    func(ctx context.Context, txnID, targetEventID, roomID, reason string) (string, error)
}

// SendEvent implements RemoteSender.
func (m *MockRemoteSender) SendEvent(ctx context.Context, echo *domain.LocalEcho, encrypt bool) (string, error) {
	m.mutex.Lock()
	m.sends = append(m.sends, echo.EventID)
	m.mutex.Unlock()

	if m.SendEventFn != nil {
		return m.SendEventFn(ctx, echo, encrypt)
	}
	return "$remote-" + echo.EventID, nil
}

// Redact implements RemoteSender.
func (m *MockRemoteSender) Redact(ctx context.Context, txnID, targetEventID, roomID, reason string) (string, error) {
	m.mutex.Lock()
	m.redacts = append(m.redacts, targetEventID)
	m.mutex.Unlock()

	if m.RedactFn != nil {
		return m.RedactFn(ctx, txnID, targetEventID, roomID, reason)
	}
	return "$redaction-" + targetEventID, nil
}

// Sends returns the local echo ids passed to SendEvent, in call order.
func (m *MockRemoteSender) Sends() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]string(nil), m.sends...)
}

// Redacts returns the target ids passed to Redact, in call order.
func (m *MockRemoteSender) Redacts() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]string(nil), m.redacts...)
}

// MockEncryptionChecker answers IsRoomEncrypted from a fixed set of rooms.
type MockEncryptionChecker struct {
	EncryptedRooms map[string]bool
	Err            error
}

// IsRoomEncrypted implements EncryptionChecker.
func (m *MockEncryptionChecker) IsRoomEncrypted(ctx context.Context, roomID string) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	return m.EncryptedRooms[roomID], nil
}

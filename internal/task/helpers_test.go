package task

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/phrazzld/matrix-outbox/internal/domain"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMessageEcho(t *testing.T, roomID string) *domain.LocalEcho {
	t.Helper()
	echo, err := domain.NewLocalEcho(roomID, domain.EventTypeMessage, json.RawMessage(`{"msgtype":"m.text","body":"hi"}`))
	require.NoError(t, err)
	return echo
}

func newReactionEcho(t *testing.T, roomID string) *domain.LocalEcho {
	t.Helper()
	echo, err := domain.NewLocalEcho(roomID, domain.EventTypeReaction,
		json.RawMessage(`{"m.relates_to":{"rel_type":"m.annotation","event_id":"$x","key":"+1"}}`))
	require.NoError(t, err)
	return echo
}

func newRedactionEcho(t *testing.T, roomID, target string) *domain.LocalEcho {
	t.Helper()
	echo, err := domain.NewRedactionEcho(roomID, target, "spam")
	require.NoError(t, err)
	return echo
}

func newTestFactory(t *testing.T, echoes EchoStore, sender RemoteSender, tracker CancelTracker) *Factory {
	t.Helper()
	f, err := NewFactory(echoes, &MockEncryptionChecker{EncryptedRooms: map[string]bool{"!secret:example.org": true}},
		sender, tracker, testLogger())
	require.NoError(t, err)
	return f
}

func boolPtr(b bool) *bool {
	return &b
}

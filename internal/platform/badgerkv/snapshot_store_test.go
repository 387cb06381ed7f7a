package badgerkv

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/phrazzld/matrix-outbox/internal/sendqueue"
	"github.com/phrazzld/matrix-outbox/internal/store"
	"github.com/phrazzld/matrix-outbox/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ sendqueue.SnapshotStore = (*SnapshotStore)(nil)

func TestSnapshotStore_GetPut(t *testing.T) {
	t.Parallel()

	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	s := NewSnapshotStore(db, "@alice:example.org")
	ctx := context.Background()

	_, found, err := s.Get(ctx, "pending_tasks")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Put(ctx, "pending_tasks", []string{"a", "b"}))
	values, found, err := s.Get(ctx, "pending_tasks")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"a", "b"}, values)

	require.NoError(t, s.Put(ctx, "pending_tasks", nil))
	values, found, err = s.Get(ctx, "pending_tasks")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, values)
}

func TestSnapshotStore_SessionIsolation(t *testing.T) {
	t.Parallel()

	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	alice := NewSnapshotStore(db, "@alice:example.org")
	bob := NewSnapshotStore(db, "@bob:example.org")
	ctx := context.Background()

	require.NoError(t, alice.Put(ctx, "pending_tasks", []string{"alice"}))

	_, found, err := bob.Get(ctx, "pending_tasks")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSnapshotStore_SurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	db, err := Open(dir, logger)
	require.NoError(t, err)
	require.NoError(t, NewSnapshotStore(db, "@alice:example.org").Put(ctx, "pending_tasks", []string{"x"}))
	require.NoError(t, db.Close())

	db, err = Open(dir, logger)
	require.NoError(t, err)
	defer db.Close()

	values, found, err := NewSnapshotStore(db, "@alice:example.org").Get(ctx, "pending_tasks")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"x"}, values)
}

func TestSnapshotStore_Closed(t *testing.T) {
	t.Parallel()

	db, err := OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s := NewSnapshotStore(db, "@alice:example.org")
	err = s.Put(context.Background(), "pending_tasks", []string{"x"})
	assert.ErrorIs(t, err, store.ErrStoreClosed)
}

func TestSnapshotStore_BacksLedger(t *testing.T) {
	t.Parallel()

	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSnapshotStore(db, "@alice:example.org")
	ledger := sendqueue.NewLedger(s, logger, nil)

	require.NoError(t, ledger.Track(context.Background(), task.NewMockTask("$local.a", "!r:example.org")))

	records, err := sendqueue.NewLedger(s, logger, nil).Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "$local.a", records[0].(sendqueue.SendRecord).LocalEchoID)
}

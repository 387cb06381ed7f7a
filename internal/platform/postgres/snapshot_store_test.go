package postgres_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/matrix-outbox/internal/platform/postgres"
	"github.com/phrazzld/matrix-outbox/internal/store"
	"github.com/phrazzld/matrix-outbox/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSession returns a session id no other test run uses.
func newSession(t *testing.T, db *sql.DB) string {
	t.Helper()
	id := "@test-" + uuid.NewString() + ":example.org"
	t.Cleanup(func() {
		_, _ = db.Exec(`DELETE FROM ledger_snapshots WHERE session_id = $1`, id)
	})
	return id
}

func TestSnapshotStore_GetPut(t *testing.T) {
	db := testdb.Open(t)
	s := postgres.NewSnapshotStore(db, newSession(t, db))
	ctx := context.Background()

	_, found, err := s.Get(ctx, "pending_tasks")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Put(ctx, "pending_tasks", []string{"b", "a"}))
	values, found, err := s.Get(ctx, "pending_tasks")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"b", "a"}, values)

	require.NoError(t, s.Put(ctx, "pending_tasks", nil))
	values, found, err = s.Get(ctx, "pending_tasks")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, values)
}

func TestSnapshotStore_SessionIsolation(t *testing.T) {
	db := testdb.Open(t)
	alice := postgres.NewSnapshotStore(db, newSession(t, db))
	bob := postgres.NewSnapshotStore(db, newSession(t, db))
	ctx := context.Background()

	require.NoError(t, alice.Put(ctx, "pending_tasks", []string{"x"}))

	_, found, err := bob.Get(ctx, "pending_tasks")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSnapshotStore_InTransaction(t *testing.T) {
	db := testdb.Open(t)
	session := newSession(t, db)
	ctx := context.Background()

	err := store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		return postgres.NewSnapshotStore(tx, session).Put(ctx, "pending_tasks", []string{"y"})
	})
	require.NoError(t, err)

	values, found, err := postgres.NewSnapshotStore(db, session).Get(ctx, "pending_tasks")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"y"}, values)
}

func TestSnapshotStore_RolledBack(t *testing.T) {
	db := testdb.Open(t)
	session := newSession(t, db)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		require.NoError(t, postgres.NewSnapshotStore(tx, session).Put(context.Background(), "pending_tasks", []string{"gone"}))
	})

	_, found, err := postgres.NewSnapshotStore(db, session).Get(context.Background(), "pending_tasks")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSnapshotStore_SchemaMissing(t *testing.T) {
	db := testdb.Open(t)
	session := newSession(t, db)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		_, err := tx.ExecContext(ctx, `DROP TABLE ledger_snapshots`)
		require.NoError(t, err)

		s := postgres.NewSnapshotStore(tx, session)
		_, _, err = s.Get(ctx, "pending_tasks")
		assert.ErrorIs(t, err, postgres.ErrSchemaMissing)
	})
}

func TestSnapshotStore_Closed(t *testing.T) {
	db := testdb.Open(t)
	s := postgres.NewSnapshotStore(db, newSession(t, db))
	require.NoError(t, db.Close())

	_, _, err := s.Get(context.Background(), "pending_tasks")
	assert.Error(t, err)

	err = s.Put(context.Background(), "pending_tasks", []string{"z"})
	assert.Error(t, err)
}

func TestMigrationStatus(t *testing.T) {
	db := testdb.Open(t)

	versions, err := postgres.MigrationStatus(context.Background(), db)
	require.NoError(t, err)
	require.NotEmpty(t, versions)
	for _, v := range versions {
		assert.True(t, v.Applied, "migration %s", v.Path)
	}
}

package migrations_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/phrazzld/matrix-outbox/internal/platform/logger"
	"github.com/phrazzld/matrix-outbox/internal/platform/migrations"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

var testFS = fstest.MapFS{
	"00001_create_widgets.sql": &fstest.MapFile{Data: []byte(`-- +goose Up
CREATE TABLE widgets (id TEXT PRIMARY KEY);

-- +goose Down
DROP TABLE widgets;
`)},
	"00002_add_widget_name.sql": &fstest.MapFile{Data: []byte(`-- +goose Up
ALTER TABLE widgets ADD COLUMN name TEXT NOT NULL DEFAULT '';

-- +goose Down
ALTER TABLE widgets DROP COLUMN name;
`)},
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUp(t *testing.T) {
	db := openDB(t)
	log, _ := logger.NewTestLogger(t)
	ctx := context.Background()

	applied, err := migrations.Up(ctx, goose.DialectSQLite3, db, testFS, log)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, int64(1), applied[0].Version)
	assert.Equal(t, int64(2), applied[1].Version)

	_, err = db.Exec(`INSERT INTO widgets (id, name) VALUES ('a', 'first')`)
	require.NoError(t, err)

	t.Run("second run is a no-op", func(t *testing.T) {
		applied, err := migrations.Up(ctx, goose.DialectSQLite3, db, testFS, log)
		require.NoError(t, err)
		assert.Empty(t, applied)
	})
}

func TestStatus(t *testing.T) {
	db := openDB(t)
	log, _ := logger.NewTestLogger(t)
	ctx := context.Background()

	versions, err := migrations.Status(ctx, goose.DialectSQLite3, db, testFS)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	for _, v := range versions {
		assert.False(t, v.Applied, "version %d", v.Version)
	}

	_, err = migrations.Up(ctx, goose.DialectSQLite3, db, testFS, log)
	require.NoError(t, err)

	versions, err = migrations.Status(ctx, goose.DialectSQLite3, db, testFS)
	require.NoError(t, err)
	for _, v := range versions {
		assert.True(t, v.Applied, "version %d", v.Version)
		assert.False(t, v.AppliedAt.IsZero())
	}
}

func TestUp_BrokenMigration(t *testing.T) {
	db := openDB(t)
	log, _ := logger.NewTestLogger(t)

	broken := fstest.MapFS{
		"00001_broken.sql": &fstest.MapFile{Data: []byte(`-- +goose Up
CREATE TABLE;
`)},
	}

	_, err := migrations.Up(context.Background(), goose.DialectSQLite3, db, broken, log)
	assert.Error(t, err)
}

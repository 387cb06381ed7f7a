package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"

	"github.com/phrazzld/matrix-outbox/internal/platform/migrations"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Open opens the SQLite database at path with WAL journaling and a 5 second
// busy timeout on every pooled connection.
func Open(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, error) {
	query := url.Values{}
	query.Add("_pragma", "journal_mode(WAL)")
	query.Add("_pragma", "busy_timeout(5000)")
	query.Add("_pragma", "foreign_keys(ON)")
	dsn := "file:" + path + "?" + query.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	logger.Info("database connection established", "backend", "sqlite", "path", path)
	return db, nil
}

// MigrationsFS returns the schema migrations of the echo database.
func MigrationsFS() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		// ALLOW-PANIC: the embedded directory is fixed at compile time
		panic(err)
	}
	return sub
}

// Migrate brings the schema up to date.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	_, err := migrations.Up(ctx, goose.DialectSQLite3, db, MigrationsFS(), logger)
	return err
}

// MigrationStatus reports which schema migrations have been applied.
func MigrationStatus(ctx context.Context, db *sql.DB) ([]migrations.Version, error) {
	return migrations.Status(ctx, goose.DialectSQLite3, db, MigrationsFS())
}

package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
	"github.com/phrazzld/matrix-outbox/internal/platform/migrations"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// pingTimeout bounds the connectivity check performed by Open.
const pingTimeout = 5 * time.Second

// Open connects to the database at url and verifies the connection.
func Open(ctx context.Context, url string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established", "backend", "postgres")
	return db, nil
}

// MigrationsFS returns the schema migrations of the snapshot table.
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
	_, err := migrations.Up(ctx, goose.DialectPostgres, db, MigrationsFS(), logger)
	return err
}

// MigrationStatus reports which schema migrations have been applied.
func MigrationStatus(ctx context.Context, db *sql.DB) ([]migrations.Version, error) {
	return migrations.Status(ctx, goose.DialectPostgres, db, MigrationsFS())
}

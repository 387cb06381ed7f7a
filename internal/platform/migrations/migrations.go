// Package migrations applies the embedded SQL schema of a storage backend
// using goose. Each backend embeds its own migration files and hands them to
// Up or Status together with its goose dialect.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
)

// Applied describes one migration that was run by Up.
type Applied struct {
	Version  int64
	Path     string
	Duration time.Duration
	Empty    bool
}

// Version describes the state of one known migration.
type Version struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

func newProvider(dialect goose.Dialect, db *sql.DB, fsys fs.FS) (*goose.Provider, error) {
	provider, err := goose.NewProvider(dialect, db, fsys,
		goose.WithDisableGlobalRegistry(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider, nil
}

// Up applies every pending migration in fsys and returns the ones that ran.
func Up(
	ctx context.Context,
	dialect goose.Dialect,
	db *sql.DB,
	fsys fs.FS,
	logger *slog.Logger,
) ([]Applied, error) {
	log := logger.With("component", "migrations", "dialect", string(dialect))

	provider, err := newProvider(dialect, db, fsys)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	results, err := provider.Up(ctx)
	applied := make([]Applied, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil || r.Error != nil {
			continue
		}
		applied = append(applied, Applied{
			Version:  r.Source.Version,
			Path:     r.Source.Path,
			Duration: r.Duration,
			Empty:    r.Empty,
		})
		log.Info("applied migration",
			"version", r.Source.Version,
			"path", r.Source.Path,
			"duration_ms", r.Duration.Milliseconds())
	}
	if err != nil {
		log.Error("migration failed", "error", err, "applied", len(applied))
		return applied, fmt.Errorf("failed to apply migrations: %w", err)
	}

	log.Debug("migrations up to date",
		"applied", len(applied),
		"duration_ms", time.Since(startTime).Milliseconds())
	return applied, nil
}

// Status reports every migration in fsys and whether it has been applied.
func Status(ctx context.Context, dialect goose.Dialect, db *sql.DB, fsys fs.FS) ([]Version, error) {
	provider, err := newProvider(dialect, db, fsys)
	if err != nil {
		return nil, err
	}

	statuses, err := provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration status: %w", err)
	}

	versions := make([]Version, 0, len(statuses))
	for _, s := range statuses {
		if s == nil || s.Source == nil {
			continue
		}
		versions = append(versions, Version{
			Version:   s.Source.Version,
			Path:      s.Source.Path,
			Applied:   s.State == goose.StateApplied,
			AppliedAt: s.AppliedAt,
		})
	}
	return versions, nil
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/matrix-outbox/internal/config"
	"github.com/phrazzld/matrix-outbox/internal/platform/badgerkv"
	"github.com/phrazzld/matrix-outbox/internal/platform/postgres"
	"github.com/phrazzld/matrix-outbox/internal/platform/sqlite"
	"github.com/phrazzld/matrix-outbox/internal/sendqueue"
)

const (
	backendBadger   = "badger"
	backendPostgres = "postgres"
)

// openEchoDB opens the local echo database. With migrate set the schema is
// brought up to date first.
func openEchoDB(ctx context.Context, cfg *config.Config, log *slog.Logger, migrate bool) (*sql.DB, error) {
	db, err := sqlite.Open(ctx, cfg.Storage.EchoDBPath, log)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := sqlite.Migrate(ctx, db, log); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// openSnapshotDB opens the Postgres database holding the ledger snapshot.
func openSnapshotDB(ctx context.Context, cfg *config.Config, log *slog.Logger, migrate bool) (*sql.DB, error) {
	db, err := postgres.Open(ctx, cfg.Storage.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := postgres.Migrate(ctx, db, log); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// openSnapshotStore opens the ledger snapshot store of the configured
// backend, keyed by the session's user id. The returned func releases it.
func openSnapshotStore(
	ctx context.Context,
	cfg *config.Config,
	log *slog.Logger,
) (sendqueue.SnapshotStore, func() error, error) {
	switch cfg.Storage.Backend {
	case backendBadger:
		db, err := badgerkv.Open(cfg.Storage.BadgerDir, log)
		if err != nil {
			return nil, nil, err
		}
		return badgerkv.NewSnapshotStore(db, cfg.Session.UserID), db.Close, nil

	case backendPostgres:
		db, err := openSnapshotDB(ctx, cfg, log, true)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewSnapshotStore(db, cfg.Session.UserID), db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

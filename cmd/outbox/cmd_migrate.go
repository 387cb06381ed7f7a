package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"text/tabwriter"

	"github.com/phrazzld/matrix-outbox/internal/config"
	"github.com/phrazzld/matrix-outbox/internal/platform/migrations"
	"github.com/phrazzld/matrix-outbox/internal/platform/postgres"
	"github.com/phrazzld/matrix-outbox/internal/platform/sqlite"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// schema is one SQL database the outbox owns.
type schema struct {
	name    string
	dialect goose.Dialect
	fsys    fs.FS
	open    func(ctx context.Context, cfg *config.Config, log *slog.Logger, migrate bool) (*sql.DB, error)
}

// schemas returns the SQL databases used by cfg. The badger backend has no
// schema.
func schemas(cfg *config.Config) []schema {
	out := []schema{{
		name:    "echoes",
		dialect: goose.DialectSQLite3,
		fsys:    sqlite.MigrationsFS(),
		open:    openEchoDB,
	}}
	if cfg.Storage.Backend == backendPostgres {
		out = append(out, schema{
			name:    "ledger",
			dialect: goose.DialectPostgres,
			fsys:    postgres.MigrationsFS(),
			open:    openSnapshotDB,
		})
	}
	return out
}

// newMigrateCmd creates the "outbox migrate" subcommand.
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schemas",
		Long:  "Applies or reports the schema migrations of the local echo database and,\nfor the postgres backend, of the ledger database.",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSchemas(cmd, func(ctx context.Context, s schema, db *sql.DB, log *slog.Logger) error {
					applied, err := migrations.Up(ctx, s.dialect, db, s.fsys, log)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d migration(s) applied\n", s.name, len(applied))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show which migrations have been applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSchemas(cmd, func(ctx context.Context, s schema, db *sql.DB, log *slog.Logger) error {
					versions, err := migrations.Status(ctx, s.dialect, db, s.fsys)
					if err != nil {
						return err
					}
					return printStatus(cmd.OutOrStdout(), s.name, versions)
				})
			},
		},
	)

	return cmd
}

// withSchemas opens each schema's database without migrating it and runs fn.
func withSchemas(
	cmd *cobra.Command,
	fn func(ctx context.Context, s schema, db *sql.DB, log *slog.Logger) error,
) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	for _, s := range schemas(cfg) {
		db, err := s.open(ctx, cfg, log, false)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		runErr := fn(ctx, s, db, log)
		if err := multierr.Combine(runErr, db.Close()); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

func printStatus(w io.Writer, name string, versions []migrations.Version) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\nVERSION\tSTATE\tAPPLIED AT\tFILE\n", name)
	for _, v := range versions {
		state, appliedAt := "pending", "-"
		if v.Applied {
			state = "applied"
			appliedAt = v.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", v.Version, state, appliedAt, v.Path)
	}
	return tw.Flush()
}

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/phrazzld/matrix-outbox/internal/config"
	"github.com/phrazzld/matrix-outbox/internal/platform/logger"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// newRootCmd creates the root outbox command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Durable outbound send queue for a Matrix session",
		Long: "outbox accepts events and redactions for one Matrix account, stores them as\n" +
			"local echoes and delivers them in per-room order, surviving restarts and\n" +
			"network outages.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("outbox {{.Version}}\n")
	cmd.PersistentFlags().StringP("config", "c", "", "path to a configuration file (default ./config.yaml)")

	cmd.AddCommand(
		newRunCmd(),
		newMigrateCmd(),
		newPendingCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)

	return cmd
}

// loadConfig reads the configuration named by the --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Commands other than run log to
// stderr so their output stays machine readable.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	log, err := logger.SetupWithWriter(logger.LoggerConfig{Level: cfg.Server.LogLevel}, w)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return log, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the outbox version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "outbox %s\n", version)
			return nil
		},
	}
}

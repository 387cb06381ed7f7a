package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// newRunCmd creates the "outbox run" subcommand.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the send queue and its control API",
		Long: "Restores the tasks of the previous session, then serves the control API\n" +
			"until interrupted. Tasks still queued at shutdown are kept for the next run.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			log.Info("outbox starting",
				"version", version,
				"user_id", cfg.Session.UserID,
				"port", cfg.Server.Port,
				"storage_backend", cfg.Storage.Backend)

			app := fx.New(appOptions(cfg, log))

			startCtx, cancel := context.WithTimeout(cmd.Context(), app.StartTimeout())
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return fmt.Errorf("failed to start outbox: %w", err)
			}

			var exitCode int
			select {
			case sig := <-app.Wait():
				exitCode = sig.ExitCode
				log.Info("shutdown requested", "signal", sig.Signal, "exit_code", exitCode)
			case <-cmd.Context().Done():
				log.Info("shutdown requested", "reason", cmd.Context().Err())
			}

			stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
			defer cancelStop()
			if err := app.Stop(stopCtx); err != nil {
				return fmt.Errorf("failed to stop outbox cleanly: %w", err)
			}

			log.Info("outbox stopped")
			if exitCode != 0 {
				return fmt.Errorf("outbox exited with code %d", exitCode)
			}
			return nil
		},
	}
}

package main

import (
	"fmt"

	"github.com/phrazzld/matrix-outbox/internal/service/auth"
	"github.com/spf13/cobra"
)

// newTokenCmd creates the "outbox token" subcommand.
func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the control API",
		Long:  "Signs a token bound to the configured session. Tokens expire after\nauth.token_lifetime and stop working when the session's user id changes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			subject, _ := cmd.Flags().GetString("subject")

			jwtService, err := auth.NewJWTService(cfg.Auth, cfg.Session.UserID)
			if err != nil {
				return fmt.Errorf("failed to create token service: %w", err)
			}
			token, err := jwtService.GenerateToken(cmd.Context(), subject)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().String("subject", "operator", "subject recorded in the token")
	return cmd
}

package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/memohai/crmsync/cmd/crmsync/modules"
	"github.com/memohai/crmsync/internal/auth"
	"github.com/memohai/crmsync/internal/config"
)

func newTokenCommand(root *rootOptions) *cobra.Command {
	var (
		owner     string
		expiresIn time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for an owner",
		Long: `Sign a bearer token for the HTTP API with the configured JWT secret.
The CRM normally issues these; the command exists for operators and local testing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := uuid.Parse(owner); err != nil {
				return fmt.Errorf("owner must be a uuid: %w", err)
			}
			cfg, err := modules.LoadConfig(root.configPath)
			if err != nil {
				return err
			}
			ttl := expiresIn
			if ttl <= 0 {
				ttl = jwtExpiry(cfg.Auth)
			}
			token, expiresAt, err := auth.GenerateToken(owner, cfg.Auth.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner (user) id")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "token lifetime (defaults to auth.jwt_expires_in)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func jwtExpiry(cfg config.AuthConfig) time.Duration {
	d, err := time.ParseDuration(cfg.JWTExpiresIn)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(config.DefaultJWTExpiresIn)
	}
	return d
}

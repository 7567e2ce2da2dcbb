package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	"github.com/spec-kit/ticket-lifecycle/internal/config"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Operator API tokens",
	}

	var userID, guildID string
	var admin bool
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ttl := time.Duration(cfg.Auth.AccessTokenTTLMinutes) * time.Minute
			token, exp, err := auth.NewTokenManager(cfg.Auth.JWTSecret, ttl).GenerateToken(userID, guildID, admin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.UTC().Format(time.RFC3339))
			return nil
		},
	}
	issue.Flags().StringVar(&userID, "user", "", "Operator user ID (required)")
	issue.Flags().StringVar(&guildID, "guild", "", "Guild ID (required)")
	issue.Flags().BoolVar(&admin, "admin", false, "Grant the admin claim")
	_ = issue.MarkFlagRequired("user")
	_ = issue.MarkFlagRequired("guild")

	cmd.AddCommand(issue)
	return cmd
}

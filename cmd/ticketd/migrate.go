package main

import (
	"github.com/spf13/cobra"

	"github.com/spec-kit/ticket-lifecycle/internal/persistence"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Ticket store migration tools",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				rt, err := bootstrap(cmd.Context())
				if err != nil {
					return err
				}
				defer rt.Close()
				return rt.migrate(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			RunE: func(cmd *cobra.Command, args []string) error {
				rt, err := bootstrap(cmd.Context())
				if err != nil {
					return err
				}
				defer rt.Close()
				return persistence.MigrationStatus(cmd.Context(), rt.db, rt.dialect)
			},
		},
	)
	return cmd
}

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/fieldsync/internal/store/postgres"
)

func (c *cli) migrateCmd() *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	migrate.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := postgres.MigrateUp(c.cfg.Database.DSN(), c.deps.Migrations); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	})

	migrate.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := postgres.MigrateDown(c.cfg.Database.DSN(), c.deps.Migrations); err != nil {
				return err
			}
			printWarning(cmd.OutOrStdout(), "Migrations rolled back")
			return nil
		},
	})

	return migrate
}

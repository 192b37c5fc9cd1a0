package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/esoto/expense-tracker/internal/cli"
	"github.com/esoto/expense-tracker/internal/config"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Long:  `Apply any pending schema migrations to the configured database. Every other command does this on startup as well.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, cfg, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			target := cfg.Database.Path
			if cfg.Database.Driver == config.DriverPostgres {
				target = "postgres"
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Database is up to date (%s)", target)))
			return nil
		},
	}
}

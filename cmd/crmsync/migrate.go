package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memohai/crmsync/cmd/crmsync/modules"
	dbmigrations "github.com/memohai/crmsync/db"
	"github.com/memohai/crmsync/internal/db"
	"github.com/memohai/crmsync/internal/logger"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <up|down|steps|version|force> [n]",
		Short: "Apply or inspect database migrations",
		Long: `Run the embedded PostgreSQL migrations against the configured database.
"steps N" applies N migrations (negative N rolls back); "force N" marks the
schema as version N without running anything, for recovering a dirty state.`,
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"up", "down", "steps", "version", "force"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := modules.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)

			migrations, err := dbmigrations.Migrations()
			if err != nil {
				return fmt.Errorf("load migrations: %w", err)
			}
			status, err := db.RunMigrate(logger.L, cfg.Postgres, migrations, args[0], args[1:])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

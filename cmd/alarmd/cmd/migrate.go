package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/technosupport/ts-alarms/internal/config"
	"github.com/technosupport/ts-alarms/internal/journal"
)

var (
	migrateDown  bool
	migrateSteps int

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the alarm journal schema.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Journal.DatabaseURL == "" {
				return errors.New("journal.database_url is not configured")
			}

			db, err := journal.Open(cfg.Journal.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			version, dirty, err := journal.Migrate(db, migrateSteps, migrateDown)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "journal schema at version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back all migrations")
	migrateCmd.Flags().IntVar(&migrateSteps, "steps", 0, "migrate this many steps (negative rolls back)")
}

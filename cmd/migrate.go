package cmd

import (
	"errors"
	"fmt"

	"github.com/WikiSubmission/wikisubmission-discord-public/wsbot"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the pagination cache and interaction log tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DatabaseType == "" {
			return errors.New("database type not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			return errors.New(
				"database not set (must be a valid connection string or sqlite file path)",
			)
		}

		db, err := wsbot.CreateDB(cmd.Context(), cfg.DatabaseType, cfg.Database)
		if err != nil {
			return fmt.Errorf("error migrating database: %w", err)
		}
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			defer sqlDB.Close()
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Migration complete.")
		return nil
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(migrateCmd)
}

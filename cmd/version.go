package cmd

import (
	"fmt"

	"github.com/WikiSubmission/wikisubmission-discord-public/wsbot"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(
			cmd.OutOrStdout(),
			"version=%s commit=%s built: %s",
			wsbot.Version,
			wsbot.CommitSHA,
			wsbot.BuildTime,
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(versionCmd)
}

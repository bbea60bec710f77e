package cmd

import (
	"fmt"

	"github.com/WikiSubmission/wikisubmission-discord-public/wsbot"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the bot, its health API and (optionally) webhook server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		bot, err := wsbot.New(cfg)
		if err != nil {
			return fmt.Errorf("error creating bot: %w", err)
		}
		if err = bot.Run(cmd.Context()); err != nil {
			return fmt.Errorf("error running bot: %w", err)
		}
		return nil
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}

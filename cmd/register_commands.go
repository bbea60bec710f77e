package cmd

import (
	"fmt"

	"github.com/WikiSubmission/wikisubmission-discord-public/wsbot"
	"github.com/spf13/cobra"
)

var registerCommandsCmd = &cobra.Command{
	Use:   "register-commands",
	Short: "Overwrite the bot's slash commands with the current definitions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		bot, err := wsbot.New(cfg)
		if err != nil {
			return fmt.Errorf("error creating bot: %w", err)
		}

		registered, err := bot.RegisterSlashCommands()
		if err != nil {
			return fmt.Errorf("error registering commands: %w", err)
		}

		out := cmd.OutOrStdout()
		for _, c := range registered {
			fmt.Fprintf(out, "registered /%s (%s)\n", c.Name, c.ID)
		}
		return nil
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(registerCommandsCmd)
}

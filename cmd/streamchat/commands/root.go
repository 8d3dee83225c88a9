// Package commands implements the streamchat CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "streamchat",
		Short: "Stream chat completions from Anthropic models",
		Long: `streamchat sends a conversation to an Anthropic model and streams the
answer to stdout, with prompt caching, extended thinking and retries.

Examples:
  streamchat chat "Why is the sky blue?"
  streamchat chat --conversation notes.yaml --thinking high "Summarize this"
  streamchat models
  streamchat usage --since 24h`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newChatCmd(),
		newModelsCmd(),
		newUsageCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file (default ~/.streamchat/config.yaml)")
	rootCmd.PersistentFlags().String("logfile", "", "path to the log file (overrides log_file in config)")
	rootCmd.PersistentFlags().Bool("pretty", false, "use pretty console logs on stderr (only valid without a log file)")

	return rootCmd
}

package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "second-brain",
	Short: "Personal knowledge assistant server",
	Long: `second-brain serves a note-aware conversational assistant.

Notes are stored locally in sqlite and retrieved automatically when you
chat, so the model answers from your own knowledge base.

Examples:
  second-brain serve                    # start the HTTP server
  second-brain serve --port 9000`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

var debugLog bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Enable debug logging")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Command agenticmail runs the AI agent runtime: a session supervisor
// that drives model loops, executes tools, schedules follow-ups, and
// exposes an HTTP gateway for messaging and event streams.
//
// Start the server:
//
//	agenticmail serve --config agenticmail.yaml
//
// API keys come from the config file or the ANTHROPIC_API_KEY and
// OPENAI_API_KEY environment variables.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "agenticmail",
		Short:         "AI agent runtime with email-native sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "agenticmail", version)
		},
	}
}

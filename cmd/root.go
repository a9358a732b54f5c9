// Package cmd wires the dcbridge CLI: the serve command runs the HTTP
// gateway, the tools commands exercise the provider directly from the
// terminal.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dcbridge/dcbridge/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "dcbridge",
	Short: "HTTP bridge between web frontends and an MCP tool provider",
	Long: `dcbridge connects browser frontends to a Model Context Protocol tool
provider and to the Gemini API. It maintains one provider session,
exposes the negotiated tools over plain REST, and runs model-with-tools
chat turns on top of them.

Running dcbridge without a subcommand starts the gateway.`,
	SilenceUsage: true,
	Args:         cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger. DEBUG in the environment switches
// to debug level; logs go to stderr so stdout stays clean for command
// output.
func newLogger() log.Logger {
	cfg := log.Config{}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	return log.NewWithWriter(os.Stderr, cfg)
}

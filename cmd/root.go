// Package cmd defines the neyroplan command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "neyroplan",
	Short: "NeyroPlan - Gemini chat backend",
	Long: `NeyroPlan serves the chat, image and video generation API used by
the NeyroPlan browser client. Sessions are kept in memory and persisted
to local storage; generation runs against the Gemini API.

Running neyroplan without a subcommand starts the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

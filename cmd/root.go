// Package cmd defines the CLI commands for the sitescanner executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitescanner",
		Short: "Website scanner and tracking-recommendation service",
		Long: `sitescanner crawls a customer's website in resumable chunks,
classifies the business niche, and produces event-tracking
recommendations. The serve command exposes the whole pipeline over a
REST API with SSE progress streaming.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml)")
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "command failed: %v\n", err)
		os.Exit(1)
	}
}

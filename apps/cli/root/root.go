package root

import (
	"context"

	"github.com/spf13/cobra"
)

// rootCmd is the base command for the Palmyra tenancy CLI. Subcommands (bootstrap, tenant) are attached here.
var rootCmd = &cobra.Command{
	Use:           "palmyra",
	Short:         "Palmyra tenancy CLI",
	Long:          "Operator utilities for Palmyra tenancy (admin schema bootstrap, tenant lifecycle and provisioning).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI. Commands observe ctx cancellation.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}

// Package commands implements the soadctl CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// configPath is the configuration file commands load and inspect.
	configPath string
)

// rootCmd is the top-level cobra command for soadctl.
var rootCmd = &cobra.Command{
	Use:   "soadctl",
	Short: "Inspection CLI for soad configuration",
	Long:  "soadctl loads a soad configuration file and reports on its routing tables without connecting to a running daemon.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (YAML); empty uses defaults")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format: table, json")

	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

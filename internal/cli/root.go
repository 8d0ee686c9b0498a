// Package cli implements the fieldimport command line interface for
// running imports without the HTTP server.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"fieldimport/internal/logging"
)

var (
	logLevel  string
	logFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fieldimport",
	Short: "Map delimited files onto a canonical field catalog and import them",
	Long: `fieldimport ingests delimited text files, matches their columns
against a canonical field catalog by string similarity, transforms the
rows into canonical records, and persists them in batches.

The server exposes the same pipeline over HTTP; this CLI drives it
directly for one-off and scripted imports.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Overload(); err == nil {
			slog.Debug("loaded .env file")
		}
		logging.Setup(logLevel, logFormat)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("fieldimport v0.3.0")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(versionCmd)
}

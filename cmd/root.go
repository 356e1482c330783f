package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"labparse/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "labparse",
	Short: "labparse - Extract biomarker readings from laboratory reports",
	Long: `labparse reads laboratory reports (PDF, scanned images, CSV exports) and
extracts biomarker readings into a structured result with validated values,
clinical status labels and patient metadata.

Results can be written as nested JSON or flat CSV rows, appended to a Google
Sheet, stored in a local run history and summarized as trends and a plain-text
report.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("labparse executed")

		fmt.Println("Welcome to labparse!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}

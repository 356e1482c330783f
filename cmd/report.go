package cmd

import (
	"io"

	"github.com/spf13/cobra"
	"labparse/internal/analysis"
	"labparse/internal/logger"
)

var reportCmd = &cobra.Command{
	Use:   "report [result.json]",
	Short: "Render the plain-text summary report for a saved result",
	Long: `Render the summary report: patient information, readings grouped by
category with their status, trends, and up to five recommendations based on
the latest reading of each biomarker.

The result is read from a JSON file written by 'labparse parse' or, with
--sheet, from the rows of the configured Google Sheet.`,
	Example: `  labparse report result.json
  labparse report result.json -o report.txt
  labparse report --sheet`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	addResultSourceFlags(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("report")

	outputPath, _ := cmd.Flags().GetString("output")

	result, err := resolveResult(cmd, args, log)
	if err != nil {
		return err
	}

	return writeOutput(outputPath, log, func(w io.Writer) error {
		_, err := io.WriteString(w, analysis.SummaryReport(result))
		return err
	})
}

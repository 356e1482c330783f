package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"labparse/internal/analysis"
	"labparse/internal/export"
	"labparse/internal/logger"
)

var trendsCmd = &cobra.Command{
	Use:   "trends [result.json]",
	Short: "Compute biomarker trends from a saved result",
	Long: `Compute a trend summary for every biomarker with two or more readings.

The direction comes from the least-squares slope of the values in date
order: slopes within 0.1 of zero are Stable. The percent change compares the
first and last reading.

The result is read from a JSON file written by 'labparse parse' or, with
--sheet, from the rows of the configured Google Sheet.`,
	Example: `  # Trends as JSON
  labparse trends result.json

  # Trends from the rows appended to Google Sheets
  labparse trends --sheet -o trends.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTrends,
}

func init() {
	rootCmd.AddCommand(trendsCmd)

	trendsCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	addResultSourceFlags(trendsCmd)
}

func runTrends(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("trends")

	outputPath, _ := cmd.Flags().GetString("output")

	result, err := resolveResult(cmd, args, log)
	if err != nil {
		return err
	}

	trends := analysis.Trends(result)
	log.Info().
		Int("biomarkers", len(result.Biomarkers)).
		Int("trends", len(trends)).
		Msg("Trend analysis completed")

	if len(trends) == 0 {
		fmt.Fprintln(os.Stderr, "No biomarker has two or more readings.")
	}

	if err := writeOutput(outputPath, log, func(w io.Writer) error {
		return export.WriteJSON(w, trends)
	}); err != nil {
		return handleParseError(err, log)
	}
	return nil
}

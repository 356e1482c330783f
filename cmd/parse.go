package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"labparse/internal/analysis"
	"labparse/internal/config"
	"labparse/internal/export"
	"labparse/internal/logger"
	"labparse/internal/pipeline"
	"labparse/pkg/models"
)

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Extract biomarker readings from a laboratory report",
	Long: `Parse a laboratory report and extract biomarker readings.

The document is passed through the configured extraction stages in order:
CSV/TSV exports, Google Document AI (when configured), the native PDF text
layer, optional LLM table recovery and Google Cloud Vision OCR. Stages after
the first one that finds readings are skipped; --ocr forces OCR to run and
merges its readings with the earlier ones.

Values outside the plausibility range of a biomarker are dropped. Each
reading is labeled with its clinical range where one is defined.

Optional environment variables:
  GOOGLE_APPLICATION_CREDENTIALS / GOOGLE_CREDENTIALS - Enable Vision OCR and Sheets
  GOOGLE_CLOUD_PROJECT, DOCUMENT_AI_PROCESSOR_ID - Enable Document AI
  OPENAI_API_KEY - Enable --llm table recovery
  GOOGLE_SHEET_URL - Target spreadsheet for --sheet
  LABPARSE_PATTERNS_FILE - Registry overlay (same as --config)
  LABPARSE_DB_PATH - History database for --save`,
	Example: `  # Print the nested JSON result
  labparse parse report.pdf

  # Save JSON and flat CSV rows
  labparse parse report.pdf -o result.json --csv readings.csv

  # Print the summary report
  labparse parse report.pdf --report

  # Scanned report with unit conversion and a custom pattern overlay
  labparse parse scan.png --ocr --normalize-units --config patterns.yaml

  # Store the run in the history and append rows to Google Sheets
  labparse parse report.pdf --save --sheet`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().StringP("output", "o", "", "JSON output file path (default: stdout)")
	parseCmd.Flags().String("csv", "", "Write flat CSV rows to this file")
	parseCmd.Flags().Bool("report", false, "Print the summary report to stdout instead of JSON")
	parseCmd.Flags().String("report-file", "", "Write the summary report to this file")
	parseCmd.Flags().Bool("ocr", false, "Always run OCR and merge its readings")
	parseCmd.Flags().String("config", "", "Registry overlay file (JSON or YAML)")
	parseCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
	parseCmd.Flags().Bool("normalize-units", false, "Convert alternate units to mg/dL before validation")
	parseCmd.Flags().Bool("llm", false, "Recover tables from the text layer with OpenAI")
	parseCmd.Flags().Bool("sheet", false, "Append flat rows to the configured Google Sheet")
	parseCmd.Flags().Bool("save", false, "Store the run in the history database")
	parseCmd.Flags().Bool("stages", false, "Print the outcome of every extraction stage to stderr")
}

func runParse(cmd *cobra.Command, args []string) error {
	log := logger.WithRun(logger.WithComponent("parse"), uuid.NewString())

	// Get flags
	outputPath, _ := cmd.Flags().GetString("output")
	csvPath, _ := cmd.Flags().GetString("csv")
	printReport, _ := cmd.Flags().GetBool("report")
	reportPath, _ := cmd.Flags().GetString("report-file")
	useOCR, _ := cmd.Flags().GetBool("ocr")
	patternsFile, _ := cmd.Flags().GetString("config")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	normalizeUnits, _ := cmd.Flags().GetBool("normalize-units")
	useLLM, _ := cmd.Flags().GetBool("llm")
	toSheet, _ := cmd.Flags().GetBool("sheet")
	save, _ := cmd.Flags().GetBool("save")
	showStages, _ := cmd.Flags().GetBool("stages")

	path := args[0]

	log.Info().
		Str("file", path).
		Str("output", outputPath).
		Bool("ocr", useOCR).
		Bool("normalize_units", normalizeUnits).
		Bool("llm", useLLM).
		Int("timeout", timeoutSecs).
		Msg("Starting biomarker extraction")

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()
	ctx = log.WithContext(ctx)

	parser, closeStages := newParser(ctx, cfg, parserOptions{
		PatternsFile:   patternsFile,
		NormalizeUnits: normalizeUnits,
		LLM:            useLLM,
	}, log)
	defer closeStages()

	startTime := time.Now()
	run, err := parser.ParseFile(ctx, path, useOCR)
	if err != nil {
		return handleParseError(err, log)
	}
	result := run.Result

	log.Info().
		Int("biomarkers", len(result.Biomarkers)).
		Int("readings", result.ReadingCount()).
		Dur("duration", time.Since(startTime)).
		Msg("Extraction completed")

	if showStages {
		printStages(os.Stderr, run.Stages)
	}
	if result.ReadingCount() == 0 {
		fmt.Fprintln(os.Stderr, "No biomarkers found in the document.")
	}

	if outputPath != "" || !printReport {
		if err := writeOutput(outputPath, log, func(w io.Writer) error {
			return export.WriteJSON(w, result)
		}); err != nil {
			return handleParseError(err, log)
		}
	}
	if csvPath != "" {
		if err := writeOutput(csvPath, log, func(w io.Writer) error {
			return export.WriteCSV(w, result)
		}); err != nil {
			return handleParseError(err, log)
		}
	}
	if printReport || reportPath != "" {
		report := analysis.SummaryReport(result)
		if printReport {
			fmt.Print(report)
		}
		if reportPath != "" {
			if err := writeOutput(reportPath, log, func(w io.Writer) error {
				_, err := io.WriteString(w, report)
				return err
			}); err != nil {
				return err
			}
		}
	}

	if save {
		if err := saveRun(ctx, cfg, path, result); err != nil {
			return err
		}
	}
	if toSheet {
		if err := appendToSheet(ctx, cfg, path, result, log); err != nil {
			return handleParseError(err, log)
		}
	}

	return nil
}

// saveRun stores result in the history database. It logs through the
// logger attached to ctx.
func saveRun(ctx context.Context, cfg *config.Config, source string, result *models.ExtractionResult) error {
	log := *logger.WithContext(ctx)

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.SaveRun(ctx, source, result)
	if err != nil {
		return handleParseError(err, log)
	}
	fmt.Fprintf(os.Stderr, "Saved run %s (%d readings)\n", rec.ID, rec.Readings)
	return nil
}

// printStages writes one line per extraction stage.
func printStages(w io.Writer, stages []pipeline.StageReport) {
	for _, st := range stages {
		line := fmt.Sprintf("%-12s %-11s", st.Backend, st.Outcome)
		if st.Readings > 0 {
			line += fmt.Sprintf(" %d readings", st.Readings)
		}
		if st.Err != nil {
			line += " (" + st.Err.Error() + ")"
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"labparse/internal/analysis"
	"labparse/internal/config"
	"labparse/internal/export"
	"labparse/internal/logger"
	"labparse/internal/pipeline"
	"labparse/pkg/models"
)

var batchCmd = &cobra.Command{
	Use:   "batch [folder-path]",
	Short: "Parse every report in a folder and combine the readings",
	Long: `Parse all laboratory reports in a folder in parallel and aggregate their
readings into one result.

Every PDF, image and CSV/TSV file below the folder is parsed with the same
stages as 'labparse parse'. Readings repeated across reports are kept once,
so the combined result is ready for trend analysis.

Optional environment variables:
  BATCH_WORKERS - Number of parallel workers (default: number of CPUs)`,
	Example: `  # Combined JSON for a folder of reports
  labparse batch ./reports -o combined.json

  # Store every report in the history and append rows to Google Sheets
  labparse batch ./reports --save --sheet

  # Combined summary report
  labparse batch ./reports --report`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

// BatchResult represents the result of parsing a single file
type BatchResult struct {
	Path   string
	Result *models.ExtractionResult
	Error  error
	Status string // "success", "empty", "error"
	Index  int
}

// WorkerJob represents a file parsing job
type WorkerJob struct {
	FilePath string
	Index    int
}

var batchExtensions = map[string]bool{
	".pdf": true, ".csv": true, ".tsv": true, ".tab": true,
	".png": true, ".jpg": true, ".jpeg": true, ".tif": true, ".tiff": true, ".bmp": true,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringP("output", "o", "", "Combined JSON output file path (default: stdout)")
	batchCmd.Flags().String("csv", "", "Write combined flat CSV rows to this file")
	batchCmd.Flags().Bool("report", false, "Print the combined summary report to stdout instead of JSON")
	batchCmd.Flags().Bool("ocr", false, "Always run OCR and merge its readings")
	batchCmd.Flags().String("config", "", "Registry overlay file (JSON or YAML)")
	batchCmd.Flags().Int("timeout", 1800, "Processing timeout in seconds for the whole batch")
	batchCmd.Flags().Bool("normalize-units", false, "Convert alternate units to mg/dL before validation")
	batchCmd.Flags().Bool("llm", false, "Recover tables from the text layer with OpenAI")
	batchCmd.Flags().Bool("sheet", false, "Append each report's rows to the configured Google Sheet")
	batchCmd.Flags().Bool("save", false, "Store each report as a run in the history database")
	batchCmd.Flags().Int("workers", 0, "Number of parallel workers (default: BATCH_WORKERS or number of CPUs)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")

	// Get flags
	folderPath := args[0]
	outputPath, _ := cmd.Flags().GetString("output")
	csvPath, _ := cmd.Flags().GetString("csv")
	printReport, _ := cmd.Flags().GetBool("report")
	useOCR, _ := cmd.Flags().GetBool("ocr")
	patternsFile, _ := cmd.Flags().GetString("config")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	normalizeUnits, _ := cmd.Flags().GetBool("normalize-units")
	useLLM, _ := cmd.Flags().GetBool("llm")
	toSheet, _ := cmd.Flags().GetBool("sheet")
	save, _ := cmd.Flags().GetBool("save")
	numWorkers, _ := cmd.Flags().GetInt("workers")

	// Validate folder path
	folderInfo, err := os.Stat(folderPath)
	if err != nil {
		return fmt.Errorf("folder not found: %s", folderPath)
	}
	if !folderInfo.IsDir() {
		return fmt.Errorf("path is not a directory: %s", folderPath)
	}
	if numWorkers <= 0 {
		numWorkers = getNumWorkers()
	}

	log.Info().
		Str("folder", folderPath).
		Int("workers", numWorkers).
		Bool("ocr", useOCR).
		Bool("save", save).
		Bool("sheet", toSheet).
		Msg("Starting batch extraction")

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	files, err := findReportFiles(folderPath)
	if err != nil {
		return fmt.Errorf("failed to find report files: %w", err)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "No report files found in the folder.")
		return nil
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

	if numWorkers > len(files) {
		numWorkers = len(files)
	}
	fmt.Fprintf(os.Stderr, "Parsing %d files with %d workers...\n", len(files), numWorkers)

	results := parseFilesInParallel(ctx, parser, files, useOCR, numWorkers, log)
	if err := ctx.Err(); err != nil {
		return handleParseError(err, log)
	}

	var successCount, emptyCount, errorCount int
	var mds []models.ReportMetadata
	var sets [][]models.Reading
	for _, r := range results {
		switch r.Status {
		case "success":
			successCount++
		case "empty":
			emptyCount++
		case "error":
			errorCount++
			continue
		}
		mds = append(mds, r.Result.Metadata)
		sets = append(sets, r.Result.Readings())
	}
	combined := analysis.Aggregate(analysis.MergeMetadata(mds...), sets...)

	fmt.Fprintln(os.Stderr, strings.Repeat("=", 50))
	fmt.Fprintf(os.Stderr, "With readings: %d\n", successCount)
	if emptyCount > 0 {
		fmt.Fprintf(os.Stderr, "Without readings: %d\n", emptyCount)
	}
	if errorCount > 0 {
		fmt.Fprintf(os.Stderr, "Errors: %d\n", errorCount)
	}
	fmt.Fprintf(os.Stderr, "Combined: %d biomarkers, %d readings\n", len(combined.Biomarkers), combined.ReadingCount())

	if outputPath != "" || !printReport {
		if err := writeOutput(outputPath, log, func(w io.Writer) error {
			return export.WriteJSON(w, combined)
		}); err != nil {
			return handleParseError(err, log)
		}
	}
	if csvPath != "" {
		if err := writeOutput(csvPath, log, func(w io.Writer) error {
			return export.WriteCSV(w, combined)
		}); err != nil {
			return handleParseError(err, log)
		}
	}
	if printReport {
		fmt.Print(analysis.SummaryReport(combined))
	}

	if save || toSheet {
		if err := storeBatchResults(ctx, cfg, results, save, toSheet, log); err != nil {
			return err
		}
	}

	log.Info().
		Int("total", len(files)).
		Int("success", successCount).
		Int("empty", emptyCount).
		Int("errors", errorCount).
		Msg("Batch extraction completed")
	return nil
}

// storeBatchResults saves and appends every successful file in order.
func storeBatchResults(ctx context.Context, cfg *config.Config, results []BatchResult, save, toSheet bool, log zerolog.Logger) error {
	for _, r := range results {
		if r.Status != "success" {
			continue
		}
		if save {
			if err := saveRun(ctx, cfg, r.Path, r.Result); err != nil {
				return err
			}
		}
		if toSheet {
			if err := appendToSheet(ctx, cfg, r.Path, r.Result, log); err != nil {
				return handleParseError(err, log)
			}
		}
	}
	return nil
}

// findReportFiles finds all supported report files below folderPath
func findReportFiles(folderPath string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(folderPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && batchExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

// getNumWorkers returns the number of workers from environment or default
func getNumWorkers() int {
	if workersStr := os.Getenv("BATCH_WORKERS"); workersStr != "" {
		if workers, err := strconv.Atoi(workersStr); err == nil && workers > 0 {
			return workers
		}
	}
	return runtime.NumCPU()
}

// parseSingleFile parses one file and classifies the outcome
func parseSingleFile(ctx context.Context, parser *pipeline.Parser, path string, useOCR bool) BatchResult {
	result := BatchResult{Path: path, Status: "error"}

	run, err := parser.ParseFile(ctx, path, useOCR)
	if err != nil {
		result.Error = err
		return result
	}

	result.Result = run.Result
	result.Status = "success"
	if run.Result.ReadingCount() == 0 {
		result.Status = "empty"
	}
	return result
}

// parseFilesInParallel parses files using a worker pool pattern. Results
// keep the order of files.
func parseFilesInParallel(ctx context.Context, parser *pipeline.Parser, files []string, useOCR bool, numWorkers int, log zerolog.Logger) []BatchResult {
	jobs := make(chan WorkerJob, len(files))
	results := make([]BatchResult, len(files))

	var processedCount int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for job := range jobs {
				log.Debug().
					Int("worker", workerID).
					Str("file", job.FilePath).
					Int("index", job.Index+1).
					Msg("Worker parsing file")

				result := parseSingleFile(ctx, parser, job.FilePath, useOCR)
				result.Index = job.Index
				results[job.Index] = result

				mu.Lock()
				processedCount++
				fmt.Fprintf(os.Stderr, "[%d/%d] %s - %s", processedCount, len(files), filepath.Base(job.FilePath), getStatusEmoji(result.Status))
				if result.Error != nil {
					fmt.Fprintf(os.Stderr, " (%s)", result.Error.Error())
				} else {
					fmt.Fprintf(os.Stderr, " (%d readings)", result.Result.ReadingCount())
				}
				fmt.Fprintln(os.Stderr)
				mu.Unlock()
			}
		}(w)
	}

	for i, f := range files {
		jobs <- WorkerJob{FilePath: f, Index: i}
	}
	close(jobs)

	wg.Wait()

	return results
}

// getStatusEmoji returns an emoji for the processing status
func getStatusEmoji(status string) string {
	switch status {
	case "success":
		return "✅"
	case "empty":
		return "⚠️"
	case "error":
		return "❌"
	default:
		return "❓"
	}
}

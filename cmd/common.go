package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"labparse/internal/backend"
	"labparse/internal/config"
	"labparse/internal/export"
	"labparse/internal/extract"
	"labparse/internal/pipeline"
	"labparse/internal/registry"
	"labparse/internal/sheets"
	"labparse/internal/store"
	"labparse/pkg/models"
)

// parserOptions collects the flags that shape the extraction pipeline.
type parserOptions struct {
	PatternsFile   string
	NormalizeUnits bool
	LLM            bool
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)

	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling processing")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func loadConfig(log zerolog.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newParser builds the registry, extractor and stage order. The returned
// function releases the backend clients.
func newParser(ctx context.Context, cfg *config.Config, opts parserOptions, log zerolog.Logger) (*pipeline.Parser, func()) {
	patterns := opts.PatternsFile
	if patterns == "" {
		patterns = cfg.PatternsFile
	}
	reg := registry.WithOverlayFile(patterns, log)

	if opts.LLM && !cfg.LLMEnabled() {
		log.Warn().Msg("--llm requested but OPENAI_API_KEY is not set")
	}

	extractor := extract.New(reg, extract.WithUnitConversion(opts.NormalizeUnits))
	stages, closeStages := pipeline.BuildStages(ctx, cfg, pipeline.StageOptions{
		LLM:           opts.LLM && cfg.LLMEnabled(),
		LanguageHints: reg.LanguageHints(),
	}, log)
	return pipeline.New(extractor, stages...), closeStages
}

// googleCredentialsJSON returns the service account key used for Sheets.
// Inline credentials take precedence over the key file.
func googleCredentialsJSON(cfg *config.Config) ([]byte, error) {
	if cfg.GoogleCredentialsJSON != "" {
		return []byte(cfg.GoogleCredentialsJSON), nil
	}
	if cfg.GoogleCredentialsFile == "" {
		return nil, backend.ErrMissingCredentials
	}
	data, err := os.ReadFile(cfg.GoogleCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	return data, nil
}

func createSheetsService(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*sheets.Service, error) {
	if cfg.GoogleSheetURL == "" {
		log.Error().Msg("GOOGLE_SHEET_URL not configured")
		return nil, fmt.Errorf("GOOGLE_SHEET_URL environment variable is required")
	}
	creds, err := googleCredentialsJSON(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Google credentials not available for Sheets")
		return nil, err
	}
	return sheets.NewService(ctx, cfg.GoogleSheetURL, creds)
}

// appendToSheet writes result to the configured worksheet.
func appendToSheet(ctx context.Context, cfg *config.Config, source string, result *models.ExtractionResult, log zerolog.Logger) error {
	svc, err := createSheetsService(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create Google Sheets service: %w", err)
	}
	n, err := svc.AppendResult(ctx, cfg.GoogleSheetWorksheet, source, result)
	if err != nil {
		return fmt.Errorf("failed to write to Google Sheet: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Sheet: %s (%d rows added)\n", cfg.GoogleSheetWorksheet, n)
	return nil
}

func openStore(cfg *config.Config, log zerolog.Logger) (*store.Store, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to open history database")
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return st, nil
}

// writeOutput writes to path, or to stdout when path is empty or "-".
func writeOutput(path string, log zerolog.Logger, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return write(os.Stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		log.Error().
			Err(err).
			Str("output_file", path).
			Msg("Failed to create output file")
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	log.Info().
		Str("output_file", path).
		Msg("Output written to file")
	return nil
}

// loadResult reads a saved JSON result.
func loadResult(path string, log zerolog.Logger) (*models.ExtractionResult, error) {
	result, err := export.ReadJSONFile(path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("Failed to read result file")
		return nil, handleParseError(err, log)
	}
	return result, nil
}

// handleParseError provides user-friendly error messages for pipeline failures
func handleParseError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Processing failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("processing timed out. Try increasing --timeout or processing a smaller file")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("processing was canceled")
	case errors.Is(err, backend.ErrSourceUnavailable):
		return fmt.Errorf("document could not be read. Check that the file exists, is not empty and is smaller than 20MB: %w", err)
	case errors.Is(err, backend.ErrMissingCredentials):
		return fmt.Errorf("Google Cloud credentials not configured. Please set one of:\n\n" +
			"1. Export GOOGLE_APPLICATION_CREDENTIALS with path to service account JSON:\n" +
			"   export GOOGLE_APPLICATION_CREDENTIALS=/path/to/service-account-key.json\n\n" +
			"2. Export GOOGLE_CREDENTIALS with inline JSON:\n" +
			"   export GOOGLE_CREDENTIALS='{\"type\":\"service_account\",\"project_id\":\"your-project\",...}'\n\n" +
			"3. Check that your .env file contains the credentials variables")
	case errors.Is(err, backend.ErrPermissionDenied):
		return fmt.Errorf("permission denied. Please ensure your Google Cloud service account has access to the configured APIs")
	case errors.Is(err, backend.ErrQuotaExceeded):
		return fmt.Errorf("Google Cloud API quota exceeded. Check your project quotas in the Google Cloud Console")
	case errors.Is(err, export.ErrSerialization):
		return fmt.Errorf("result could not be serialized: %w", err)
	case errors.Is(err, store.ErrRunNotFound):
		return fmt.Errorf("no stored run with that ID. Use 'labparse history list' to see stored runs")
	default:
		return fmt.Errorf("processing failed: %w", err)
	}
}

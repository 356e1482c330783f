package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"labparse/pkg/models"
)

// addResultSourceFlags registers the flags shared by commands that read a
// saved result.
func addResultSourceFlags(c *cobra.Command) {
	c.Flags().Bool("sheet", false, "Read the readings from the configured Google Sheet instead of a file")
	c.Flags().Int("timeout", 120, "Timeout in seconds for reading the sheet")
}

// resolveResult loads the result named by args, or the worksheet rows when
// --sheet is set.
func resolveResult(cmd *cobra.Command, args []string, log zerolog.Logger) (*models.ExtractionResult, error) {
	fromSheet, _ := cmd.Flags().GetBool("sheet")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	switch {
	case fromSheet && len(args) > 0:
		return nil, fmt.Errorf("pass either a result file or --sheet, not both")
	case len(args) > 0:
		return loadResult(args[0], log)
	case !fromSheet:
		return nil, fmt.Errorf("a result file or --sheet is required")
	}

	cfg, err := loadConfig(log)
	if err != nil {
		return nil, err
	}
	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	svc, err := createSheetsService(ctx, cfg, log)
	if err != nil {
		return nil, handleParseError(err, log)
	}
	result, err := svc.ReadResult(ctx, cfg.GoogleSheetWorksheet)
	if err != nil {
		return nil, handleParseError(err, log)
	}
	log.Info().
		Str("sheet", cfg.GoogleSheetWorksheet).
		Int("readings", result.ReadingCount()).
		Msg("Readings loaded from Google Sheet")
	return result, nil
}

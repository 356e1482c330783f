// Package sheets appends flat biomarker rows to a Google Sheets worksheet
// and reads them back as an extraction result.
package sheets

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"labparse/internal/analysis"
	"labparse/internal/export"
	"labparse/internal/logger"
	"labparse/pkg/models"
)

// Headers are the worksheet columns: the flat export columns followed by
// the source document and the time the row was written.
var Headers = append(append([]string(nil), export.Headers...), "source", "processed_at")

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// Service handles Google Sheets operations
type Service struct {
	sheetsService *sheets.Service
	spreadsheetID string
	now           func() time.Time
	log           zerolog.Logger
}

// NewService creates a Sheets client for the spreadsheet at sheetURL using
// service account credentials.
func NewService(ctx context.Context, sheetURL string, credentialsJSON []byte) (*Service, error) {
	const op = "NewService"

	log := logger.WithComponent("sheets")

	spreadsheetID, err := extractSpreadsheetID(sheetURL)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to extract spreadsheet ID: %w", op, err)
	}
	log.Debug().Str("spreadsheet_id", spreadsheetID).Msg("Extracted spreadsheet ID")

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	sheetsService, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheets service: %w", op, err)
	}

	return &Service{
		sheetsService: sheetsService,
		spreadsheetID: spreadsheetID,
		now:           time.Now,
		log:           log,
	}, nil
}

// extractSpreadsheetID extracts the spreadsheet ID from a Google Sheets URL
func extractSpreadsheetID(url string) (string, error) {
	matches := spreadsheetIDPattern.FindStringSubmatch(url)
	if len(matches) < 2 {
		return "", fmt.Errorf("invalid Google Sheets URL format")
	}
	return matches[1], nil
}

// AppendResult appends one row per reading of result to sheetName,
// creating the worksheet and its header row when missing.
func (s *Service) AppendResult(ctx context.Context, sheetName, source string, result *models.ExtractionResult) (int, error) {
	const op = "AppendResult"

	rows := export.Rows(result)
	if len(rows) == 0 {
		s.log.Info().Str("sheet", sheetName).Msg("No readings to write")
		return 0, nil
	}

	if err := s.ensureSheetWithHeaders(ctx, sheetName); err != nil {
		return 0, fmt.Errorf("%s: failed to ensure sheet exists: %w", op, err)
	}

	processedAt := s.now().Format("2006-01-02 15:04:05")
	values := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		values = append(values, rowToValues(row, source, processedAt))
	}

	_, err := s.sheetsService.Spreadsheets.Values.Append(
		s.spreadsheetID,
		sheetName+"!"+columnRange(),
		&sheets.ValueRange{Values: values},
	).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("%s: failed to append values to sheet: %w", op, err)
	}

	s.log.Info().
		Str("sheet", sheetName).
		Int("rows_written", len(values)).
		Msg("Successfully wrote readings to Google Sheet")
	return len(values), nil
}

// ReadResult reads every row of sheetName back and aggregates the readings.
// Rows that cannot be parsed are skipped with a warning.
func (s *Service) ReadResult(ctx context.Context, sheetName string) (*models.ExtractionResult, error) {
	const op = "ReadResult"

	values, err := s.ReadRange(ctx, sheetName+"!"+columnRange())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return parseValues(values, s.log), nil
}

// ReadRange reads values from a specified range in the spreadsheet
func (s *Service) ReadRange(ctx context.Context, rangeSpec string) ([][]interface{}, error) {
	const op = "ReadRange"

	s.log.Debug().
		Str("range", rangeSpec).
		Msg("Reading range from spreadsheet")

	resp, err := s.sheetsService.Spreadsheets.Values.Get(s.spreadsheetID, rangeSpec).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read range %s: %w", op, rangeSpec, err)
	}

	s.log.Debug().
		Int("rows", len(resp.Values)).
		Str("range", rangeSpec).
		Msg("Successfully read range from spreadsheet")

	return resp.Values, nil
}

// parseValues skips the header row and converts the remaining rows. The
// first row carrying a metadata field provides it.
func parseValues(values [][]interface{}, log zerolog.Logger) *models.ExtractionResult {
	if len(values) < 2 {
		return models.NewExtractionResult()
	}

	var readings []models.Reading
	var mds []models.ReportMetadata
	for i, raw := range values[1:] {
		rowNum := i + 2 // Account for header and 0-based indexing

		cells := make([]string, len(raw))
		for j, v := range raw {
			cells[j] = fmt.Sprint(v)
		}
		row, err := export.ParseRow(cells)
		if err != nil {
			log.Warn().
				Err(err).
				Int("row", rowNum).
				Msg("Skipping unparseable row")
			continue
		}
		readings = append(readings, row.Reading())
		mds = append(mds, row.Metadata())
	}
	return analysis.Aggregate(analysis.MergeMetadata(mds...), readings)
}

// rowToValues converts a row to sheet cells in Headers order.
func rowToValues(row export.Row, source, processedAt string) []interface{} {
	values := make([]interface{}, 0, len(Headers))
	for i, cell := range row.Strings() {
		if i == 2 {
			values = append(values, row.Value) // numeric value column
			continue
		}
		values = append(values, cell)
	}
	return append(values, source, processedAt)
}

// columnRange returns the A1 column span covering Headers.
func columnRange() string {
	return "A:" + columnLetter(len(Headers))
}

func columnLetter(n int) string {
	s := ""
	for n > 0 {
		n--
		s = string(rune('A'+n%26)) + s
		n /= 26
	}
	return s
}

// ensureSheetWithHeaders ensures the sheet exists and has proper headers
func (s *Service) ensureSheetWithHeaders(ctx context.Context, sheetName string) error {
	const op = "ensureSheetWithHeaders"

	spreadsheet, err := s.sheetsService.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get spreadsheet: %w", op, err)
	}

	var sheetExists bool
	var sheetID int64
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties.Title == sheetName {
			sheetExists = true
			sheetID = sheet.Properties.SheetId
			break
		}
	}

	if !sheetExists {
		s.log.Info().Str("sheet", sheetName).Msg("Creating new sheet")

		batchUpdateReq := &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: sheetName}}},
			},
		}
		resp, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, batchUpdateReq).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to create sheet: %w", op, err)
		}
		sheetID = resp.Replies[0].AddSheet.Properties.SheetId
	}

	last := columnLetter(len(Headers))
	headerRange := fmt.Sprintf("%s!A1:%s1", sheetName, last)
	resp, err := s.sheetsService.Spreadsheets.Values.Get(s.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get headers: %w", op, err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	s.log.Info().Str("sheet", sheetName).Msg("Adding headers to sheet")

	header := make([]interface{}, len(Headers))
	for i, h := range Headers {
		header[i] = h
	}
	_, err = s.sheetsService.Spreadsheets.Values.Update(
		s.spreadsheetID,
		headerRange,
		&sheets.ValueRange{Values: [][]interface{}{header}},
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to add headers: %w", op, err)
	}

	if err := s.formatHeaders(ctx, sheetID); err != nil {
		s.log.Warn().Err(err).Msg("Failed to format headers, continuing anyway")
	}
	return nil
}

// formatHeaders makes the header row bold and resizes the columns
func (s *Service) formatHeaders(ctx context.Context, sheetID int64) error {
	const op = "formatHeaders"

	width := int64(len(Headers))
	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   width,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat:      &sheets.TextFormat{Bold: true},
						BackgroundColor: &sheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   width,
				},
			},
		},
	}

	batchUpdateReq := &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}
	if _, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, batchUpdateReq).Context(ctx).Do(); err != nil {
		return fmt.Errorf("%s: failed to format headers: %w", op, err)
	}
	return nil
}

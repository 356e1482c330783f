// Package export serializes extraction results: the nested JSON document
// and the flat one-row-per-reading format used for CSV files and
// spreadsheets.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"labparse/internal/analysis"
	"labparse/pkg/models"
)

// ErrSerialization is returned when a result cannot be written or read back.
var ErrSerialization = errors.New("serialization failed")

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	const op = "WriteJSON"

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrSerialization, err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrSerialization, err)
	}
	return nil
}

// ReadJSON decodes a result written by WriteJSON. Series are re-aggregated
// so that ordering and uniqueness hold even for hand-edited files.
func ReadJSON(r io.Reader) (*models.ExtractionResult, error) {
	const op = "ReadJSON"

	result := models.NewExtractionResult()
	if err := json.NewDecoder(r).Decode(result); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrSerialization, err)
	}
	if result.Biomarkers == nil {
		result.Biomarkers = make(map[string]models.Series)
	}
	return analysis.Normalize(result), nil
}

// ReadJSONFile is ReadJSON over a file.
func ReadJSONFile(path string) (*models.ExtractionResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ReadJSONFile: %w", err)
	}
	defer f.Close()
	return ReadJSON(f)
}

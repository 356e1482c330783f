package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"labparse/pkg/models"
)

// Headers are the column names of the flat format, in column order.
var Headers = []string{
	"biomarker", "date", "value", "unit", "status",
	"patient_name", "patient_age", "patient_gender", "report_date",
}

// Row is one reading with the result metadata repeated on every row.
type Row struct {
	Biomarker     string
	Date          string
	Value         float64
	Unit          string
	Status        string
	PatientName   string
	PatientAge    int
	PatientGender string
	ReportDate    string
}

// Rows flattens result in biomarker order, each series in date order.
func Rows(result *models.ExtractionResult) []Row {
	md := result.Metadata
	readings := result.Readings()
	rows := make([]Row, 0, len(readings))
	for _, r := range readings {
		rows = append(rows, Row{
			Biomarker:     r.Biomarker,
			Date:          r.Date,
			Value:         r.Value,
			Unit:          r.Unit,
			Status:        r.Status,
			PatientName:   md.PatientName,
			PatientAge:    md.PatientAge,
			PatientGender: md.PatientGender,
			ReportDate:    md.ReportDate,
		})
	}
	return rows
}

// Strings returns the row's cells in Headers order. Absent fields are empty.
func (r Row) Strings() []string {
	age := ""
	if r.PatientAge > 0 {
		age = strconv.Itoa(r.PatientAge)
	}
	return []string{
		r.Biomarker,
		r.Date,
		strconv.FormatFloat(r.Value, 'f', -1, 64),
		r.Unit,
		r.Status,
		r.PatientName,
		age,
		r.PatientGender,
		r.ReportDate,
	}
}

// Reading converts the row back into a reading.
func (r Row) Reading() models.Reading {
	return models.Reading{Biomarker: r.Biomarker, Date: r.Date, Value: r.Value, Unit: r.Unit, Status: r.Status}
}

// Metadata returns the metadata repeated on the row.
func (r Row) Metadata() models.ReportMetadata {
	return models.ReportMetadata{
		PatientName:   r.PatientName,
		PatientAge:    r.PatientAge,
		PatientGender: r.PatientGender,
		ReportDate:    r.ReportDate,
	}
}

// ParseRow reads a row from cells in Headers order. Trailing cells may be
// missing.
func ParseRow(cells []string) (Row, error) {
	const op = "ParseRow"

	cell := func(i int) string {
		if i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}

	if cell(0) == "" {
		return Row{}, fmt.Errorf("%s: %w: missing biomarker", op, ErrSerialization)
	}
	value, err := strconv.ParseFloat(cell(2), 64)
	if err != nil {
		return Row{}, fmt.Errorf("%s: %w: value %q", op, ErrSerialization, cell(2))
	}
	row := Row{
		Biomarker:     cell(0),
		Date:          cell(1),
		Value:         value,
		Unit:          cell(3),
		Status:        cell(4),
		PatientName:   cell(5),
		PatientGender: cell(7),
		ReportDate:    cell(8),
	}
	if age := cell(6); age != "" {
		if row.PatientAge, err = strconv.Atoi(age); err != nil {
			return Row{}, fmt.Errorf("%s: %w: age %q", op, ErrSerialization, age)
		}
	}
	return row, nil
}

// WriteCSV writes the header line and one line per reading.
func WriteCSV(w io.Writer, result *models.ExtractionResult) error {
	const op = "WriteCSV"

	cw := csv.NewWriter(w)
	if err := cw.Write(Headers); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrSerialization, err)
	}
	for _, row := range Rows(result) {
		if err := cw.Write(row.Strings()); err != nil {
			return fmt.Errorf("%s: %w: %v", op, ErrSerialization, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrSerialization, err)
	}
	return nil
}

package backend

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"

	"labparse/pkg/models"
)

// DelimitedName identifies the CSV/TSV backend.
const DelimitedName = "delimited"

// Delimited reads CSV and TSV lab exports as a single table whose first
// record is the header.
type Delimited struct{}

// NewDelimited creates the CSV/TSV backend.
func NewDelimited() *Delimited { return &Delimited{} }

// Name implements Backend.
func (d *Delimited) Name() string { return DelimitedName }

// Supports implements Backend.
func (d *Delimited) Supports(doc *Document) bool { return doc.IsDelimited() }

// Extract implements Backend.
func (d *Delimited) Extract(ctx context.Context, doc *Document) (*Output, error) {
	const op = "Extract"

	if !d.Supports(doc) {
		return nil, WrapBackendError(op, DelimitedName, ErrUnsupportedFormat, doc.MimeType)
	}

	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(doc.Data, []byte("\ufeff"))))
	if doc.MimeType == MimeTSV {
		r.Comma = '\t'
	}
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, WrapBackendError(op, DelimitedName, ErrUnsupportedFormat, err.Error())
	}

	table := make(models.Table, 0, len(records))
	for _, rec := range records {
		blank := true
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
			blank = blank && rec[i] == ""
		}
		if !blank {
			table = append(table, rec)
		}
	}

	out := &Output{Backend: DelimitedName}
	if len(table) >= 2 {
		out.Pages = []Page{{Number: 1, Tables: []models.Table{pad(table)}}}
	}
	return out, nil
}

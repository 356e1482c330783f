package backend

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"

	"labparse/internal/logger"
	"labparse/pkg/models"
)

// TextLayerName identifies the native PDF text layer backend.
const TextLayerName = "text-layer"

const (
	// wordGapFactor is the gap, in font sizes, above which two runs are separate words.
	wordGapFactor = 0.25
	// cellGapFactor is the gap, in font sizes, above which two runs are separate table cells.
	cellGapFactor = 1.5
)

// TextLayer reads the embedded text of digital PDFs and reconstructs
// tables from the horizontal layout of each row.
type TextLayer struct {
	log zerolog.Logger
}

// NewTextLayer creates the native text layer backend.
func NewTextLayer() *TextLayer {
	return &TextLayer{log: logger.WithComponent("text-layer")}
}

// Name implements Backend.
func (t *TextLayer) Name() string { return TextLayerName }

// Supports implements Backend.
func (t *TextLayer) Supports(doc *Document) bool { return doc.IsPDF() }

// Extract implements Backend. Malformed PDFs that make the reader panic
// are reported as ErrInvalidPDF.
func (t *TextLayer) Extract(ctx context.Context, doc *Document) (out *Output, err error) {
	const op = "Extract"

	if !t.Supports(doc) {
		return nil, WrapBackendError(op, TextLayerName, ErrUnsupportedFormat, doc.MimeType)
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, WrapBackendError(op, TextLayerName, ErrInvalidPDF, fmt.Sprint(r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(doc.Data), int64(len(doc.Data)))
	if err != nil {
		return nil, WrapBackendError(op, TextLayerName, ErrInvalidPDF, err.Error())
	}

	out = &Output{Backend: TextLayerName}
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		rows, err := page.GetTextByRow()
		if err != nil {
			t.log.Debug().Err(err).Int("page", i).Msg("Row layout unavailable, using plain text")
			text, err := page.GetPlainText(nil)
			if err != nil {
				t.log.Warn().Err(err).Int("page", i).Msg("Failed to extract text from page")
				continue
			}
			out.Pages = append(out.Pages, Page{Number: i, Text: text})
			continue
		}

		lines := layoutLines(rows)
		out.Pages = append(out.Pages, Page{
			Number: i,
			Text:   pageText(lines),
			Tables: layoutTables(lines),
		})
	}

	t.log.Debug().
		Int("pages", len(out.Pages)).
		Int("tables", len(out.Tables())).
		Msg("Text layer extracted")
	return out, nil
}

// glyph is one positioned text run of a row.
type glyph struct {
	X, W, Size float64
	S          string
}

// line is a row of the page split into cells at wide horizontal gaps.
type line struct {
	cells []string
}

func (l line) text() string {
	return strings.Join(l.cells, " ")
}

// layoutLines orders the rows from the top of the page down and converts
// each into cells.
func layoutLines(rows pdf.Rows) []line {
	sorted := append(pdf.Rows(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position > sorted[j].Position })

	lines := make([]line, 0, len(sorted))
	for _, row := range sorted {
		glyphs := make([]glyph, 0, len(row.Content))
		for _, t := range row.Content {
			glyphs = append(glyphs, glyph{X: t.X, W: t.W, Size: t.FontSize, S: t.S})
		}
		if cells := splitCells(glyphs); len(cells) > 0 {
			lines = append(lines, line{cells: cells})
		}
	}
	return lines
}

// splitCells joins glyphs left to right into words and words into cells.
func splitCells(glyphs []glyph) []string {
	sort.SliceStable(glyphs, func(i, j int) bool { return glyphs[i].X < glyphs[j].X })

	var cells []string
	var cell strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cell.String()); s != "" {
			cells = append(cells, s)
		}
		cell.Reset()
	}

	for i, g := range glyphs {
		if i > 0 {
			prev := glyphs[i-1]
			size := prev.Size
			if size <= 0 {
				size = 1
			}
			gap := g.X - (prev.X + prev.W)
			switch {
			case gap > size*cellGapFactor:
				flush()
			case gap > size*wordGapFactor:
				cell.WriteByte(' ')
			}
		}
		cell.WriteString(g.S)
	}
	flush()
	return cells
}

func pageText(lines []line) string {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l.text())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// layoutTables treats every run of two or more consecutive multi-cell
// lines as a table. Rows are padded to the widest row.
func layoutTables(lines []line) []models.Table {
	var tables []models.Table
	var current models.Table
	flush := func() {
		if len(current) >= 2 {
			tables = append(tables, pad(current))
		}
		current = nil
	}

	for _, l := range lines {
		if len(l.cells) < 2 {
			flush()
			continue
		}
		current = append(current, l.cells)
	}
	flush()
	return tables
}

func pad(t models.Table) models.Table {
	width := 0
	for _, row := range t {
		width = max(width, len(row))
	}
	for i, row := range t {
		for len(row) < width {
			row = append(row, "")
		}
		t[i] = row
	}
	return t
}

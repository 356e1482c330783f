// Package backend recovers text and tables from lab report documents.
//
// Each Backend is one capability provider in the extraction order: the
// native PDF text layer, Google Document AI layout parsing, an optional
// OpenAI table recovery stage and Google Cloud Vision OCR over rasterized or
// scanned pages. Backends only produce page text and string tables; all
// biomarker logic lives in package extract.
//
// Optional Environment Variables:
//   - GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS: Google Cloud credentials
//   - GOOGLE_CLOUD_PROJECT, GOOGLE_CLOUD_LOCATION, DOCUMENT_AI_PROCESSOR_ID: Document AI
//   - OPENAI_API_KEY, OPENAI_MODEL: LLM table recovery
//
// Limitations:
//   - Maximum document size: 20MB for synchronous Google processing
//   - Vision annotates at most 5 PDF pages per request, longer files are chunked
package backend

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"labparse/pkg/models"
)

// MIME types understood by the backends.
const (
	MimePDF  = "application/pdf"
	MimeCSV  = "text/csv"
	MimeTSV  = "text/tab-separated-values"
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeTIFF = "image/tiff"
	MimeBMP  = "image/bmp"
)

// MaxDocumentSizeBytes is the maximum document size for synchronous processing (20MB).
const MaxDocumentSizeBytes = 20 * 1024 * 1024

// Backend extracts page text and tables from a document.
type Backend interface {
	// Name identifies the backend in logs and candidate sources.
	Name() string

	// Supports reports whether the backend can read the document's format.
	Supports(doc *Document) bool

	// Extract returns the recovered pages. An empty Output is not an error.
	Extract(ctx context.Context, doc *Document) (*Output, error)
}

// Document is a loaded source document.
type Document struct {
	Path     string
	MimeType string
	Data     []byte
}

// IsPDF reports whether the document is a PDF.
func (d *Document) IsPDF() bool {
	return d.MimeType == MimePDF
}

// IsImage reports whether the document is a single raster image.
func (d *Document) IsImage() bool {
	return strings.HasPrefix(d.MimeType, "image/")
}

// IsDelimited reports whether the document is a CSV or TSV export.
func (d *Document) IsDelimited() bool {
	return d.MimeType == MimeCSV || d.MimeType == MimeTSV
}

// Page is the text and tables recovered from one page.
type Page struct {
	Number int
	Text   string
	Tables []models.Table
}

// Output is everything one backend recovered from a document.
type Output struct {
	Backend string
	Pages   []Page
}

// Text joins the page texts with blank lines.
func (o *Output) Text() string {
	if o == nil {
		return ""
	}
	parts := make([]string, 0, len(o.Pages))
	for _, p := range o.Pages {
		if strings.TrimSpace(p.Text) != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Tables returns the tables of every page in page order.
func (o *Output) Tables() []models.Table {
	if o == nil {
		return nil
	}
	var out []models.Table
	for _, p := range o.Pages {
		out = append(out, p.Tables...)
	}
	return out
}

// Empty reports whether no page carried text or tables.
func (o *Output) Empty() bool {
	return strings.TrimSpace(o.Text()) == "" && len(o.Tables()) == 0
}

// LoadDocument reads path and detects its MIME type. Any failure is
// reported as ErrSourceUnavailable.
func LoadDocument(path string) (*Document, error) {
	const op = "LoadDocument"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapBackendError(op, "", ErrSourceUnavailable, err.Error())
	}
	if len(data) == 0 {
		return nil, WrapBackendError(op, "", ErrSourceUnavailable, fmt.Sprintf("%s is empty", path))
	}
	if len(data) > MaxDocumentSizeBytes {
		return nil, WrapBackendError(op, "", ErrSourceUnavailable, fmt.Sprintf("file size: %d bytes", len(data)))
	}
	return NewDocument(path, data), nil
}

// NewDocument wraps in-memory content, detecting the MIME type from the
// content and falling back to the file extension.
func NewDocument(path string, data []byte) *Document {
	return &Document{Path: path, MimeType: DetectMimeType(path, data), Data: data}
}

// DetectMimeType sniffs data and uses the extension of path for the
// text formats sniffing cannot tell apart.
func DetectMimeType(path string, data []byte) string {
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return MimePDF
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return MimeCSV
	case ".tsv", ".tab":
		return MimeTSV
	case ".tif", ".tiff":
		return MimeTIFF
	case ".bmp":
		return MimeBMP
	}
	mime := http.DetectContentType(data)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return mime
}

package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"labparse/internal/logger"
	"labparse/pkg/models"
)

// DocumentAIName identifies the Document AI layout backend.
const DocumentAIName = "document-ai"

// DocumentAIConfig configures the Document AI layout parser.
type DocumentAIConfig struct {
	ProjectID        string
	Location         string // "us" or "eu"
	ProcessorID      string
	ProcessorVersion string
	Credentials      GoogleCredentials
	Timeout          time.Duration
}

// ProcessorName returns the fully qualified processor resource name.
func (c DocumentAIConfig) ProcessorName() string {
	if c.ProcessorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			c.ProjectID, c.Location, c.ProcessorID, c.ProcessorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		c.ProjectID, c.Location, c.ProcessorID)
}

// endpoint returns the regional endpoint, empty for the default "us" one.
func (c DocumentAIConfig) endpoint() string {
	if c.Location == "" || c.Location == "us" {
		return ""
	}
	return fmt.Sprintf("%s-documentai.googleapis.com:443", c.Location)
}

// DocumentAI recovers page text and tables with a Document AI form or
// layout parser processor.
type DocumentAI struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAI creates the Document AI backend.
func NewDocumentAI(ctx context.Context, config DocumentAIConfig) (*DocumentAI, error) {
	const op = "NewDocumentAI"

	if config.ProjectID == "" || config.ProcessorID == "" {
		return nil, WrapBackendError(op, DocumentAIName, ErrInvalidConfiguration, "GOOGLE_CLOUD_PROJECT and DOCUMENT_AI_PROCESSOR_ID are required")
	}
	if config.Location == "" {
		config.Location = "us"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	var clientOptions []option.ClientOption
	if endpoint := config.endpoint(); endpoint != "" {
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}
	clientOptions = append(clientOptions, config.Credentials.ClientOptions()...)

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		if !config.Credentials.Configured() {
			return nil, WrapBackendError(op, DocumentAIName, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapBackendError(op, DocumentAIName, err, fmt.Sprintf("failed to create Document AI client for location: %s", config.Location))
	}

	return NewDocumentAIWithClient(config, client), nil
}

// NewDocumentAIWithClient creates the backend with an explicit client.
func NewDocumentAIWithClient(config DocumentAIConfig, client *documentai.DocumentProcessorClient) *DocumentAI {
	return &DocumentAI{
		client: client,
		config: config,
		log:    logger.WithComponent("document-ai"),
	}
}

// Name implements Backend.
func (d *DocumentAI) Name() string { return DocumentAIName }

// Supports implements Backend.
func (d *DocumentAI) Supports(doc *Document) bool {
	return doc.IsPDF() || doc.IsImage()
}

// Extract implements Backend.
func (d *DocumentAI) Extract(ctx context.Context, doc *Document) (*Output, error) {
	const op = "Extract"

	if !d.Supports(doc) {
		return nil, WrapBackendError(op, DocumentAIName, ErrUnsupportedFormat, doc.MimeType)
	}

	processCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: d.config.ProcessorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  doc.Data,
				MimeType: doc.MimeType,
			},
		},
	}

	d.log.Debug().
		Str("processor", req.Name).
		Int("size", len(doc.Data)).
		Msg("Sending document to Document AI")

	resp, err := d.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, handleGoogleError(op, DocumentAIName, err)
	}
	if resp.GetDocument() == nil {
		return nil, WrapBackendError(op, DocumentAIName, ErrProcessingFailed, "no document in response")
	}

	return documentOutput(resp.GetDocument()), nil
}

// Close closes the underlying client.
func (d *DocumentAI) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// documentOutput converts a processed document into pages. Without page
// layout the whole document text becomes a single page.
func documentOutput(doc *documentaipb.Document) *Output {
	out := &Output{Backend: DocumentAIName}
	if len(doc.GetPages()) == 0 {
		if doc.GetText() != "" {
			out.Pages = append(out.Pages, Page{Number: 1, Text: doc.GetText()})
		}
		return out
	}

	for i, p := range doc.GetPages() {
		page := Page{
			Number: int(p.GetPageNumber()),
			Text:   anchorText(doc.GetText(), p.GetLayout().GetTextAnchor()),
		}
		if page.Number == 0 {
			page.Number = i + 1
		}
		for _, t := range p.GetTables() {
			if table := documentTable(doc.GetText(), t); len(table) >= 2 {
				page.Tables = append(page.Tables, table)
			}
		}
		out.Pages = append(out.Pages, page)
	}
	return out
}

// documentTable flattens header and body rows into one table. Only the
// last header row is kept so that row 0 names the columns.
func documentTable(text string, t *documentaipb.Document_Page_Table) models.Table {
	var table models.Table
	if headers := t.GetHeaderRows(); len(headers) > 0 {
		table = append(table, tableRow(text, headers[len(headers)-1]))
	}
	for _, r := range t.GetBodyRows() {
		table = append(table, tableRow(text, r))
	}
	return pad(table)
}

func tableRow(text string, r *documentaipb.Document_Page_Table_TableRow) []string {
	row := make([]string, 0, len(r.GetCells()))
	for _, c := range r.GetCells() {
		cell := strings.Join(strings.Fields(anchorText(text, c.GetLayout().GetTextAnchor())), " ")
		row = append(row, cell)
		for span := c.GetColSpan(); span > 1; span-- {
			row = append(row, "")
		}
	}
	return row
}

// anchorText resolves the segments of a text anchor against the document text.
func anchorText(text string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil {
		return ""
	}
	var sb strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start, end := seg.GetStartIndex(), seg.GetEndIndex()
		if start < 0 || end > int64(len(text)) || start >= end {
			continue
		}
		sb.WriteString(text[start:end])
	}
	return sb.String()
}

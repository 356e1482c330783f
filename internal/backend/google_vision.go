package backend

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rs/zerolog"

	"labparse/internal/logger"
)

const (
	// VisionName identifies the Cloud Vision OCR backend.
	VisionName = "vision-ocr"

	// MaxPagesSync is the maximum number of PDF pages per synchronous request.
	MaxPagesSync = 5
)

// GoogleVision runs document text detection on scanned PDFs and page images.
type GoogleVision struct {
	client        *vision.ImageAnnotatorClient
	languageHints []string
	log           zerolog.Logger
}

// NewGoogleVision creates the OCR backend. It uses explicit credentials when
// configured and application default credentials otherwise.
func NewGoogleVision(ctx context.Context, creds GoogleCredentials, languageHints []string) (*GoogleVision, error) {
	const op = "NewGoogleVision"

	client, err := vision.NewImageAnnotatorClient(ctx, creds.ClientOptions()...)
	if err != nil {
		if !creds.Configured() {
			return nil, WrapBackendError(op, VisionName, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapBackendError(op, VisionName, err, "failed to create Vision client")
	}
	return NewGoogleVisionWithClient(client, languageHints), nil
}

// NewGoogleVisionWithClient creates the backend with an explicit client.
func NewGoogleVisionWithClient(client *vision.ImageAnnotatorClient, languageHints []string) *GoogleVision {
	return &GoogleVision{
		client:        client,
		languageHints: languageHints,
		log:           logger.WithComponent("vision-ocr"),
	}
}

// Name implements Backend.
func (g *GoogleVision) Name() string { return VisionName }

// Supports implements Backend.
func (g *GoogleVision) Supports(doc *Document) bool {
	return doc.IsPDF() || doc.IsImage()
}

// Extract implements Backend.
func (g *GoogleVision) Extract(ctx context.Context, doc *Document) (*Output, error) {
	switch {
	case doc.IsPDF():
		return g.extractPDF(ctx, doc)
	case doc.IsImage():
		return g.extractImage(ctx, doc)
	}
	return nil, WrapBackendError("Extract", VisionName, ErrUnsupportedFormat, doc.MimeType)
}

func (g *GoogleVision) imageContext() *visionpb.ImageContext {
	if len(g.languageHints) == 0 {
		return nil
	}
	return &visionpb.ImageContext{LanguageHints: g.languageHints}
}

// extractPDF annotates the file in chunks of MaxPagesSync pages until the
// reported page total is reached.
func (g *GoogleVision) extractPDF(ctx context.Context, doc *Document) (*Output, error) {
	const op = "extractPDF"

	out := &Output{Backend: VisionName}
	total := MaxPagesSync
	for start := 1; start <= total; start += MaxPagesSync {
		pages := make([]int32, 0, MaxPagesSync)
		for p := start; p < start+MaxPagesSync && p <= total; p++ {
			pages = append(pages, int32(p))
		}

		req := &visionpb.BatchAnnotateFilesRequest{
			Requests: []*visionpb.AnnotateFileRequest{
				{
					InputConfig: &visionpb.InputConfig{
						Content:  doc.Data,
						MimeType: MimePDF,
					},
					Features: []*visionpb.Feature{
						{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
					},
					ImageContext: g.imageContext(),
					Pages:        pages,
				},
			},
		}

		resp, err := g.client.BatchAnnotateFiles(ctx, req)
		if err != nil {
			return nil, handleGoogleError(op, VisionName, err)
		}
		if len(resp.GetResponses()) == 0 {
			return nil, WrapBackendError(op, VisionName, ErrProcessingFailed, "no response from Vision API")
		}

		fileResp := resp.GetResponses()[0]
		if fileResp.GetError() != nil {
			return nil, WrapBackendError(op, VisionName, ErrProcessingFailed, fmt.Sprintf("Vision API error: %s", fileResp.GetError().GetMessage()))
		}
		if n := int(fileResp.GetTotalPages()); n > 0 {
			total = n
		}

		for i, pageResp := range fileResp.GetResponses() {
			number := start + i
			if pageResp.GetError() != nil {
				g.log.Warn().
					Int("page", number).
					Str("error", pageResp.GetError().GetMessage()).
					Msg("Vision failed on page")
				continue
			}
			out.Pages = append(out.Pages, annotationPage(number, pageResp.GetFullTextAnnotation()))
		}
	}

	g.log.Debug().Int("pages", len(out.Pages)).Msg("Vision OCR finished")
	return out, nil
}

func (g *GoogleVision) extractImage(ctx context.Context, doc *Document) (*Output, error) {
	const op = "extractImage"

	content, err := PrepareForOCR(doc.Data)
	if err != nil {
		return nil, WrapBackendError(op, VisionName, err, doc.Path)
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: content},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
				ImageContext: g.imageContext(),
			},
		},
	}

	resp, err := g.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, handleGoogleError(op, VisionName, err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, WrapBackendError(op, VisionName, ErrProcessingFailed, "no response from Vision API")
	}
	imgResp := resp.GetResponses()[0]
	if imgResp.GetError() != nil {
		return nil, WrapBackendError(op, VisionName, ErrProcessingFailed, fmt.Sprintf("Vision API error: %s", imgResp.GetError().GetMessage()))
	}

	return &Output{
		Backend: VisionName,
		Pages:   []Page{annotationPage(1, imgResp.GetFullTextAnnotation())},
	}, nil
}

// Close closes the underlying Vision client.
func (g *GoogleVision) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// annotationPage keeps the detected text and rebuilds tables from the word
// bounding boxes.
func annotationPage(number int, ann *visionpb.TextAnnotation) Page {
	page := Page{Number: number, Text: ann.GetText()}
	var words []ocrWord
	for _, p := range ann.GetPages() {
		for _, block := range p.GetBlocks() {
			for _, para := range block.GetParagraphs() {
				for _, w := range para.GetWords() {
					if word, ok := newOCRWord(w); ok {
						words = append(words, word)
					}
				}
			}
		}
	}
	page.Tables = layoutTables(ocrLines(words))
	return page
}

// ocrWord is a detected word with its axis-aligned bounds.
type ocrWord struct {
	text                   string
	left, right, top, bott float64
}

func (w ocrWord) height() float64  { return w.bott - w.top }
func (w ocrWord) centerY() float64 { return (w.top + w.bott) / 2 }

func newOCRWord(w *visionpb.Word) (ocrWord, bool) {
	var sb strings.Builder
	for _, s := range w.GetSymbols() {
		sb.WriteString(s.GetText())
	}
	vertices := w.GetBoundingBox().GetVertices()
	if sb.Len() == 0 || len(vertices) == 0 {
		return ocrWord{}, false
	}

	word := ocrWord{text: sb.String()}
	for i, v := range vertices {
		x, y := float64(v.GetX()), float64(v.GetY())
		if i == 0 {
			word.left, word.right, word.top, word.bott = x, x, y, y
			continue
		}
		word.left, word.right = min(word.left, x), max(word.right, x)
		word.top, word.bott = min(word.top, y), max(word.bott, y)
	}
	return word, true
}

// ocrLines groups words whose vertical centers fall within half a word
// height of each other into lines, top to bottom.
func ocrLines(words []ocrWord) []line {
	sort.SliceStable(words, func(i, j int) bool { return words[i].centerY() < words[j].centerY() })

	var lines []line
	var row []ocrWord
	var rowY float64
	flush := func() {
		glyphs := make([]glyph, 0, len(row))
		for _, w := range row {
			glyphs = append(glyphs, glyph{X: w.left, W: w.right - w.left, Size: w.height(), S: w.text})
		}
		if cells := splitCells(glyphs); len(cells) > 0 {
			lines = append(lines, line{cells: cells})
		}
		row = nil
	}

	for _, w := range words {
		if len(row) > 0 && math.Abs(w.centerY()-rowY) > w.height()/2 {
			flush()
		}
		if len(row) == 0 {
			rowY = w.centerY()
		}
		row = append(row, w)
	}
	if len(row) > 0 {
		flush()
	}
	return lines
}


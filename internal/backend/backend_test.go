package backend

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labparse/internal/extract"
	"labparse/pkg/models"
)

func TestDetectMimeType(t *testing.T) {
	pngData := encodePNG(t, image.NewGray(image.Rect(0, 0, 4, 4)))

	tests := []struct {
		path string
		data []byte
		want string
	}{
		{"report.bin", []byte("%PDF-1.7\n..."), MimePDF},
		{"results.csv", []byte("Test,Result\nLDL,145\n"), MimeCSV},
		{"results.TSV", []byte("Test\tResult\n"), MimeTSV},
		{"scan.tiff", []byte("II*\x00"), MimeTIFF},
		{"scan.bmp", []byte("BM"), MimeBMP},
		{"scan", pngData, MimePNG},
		{"notes.txt", []byte("hello"), "text/plain"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectMimeType(tt.path, tt.data))
		})
	}
}

func TestLoadDocument(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadDocument(filepath.Join(dir, "missing.pdf"))
	assert.ErrorIs(t, err, ErrSourceUnavailable)

	empty := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = LoadDocument(empty)
	assert.ErrorIs(t, err, ErrSourceUnavailable)

	csvPath := filepath.Join(dir, "labs.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Date,LDL\n2024-01-01,120\n"), 0o600))
	doc, err := LoadDocument(csvPath)
	require.NoError(t, err)
	assert.Equal(t, MimeCSV, doc.MimeType)
	assert.True(t, doc.IsDelimited())
	assert.False(t, doc.IsPDF())
}

func TestBackendError(t *testing.T) {
	err := WrapBackendError("Extract", VisionName, ErrQuotaExceeded, "daily limit")
	assert.EqualError(t, err, "backend vision-ocr: Extract failed: daily limit: API quota exceeded")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	again := WrapBackendError("outer", "", err, "ignored")
	assert.Same(t, err, again)

	assert.Nil(t, WrapBackendError("op", "", nil, ""))
	assert.EqualError(t, NewBackendError("LoadDocument", "", ErrSourceUnavailable, ""), "backend: LoadDocument failed: source document unavailable")
}

func TestHandleGoogleError(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{errors.New("rpc error: code = PermissionDenied desc = no"), ErrPermissionDenied},
		{errors.New("rpc error: code = ResourceExhausted"), ErrQuotaExceeded},
		{errors.New("rpc error: code = NotFound desc = processor"), ErrProcessorNotFound},
		{errors.New("rpc error: code = InvalidArgument"), ErrUnsupportedFormat},
		{context.DeadlineExceeded, context.DeadlineExceeded},
		{errors.New("rpc error: code = Canceled"), context.Canceled},
		{errors.New("boom"), ErrProcessingFailed},
	}
	for _, tt := range tests {
		err := handleGoogleError("Extract", DocumentAIName, tt.err)
		assert.ErrorIs(t, err, tt.want, tt.err.Error())
	}
}

func TestOutput(t *testing.T) {
	out := &Output{Pages: []Page{
		{Number: 1, Text: "Page one", Tables: []models.Table{{{"a"}, {"1"}}}},
		{Number: 2, Text: "  "},
		{Number: 3, Text: "Page three", Tables: []models.Table{{{"b"}, {"2"}}}},
	}}
	assert.Equal(t, "Page one\n\nPage three", out.Text())
	assert.Len(t, out.Tables(), 2)
	assert.False(t, out.Empty())

	assert.True(t, (&Output{}).Empty())
	var nilOut *Output
	assert.Empty(t, nilOut.Text())
}

func TestSplitCells(t *testing.T) {
	glyphs := []glyph{
		{X: 70, W: 6, Size: 10, S: "l"},
		{X: 10, W: 6, Size: 10, S: "T"},
		{X: 16, W: 6, Size: 10, S: "C"},
		{X: 25, W: 20, Size: 10, S: "mg"},
		{X: 76, W: 6, Size: 10, S: "1"},
	}
	// "TC" and "mg" are one cell, "l1" starts after a wide gap.
	assert.Equal(t, []string{"TC mg", "l1"}, splitCells(glyphs))
	assert.Empty(t, splitCells(nil))
}

func TestLayoutTables(t *testing.T) {
	lines := []line{
		{cells: []string{"Patient: Jane Doe"}},
		{cells: []string{"Test", "Result", "Unit"}},
		{cells: []string{"LDL", "145", "mg/dL"}},
		{cells: []string{"HDL", "50"}},
		{cells: []string{"Comments"}},
		{cells: []string{"lonely", "row"}},
	}
	tables := layoutTables(lines)
	require.Len(t, tables, 1)
	assert.Equal(t, models.Table{
		{"Test", "Result", "Unit"},
		{"LDL", "145", "mg/dL"},
		{"HDL", "50", ""},
	}, tables[0])

	assert.Equal(t, "Patient: Jane Doe\nTest Result Unit\nLDL 145 mg/dL\nHDL 50\nComments\nlonely row\n", pageText(lines))
}

func TestTextLayerRejectsInvalidPDF(t *testing.T) {
	tl := NewTextLayer()
	doc := &Document{Path: "broken.pdf", MimeType: MimePDF, Data: []byte("%PDF-1.4\nnot really a pdf")}

	_, err := tl.Extract(context.Background(), doc)
	assert.ErrorIs(t, err, ErrInvalidPDF)

	_, err = tl.Extract(context.Background(), &Document{MimeType: MimeCSV})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDelimited(t *testing.T) {
	d := NewDelimited()

	out, err := d.Extract(context.Background(), NewDocument("labs.csv", []byte("\ufeffDate, LDL ,HDL\n02/01/2024,145,50\n\n,,\n03/01/2024,150\n")))
	require.NoError(t, err)
	require.Len(t, out.Tables(), 1)
	assert.Equal(t, models.Table{
		{"Date", "LDL", "HDL"},
		{"02/01/2024", "145", "50"},
		{"03/01/2024", "150", ""},
	}, out.Tables()[0])
	assert.Empty(t, out.Text())

	out, err = d.Extract(context.Background(), NewDocument("labs.tsv", []byte("Test\tResult\nGlucose\t99\n")))
	require.NoError(t, err)
	assert.Equal(t, models.Table{{"Test", "Result"}, {"Glucose", "99"}}, out.Tables()[0])

	out, err = d.Extract(context.Background(), NewDocument("header.csv", []byte("Test,Result\n")))
	require.NoError(t, err)
	assert.True(t, out.Empty())
}

func anchor(text, sub string) *documentaipb.Document_TextAnchor {
	i := strings.Index(text, sub)
	return &documentaipb.Document_TextAnchor{
		TextSegments: []*documentaipb.Document_TextAnchor_TextSegment{
			{StartIndex: int64(i), EndIndex: int64(i + len(sub))},
		},
	}
}

func docRow(text string, cells ...string) *documentaipb.Document_Page_Table_TableRow {
	row := &documentaipb.Document_Page_Table_TableRow{}
	for _, c := range cells {
		row.Cells = append(row.Cells, &documentaipb.Document_Page_Table_TableCell{
			Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchor(text, c)},
		})
	}
	return row
}

func TestDocumentOutput(t *testing.T) {
	text := "Lipid panel\nLDL\nDate\n145\n02/01/2024\n150\n03/01/2024\n"
	doc := &documentaipb.Document{
		Text: text,
		Pages: []*documentaipb.Document_Page{
			{
				PageNumber: 1,
				Layout:     &documentaipb.Document_Page_Layout{TextAnchor: anchor(text, text)},
				Tables: []*documentaipb.Document_Page_Table{
					{
						HeaderRows: []*documentaipb.Document_Page_Table_TableRow{docRow(text, "LDL", "Date")},
						BodyRows: []*documentaipb.Document_Page_Table_TableRow{
							docRow(text, "145", "02/01/2024"),
							docRow(text, "150", "03/01/2024"),
						},
					},
					{BodyRows: []*documentaipb.Document_Page_Table_TableRow{docRow(text, "Lipid panel")}},
				},
			},
		},
	}

	out := documentOutput(doc)
	require.Len(t, out.Pages, 1)
	assert.Equal(t, text, out.Pages[0].Text)
	assert.Equal(t, []models.Table{{
		{"LDL", "Date"},
		{"145", "02/01/2024"},
		{"150", "03/01/2024"},
	}}, out.Tables())

	flat := documentOutput(&documentaipb.Document{Text: "Glucose: 99"})
	assert.Equal(t, "Glucose: 99", flat.Text())
}

func TestDocumentAIConfig(t *testing.T) {
	cfg := DocumentAIConfig{ProjectID: "p", Location: "eu", ProcessorID: "abc"}
	assert.Equal(t, "projects/p/locations/eu/processors/abc", cfg.ProcessorName())
	assert.Equal(t, "eu-documentai.googleapis.com:443", cfg.endpoint())

	cfg.ProcessorVersion = "v2"
	cfg.Location = "us"
	assert.Equal(t, "projects/p/locations/us/processors/abc/processorVersions/v2", cfg.ProcessorName())
	assert.Empty(t, cfg.endpoint())

	_, err := NewDocumentAI(context.Background(), DocumentAIConfig{ProjectID: "p"})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func visionWord(text string, x, y, w, h int32) *visionpb.Word {
	return &visionpb.Word{
		BoundingBox: &visionpb.BoundingPoly{Vertices: []*visionpb.Vertex{
			{X: x, Y: y}, {X: x + w, Y: y}, {X: x + w, Y: y + h}, {X: x, Y: y + h},
		}},
		Symbols: []*visionpb.Symbol{{Text: text}},
	}
}

func TestAnnotationPage(t *testing.T) {
	ann := &visionpb.TextAnnotation{
		Text: "Test Result\nTotal Cholesterol 250\nHDL 50\n",
		Pages: []*visionpb.Page{{
			Blocks: []*visionpb.Block{{
				Paragraphs: []*visionpb.Paragraph{{
					Words: []*visionpb.Word{
						visionWord("250", 200, 52, 30, 20),
						visionWord("Test", 10, 10, 40, 20),
						visionWord("Result", 200, 12, 60, 20),
						visionWord("Total", 10, 50, 40, 20),
						visionWord("Cholesterol", 58, 50, 80, 20),
						visionWord("HDL", 10, 90, 30, 20),
						visionWord("50", 200, 90, 20, 20),
						{Symbols: []*visionpb.Symbol{{Text: "x"}}},
					},
				}},
			}},
		}},
	}

	page := annotationPage(2, ann)
	assert.Equal(t, 2, page.Number)
	assert.Equal(t, ann.Text, page.Text)
	require.Len(t, page.Tables, 1)
	assert.Equal(t, models.Table{
		{"Test", "Result"},
		{"Total Cholesterol", "250"},
		{"HDL", "50"},
	}, page.Tables[0])

	empty := annotationPage(1, nil)
	assert.Empty(t, empty.Text)
	assert.Empty(t, empty.Tables)
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPrepareForOCR(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for x := 0; x < 200; x++ {
		src.Set(x, 50, color.RGBA{R: 255, A: 255})
	}

	out, err := PrepareForOCR(encodePNG(t, src))
	require.NoError(t, err)

	img, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2000, 1000), img.Bounds())
	assert.Equal(t, color.GrayModel, img.ColorModel())

	large := image.NewGray(image.Rect(0, 0, 1200, 1000))
	out, err = PrepareForOCR(encodePNG(t, large))
	require.NoError(t, err)
	img, _, err = image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, large.Bounds(), img.Bounds())

	_, err = PrepareForOCR([]byte("not an image"))
	assert.ErrorIs(t, err, ErrInvalidImage)
}

type fakeSource struct {
	text string
	err  error
}

func (f fakeSource) Name() string                { return "fake" }
func (f fakeSource) Supports(doc *Document) bool { return doc.IsPDF() }
func (f fakeSource) Extract(ctx context.Context, doc *Document) (*Output, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &Output{Backend: "fake", Pages: []Page{{Number: 1, Text: f.text}}}, nil
}

type fakeCompleter struct {
	replies  []string
	errs     []error
	requests []openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	i := len(f.requests)
	f.requests = append(f.requests, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return openai.ChatCompletionResponse{}, f.errs[i]
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Content: f.replies[i]}},
	}}, nil
}

func TestLLMTable(t *testing.T) {
	client := &fakeCompleter{
		errs: []error{errors.New("503"), nil, nil},
		replies: []string{
			"",
			"not json",
			"```json\n{\"tables\": [[[\"Test\", \"Result\", \"Date\"], [\"LDL\", 145, \"02/01/2024\"]], [[\"only header\"]]]}\n```",
		},
	}
	l := NewLLMTableWithClient(client, fakeSource{text: "LDL ....... 145 (02/01/2024)"}, LLMTableConfig{})
	doc := &Document{MimeType: MimePDF}

	require.True(t, l.Supports(doc))
	out, err := l.Extract(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, []models.Table{{{"Date", "LDL"}, {"02/01/2024", "145"}}}, out.Tables())

	require.Len(t, client.requests, 3)
	assert.Equal(t, openai.GPT4oMini, client.requests[0].Model)
	assert.Equal(t, "LDL ....... 145 (02/01/2024)", client.requests[0].Messages[1].Content)
}

func TestLLMTableReadings(t *testing.T) {
	replies := map[string]string{
		"column per test": `{"tables": [[["Date", "LDL", "HDL"], ["02/01/2024", "145 mg/dL", "50 mg/dL"]]]}`,
		"row per test": `{"tables": [[["Test", "Result", "Unit", "Date"], ` +
			`["LDL", "145", "mg/dL", "02/01/2024"], ["HDL", "50", "mg/dL", "02/01/2024"]]]}`,
	}
	ex := extract.New(nil)

	for name, reply := range replies {
		t.Run(name, func(t *testing.T) {
			client := &fakeCompleter{replies: []string{reply}}
			l := NewLLMTableWithClient(client, fakeSource{text: "LDL 145 mg/dL HDL 50 mg/dL 02/01/2024"}, LLMTableConfig{})

			out, err := l.Extract(context.Background(), &Document{MimeType: MimePDF})
			require.NoError(t, err)

			readings := ex.ExtractTables(out.Tables())
			require.Len(t, readings, 2)
			byName := map[string]models.Reading{}
			for _, r := range readings {
				byName[r.Biomarker] = r
			}
			assert.Equal(t, 145.0, byName["LDL"].Value)
			assert.Equal(t, "2024-02-01", byName["LDL"].Date)
			assert.Equal(t, "mg/dL", byName["LDL"].Unit)
			assert.Equal(t, 50.0, byName["HDL"].Value)
		})
	}
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "abc", truncateText("abc", 5))
	assert.Equal(t, "ab", truncateText("abcd", 2))

	// "é" is two bytes; cutting inside it backs off to the rune start.
	got := truncateText("aé", 2)
	assert.Equal(t, "a", got)
	assert.True(t, utf8.ValidString(got))

	long := strings.Repeat("µ", maxPromptChars)
	assert.True(t, utf8.ValidString(truncateText(long, maxPromptChars+1)))
	assert.LessOrEqual(t, len(truncateText(long, maxPromptChars+1)), maxPromptChars+1)
}

func TestLLMTableFailures(t *testing.T) {
	doc := &Document{MimeType: MimePDF}

	l := NewLLMTableWithClient(&fakeCompleter{replies: []string{"[]", "{", "nope"}}, fakeSource{text: "x"}, LLMTableConfig{})
	_, err := l.Extract(context.Background(), doc)
	assert.ErrorIs(t, err, ErrInvalidResponse)

	l = NewLLMTableWithClient(&fakeCompleter{}, fakeSource{err: ErrInvalidPDF}, LLMTableConfig{})
	_, err = l.Extract(context.Background(), doc)
	assert.ErrorIs(t, err, ErrInvalidPDF)

	client := &fakeCompleter{}
	l = NewLLMTableWithClient(client, fakeSource{text: "  "}, LLMTableConfig{})
	out, err := l.Extract(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, out.Empty())
	assert.Empty(t, client.requests)

	_, err = NewLLMTable("", fakeSource{}, LLMTableConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

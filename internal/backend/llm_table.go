package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"labparse/internal/logger"
	"labparse/pkg/models"
)

// LLMTableName identifies the LLM table recovery backend.
const LLMTableName = "llm-table"

const (
	// maxPromptChars bounds the document text sent to the model.
	maxPromptChars = 12000

	llmSystemPrompt = `You convert laboratory report text into tables.
Return only a JSON object of the form {"tables": [[["header", ...], ["cell", ...], ...], ...]}.
Use one column per test: row 0 is the header row with a "Date" column followed by the test names exactly
as written, for example ["Date", "LDL", "HDL"]. Each further row holds the results of one date, for example
["02/01/2024", "145 mg/dL", "50 mg/dL"]. Leave a cell empty when a test has no result for that date.
Copy every value exactly as written in the text, including units and dates.
Do not compute, convert, interpret or invent values. Return {"tables": []} when the text has no results.`
)

// ChatCompleter is the part of the OpenAI client the backend uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMTableConfig configures the LLM table recovery stage.
type LLMTableConfig struct {
	Model       string
	Temperature float32
	MaxRetries  int
	MaxTokens   int
}

// LLMTable asks a chat model to rebuild result tables from text whose
// layout the pattern pass could not read. Text comes from the source
// backend and the model only restructures it.
type LLMTable struct {
	client ChatCompleter
	source Backend
	config LLMTableConfig
	log    zerolog.Logger
}

// NewLLMTable creates the backend with an OpenAI client for apiKey.
func NewLLMTable(apiKey string, source Backend, config LLMTableConfig) (*LLMTable, error) {
	const op = "NewLLMTable"

	if apiKey == "" {
		return nil, WrapBackendError(op, LLMTableName, ErrInvalidConfiguration, "OPENAI_API_KEY is required")
	}
	return NewLLMTableWithClient(openai.NewClient(apiKey), source, config), nil
}

// NewLLMTableWithClient creates the backend with an explicit client.
func NewLLMTableWithClient(client ChatCompleter, source Backend, config LLMTableConfig) *LLMTable {
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 2000
	}
	return &LLMTable{
		client: client,
		source: source,
		config: config,
		log:    logger.WithComponent("llm-table"),
	}
}

// Name implements Backend.
func (l *LLMTable) Name() string { return LLMTableName }

// Supports implements Backend.
func (l *LLMTable) Supports(doc *Document) bool { return l.source.Supports(doc) }

// Extract implements Backend.
func (l *LLMTable) Extract(ctx context.Context, doc *Document) (*Output, error) {
	const op = "Extract"

	src, err := l.source.Extract(ctx, doc)
	if err != nil {
		return nil, WrapBackendError(op, LLMTableName, err, "source text unavailable")
	}

	out := &Output{Backend: LLMTableName}
	text := strings.TrimSpace(src.Text())
	if text == "" {
		return out, nil
	}
	text = truncateText(text, maxPromptChars)

	tables, err := l.complete(ctx, text)
	if err != nil {
		return nil, WrapBackendError(op, LLMTableName, err, "")
	}
	if len(tables) > 0 {
		out.Pages = []Page{{Number: 1, Tables: tables}}
	}
	return out, nil
}

func (l *LLMTable) complete(ctx context.Context, text string) ([]models.Table, error) {
	const op = "complete"

	l.log.Debug().
		Int("prompt_length", len(text)).
		Str("model", l.config.Model).
		Msg("Sending table recovery request")

	var lastErr error
	for attempt := 1; attempt <= l.config.MaxRetries; attempt++ {
		resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       l.config.Model,
			Temperature: l.config.Temperature,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: llmSystemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: text,
				},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			MaxTokens: l.config.MaxTokens,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%s: %w", op, ctx.Err())
			}
			lastErr = err
			l.log.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_retries", l.config.MaxRetries).
				Msg("Table recovery request failed, retrying")
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("no response choices from model")
			continue
		}

		tables, err := parseTables(resp.Choices[0].Message.Content)
		if err != nil {
			lastErr = err
			l.log.Warn().
				Err(err).
				Int("attempt", attempt).
				Msg("Failed to parse model response, retrying")
			continue
		}

		l.log.Info().
			Int("tables", len(tables)).
			Int("attempt", attempt).
			Msg("Recovered tables from text")
		return tables, nil
	}

	return nil, fmt.Errorf("%s: all %d attempts failed, last error: %w", op, l.config.MaxRetries, lastErr)
}

type tablesResponse struct {
	Tables [][][]any `json:"tables"`
}

// parseTables decodes the model answer, tolerating code fences and
// numeric cells. Tables with fewer than two rows are dropped.
func parseTables(content string) ([]models.Table, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var resp tablesResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	var tables []models.Table
	for _, raw := range resp.Tables {
		table := make(models.Table, 0, len(raw))
		for _, row := range raw {
			cells := make([]string, len(row))
			for i, cell := range row {
				switch v := cell.(type) {
				case nil:
				case string:
					cells[i] = strings.TrimSpace(v)
				default:
					cells[i] = fmt.Sprint(v)
				}
			}
			table = append(table, cells)
		}
		if len(table) >= 2 {
			tables = append(tables, columnar(pad(table))...)
		}
	}
	return tables, nil
}

var (
	testHeader  = regexp.MustCompile(`(?i)^(test|analyte|parameter|biomarker|investigation|name)s?$`)
	valueHeader = regexp.MustCompile(`(?i)^(result|value)s?$`)
	unitHeader  = regexp.MustCompile(`(?i)^units?$`)
	dateHeader  = regexp.MustCompile(`(?i)^(date|collected|collection date)$`)
)

// columnar turns a row-oriented table (one test per row with a result
// column) into one column-per-test table per row. Other tables are
// returned unchanged.
func columnar(t models.Table) []models.Table {
	testCol, valueCol, unitCol, dateCol := -1, -1, -1, -1
	for i, h := range t[0] {
		h = strings.TrimSpace(h)
		switch {
		case testCol < 0 && testHeader.MatchString(h):
			testCol = i
		case valueCol < 0 && valueHeader.MatchString(h):
			valueCol = i
		case unitCol < 0 && unitHeader.MatchString(h):
			unitCol = i
		case dateCol < 0 && dateHeader.MatchString(h):
			dateCol = i
		}
	}
	if testCol < 0 || valueCol < 0 {
		return []models.Table{t}
	}

	var out []models.Table
	for _, row := range t[1:] {
		name, value := row[testCol], row[valueCol]
		if name == "" || value == "" {
			continue
		}
		if unitCol >= 0 && row[unitCol] != "" {
			value += " " + row[unitCol]
		}
		header, cells := []string{name}, []string{value}
		if dateCol >= 0 {
			header = []string{"Date", name}
			cells = []string{row[dateCol], value}
		}
		out = append(out, models.Table{header, cells})
	}
	return out
}

// truncateText cuts text to at most limit bytes on a rune boundary.
func truncateText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

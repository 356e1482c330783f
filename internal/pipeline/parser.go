// Package pipeline runs the extraction backends in priority order and
// merges what they find into a single ExtractionResult.
//
// Stages are tried in the order given. Once a stage yields readings the
// remaining stages are skipped, except OCR stages when OCR is forced. A
// failing backend is logged and the next stage runs; a run where every
// backend fails produces an empty result, not an error. Only an unreadable
// source document or a canceled context aborts a run.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"labparse/internal/analysis"
	"labparse/internal/backend"
	"labparse/internal/extract"
	"labparse/internal/logger"
	"labparse/pkg/models"
)

// Stage is one backend in the extraction order.
type Stage struct {
	Backend backend.Backend

	// OCR marks stages that still run when OCR is forced, even after an
	// earlier stage found readings.
	OCR bool
}

// Outcome describes what happened to one stage during a run.
type Outcome string

const (
	OutcomeFound       Outcome = "found"
	OutcomeEmpty       Outcome = "empty"
	OutcomeFailed      Outcome = "failed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeUnsupported Outcome = "unsupported"
)

// StageReport records the outcome of one stage.
type StageReport struct {
	Backend  string
	Outcome  Outcome
	Readings int
	Err      error
}

// Run is a finished extraction.
type Run struct {
	Result *models.ExtractionResult
	Stages []StageReport
}

// Parser orchestrates the stages over an extractor.
type Parser struct {
	extractor *extract.Extractor
	stages    []Stage
	log       zerolog.Logger
}

// New creates a parser. A nil extractor uses the built-in registry.
func New(extractor *extract.Extractor, stages ...Stage) *Parser {
	if extractor == nil {
		extractor = extract.New(nil)
	}
	return &Parser{
		extractor: extractor,
		stages:    stages,
		log:       logger.WithComponent("pipeline"),
	}
}

// ParseFile loads path and parses it. Unreadable files are reported as
// backend.ErrSourceUnavailable.
func (p *Parser) ParseFile(ctx context.Context, path string, useOCR bool) (*Run, error) {
	const op = "ParseFile"

	doc, err := backend.LoadDocument(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p.Parse(ctx, doc, useOCR)
}

// Parse runs the stages over doc.
func (p *Parser) Parse(ctx context.Context, doc *backend.Document, useOCR bool) (*Run, error) {
	const op = "Parse"

	log := logger.WithDocument(p.log, doc.Path)
	run := &Run{}
	var passes []extract.Candidates
	found := false

	for _, st := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		name := st.Backend.Name()
		report := StageReport{Backend: name}
		switch {
		case !st.Backend.Supports(doc):
			report.Outcome = OutcomeUnsupported
		case found && !(useOCR && st.OCR):
			report.Outcome = OutcomeSkipped
		default:
			c, err := p.runStage(ctx, st, doc)
			if err != nil {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("%s: %w", op, ctx.Err())
				}
				log.Warn().Err(err).Str("backend", name).Msg("Backend failed, trying next stage")
				report.Outcome, report.Err = OutcomeFailed, err
				break
			}
			passes = append(passes, c)
			report.Readings = len(c.Readings)
			report.Outcome = OutcomeEmpty
			if len(c.Readings) > 0 {
				report.Outcome = OutcomeFound
				found = true
			}
		}

		log.Debug().
			Str("backend", name).
			Str("outcome", string(report.Outcome)).
			Int("readings", report.Readings).
			Msg("Stage finished")
		run.Stages = append(run.Stages, report)
	}

	run.Result = merge(passes)
	log.Info().
		Int("biomarkers", len(run.Result.Biomarkers)).
		Int("readings", run.Result.ReadingCount()).
		Bool("ocr_forced", useOCR).
		Msg("Document parsed")
	return run, nil
}

func (p *Parser) runStage(ctx context.Context, st Stage, doc *backend.Document) (extract.Candidates, error) {
	out, err := st.Backend.Extract(ctx, doc)
	if err != nil {
		return extract.Candidates{}, err
	}
	return p.extractor.Extract(st.Backend.Name(), out.Text(), out.Tables()), nil
}

// ParsePages runs the extraction passes over already recovered pages. It
// is the backend-free entry point of the pipeline.
func (p *Parser) ParsePages(source string, pages []backend.Page) *models.ExtractionResult {
	out := &backend.Output{Backend: source, Pages: pages}
	return merge([]extract.Candidates{p.extractor.Extract(source, out.Text(), out.Tables())})
}

// ParseText is ParsePages for a single page of text.
func (p *Parser) ParseText(text string, tables ...models.Table) *models.ExtractionResult {
	return p.ParsePages("text", []backend.Page{{Number: 1, Text: text, Tables: tables}})
}

func merge(passes []extract.Candidates) *models.ExtractionResult {
	mds := make([]models.ReportMetadata, 0, len(passes))
	sets := make([][]models.Reading, 0, len(passes))
	for _, c := range passes {
		mds = append(mds, c.Metadata)
		sets = append(sets, c.Readings)
	}
	return analysis.Aggregate(analysis.MergeMetadata(mds...), sets...)
}

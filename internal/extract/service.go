// Package extract turns recovered document text and table cells into
// validated, classified biomarker readings.
//
// An Extractor is stateless apart from its registry and clock and never
// mutates its input. Absent data is expressed as empty results: unparseable
// numbers, unparseable dates and implausible values are skipped, never
// returned as errors.
package extract

import (
	"time"

	"github.com/rs/zerolog"

	"labparse/internal/logger"
	"labparse/internal/registry"
	"labparse/pkg/models"
)

// Extractor applies a registry to text and tables.
type Extractor struct {
	reg          *registry.Registry
	now          func() time.Time
	convertUnits bool
	log          zerolog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock replaces the clock used for the "today" date fallback.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// WithUnitConversion converts values reported in a registered alternate
// unit to the canonical unit before validation.
func WithUnitConversion(enabled bool) Option {
	return func(e *Extractor) { e.convertUnits = enabled }
}

// WithLogger replaces the component logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Extractor) { e.log = log }
}

// New creates an Extractor over reg. A nil registry uses the built-in tables.
func New(reg *registry.Registry, opts ...Option) *Extractor {
	if reg == nil {
		reg = registry.Default()
	}
	e := &Extractor{
		reg: reg,
		now: time.Now,
		log: logger.WithComponent("extract"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the extractor was built with.
func (e *Extractor) Registry() *registry.Registry {
	return e.reg
}

// Candidates is the output of one extraction pass over a backend's output.
type Candidates struct {
	Source   string
	Readings []models.Reading
	Metadata models.ReportMetadata
}

// Empty reports whether the pass found neither readings nor metadata.
func (c Candidates) Empty() bool {
	return len(c.Readings) == 0 && c.Metadata.IsEmpty()
}

// Extract runs the free-text, table and metadata passes. The passes are
// independent of each other.
func (e *Extractor) Extract(source, text string, tables []models.Table) Candidates {
	c := Candidates{Source: source}
	if text != "" {
		c.Readings = append(c.Readings, e.ExtractText(text)...)
		c.Metadata = e.ExtractMetadata(text)
	}
	c.Readings = append(c.Readings, e.ExtractTables(tables)...)

	e.log.Debug().
		Str("source", source).
		Int("readings", len(c.Readings)).
		Int("tables", len(tables)).
		Msg("Extraction pass finished")
	return c
}

func (e *Extractor) today() string {
	return e.now().Format(models.DateLayout)
}

// Package registry holds the data tables that drive biomarker extraction.
//
// Every decision the extractor makes is looked up here rather than coded as
// branches: ordered alternative patterns per biomarker, loosened header
// patterns for table columns, date patterns and layouts, unit patterns,
// unit conversion factors, plausibility ranges and clinical buckets.
//
// A Registry is immutable once built. Overlays produce a new Registry with
// provided keys replacing built-in ones and every other key kept.
package registry

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PatternList is an ordered list of alternatives. Callers try entries in
// order and stop at the first hit.
type PatternList []*regexp.Regexp

// First returns the result of the first alternative for which try reports
// ok. It is the single tie-break rule for every first-match-wins lookup.
func First[T, R any](alternatives []T, try func(T) (R, bool)) (R, bool) {
	for _, alt := range alternatives {
		if r, ok := try(alt); ok {
			return r, true
		}
	}
	var zero R
	return zero, false
}

// Range is an inclusive [Min, Max] plausibility window.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether min <= v <= max.
func (r Range) Contains(v float64) bool {
	return r.Min <= v && v <= r.Max
}

// Bucket is one named clinical interval. Both ends are inclusive.
type Bucket struct {
	Label  string // raw label as configured, e.g. "borderline"
	Status string // display label, e.g. "Borderline"
	Low    float64
	High   float64
}

// HeaderPatterns are the loosened forms of a biomarker's patterns used to
// recognise table column headers.
type HeaderPatterns struct {
	// Strict keeps optional group contents as mandatory text.
	Strict PatternList
	// Relaxed drops optional groups entirely. Used only when no biomarker
	// matched a header strictly.
	Relaxed PatternList
}

// Registry is the compiled, read-only form of the pattern tables.
type Registry struct {
	src tables

	patterns     map[string]PatternList
	headers      map[string]HeaderPatterns
	units        map[string]*regexp.Regexp
	datePatterns PatternList
	cellUnit     *regexp.Regexp
	cellValue    *regexp.Regexp
	buckets      map[string][]Bucket
}

// tables is the uncompiled data a Registry is built from.
type tables struct {
	Names         []string
	Patterns      map[string][]string
	Units         map[string]string
	Conversions   map[string]map[string]float64
	Plausibility  map[string]Range
	Clinical      map[string][]Bucket
	LanguageHints []string
}

// Default returns the built-in registry.
func Default() *Registry {
	r, err := build(defaultTables())
	if err != nil {
		panic(fmt.Sprintf("registry: built-in tables do not compile: %v", err))
	}
	return r
}

func build(t tables) (*Registry, error) {
	const op = "build"

	r := &Registry{
		src:      t,
		patterns: make(map[string]PatternList, len(t.Names)),
		headers:  make(map[string]HeaderPatterns, len(t.Names)),
		units:    make(map[string]*regexp.Regexp, len(t.Units)),
		buckets:  make(map[string][]Bucket, len(t.Clinical)),
	}

	for _, name := range t.Names {
		list, err := compileAll(t.Patterns[name])
		if err != nil {
			return nil, fmt.Errorf("%s: biomarker %q: %w", op, name, err)
		}
		r.patterns[name] = list
		r.headers[name] = loosenAll(t.Patterns[name])
	}

	for name, expr := range t.Units {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("%s: unit pattern for %q: %w", op, name, ErrInvalidPattern)
		}
		r.units[name] = re
	}

	dates, err := compileAll(datePatterns)
	if err != nil {
		return nil, fmt.Errorf("%s: date patterns: %w", op, err)
	}
	r.datePatterns = dates
	r.cellUnit = regexp.MustCompile(cellUnitPattern)
	r.cellValue = regexp.MustCompile(valueCapture)

	caser := cases.Title(language.English)
	for name, buckets := range t.Clinical {
		out := make([]Bucket, len(buckets))
		for i, b := range buckets {
			b.Status = statusLabel(caser, b.Label)
			out[i] = b
		}
		r.buckets[name] = out
	}

	return r, nil
}

// statusLabel title-cases each underscore-separated word of label, so
// "very_high" becomes "Very_High".
func statusLabel(caser cases.Caser, label string) string {
	words := strings.Split(label, "_")
	for i, w := range words {
		words[i] = caser.String(w)
	}
	return strings.Join(words, "_")
}

func compileAll(exprs []string) (PatternList, error) {
	list := make(PatternList, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, expr, err)
		}
		if n := re.NumSubexp(); n != 1 {
			return nil, fmt.Errorf("%w: %q has %d capture groups, want 1", ErrInvalidPattern, expr, n)
		}
		list = append(list, re)
	}
	return list, nil
}

// Names returns the registered biomarker names in registry order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.src.Names...)
}

// Has reports whether name is a registered biomarker.
func (r *Registry) Has(name string) bool {
	_, ok := r.patterns[name]
	return ok
}

// Patterns returns the ordered alternatives for a biomarker. Each has
// exactly one capture group holding the numeric value.
func (r *Registry) Patterns(name string) PatternList {
	return r.patterns[name]
}

// HeaderPatterns returns the loosened header forms for a biomarker.
func (r *Registry) HeaderPatterns(name string) HeaderPatterns {
	return r.headers[name]
}

// DatePatterns returns the ordered date substring patterns.
func (r *Registry) DatePatterns() PatternList {
	return r.datePatterns
}

// DateLayouts returns the ordered layouts tried against a date substring.
func (r *Registry) DateLayouts() []string {
	return append([]string(nil), dateLayouts...)
}

// UnitPattern returns the unit pattern for a biomarker, if any.
func (r *Registry) UnitPattern(name string) (*regexp.Regexp, bool) {
	re, ok := r.units[name]
	return re, ok
}

// CellUnitPattern matches a unit embedded in a table cell.
func (r *Registry) CellUnitPattern() *regexp.Regexp {
	return r.cellUnit
}

// CellValuePattern matches the first numeric substring in a table cell.
func (r *Registry) CellValuePattern() *regexp.Regexp {
	return r.cellValue
}

// Conversion returns the factor that converts value in unit to the
// biomarker's canonical unit. Unit lookup is case-insensitive.
func (r *Registry) Conversion(name, unit string) (float64, bool) {
	factors, ok := r.src.Conversions[name]
	if !ok {
		return 0, false
	}
	f, ok := factors[normalizeUnit(unit)]
	return f, ok
}

// Plausibility returns the sanity range for a biomarker, if one is registered.
func (r *Registry) Plausibility(name string) (Range, bool) {
	rng, ok := r.src.Plausibility[name]
	return rng, ok
}

// Buckets returns the clinical buckets for a biomarker in table order.
func (r *Registry) Buckets(name string) ([]Bucket, bool) {
	b, ok := r.buckets[name]
	return b, ok
}

// LanguageHints returns the OCR language hints.
func (r *Registry) LanguageHints() []string {
	return append([]string(nil), r.src.LanguageHints...)
}

package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"labparse/internal/registry"
	"labparse/pkg/models"
)

// ExtractText scans free text for every registered biomarker. Patterns are
// matched case-insensitively. For each biomarker the first pattern whose
// first match yields a valid value wins, so free text contributes at most one
// reading per biomarker. Every reading carries the document date.
func (e *Extractor) ExtractText(text string) []models.Reading {
	date := e.NormalizeDate(text)

	var readings []models.Reading
	for _, name := range e.reg.Names() {
		r, ok := registry.First(e.reg.Patterns(name), func(re *regexp.Regexp) (models.Reading, bool) {
			loc := re.FindStringSubmatchIndex(text)
			if loc == nil || len(loc) < 4 || loc[2] < 0 {
				return models.Reading{}, false
			}
			raw := text[loc[2]:loc[3]]
			value, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				e.log.Debug().Str("biomarker", name).Str("raw", raw).Msg("Skipping unparseable value")
				return models.Reading{}, false
			}
			return e.accept(name, value, e.textUnit(name, text, loc[1]), date)
		})
		if ok {
			readings = append(readings, r)
		}
	}
	return readings
}

// textUnit looks for the biomarker's unit on the rest of the matched line
// first and then anywhere in the text.
func (e *Extractor) textUnit(name, text string, end int) string {
	re, ok := e.reg.UnitPattern(name)
	if !ok {
		return ""
	}
	rest := text[end:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	if m := re.FindStringSubmatch(rest); m != nil {
		return m[len(m)-1]
	}
	if m := re.FindStringSubmatch(text); m != nil {
		return m[len(m)-1]
	}
	return ""
}

// accept converts, validates and classifies a candidate value.
func (e *Extractor) accept(name string, value float64, unit, date string) (models.Reading, bool) {
	if e.convertUnits && unit != "" {
		if f, ok := e.reg.Conversion(name, unit); ok {
			value = math.Round(value*f*100) / 100
			unit = registry.CanonicalUnit
		}
	}
	if !e.Validate(name, value) {
		e.log.Debug().Str("biomarker", name).Float64("value", value).Msg("Rejecting implausible value")
		return models.Reading{}, false
	}
	return models.Reading{
		Biomarker: name,
		Date:      date,
		Value:     value,
		Unit:      unit,
		Status:    e.Classify(name, value),
	}, true
}

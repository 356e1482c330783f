package extract

import (
	"regexp"
	"strings"
	"time"

	"labparse/internal/registry"
	"labparse/pkg/models"
)

// FindDate returns the first recognised date in text as YYYY-MM-DD. Date
// patterns are tried in order. When none of the layouts parse a pattern's
// first match, the next pattern is tried.
func (e *Extractor) FindDate(text string) (string, bool) {
	return registry.First(e.reg.DatePatterns(), func(re *regexp.Regexp) (string, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return "", false
		}
		return e.parseDate(m[1])
	})
}

// NormalizeDate returns the first recognised date in text, or today's date
// when there is none. Callers must read today's date as "date unknown".
func (e *Extractor) NormalizeDate(text string) string {
	if d, ok := e.FindDate(text); ok {
		return d
	}
	return e.today()
}

// RowDate returns the first date found in any cell of row, or today's date.
func (e *Extractor) RowDate(row []string) string {
	d, ok := registry.First(row, e.FindDate)
	if !ok {
		return e.today()
	}
	return d
}

func (e *Extractor) parseDate(s string) (string, bool) {
	s = strings.Join(strings.Fields(s), " ")
	return registry.First(e.reg.DateLayouts(), func(layout string) (string, bool) {
		t, err := time.Parse(layout, s)
		if err != nil {
			return "", false
		}
		return t.Format(models.DateLayout), true
	})
}

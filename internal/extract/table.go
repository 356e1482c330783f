package extract

import (
	"regexp"
	"strconv"
	"strings"

	"labparse/internal/registry"
	"labparse/pkg/models"
)

var parenthetical = regexp.MustCompile(`\([^)]*\)`)

// ExtractTables scans tables whose first row is a header. Every column whose
// header names a biomarker yields one reading per data cell holding a valid
// number. A reading is dated by the first date found anywhere in its row.
func (e *Extractor) ExtractTables(tables []models.Table) []models.Reading {
	var readings []models.Reading
	for _, tbl := range tables {
		if len(tbl) < 2 {
			continue
		}
		rowDates := make([]string, len(tbl))

		for col, header := range tbl[0] {
			names := e.ColumnBiomarkers(header)
			for _, name := range names {
				for i := 1; i < len(tbl); i++ {
					row := tbl[i]
					if col >= len(row) {
						continue
					}
					cell := strings.TrimSpace(row[col])
					m := e.reg.CellValuePattern().FindStringSubmatch(cell)
					if m == nil {
						continue
					}
					value, err := strconv.ParseFloat(m[1], 64)
					if err != nil {
						continue
					}
					if rowDates[i] == "" {
						rowDates[i] = e.RowDate(row)
					}
					unit := ""
					if u := e.reg.CellUnitPattern().FindStringSubmatch(cell); u != nil {
						unit = u[1]
					}
					if r, ok := e.accept(name, value, unit, rowDates[i]); ok {
						readings = append(readings, r)
					}
				}
			}
		}
	}
	return readings
}

// ColumnBiomarkers returns the biomarkers a column header names. Text in
// parentheses is ignored. Headers are matched against the strict header
// patterns of every biomarker first; only when none match are the relaxed
// patterns tried.
func (e *Extractor) ColumnBiomarkers(header string) []string {
	h := strings.TrimSpace(parenthetical.ReplaceAllString(header, " "))
	if h == "" {
		return nil
	}

	match := func(pick func(registry.HeaderPatterns) registry.PatternList) []string {
		var names []string
		for _, name := range e.reg.Names() {
			_, ok := registry.First(pick(e.reg.HeaderPatterns(name)), func(re *regexp.Regexp) (struct{}, bool) {
				return struct{}{}, re.MatchString(h)
			})
			if ok {
				names = append(names, name)
			}
		}
		return names
	}

	if names := match(func(p registry.HeaderPatterns) registry.PatternList { return p.Strict }); len(names) > 0 {
		return names
	}
	return match(func(p registry.HeaderPatterns) registry.PatternList { return p.Relaxed })
}

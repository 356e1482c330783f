package analysis

import (
	"fmt"
	"strconv"
	"strings"

	"labparse/pkg/models"
)

// Category groups biomarkers for the summary report.
type Category struct {
	Name       string
	Biomarkers []string
}

// Categories is the fixed rendering order of the report.
var Categories = []Category{
	{"Lipid Profile", []string{"Total Cholesterol", "LDL", "HDL", "Triglycerides"}},
	{"Diabetes Markers", []string{"Glucose", "HbA1c"}},
	{"Kidney Function", []string{"Creatinine", "BUN", "eGFR"}},
	{"Vitamins", []string{"Vitamin D", "Vitamin B12", "Folate"}},
	{"Thyroid Function", []string{"TSH", "T3", "T4"}},
	{"Minerals", []string{"Calcium", "Magnesium", "Potassium", "Sodium", "Iron", "Ferritin"}},
}

const otherCategory = "Other Markers"

var directionMarks = map[models.Direction]string{
	models.Increasing: "📈",
	models.Decreasing: "📉",
	models.Stable:     "➡️",
}

// SummaryReport renders the plain-text report for result.
func SummaryReport(result *models.ExtractionResult) string {
	return RenderReport(result, Trends(result), Recommendations(result))
}

// RenderReport is a pure rendering of a result and its derived views.
func RenderReport(result *models.ExtractionResult, trends map[string]models.TrendSummary, recs []string) string {
	var sb strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&sb, format, args...)
		sb.WriteByte('\n')
	}

	line("=== HEALTH BIOMARKER ANALYSIS REPORT ===")
	line("")

	if md := result.Metadata; !md.IsEmpty() {
		line("PATIENT INFORMATION:")
		if md.PatientName != "" {
			line("  Name: %s", md.PatientName)
		}
		if md.PatientAge > 0 {
			line("  Age: %d", md.PatientAge)
		}
		if md.PatientGender != "" {
			line("  Gender: %s", md.PatientGender)
		}
		if md.ReportDate != "" {
			line("  Report Date: %s", md.ReportDate)
		}
		line("")
	}

	if len(result.Biomarkers) > 0 {
		line("BIOMARKER RESULTS:")
		categorized := make(map[string]bool)
		for _, cat := range Categories {
			var present []string
			for _, name := range cat.Biomarkers {
				categorized[name] = true
				if len(result.Biomarkers[name]) > 0 {
					present = append(present, name)
				}
			}
			if len(present) == 0 {
				continue
			}
			line("")
			line("%s:", cat.Name)
			for _, name := range present {
				line("  %s", readingLine(name, result.Biomarkers[name], true))
			}
		}

		var other []string
		for _, name := range result.BiomarkerNames() {
			if !categorized[name] && len(result.Biomarkers[name]) > 0 {
				other = append(other, name)
			}
		}
		if len(other) > 0 {
			line("")
			line("%s:", otherCategory)
			for _, name := range other {
				line("  %s", readingLine(name, result.Biomarkers[name], false))
			}
		}
	}

	if len(trends) > 0 {
		line("")
		line("TREND ANALYSIS:")
		for _, name := range result.BiomarkerNames() {
			t, ok := trends[name]
			if !ok {
				continue
			}
			mark, ok := directionMarks[t.Direction]
			if !ok {
				mark = "❓"
			}
			line("  %s: %s %s", name, t.Direction, mark)
			line("    Change: %+.1f%% over %d readings", t.PercentChange, t.DataPoints)
		}
	}

	line("")
	line("RECOMMENDATIONS:")
	if len(recs) == 0 {
		recs = []string{GenericAdvice}
	}
	for _, rec := range recs {
		line("  • %s", rec)
	}

	line("")
	line("%s", strings.Repeat("=", 50))
	line("Note: This analysis is for informational purposes only.")
	sb.WriteString("Always consult with qualified healthcare professionals for medical advice.")
	return sb.String()
}

func readingLine(name string, series models.Series, withIndicator bool) string {
	latest, _ := series.Latest()

	value := strconv.FormatFloat(latest.Value, 'f', -1, 64)
	if latest.Unit != "" {
		value += " " + latest.Unit
	}
	status := latest.Status
	if status == "" {
		status = "Unknown"
	}

	out := fmt.Sprintf("%s: %s (%s)", name, value, status)
	if withIndicator {
		switch strings.ToLower(status) {
		case "high", "diabetic", "deficient":
			out += " ⚠️"
		case "normal", "sufficient":
			out += " ✓"
		}
	}
	return out
}

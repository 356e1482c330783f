package analysis

import (
	"slices"
	"strings"

	"labparse/pkg/models"
)

// MaxRecommendations caps the advisory list.
const MaxRecommendations = 5

// GenericAdvice is emitted when no rule fires.
const GenericAdvice = "Consult with your healthcare provider for personalized recommendations"

// rule maps a latest-reading status to advisory text. Statuses compare
// case-insensitively.
type rule struct {
	biomarkers []string
	statuses   []string
	advice     string
}

var rules = []rule{
	{[]string{"Total Cholesterol"}, []string{"high"}, "Consider dietary changes to reduce cholesterol intake"},
	{[]string{"LDL"}, []string{"high"}, "Focus on reducing saturated fats and increasing fiber intake"},
	{[]string{"HDL"}, []string{"low"}, "Increase physical activity to boost HDL cholesterol"},
	{[]string{"Triglycerides"}, []string{"high"}, "Limit refined carbohydrates and added sugars"},
	{[]string{"Glucose", "HbA1c"}, []string{"prediabetic", "diabetic"}, "Monitor blood sugar levels and consider diabetes management strategies"},
	{[]string{"Vitamin D"}, []string{"deficient", "insufficient"}, "Consider vitamin D supplementation and increased sun exposure"},
	{[]string{"Vitamin B12"}, []string{"deficient"}, "Consider vitamin B12 supplementation or B12-rich foods"},
	{[]string{"Creatinine"}, []string{"high"}, "Stay well-hydrated and monitor kidney function"},
}

func (r rule) matches(biomarker, status string) bool {
	return slices.Contains(r.biomarkers, biomarker) && slices.Contains(r.statuses, strings.ToLower(status))
}

// Recommendations evaluates the rule table over the latest reading of each
// biomarker. The first matching rule per biomarker applies. The list is
// deduplicated in first-seen order and capped; when nothing fires it holds
// only the generic advice.
func Recommendations(result *models.ExtractionResult) []string {
	var out []string
	for _, name := range result.BiomarkerNames() {
		latest, ok := result.Biomarkers[name].Latest()
		if !ok {
			continue
		}
		for _, r := range rules {
			if r.matches(name, latest.Status) {
				if !slices.Contains(out, r.advice) {
					out = append(out, r.advice)
				}
				break
			}
		}
	}

	if len(out) == 0 {
		return []string{GenericAdvice}
	}
	if len(out) > MaxRecommendations {
		out = out[:MaxRecommendations]
	}
	return out
}

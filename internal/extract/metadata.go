package extract

import (
	"regexp"
	"strconv"
	"strings"

	"labparse/internal/registry"
	"labparse/pkg/models"
)

var (
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)patient\s*(?:name)?:?[ \t]*([a-z][a-z \t]*)`),
		regexp.MustCompile(`(?i)\bname:?[ \t]*([a-z][a-z \t]*)`),
		regexp.MustCompile(`(?i)patient:?[ \t]*([a-z][a-z \t]*)`),
	}

	agePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bage:?\s*(\d+)`),
		regexp.MustCompile(`(?i)\b(\d+)\s*years?\s*old`),
		regexp.MustCompile(`(?i)\b(\d+)\s*yo\b`),
	}

	genderPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bgender:?\s*(male|female|m|f)\b`),
		regexp.MustCompile(`(?i)\bsex:?\s*(male|female|m|f)\b`),
		regexp.MustCompile(`(?i)\b(male|female)\b`),
	}
)

// ExtractMetadata scans the original-case text for patient name, age,
// gender and the report date. Each field takes the first acceptable match
// from its ordered pattern list.
func (e *Extractor) ExtractMetadata(text string) models.ReportMetadata {
	var md models.ReportMetadata

	md.PatientName, _ = registry.First(namePatterns, func(re *regexp.Regexp) (string, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return "", false
		}
		name := strings.Join(strings.Fields(m[1]), " ")
		return name, len(name) > 2 && !strings.ContainsAny(name, "0123456789")
	})

	md.PatientAge, _ = registry.First(agePatterns, func(re *regexp.Regexp) (int, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return 0, false
		}
		age, err := strconv.Atoi(m[1])
		return age, err == nil && age > 0 && age < 150
	})

	// The first gender pattern that matches decides the field.
	md.PatientGender, _ = registry.First(genderPatterns, func(re *regexp.Regexp) (string, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return "", false
		}
		return normalizeGender(m[1]), true
	})

	md.ReportDate, _ = e.FindDate(text)
	return md
}

func normalizeGender(s string) string {
	switch strings.ToUpper(s) {
	case "MALE", "M":
		return "M"
	case "FEMALE", "F":
		return "F"
	}
	return ""
}

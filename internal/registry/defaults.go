package registry

import "strings"

// valueCapture is the numeric capture every biomarker pattern ends with.
const valueCapture = `(\d+(?:\.\d+)?)`

const sep = `\s*:?\s*`

// CanonicalUnit is the unit values are converted to when unit
// normalisation is enabled.
const CanonicalUnit = "mg/dL"

const cellUnitPattern = `(\w+/\w+|%)`

func p(prefix string) string {
	return prefix + sep + valueCapture
}

var biomarkerOrder = []string{
	"Total Cholesterol", "LDL", "HDL", "Triglycerides",
	"Glucose", "HbA1c",
	"Creatinine", "BUN", "eGFR",
	"Vitamin D", "Vitamin B12", "Folate",
	"Iron", "Ferritin",
	"TSH", "T3", "T4",
	"Calcium", "Magnesium", "Potassium", "Sodium",
}

func defaultPatterns() map[string][]string {
	return map[string][]string{
		"Total Cholesterol": {
			p(`total\s+cholesterol`),
			p(`cholesterol,?\s*total`),
			p(`(?m)^\s*cholesterol`),
			p(`\bchol`),
			p(`\btc`),
		},
		"LDL": {
			p(`ldl\s*(?:cholesterol)?`),
			p(`low\s*density\s*lipoprotein`),
			p(`ldl-c`),
			p(`cholesterol,?\s*ldl`),
		},
		"HDL": {
			p(`hdl\s*(?:cholesterol)?`),
			p(`high\s*density\s*lipoprotein`),
			p(`hdl-c`),
			p(`cholesterol,?\s*hdl`),
		},
		"Triglycerides": {
			p(`triglycerides?`),
			p(`\btrig`),
			p(`\btg`),
			p(`\btrigs?`),
		},
		"Glucose": {
			p(`glucose`),
			p(`blood\s*glucose`),
			p(`fasting\s*glucose`),
			p(`\bgluc`),
		},
		"HbA1c": {
			p(`hba1c`),
			p(`hemoglobin\s*a1c`),
			p(`glycated\s*hemoglobin`),
			p(`\ba1c`),
		},
		"Creatinine": {
			p(`creatinine`),
			p(`serum\s*creatinine`),
			p(`\bcreat`),
			p(`\bcr`),
		},
		"BUN": {
			p(`\bbun`),
			p(`blood\s*urea\s*nitrogen`),
			p(`urea\s*nitrogen`),
		},
		"eGFR": {
			p(`egfr`),
			p(`estimated\s*gfr`),
			p(`\bgfr\s*(?:estimated)?`),
		},
		"Vitamin D": {
			p(`vitamin\s*d\s*(?:25\s*oh)?`),
			p(`25\s*(?:oh)?\s*vitamin\s*d`),
			p(`calcidiol`),
			p(`\bvit\s*d`),
		},
		"Vitamin B12": {
			p(`(?:vitamin\s*)?\bb\s*12`),
			p(`cobalamin`),
			p(`cyanocobalamin`),
			p(`\bvit\s*b12`),
		},
		"Folate": {
			p(`folate`),
			p(`folic\s*acid`),
			p(`vitamin\s*b9`),
		},
		"Iron": {
			p(`\biron`),
			p(`serum\s*iron`),
			p(`\bfe`),
		},
		"Ferritin": {
			p(`ferritin`),
			p(`serum\s*ferritin`),
		},
		"TSH": {
			p(`\btsh`),
			p(`thyroid\s*stimulating\s*hormone`),
			p(`thyrotropin`),
		},
		"T3": {
			p(`(?:free\s*)?\bt3`),
			p(`triiodothyronine`),
			p(`\bft3`),
		},
		"T4": {
			p(`(?:free\s*)?\bt4`),
			p(`thyroxine`),
			p(`\bft4`),
		},
		"Calcium": {
			p(`calcium`),
			p(`serum\s*calcium`),
			p(`\bca`),
		},
		"Magnesium": {
			p(`magnesium`),
			p(`serum\s*magnesium`),
			p(`\bmg`),
		},
		"Potassium": {
			p(`potassium`),
			p(`serum\s*potassium`),
			p(`\bk`),
		},
		"Sodium": {
			p(`sodium`),
			p(`serum\s*sodium`),
			p(`\bna`),
		},
	}
}

const monthAbbr = `jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec`

const monthFull = `january|february|march|april|may|june|july|august|september|october|november|december`

// datePatterns are tried in order; each has one capture group holding the
// date substring. Numeric forms are bounded so a year-first date is not
// read as its trailing two-digit-year tail.
var datePatterns = []string{
	`\b(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})\b`,
	`\b(\d{4}[/-]\d{1,2}[/-]\d{1,2})\b`,
	`\b(\d{1,2}\s+(?:` + monthAbbr + `)\s+\d{2,4})\b`,
	`\b((?:` + monthAbbr + `)\s+\d{1,2},?\s+\d{2,4})\b`,
	`\b(\d{1,2}\s+(?:` + monthFull + `)\s+\d{2,4})\b`,
}

// dateLayouts are tried in order against a matched date substring: numeric
// month-first, year-first and day-first forms, then month-name forms.
var dateLayouts = []string{
	"1/2/2006",
	"1-2-2006",
	"2006/1/2",
	"2006-1-2",
	"2/1/2006",
	"2-1-2006",
	"1/2/06",
	"1-2-06",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"2 January 2006",
	"Jan 2 2006",
	"2 Jan 06",
	"2 January 06",
}

func defaultUnits() map[string]string {
	lipid := `(mg/dl|mmol/l)`
	return map[string]string{
		"Total Cholesterol": lipid,
		"LDL":               lipid,
		"HDL":               lipid,
		"Triglycerides":     lipid,
		"Glucose":           lipid,
		"Creatinine":        `(mg/dl|[µμu]mol/l)`,
		"Vitamin D":         `(ng/ml|nmol/l)`,
		"Vitamin B12":       `(pg/ml|pmol/l)`,
		"HbA1c":             `(%|mmol/mol)`,
	}
}

func defaultConversions() map[string]map[string]float64 {
	cholesterol := map[string]float64{"mmol/l": 38.67, "mg/dl": 1}
	return map[string]map[string]float64{
		"Total Cholesterol": cholesterol,
		"LDL":               cholesterol,
		"HDL":               cholesterol,
		"Glucose":           {"mmol/l": 18, "mg/dl": 1},
		"Creatinine":        {"umol/l": 0.0113, "mg/dl": 1},
	}
}

// normalizeUnit folds case and both micro signs so conversion lookups match.
func normalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.ReplaceAll(u, "µ", "u")
	return strings.ReplaceAll(u, "μ", "u")
}

func defaultPlausibility() map[string]Range {
	return map[string]Range{
		"Total Cholesterol": {50, 1000},
		"LDL":               {20, 800},
		"HDL":               {10, 200},
		"Triglycerides":     {20, 2000},
		"Glucose":           {30, 800},
		"HbA1c":             {3, 20},
		"Creatinine":        {0.1, 20},
		"Vitamin D":         {1, 200},
		"Vitamin B12":       {50, 5000},
		"TSH":               {0.01, 100},
		"Iron":              {10, 500},
		"Ferritin":          {1, 5000},
	}
}

func b(label string, low, high float64) Bucket {
	return Bucket{Label: label, Low: low, High: high}
}

func defaultClinical() map[string][]Bucket {
	return map[string][]Bucket{
		"Total Cholesterol": {b("normal", 0, 200), b("borderline", 200, 240), b("high", 240, 999)},
		"LDL":               {b("normal", 0, 100), b("borderline", 100, 160), b("high", 160, 999)},
		"HDL":               {b("low", 0, 40), b("normal", 40, 999)},
		"Triglycerides":     {b("normal", 0, 150), b("borderline", 150, 200), b("high", 200, 999)},
		"Glucose":           {b("normal", 70, 100), b("prediabetic", 100, 126), b("diabetic", 126, 999)},
		"HbA1c":             {b("normal", 0, 5.7), b("prediabetic", 5.7, 6.5), b("diabetic", 6.5, 999)},
		"Creatinine":        {b("normal", 0.6, 1.3), b("high", 1.3, 999)},
		"Vitamin D":         {b("deficient", 0, 20), b("insufficient", 20, 30), b("sufficient", 30, 999)},
		"Vitamin B12":       {b("deficient", 0, 300), b("low", 300, 400), b("normal", 400, 999)},
	}
}

func defaultTables() tables {
	return tables{
		Names:         append([]string(nil), biomarkerOrder...),
		Patterns:      defaultPatterns(),
		Units:         defaultUnits(),
		Conversions:   defaultConversions(),
		Plausibility:  defaultPlausibility(),
		Clinical:      defaultClinical(),
		LanguageHints: []string{"en"},
	}
}

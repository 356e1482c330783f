package models

import "sort"

// DateLayout is the canonical calendar date format used for every reading.
const DateLayout = "2006-01-02"

// Reading is one accepted biomarker measurement.
type Reading struct {
	Biomarker string  `json:"-"`      // Registry name, e.g. "Total Cholesterol"
	Date      string  `json:"date"`   // YYYY-MM-DD
	Value     float64 `json:"value"`  // Value after optional unit conversion
	Unit      string  `json:"unit"`   // Detected unit, may be empty
	Status    string  `json:"status"` // Clinical status label
}

// Series holds the readings of one biomarker sorted ascending by date.
type Series []Reading

// Latest returns the chronologically last reading.
func (s Series) Latest() (Reading, bool) {
	if len(s) == 0 {
		return Reading{}, false
	}
	return s[len(s)-1], true
}

// ReportMetadata carries the best-effort patient fields. Zero values mean absent.
type ReportMetadata struct {
	PatientName   string `json:"patient_name,omitempty"`
	PatientAge    int    `json:"patient_age,omitempty"`    // 0 < age < 150 when present
	PatientGender string `json:"patient_gender,omitempty"` // "M" or "F"
	ReportDate    string `json:"report_date,omitempty"`    // YYYY-MM-DD
}

// IsEmpty reports whether no metadata field was found.
func (m ReportMetadata) IsEmpty() bool {
	return m == ReportMetadata{}
}

// ExtractionResult is the single artifact of an extraction run.
type ExtractionResult struct {
	Metadata   ReportMetadata    `json:"metadata"`
	Biomarkers map[string]Series `json:"biomarkers"`

	// Order records the first-seen order of biomarker names.
	Order []string `json:"-"`
}

// NewExtractionResult returns an empty result ready for use.
func NewExtractionResult() *ExtractionResult {
	return &ExtractionResult{Biomarkers: make(map[string]Series)}
}

// BiomarkerNames returns the names in first-seen order followed by any
// names missing from Order in lexical order.
func (r *ExtractionResult) BiomarkerNames() []string {
	seen := make(map[string]bool, len(r.Biomarkers))
	names := make([]string, 0, len(r.Biomarkers))
	for _, name := range r.Order {
		if _, ok := r.Biomarkers[name]; ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	var rest []string
	for name := range r.Biomarkers {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// ReadingCount returns the total number of readings across all series.
func (r *ExtractionResult) ReadingCount() int {
	n := 0
	for _, s := range r.Biomarkers {
		n += len(s)
	}
	return n
}

// Direction classifies the slope of a trend line.
type Direction string

const (
	Increasing Direction = "Increasing"
	Decreasing Direction = "Decreasing"
	Stable     Direction = "Stable"
)

// DateRange is the first and last date of a series.
type DateRange struct {
	First string `json:"first"`
	Last  string `json:"last"`
}

// String renders the range as "first to last".
func (d DateRange) String() string {
	return d.First + " to " + d.Last
}

// TrendSummary is derived from a series of two or more readings.
type TrendSummary struct {
	Direction     Direction `json:"trend_direction"`
	Slope         float64   `json:"slope"`
	PercentChange float64   `json:"percent_change"`
	DataPoints    int       `json:"data_points"`
	DateRange     DateRange `json:"date_range"`
	LatestValue   float64   `json:"latest_value"`
	LatestStatus  string    `json:"latest_status"`
}

// Table is a row/column grid of cell strings. Row 0 is the header.
type Table [][]string

// Readings flattens the result in BiomarkerNames order with each reading's
// Biomarker field set.
func (r *ExtractionResult) Readings() []Reading {
	var out []Reading
	for _, name := range r.BiomarkerNames() {
		for _, reading := range r.Biomarkers[name] {
			reading.Biomarker = name
			out = append(out, reading)
		}
	}
	return out
}

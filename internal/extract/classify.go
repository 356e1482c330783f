package extract

const (
	// StatusUnknown labels a biomarker without clinical ranges.
	StatusUnknown = "Unknown"

	// StatusOutOfRange labels a value outside every clinical bucket.
	StatusOutOfRange = "Out of range"
)

// Validate reports whether value is plausible for the biomarker. Biomarkers
// without a plausibility range accept every value.
func (e *Extractor) Validate(biomarker string, value float64) bool {
	rng, ok := e.reg.Plausibility(biomarker)
	if !ok {
		return true
	}
	return rng.Contains(value)
}

// Classify returns the clinical status of value. The first bucket in table
// order with low <= value <= high wins.
func (e *Extractor) Classify(biomarker string, value float64) string {
	buckets, ok := e.reg.Buckets(biomarker)
	if !ok {
		return StatusUnknown
	}
	for _, b := range buckets {
		if b.Low <= value && value <= b.High {
			return b.Status
		}
	}
	return StatusOutOfRange
}

// Package analysis derives the merged result and its read-only views:
// trends, recommendations and the plain-text summary report.
package analysis

import (
	"sort"

	"labparse/pkg/models"
)

type readingKey struct {
	date  string
	value float64
}

// Aggregate unions candidate sets into one result. Per biomarker, exact
// (date, value) duplicates keep their first occurrence and the series is
// stable-sorted ascending by date. The merge is order-agnostic with respect
// to which set a reading came from and idempotent on duplicates.
func Aggregate(md models.ReportMetadata, sets ...[]models.Reading) *models.ExtractionResult {
	result := models.NewExtractionResult()
	result.Metadata = md

	seen := make(map[string]map[readingKey]bool)
	for _, set := range sets {
		for _, r := range set {
			if r.Biomarker == "" {
				continue
			}
			keys, ok := seen[r.Biomarker]
			if !ok {
				keys = make(map[readingKey]bool)
				seen[r.Biomarker] = keys
				result.Order = append(result.Order, r.Biomarker)
			}
			k := readingKey{r.Date, r.Value}
			if keys[k] {
				continue
			}
			keys[k] = true
			result.Biomarkers[r.Biomarker] = append(result.Biomarkers[r.Biomarker], r)
		}
	}

	for name, series := range result.Biomarkers {
		sort.SliceStable(series, func(i, j int) bool { return series[i].Date < series[j].Date })
		result.Biomarkers[name] = series
	}
	return result
}

// Normalize re-aggregates a result, for example one read back from disk, so
// that the series invariants hold again.
func Normalize(result *models.ExtractionResult) *models.ExtractionResult {
	return Aggregate(result.Metadata, result.Readings())
}

// MergeMetadata combines metadata from several passes. For each field the
// first present value wins.
func MergeMetadata(mds ...models.ReportMetadata) models.ReportMetadata {
	var out models.ReportMetadata
	for _, md := range mds {
		if out.PatientName == "" {
			out.PatientName = md.PatientName
		}
		if out.PatientAge == 0 {
			out.PatientAge = md.PatientAge
		}
		if out.PatientGender == "" {
			out.PatientGender = md.PatientGender
		}
		if out.ReportDate == "" {
			out.ReportDate = md.ReportDate
		}
	}
	return out
}

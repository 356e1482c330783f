package analysis

import (
	"math"
	"sort"

	"labparse/pkg/models"
)

// StableSlope is the absolute slope below which a series counts as stable.
// It is a fixed threshold in the biomarker's own unit.
const StableSlope = 0.1

// Trends computes a summary for every biomarker with at least two readings.
func Trends(result *models.ExtractionResult) map[string]models.TrendSummary {
	out := make(map[string]models.TrendSummary)
	for name, series := range result.Biomarkers {
		if t, ok := Trend(series); ok {
			out[name] = t
		}
	}
	return out
}

// Trend fits a least-squares line over positions 0..n-1 of the
// chronologically sorted values. It reports false for fewer than two readings.
func Trend(series models.Series) (models.TrendSummary, bool) {
	if len(series) < 2 {
		return models.TrendSummary{}, false
	}
	sorted := append(models.Series(nil), series...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	values := make([]float64, len(sorted))
	for i, r := range sorted {
		values[i] = r.Value
	}
	slope := Slope(values)

	first, last := sorted[0], sorted[len(sorted)-1]
	return models.TrendSummary{
		Direction:     direction(slope),
		Slope:         round(slope, 4),
		PercentChange: round(PercentChange(first.Value, last.Value), 2),
		DataPoints:    len(sorted),
		DateRange:     models.DateRange{First: first.Date, Last: last.Date},
		LatestValue:   last.Value,
		LatestStatus:  last.Status,
	}, true
}

// Slope returns the least-squares slope of values against their index.
func Slope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	meanX := (n - 1) / 2
	var meanY float64
	for _, v := range values {
		meanY += v
	}
	meanY /= n

	var num, den float64
	for i, v := range values {
		dx := float64(i) - meanX
		num += dx * (v - meanY)
		den += dx * dx
	}
	return num / den
}

// PercentChange is (last-first)/first*100, or 0 when first is 0.
func PercentChange(first, last float64) float64 {
	if first == 0 {
		return 0
	}
	return (last - first) / first * 100
}

func direction(slope float64) models.Direction {
	switch {
	case math.Abs(slope) < StableSlope:
		return models.Stable
	case slope > 0:
		return models.Increasing
	default:
		return models.Decreasing
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

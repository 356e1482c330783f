package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labparse/pkg/models"
)

func reading(name, date string, value float64, status string) models.Reading {
	return models.Reading{Biomarker: name, Date: date, Value: value, Status: status}
}

func seriesOf(name string, values ...float64) models.Series {
	dates := []string{"2024-01-01", "2024-02-01", "2024-03-01", "2024-04-01", "2024-05-01"}
	s := make(models.Series, len(values))
	for i, v := range values {
		s[i] = reading(name, dates[i], v, "")
	}
	return s
}

func TestAggregate(t *testing.T) {
	text := []models.Reading{
		reading("LDL", "2024-03-01", 150, "Borderline"),
		reading("HDL", "2024-03-01", 50, "Normal"),
	}
	table := []models.Reading{
		reading("LDL", "2024-02-01", 145, "Borderline"),
		{Biomarker: "LDL", Date: "2024-03-01", Value: 150, Unit: "mg/dL", Status: "Borderline"},
		reading("LDL", "2024-01-15", 170, "High"),
		reading("", "2024-01-15", 1, ""),
	}

	result := Aggregate(models.ReportMetadata{PatientName: "Ann"}, text, table)

	assert.Equal(t, "Ann", result.Metadata.PatientName)
	assert.Equal(t, []string{"LDL", "HDL"}, result.Order)

	ldl := result.Biomarkers["LDL"]
	require.Len(t, ldl, 3)
	assert.Equal(t, []string{"2024-01-15", "2024-02-01", "2024-03-01"}, []string{ldl[0].Date, ldl[1].Date, ldl[2].Date})
	assert.Empty(t, ldl[2].Unit, "first occurrence of a duplicate is kept")
	assert.Len(t, result.Biomarkers["HDL"], 1)
}

func TestAggregateIdempotent(t *testing.T) {
	set := []models.Reading{
		reading("Glucose", "2024-05-01", 99, "Normal"),
		reading("Glucose", "2024-01-01", 105, "Prediabetic"),
		reading("Glucose", "2024-01-01", 104, "Prediabetic"),
	}

	once := Aggregate(models.ReportMetadata{}, set)
	twice := Aggregate(models.ReportMetadata{}, set, set)
	assert.Equal(t, once.Biomarkers, twice.Biomarkers)

	again := Normalize(once)
	assert.Equal(t, once.Biomarkers, again.Biomarkers)
}

func TestAggregateOrderingInvariant(t *testing.T) {
	set := []models.Reading{
		reading("TSH", "2024-06-01", 2, ""),
		reading("TSH", "2023-12-31", 3, ""),
		reading("TSH", "2024-06-01", 1, ""),
		reading("TSH", "2024-01-10", 4, ""),
	}
	s := Aggregate(models.ReportMetadata{}, set).Biomarkers["TSH"]
	for i := 0; i+1 < len(s); i++ {
		assert.LessOrEqual(t, s[i].Date, s[i+1].Date)
	}
	// Ties keep discovery order.
	assert.Equal(t, 2.0, s[2].Value)
	assert.Equal(t, 1.0, s[3].Value)
}

func TestMergeMetadata(t *testing.T) {
	md := MergeMetadata(
		models.ReportMetadata{PatientName: "Jane Doe"},
		models.ReportMetadata{PatientName: "Other", PatientAge: 40, ReportDate: "2024-01-01"},
		models.ReportMetadata{PatientAge: 41, PatientGender: "F"},
	)
	assert.Equal(t, models.ReportMetadata{PatientName: "Jane Doe", PatientAge: 40, PatientGender: "F", ReportDate: "2024-01-01"}, md)
}

func TestTrendDirection(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   models.Direction
		slope  float64
	}{
		{"increasing", []float64{100, 110, 120, 130}, models.Increasing, 10},
		{"decreasing", []float64{130, 120, 110, 100}, models.Decreasing, -10},
		{"stable", []float64{100, 100, 100.1, 100}, models.Stable, 0.01},
		{"threshold is absolute", []float64{100, 100, 101, 99}, models.Decreasing, -0.2},
		{"two points", []float64{0, 5}, models.Increasing, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trend, ok := Trend(seriesOf("X", tt.values...))
			require.True(t, ok)
			assert.Equal(t, tt.want, trend.Direction)
			assert.InDelta(t, tt.slope, trend.Slope, 1e-9)
			assert.Equal(t, len(tt.values), trend.DataPoints)
		})
	}
}

func TestTrendSummary(t *testing.T) {
	s := seriesOf("LDL", 120, 130, 160)
	s[2].Status = "Borderline"

	trend, ok := Trend(s)
	require.True(t, ok)
	assert.Equal(t, 33.33, trend.PercentChange)
	assert.Equal(t, models.DateRange{First: "2024-01-01", Last: "2024-03-01"}, trend.DateRange)
	assert.Equal(t, "2024-01-01 to 2024-03-01", trend.DateRange.String())
	assert.Equal(t, 160.0, trend.LatestValue)
	assert.Equal(t, "Borderline", trend.LatestStatus)

	_, ok = Trend(seriesOf("LDL", 120))
	assert.False(t, ok)
}

func TestPercentChangeZeroGuard(t *testing.T) {
	trend, ok := Trend(seriesOf("X", 0, 5))
	require.True(t, ok)
	assert.Equal(t, 0.0, trend.PercentChange)
}

func TestTrends(t *testing.T) {
	result := models.NewExtractionResult()
	result.Biomarkers["LDL"] = seriesOf("LDL", 100, 110)
	result.Biomarkers["HDL"] = seriesOf("HDL", 50)

	trends := Trends(result)
	assert.Len(t, trends, 1)
	assert.Contains(t, trends, "LDL")
}

func resultWithLatest(statuses map[string]string, order ...string) *models.ExtractionResult {
	result := models.NewExtractionResult()
	for _, name := range order {
		result.Biomarkers[name] = models.Series{
			reading(name, "2024-01-01", 1, "Normal"),
			reading(name, "2024-02-01", 2, statuses[name]),
		}
		result.Order = append(result.Order, name)
	}
	return result
}

func TestRecommendations(t *testing.T) {
	t.Run("rules fire on latest reading", func(t *testing.T) {
		result := resultWithLatest(map[string]string{
			"LDL":     "High",
			"Glucose": "Prediabetic",
			"HbA1c":   "Diabetic",
			"HDL":     "Normal",
		}, "LDL", "Glucose", "HbA1c", "HDL")

		assert.Equal(t, []string{
			"Focus on reducing saturated fats and increasing fiber intake",
			"Monitor blood sugar levels and consider diabetes management strategies",
		}, Recommendations(result))
	})

	t.Run("earlier readings are ignored", func(t *testing.T) {
		result := models.NewExtractionResult()
		result.Biomarkers["LDL"] = models.Series{
			reading("LDL", "2024-01-01", 190, "High"),
			reading("LDL", "2024-02-01", 90, "Normal"),
		}
		assert.Equal(t, []string{GenericAdvice}, Recommendations(result))
	})

	t.Run("capped at five", func(t *testing.T) {
		result := resultWithLatest(map[string]string{
			"Total Cholesterol": "High",
			"LDL":               "High",
			"HDL":               "Low",
			"Triglycerides":     "High",
			"Glucose":           "Diabetic",
			"Vitamin D":         "Deficient",
			"Creatinine":        "High",
		}, "Total Cholesterol", "LDL", "HDL", "Triglycerides", "Glucose", "Vitamin D", "Creatinine")

		recs := Recommendations(result)
		require.Len(t, recs, MaxRecommendations)
		assert.Equal(t, "Consider dietary changes to reduce cholesterol intake", recs[0])
		assert.NotContains(t, recs, "Stay well-hydrated and monitor kidney function")
	})

	t.Run("empty result", func(t *testing.T) {
		assert.Equal(t, []string{GenericAdvice}, Recommendations(models.NewExtractionResult()))
	})
}

func TestSummaryReport(t *testing.T) {
	result := Aggregate(
		models.ReportMetadata{PatientName: "Jane Doe", PatientAge: 45, PatientGender: "F", ReportDate: "2024-03-01"},
		[]models.Reading{
			{Biomarker: "LDL", Date: "2024-01-01", Value: 120, Unit: "mg/dL", Status: "Borderline"},
			{Biomarker: "LDL", Date: "2024-03-01", Value: 165, Unit: "mg/dL", Status: "High"},
			{Biomarker: "HDL", Date: "2024-03-01", Value: 55, Status: "Normal"},
			{Biomarker: "Apo B", Date: "2024-03-01", Value: 90, Status: "Unknown"},
		},
	)

	report := SummaryReport(result)

	assert.True(t, strings.HasPrefix(report, "=== HEALTH BIOMARKER ANALYSIS REPORT ===\n"))
	for _, want := range []string{
		"PATIENT INFORMATION:\n  Name: Jane Doe\n  Age: 45\n  Gender: F\n  Report Date: 2024-03-01\n",
		"Lipid Profile:\n  LDL: 165 mg/dL (High) ⚠️\n  HDL: 55 (Normal) ✓\n",
		"Other Markers:\n  Apo B: 90 (Unknown)\n",
		"TREND ANALYSIS:\n  LDL: Increasing 📈\n    Change: +37.5% over 2 readings\n",
		"RECOMMENDATIONS:\n  • Focus on reducing saturated fats and increasing fiber intake\n",
		"Note: This analysis is for informational purposes only.",
	} {
		assert.Contains(t, report, want)
	}
	assert.NotContains(t, report, "Diabetes Markers")
}

func TestSummaryReportEmpty(t *testing.T) {
	report := SummaryReport(models.NewExtractionResult())

	assert.NotContains(t, report, "PATIENT INFORMATION")
	assert.NotContains(t, report, "BIOMARKER RESULTS")
	assert.Contains(t, report, "  • "+GenericAdvice)
}

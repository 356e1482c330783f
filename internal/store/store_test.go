package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labparse/internal/analysis"
	"labparse/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return s
}

func TestSaveAndLoadRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	result := analysis.Aggregate(
		models.ReportMetadata{PatientName: "Jane Doe", PatientAge: 45, ReportDate: "2024-02-01"},
		[]models.Reading{
			{Biomarker: "LDL", Date: "2024-02-01", Value: 145, Unit: "mg/dL", Status: "Borderline"},
			{Biomarker: "HDL", Date: "2024-02-01", Value: 50, Status: "Normal"},
		},
	)

	rec, err := s.SaveRun(ctx, "feb.pdf", result)
	require.NoError(t, err)
	assert.Len(t, rec.ID, 36)
	assert.Equal(t, 2, rec.Readings)

	loaded, err := s.LoadRun(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Metadata, loaded.Metadata)
	assert.Equal(t, result.Biomarkers, loaded.Biomarkers)
	assert.Equal(t, []string{"LDL", "HDL"}, loaded.BiomarkerNames())

	_, err = s.LoadRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := analysis.Aggregate(
		models.ReportMetadata{PatientName: "Jane Doe", ReportDate: "2024-01-01"},
		[]models.Reading{{Biomarker: "LDL", Date: "2024-01-01", Value: 160, Status: "High"}},
	)
	second := analysis.Aggregate(
		models.ReportMetadata{PatientAge: 46, ReportDate: "2024-03-01"},
		[]models.Reading{
			{Biomarker: "LDL", Date: "2024-03-01", Value: 130, Status: "Borderline"},
			{Biomarker: "LDL", Date: "2024-01-01", Value: 160, Status: "High"},
		},
	)

	r1, err := s.SaveRun(ctx, "jan.pdf", first)
	require.NoError(t, err)
	_, err = s.SaveRun(ctx, "mar.pdf", second)
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "jan.pdf", runs[0].Source)
	assert.Equal(t, 2, runs[1].Readings)
	assert.True(t, runs[0].CreatedAt.Before(runs[1].CreatedAt))

	history, err := s.LoadHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ReportMetadata{PatientName: "Jane Doe", PatientAge: 46, ReportDate: "2024-03-01"}, history.Metadata)

	ldl := history.Biomarkers["LDL"]
	require.Len(t, ldl, 2, "the repeated January reading collapses")
	assert.Equal(t, 160.0, ldl[0].Value)
	assert.Equal(t, 130.0, ldl[1].Value)

	trend, ok := analysis.Trend(ldl)
	require.True(t, ok)
	assert.Equal(t, models.Decreasing, trend.Direction)

	require.NoError(t, s.DeleteRun(ctx, r1.ID))
	assert.ErrorIs(t, s.DeleteRun(ctx, r1.ID), ErrRunNotFound)

	runs, err = s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	runs, err := s.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

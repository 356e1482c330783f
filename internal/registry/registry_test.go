package registry

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()

	names := r.Names()
	require.Len(t, names, 21)
	assert.Equal(t, "Total Cholesterol", names[0])
	assert.Equal(t, "Sodium", names[len(names)-1])

	for _, name := range names {
		assert.NotEmpty(t, r.Patterns(name), name)
		for _, re := range r.Patterns(name) {
			assert.Equal(t, 1, re.NumSubexp(), "%s: %s", name, re)
		}
	}

	rng, ok := r.Plausibility("Total Cholesterol")
	require.True(t, ok)
	assert.Equal(t, Range{Min: 50, Max: 1000}, rng)

	_, ok = r.Plausibility("Sodium")
	assert.False(t, ok)

	buckets, ok := r.Buckets("LDL")
	require.True(t, ok)
	require.Len(t, buckets, 3)
	assert.Equal(t, "Normal", buckets[0].Status)
	assert.Equal(t, "Borderline", buckets[1].Status)
	assert.Equal(t, "High", buckets[2].Status)
}

func TestFirst(t *testing.T) {
	even := func(n int) (int, bool) { return n * 10, n%2 == 0 }

	got, ok := First([]int{1, 3, 4, 6}, even)
	assert.True(t, ok)
	assert.Equal(t, 40, got)

	_, ok = First([]int{1, 3}, even)
	assert.False(t, ok)
}

func TestConversion(t *testing.T) {
	r := Default()

	tests := []struct {
		name   string
		unit   string
		factor float64
		ok     bool
	}{
		{"Total Cholesterol", "mmol/L", 38.67, true},
		{"LDL", "MMOL/L", 38.67, true},
		{"Glucose", "mmol/l", 18, true},
		{"Creatinine", "µmol/L", 0.0113, true},
		{"Creatinine", "μmol/L", 0.0113, true},
		{"Creatinine", "umol/l", 0.0113, true},
		{"Glucose", "mg/dL", 1, true},
		{"Vitamin D", "nmol/L", 0, false},
		{"Glucose", "g/L", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name+" "+tt.unit, func(t *testing.T) {
			f, ok := r.Conversion(tt.name, tt.unit)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.factor, f, 1e-9)
		})
	}
}

func TestStripOptional(t *testing.T) {
	tests := []struct {
		in      string
		strict  string
		relaxed string
	}{
		{`ldl\s*(?:cholesterol)?`, `ldl\s*(?:cholesterol)`, `ldl\s*`},
		{`(?:vitamin\s*)?\bb\s*12`, `(?:vitamin\s*)\bb\s*12`, `\bb\s*12`},
		{`25\s*(?:oh)?\s*vitamin\s*d`, `25\s*(?:oh)\s*vitamin\s*d`, `25\s*\s*vitamin\s*d`},
		{`hba1c`, `hba1c`, `hba1c`},
		{`(?:a|b)c`, `(?:a|b)c`, `(?:a|b)c`},
		{`x(?:y(?:z)?)?`, `x(?:y(?:z))`, `x`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.strict, stripOptional(tt.in, true))
			assert.Equal(t, tt.relaxed, stripOptional(tt.in, false))
		})
	}
}

func TestTrimValueSuffix(t *testing.T) {
	assert.Equal(t, `total\s+cholesterol`, trimValueSuffix(`total\s+cholesterol\s*:?\s*(\d+(?:\.\d+)?)`))
	assert.Equal(t, `tsh`, trimValueSuffix(`tsh: (\d+(?:\.\d+)?)`))
	assert.Equal(t, `custom`, trimValueSuffix(`custom`))
}

func TestHeaderPatterns(t *testing.T) {
	r := Default()

	matches := func(list PatternList, header string) bool {
		_, ok := First(list, func(re *regexp.Regexp) (bool, bool) { return true, re.MatchString(header) })
		return ok
	}

	tests := []struct {
		biomarker string
		header    string
		strict    bool
		relaxed   bool
	}{
		{"LDL", "LDL Cholesterol", true, true},
		{"LDL", "LDL-C", true, true},
		{"LDL", "LDL", false, true},
		{"Total Cholesterol", "Total Cholesterol", true, false},
		{"Total Cholesterol", "Cholesterol", true, false},
		{"Total Cholesterol", "HDL Cholesterol", false, false},
		{"Vitamin D", "Vitamin D", false, true},
		{"Vitamin B12", "Vitamin B12", true, true},
		{"T3", "T3", false, true},
		{"Potassium", "Date", false, false},
		{"Calcium", "Calcium", true, false},
		{"Calcium", "Cancer", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.biomarker+"/"+tt.header, func(t *testing.T) {
			h := r.HeaderPatterns(tt.biomarker)
			assert.Equal(t, tt.strict, matches(h.Strict, tt.header), "strict")
			assert.Equal(t, tt.relaxed, matches(h.Relaxed, tt.header), "relaxed")
		})
	}
}

func TestMergeOverlay(t *testing.T) {
	t.Run("json document", func(t *testing.T) {
		o, err := ParseOverlay([]byte(`{"biomarker_patterns": {` +
			`"Apolipoprotein B": ["apo\\s*b\\s*:?\\s*(\\d+(?:\\.\\d+)?)"], ` +
			`"TSH": ["thyroid\\s*:?\\s*(\\d+(?:\\.\\d+)?)"]}, ` +
			`"clinical_ranges": {"TSH": {"low": [0, 0.4], "normal": [0.4, 4.0], "high": [4.0, 100]}}}`))
		require.NoError(t, err)

		r, err := Default().Merge(o)
		require.NoError(t, err)

		names := r.Names()
		require.Len(t, names, 22)
		assert.Equal(t, "Apolipoprotein B", names[21])
		require.Len(t, r.Patterns("TSH"), 1)
		assert.Len(t, r.Patterns("LDL"), 4)

		buckets, ok := r.Buckets("TSH")
		require.True(t, ok)
		assert.Equal(t, []string{"Low", "Normal", "High"}, []string{buckets[0].Status, buckets[1].Status, buckets[2].Status})

		_, ok = r.Buckets("LDL")
		assert.True(t, ok)
	})

	t.Run("yaml document", func(t *testing.T) {
		o, err := ParseOverlay([]byte(`
plausibility_ranges:
  Sodium: [100, 200]
unit_patterns:
  Sodium: (mmol/l|meq/l)
ocr_language_hints: [en, de]
`))
		require.NoError(t, err)

		r, err := Default().Merge(o)
		require.NoError(t, err)

		rng, ok := r.Plausibility("Sodium")
		require.True(t, ok)
		assert.Equal(t, Range{Min: 100, Max: 200}, rng)
		_, ok = r.UnitPattern("Sodium")
		assert.True(t, ok)
		assert.Equal(t, []string{"en", "de"}, r.LanguageHints())
	})

	t.Run("base registry untouched", func(t *testing.T) {
		base := Default()
		o := &Overlay{PlausibilityRanges: map[string]Range{"LDL": {1, 2}}}
		_, err := base.Merge(o)
		require.NoError(t, err)

		rng, _ := base.Plausibility("LDL")
		assert.Equal(t, Range{Min: 20, Max: 800}, rng)
	})

	t.Run("pattern without capture group", func(t *testing.T) {
		o := &Overlay{
			BiomarkerPatterns: map[string][]string{"LDL": {`ldl`}},
			patternOrder:      []string{"LDL"},
		}
		_, err := Default().Merge(o)
		assert.ErrorIs(t, err, ErrInvalidPattern)
	})

	t.Run("pattern with extra capture group", func(t *testing.T) {
		o, err := ParseOverlay([]byte(`{"biomarker_patterns": {"Total Cholesterol": ` +
			`["(total\\s+)?cholesterol\\s*:?\\s*(\\d+(?:\\.\\d+)?)"]}}`))
		require.NoError(t, err)
		_, err = Default().Merge(o)
		assert.ErrorIs(t, err, ErrInvalidPattern)

		o, err = ParseOverlay([]byte(`{"biomarker_patterns": {"Total Cholesterol": ` +
			`["(?:total\\s+)?cholesterol\\s*:?\\s*(\\d+(?:\\.\\d+)?)"]}}`))
		require.NoError(t, err)
		_, err = Default().Merge(o)
		assert.NoError(t, err)
	})

	t.Run("underscore labels", func(t *testing.T) {
		o, err := ParseOverlay([]byte(`{"clinical_ranges": {"LDL": {"optimal": [0, 100], "very_high": [100, 800]}}}`))
		require.NoError(t, err)
		r, err := Default().Merge(o)
		require.NoError(t, err)

		buckets, ok := r.Buckets("LDL")
		require.True(t, ok)
		require.Len(t, buckets, 2)
		assert.Equal(t, "Very_High", buckets[1].Status)
	})

	t.Run("bad range", func(t *testing.T) {
		_, err := ParseOverlay([]byte(`{"clinical_ranges": {"LDL": {"normal": [100]}}}`))
		assert.ErrorIs(t, err, ErrInvalidOverlay)
	})
}

func TestWithOverlayFile(t *testing.T) {
	dir := t.TempDir()
	log := zerolog.Nop()

	t.Run("empty path", func(t *testing.T) {
		assert.Len(t, WithOverlayFile("", log).Names(), 21)
	})

	t.Run("missing file falls back", func(t *testing.T) {
		assert.Len(t, WithOverlayFile(filepath.Join(dir, "missing.json"), log).Names(), 21)
	})

	t.Run("invalid pattern falls back", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("biomarker_patterns:\n  LDL: ['ldl(']\n"), 0o644))
		r := WithOverlayFile(path, log)
		assert.Len(t, r.Patterns("LDL"), 4)
	})

	t.Run("valid overlay", func(t *testing.T) {
		path := filepath.Join(dir, "ok.yaml")
		require.NoError(t, os.WriteFile(path, []byte("biomarker_patterns:\n  Lipase: ['lipase\\s*:?\\s*(\\d+)']\n"), 0o644))
		r := WithOverlayFile(path, log)
		assert.True(t, r.Has("Lipase"))
	})
}

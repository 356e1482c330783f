package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"LABPARSE_PATTERNS_FILE", "LABPARSE_DB_PATH", "GOOGLE_CLOUD_PROJECT", "GOOGLE_CLOUD_LOCATION",
		"DOCUMENT_AI_PROCESSOR_ID", "DOCUMENT_AI_PROCESSOR_VERSION", "GOOGLE_APPLICATION_CREDENTIALS",
		"GOOGLE_CREDENTIALS", "OCR_LANGUAGE_HINTS", "GOOGLE_SHEET_URL", "GOOGLE_SHEET_WORKSHEET",
		"OPENAI_API_KEY", "OPENAI_MODEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_TIME_FORMAT", "LOG_OUTPUT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "us", cfg.GoogleCloudLocation)
	assert.Equal(t, "Biomarkers", cfg.GoogleSheetWorksheet)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAIModel)
	assert.Equal(t, "stderr", cfg.LogOutput)
	assert.NotEmpty(t, cfg.DBPath)
	assert.False(t, cfg.DocumentAIEnabled())
	assert.False(t, cfg.VisionEnabled())
	assert.False(t, cfg.LLMEnabled())
	assert.False(t, cfg.SheetsEnabled())
}

func TestLoadBackends(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_CLOUD_PROJECT", "lab-project")
	t.Setenv("DOCUMENT_AI_PROCESSOR_ID", "abc123")
	t.Setenv("GOOGLE_CREDENTIALS", `{"type":"service_account"}`)
	t.Setenv("GOOGLE_SHEET_URL", "https://docs.google.com/spreadsheets/d/xyz/edit")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OCR_LANGUAGE_HINTS", "en, de,,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.DocumentAIEnabled())
	assert.True(t, cfg.VisionEnabled())
	assert.True(t, cfg.LLMEnabled())
	assert.True(t, cfg.SheetsEnabled())
	assert.Equal(t, []string{"en", "de"}, cfg.OCRLanguageHints)
	assert.Equal(t, "console", cfg.GetLoggerConfig().Format)
}

func TestLoadRejectsContradictions(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"processor without project", map[string]string{"DOCUMENT_AI_PROCESSOR_ID": "abc"}},
		{"version without processor", map[string]string{"GOOGLE_CLOUD_PROJECT": "p", "DOCUMENT_AI_PROCESSOR_VERSION": "v1"}},
		{"unknown log format", map[string]string{"LOG_FORMAT": "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"labparse/internal/logger"
)

type Config struct {
	// Registry overlay (JSON or YAML)
	PatternsFile string

	// Run history database
	DBPath string

	// Google Cloud Configuration
	GoogleCloudProject         string
	GoogleCloudLocation        string
	DocumentAIProcessorID      string
	DocumentAIProcessorVersion string
	GoogleCredentialsFile      string
	GoogleCredentialsJSON      string
	OCRLanguageHints           []string

	// Google Sheets Configuration
	GoogleSheetURL       string
	GoogleSheetWorksheet string

	// OpenAI Configuration
	OpenAIAPIKey string
	OpenAIModel  string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		PatternsFile:               getEnv("LABPARSE_PATTERNS_FILE", ""),
		DBPath:                     getEnv("LABPARSE_DB_PATH", defaultDBPath()),
		GoogleCloudProject:         getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:        getEnv("GOOGLE_CLOUD_LOCATION", "us"),
		DocumentAIProcessorID:      getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		DocumentAIProcessorVersion: getEnv("DOCUMENT_AI_PROCESSOR_VERSION", ""),
		GoogleCredentialsFile:      getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		GoogleCredentialsJSON:      getEnv("GOOGLE_CREDENTIALS", ""),
		OCRLanguageHints:           splitList(getEnv("OCR_LANGUAGE_HINTS", "")),
		GoogleSheetURL:             getEnv("GOOGLE_SHEET_URL", ""),
		GoogleSheetWorksheet:       getEnv("GOOGLE_SHEET_WORKSHEET", "Biomarkers"),
		OpenAIAPIKey:               getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:                getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		LogFormat:                  getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:              getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:                  getEnv("LOG_OUTPUT", "stderr"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Every backend is optional, so only contradictory settings are rejected.
func (c *Config) validate() error {
	if c.DocumentAIProcessorID != "" && c.GoogleCloudProject == "" {
		return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required when DOCUMENT_AI_PROCESSOR_ID is set")
	}
	if c.DocumentAIProcessorVersion != "" && c.DocumentAIProcessorID == "" {
		return fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required when DOCUMENT_AI_PROCESSOR_VERSION is set")
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.LogFormat)
	}
	if c.DBPath == "" {
		return fmt.Errorf("LABPARSE_DB_PATH must not be empty")
	}
	return nil
}

// HasGoogleCredentials reports whether explicit Google credentials are configured.
func (c *Config) HasGoogleCredentials() bool {
	return c.GoogleCredentialsFile != "" || c.GoogleCredentialsJSON != ""
}

// DocumentAIEnabled reports whether the layout backend can be built.
func (c *Config) DocumentAIEnabled() bool {
	return c.GoogleCloudProject != "" && c.DocumentAIProcessorID != ""
}

// VisionEnabled reports whether the OCR backend can be built.
func (c *Config) VisionEnabled() bool {
	return c.HasGoogleCredentials()
}

// LLMEnabled reports whether the LLM table recovery stage can be built.
func (c *Config) LLMEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// SheetsEnabled reports whether results can be appended to a spreadsheet.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSheetURL != "" && c.HasGoogleCredentials()
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".labparse", "history.db")
	}
	return filepath.Join(home, ".labparse", "history.db")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

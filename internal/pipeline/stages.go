package pipeline

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"labparse/internal/backend"
	"labparse/internal/config"
)

// StageOptions selects the optional stages.
type StageOptions struct {
	// LLM enables the OpenAI table recovery stage.
	LLM bool

	// LanguageHints are passed to OCR when the configuration has none.
	LanguageHints []string
}

// BuildStages assembles the extraction order from the configuration:
// delimited exports, Document AI, the native text layer, LLM table
// recovery and Vision OCR. Remote backends that are not configured, or
// whose clients cannot be created, are left out with a warning. The
// returned function closes the remote clients.
func BuildStages(ctx context.Context, cfg *config.Config, opts StageOptions, log zerolog.Logger) ([]Stage, func()) {
	var closers []io.Closer
	creds := backend.GoogleCredentials{File: cfg.GoogleCredentialsFile, JSON: cfg.GoogleCredentialsJSON}
	textLayer := backend.NewTextLayer()

	stages := []Stage{{Backend: backend.NewDelimited()}}

	if cfg.DocumentAIEnabled() {
		docAI, err := backend.NewDocumentAI(ctx, backend.DocumentAIConfig{
			ProjectID:        cfg.GoogleCloudProject,
			Location:         cfg.GoogleCloudLocation,
			ProcessorID:      cfg.DocumentAIProcessorID,
			ProcessorVersion: cfg.DocumentAIProcessorVersion,
			Credentials:      creds,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Document AI disabled")
		} else {
			stages = append(stages, Stage{Backend: docAI})
			closers = append(closers, docAI)
		}
	}

	stages = append(stages, Stage{Backend: textLayer})

	if opts.LLM {
		llm, err := backend.NewLLMTable(cfg.OpenAIAPIKey, textLayer, backend.LLMTableConfig{Model: cfg.OpenAIModel})
		if err != nil {
			log.Warn().Err(err).Msg("LLM table recovery disabled")
		} else {
			stages = append(stages, Stage{Backend: llm})
		}
	}

	if cfg.VisionEnabled() {
		hints := cfg.OCRLanguageHints
		if len(hints) == 0 {
			hints = opts.LanguageHints
		}
		ocr, err := backend.NewGoogleVision(ctx, creds, hints)
		if err != nil {
			log.Warn().Err(err).Msg("OCR disabled")
		} else {
			stages = append(stages, Stage{Backend: ocr, OCR: true})
			closers = append(closers, ocr)
		}
	} else {
		log.Debug().Msg("OCR disabled: no Google credentials configured")
	}

	names := make([]string, 0, len(stages))
	for _, st := range stages {
		names = append(names, st.Backend.Name())
	}
	log.Debug().Strs("stages", names).Msg("Extraction order")

	return stages, func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.Debug().Err(err).Msg("Failed to close backend client")
			}
		}
	}
}

package backend

import (
	"errors"
	"fmt"
)

// Common backend errors
var (
	// ErrSourceUnavailable is returned when the document cannot be read at all.
	// It is fatal to the whole run.
	ErrSourceUnavailable = errors.New("source document unavailable")

	// ErrUnsupportedFormat is returned when a backend is asked to read a format it does not support.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrInvalidPDF is returned when the provided data is not a readable PDF document.
	ErrInvalidPDF = errors.New("invalid or corrupted PDF document")

	// ErrMissingCredentials is returned when neither GOOGLE_APPLICATION_CREDENTIALS
	// nor GOOGLE_CREDENTIALS environment variables are configured.
	ErrMissingCredentials = errors.New("missing Google Cloud credentials: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS environment variable")

	// ErrInvalidConfiguration is returned when a backend is constructed without its required settings.
	ErrInvalidConfiguration = errors.New("invalid backend configuration")

	// ErrProcessingFailed is returned when a remote API fails to process the document.
	ErrProcessingFailed = errors.New("document processing failed")

	// ErrPermissionDenied is returned when the credentials lack access to the API.
	ErrPermissionDenied = errors.New("insufficient permissions")

	// ErrQuotaExceeded is returned when API quota limits are exceeded.
	ErrQuotaExceeded = errors.New("API quota exceeded")

	// ErrProcessorNotFound is returned when the Document AI processor cannot be found.
	ErrProcessorNotFound = errors.New("Document AI processor not found")

	// ErrInvalidImage is returned when an image cannot be decoded for OCR.
	ErrInvalidImage = errors.New("invalid or unsupported image")

	// ErrInvalidResponse is returned when the LLM answers with something other than the requested JSON.
	ErrInvalidResponse = errors.New("invalid model response")
)

// BackendError wraps errors with the backend and operation that failed.
type BackendError struct {
	// Op is the operation that failed (e.g., "Extract", "LoadDocument").
	Op string

	// Backend is the name of the backend, empty for document loading.
	Backend string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	prefix := "backend"
	if e.Backend != "" {
		prefix = "backend " + e.Backend
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %s failed: %s: %v", prefix, e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("%s: %s failed: %v", prefix, e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *BackendError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewBackendError creates a new BackendError.
func NewBackendError(op, backend string, err error, details string) *BackendError {
	return &BackendError{
		Op:      op,
		Backend: backend,
		Err:     err,
		Details: details,
	}
}

// WrapBackendError wraps an error as a BackendError if it isn't already one.
func WrapBackendError(op, backend string, err error, details string) error {
	if err == nil {
		return nil
	}

	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return err // Already wrapped
	}

	return NewBackendError(op, backend, err, details)
}

package backend

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/api/option"
)

// GoogleCredentials selects how Google Cloud clients authenticate. Inline
// JSON takes precedence over a credentials file. When neither is set the
// clients fall back to application default credentials.
type GoogleCredentials struct {
	File string
	JSON string
}

// Configured reports whether explicit credentials were provided.
func (c GoogleCredentials) Configured() bool {
	return c.JSON != "" || c.File != ""
}

// ClientOptions returns the client options for the configured credentials.
func (c GoogleCredentials) ClientOptions() []option.ClientOption {
	switch {
	case c.JSON != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(c.JSON))}
	case c.File != "":
		return []option.ClientOption{option.WithCredentialsFile(c.File)}
	}
	return nil
}

// handleGoogleError converts Google API errors to backend errors.
func handleGoogleError(op, backend string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return WrapBackendError(op, backend, err, "request interrupted")
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "PermissionDenied") || strings.Contains(errStr, "PERMISSION_DENIED"):
		return WrapBackendError(op, backend, ErrPermissionDenied, errStr)
	case strings.Contains(errStr, "ResourceExhausted") || strings.Contains(errStr, "QUOTA_EXCEEDED"):
		return WrapBackendError(op, backend, ErrQuotaExceeded, errStr)
	case strings.Contains(errStr, "NotFound") || strings.Contains(errStr, "NOT_FOUND"):
		return WrapBackendError(op, backend, ErrProcessorNotFound, errStr)
	case strings.Contains(errStr, "InvalidArgument") || strings.Contains(errStr, "INVALID_ARGUMENT"):
		return WrapBackendError(op, backend, ErrUnsupportedFormat, "document format not supported or corrupted")
	case strings.Contains(errStr, "DeadlineExceeded") || strings.Contains(errStr, "context deadline exceeded"):
		return WrapBackendError(op, backend, context.DeadlineExceeded, "processing timeout")
	case strings.Contains(errStr, "Canceled") || strings.Contains(errStr, "context canceled"):
		return WrapBackendError(op, backend, context.Canceled, "processing canceled")
	}
	return WrapBackendError(op, backend, ErrProcessingFailed, errStr)
}

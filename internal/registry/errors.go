package registry

import "errors"

var (
	// ErrInvalidPattern is returned when a configured regular expression does not compile.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrInvalidOverlay is returned when an overlay document cannot be decoded.
	ErrInvalidOverlay = errors.New("invalid registry overlay")
)

package realtime

import "errors"

// Sentinel errors for store operations.
var (
	// ErrInvalidPath is returned when a path is empty or has empty segments.
	ErrInvalidPath = errors.New("invalid path")

	// ErrSessionClosed is returned when a closed session is used.
	ErrSessionClosed = errors.New("session closed")

	// ErrInvalidValue is returned when a value cannot be stored as JSON.
	ErrInvalidValue = errors.New("invalid value")

	// ErrUnknownBackend is returned for an unsupported persistence backend name.
	ErrUnknownBackend = errors.New("unknown persistence backend")
)

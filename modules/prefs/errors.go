package prefs

import "errors"

var (
	// ErrNotStarted is returned before the plugin has opened its backend.
	ErrNotStarted = errors.New("prefs storage not started")

	// ErrInvalidClientID is returned for an empty or malformed client id.
	ErrInvalidClientID = errors.New("invalid client id")
)

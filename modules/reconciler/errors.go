package reconciler

import "errors"

var (
	// ErrMessageNotFound is returned when a mutation targets a message that
	// no longer exists. Callers treat it as a no-op.
	ErrMessageNotFound = errors.New("message not found")

	// ErrEmptyText is returned when an edit would leave the message blank.
	ErrEmptyText = errors.New("message text cannot be empty")

	// ErrEmptyEmoji is returned for a reaction without an emoji.
	ErrEmptyEmoji = errors.New("emoji cannot be empty")
)

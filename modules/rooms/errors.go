package rooms

import "errors"

var (
	// ErrNotOwner is returned when a user edits or deletes someone else's message.
	ErrNotOwner = errors.New("only the sender can change this message")

	// ErrSessionClosed is returned for intents on a closed session.
	ErrSessionClosed = errors.New("room session closed")

	// ErrRoomIDExhausted is returned when no unused room id could be generated.
	ErrRoomIDExhausted = errors.New("could not generate an unused room id")
)

package chat

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Validation constants
const (
	MinDisplayNameLength = 3
	MaxDisplayNameLength = 50
	MaxRoomIDLength      = 100
	RoomIDLength         = 5
	DefaultDisplayName   = "Guest"
)

// Validation errors. Messages are shown to the user as-is.
var (
	ErrNameEmpty     = errors.New("Please enter a name.")
	ErrNameTooShort  = errors.New("Name must be at least 3 characters long.")
	ErrNameTooLong   = errors.New("Name must be at most 50 characters long.")
	ErrNameInvalid   = errors.New("Name contains invalid characters.")
	ErrRoomIDEmpty   = errors.New("Please enter a room ID.")
	ErrRoomIDTooLong = errors.New("Room ID must be at most 100 characters long.")
	ErrRoomIDInvalid = errors.New("Room ID contains invalid characters.")
)

// ValidateDisplayName validates a self-asserted display name.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameEmpty
	}
	if utf8.RuneCountInString(name) < MinDisplayNameLength {
		return ErrNameTooShort
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return ErrNameTooLong
	}
	if !validSegment(name) {
		return ErrNameInvalid
	}
	return nil
}

// ValidateRoomID validates a user-entered room id.
func ValidateRoomID(roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrRoomIDEmpty
	}
	if utf8.RuneCountInString(roomID) > MaxRoomIDLength {
		return ErrRoomIDTooLong
	}
	if !validSegment(roomID) {
		return ErrRoomIDInvalid
	}
	return nil
}

// validSegment rejects values that cannot be used verbatim as a path segment.
func validSegment(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	return !strings.ContainsAny(s, "/.#$[]")
}

package rooms

import (
	"fmt"

	domain "github.com/example/ephemeral-chat/domain/chat"
	nanoid "github.com/jaevor/go-nanoid"
)

const roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// maxRoomIDAttempts bounds the retries when a generated id is taken.
const maxRoomIDAttempts = 8

// NewRoomIDGenerator returns a generator of random 5-character alphanumeric
// room ids.
func NewRoomIDGenerator() (func() string, error) {
	gen, err := nanoid.CustomASCII(roomIDAlphabet, domain.RoomIDLength)
	if err != nil {
		return nil, fmt.Errorf("failed to create room id generator: %w", err)
	}
	return gen, nil
}

// unusedRoomID draws ids until taken reports one as free.
func unusedRoomID(gen func() string, taken func(string) bool) (string, error) {
	for i := 0; i < maxRoomIDAttempts; i++ {
		id := gen()
		if !taken(id) {
			return id, nil
		}
	}
	return "", ErrRoomIDExhausted
}

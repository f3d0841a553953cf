package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// UserEnteredEvent is emitted when a client session writes its presence record.
type UserEnteredEvent struct {
	RoomID    string    `json:"room_id"`
	ClientID  string    `json:"client_id"`
	UserName  string    `json:"user_name"`
	Timestamp time.Time `json:"timestamp"`
}

// UserLeftEvent is emitted when a client session leaves or disconnects.
type UserLeftEvent struct {
	RoomID    string    `json:"room_id"`
	ClientID  string    `json:"client_id"`
	UserName  string    `json:"user_name"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomExpiryScheduledEvent is emitted when a client observes a deletion timer appear.
type RoomExpiryScheduledEvent struct {
	RoomID       string    `json:"room_id"`
	DeletionTime int64     `json:"deletion_time"`
	Timestamp    time.Time `json:"timestamp"`
}

// RoomExpiryCancelledEvent is emitted when a client observes the deletion timer removed.
type RoomExpiryCancelledEvent struct {
	RoomID    string    `json:"room_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomDeletedEvent is emitted by the client whose countdown reached zero.
type RoomDeletedEvent struct {
	RoomID    string    `json:"room_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Event definitions for the rooms domain.
var (
	UserEnteredV1 = helper.EventDefinition[UserEnteredEvent](
		"rooms",
		"UserEntered",
		"v1",
	)

	UserLeftV1 = helper.EventDefinition[UserLeftEvent](
		"rooms",
		"UserLeft",
		"v1",
	)

	RoomExpiryScheduledV1 = helper.EventDefinition[RoomExpiryScheduledEvent](
		"rooms",
		"RoomExpiryScheduled",
		"v1",
	)

	RoomExpiryCancelledV1 = helper.EventDefinition[RoomExpiryCancelledEvent](
		"rooms",
		"RoomExpiryCancelled",
		"v1",
	)

	RoomDeletedV1 = helper.EventDefinition[RoomDeletedEvent](
		"rooms",
		"RoomDeleted",
		"v1",
	)
)

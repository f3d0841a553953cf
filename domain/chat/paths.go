package chat

// Store layout. Room ids and user names are used verbatim as path segments.
const (
	roomsRoot        = "rooms"
	messagesNode     = "messages"
	onlineUsersNode  = "onlineUsers"
	typingNode       = "typing"
	deletionTimerKey = "deletionTimer"
)

// RoomPath is the root of a room's subtree.
func RoomPath(roomID string) string {
	return roomsRoot + "/" + roomID
}

// MessagesPath is the room's message collection.
func MessagesPath(roomID string) string {
	return RoomPath(roomID) + "/" + messagesNode
}

// MessagePath addresses a single message record.
func MessagePath(roomID, messageID string) string {
	return MessagesPath(roomID) + "/" + messageID
}

// OnlineUsersPath is the room's presence collection.
func OnlineUsersPath(roomID string) string {
	return RoomPath(roomID) + "/" + onlineUsersNode
}

// PresencePath addresses one user's presence record.
func PresencePath(roomID, userName string) string {
	return OnlineUsersPath(roomID) + "/" + userName
}

// TypingPath is the room's typing collection.
func TypingPath(roomID string) string {
	return RoomPath(roomID) + "/" + typingNode
}

// TypingUserPath addresses one user's typing record.
func TypingUserPath(roomID, userName string) string {
	return TypingPath(roomID) + "/" + userName
}

// DeletionTimerPath holds the scheduled deletion time in epoch millis.
func DeletionTimerPath(roomID string) string {
	return RoomPath(roomID) + "/" + deletionTimerKey
}

package api

import (
	"encoding/json"

	domain "github.com/example/ephemeral-chat/domain/chat"
)

// Client -> server message types.
const (
	TypeSend   = "send"
	TypeEdit   = "edit"
	TypeDelete = "delete"
	TypeReact  = "react"
	TypeTyping = "typing"
	TypeSearch = "search"
	TypeStay   = "stay"
	TypeView   = "view"
	TypeLeave  = "leave"
)

// Server -> client message types.
const (
	TypeJoined   = "joined"
	TypeSent     = "sent"
	TypeNavigate = "navigate"
	TypeError    = "error"
)

// Navigation reasons.
const (
	ReasonLeft        = "left"
	ReasonRoomDeleted = "room_deleted"
)

// WebSocketMessage is the envelope of every websocket frame.
type WebSocketMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// JoinedPayload confirms a room session.
type JoinedPayload struct {
	SessionID string `json:"sessionId"`
	RoomID    string `json:"roomId"`
	UserName  string `json:"userName"`
}

// ImagePayload is an image attached to a send intent. Data is base64 or a
// data URL.
type ImagePayload struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
}

// SendPayload posts a message.
type SendPayload struct {
	Text    string           `json:"text"`
	ReplyTo *domain.ReplyRef `json:"replyTo,omitempty"`
	Image   *ImagePayload    `json:"image,omitempty"`
}

// SentPayload acknowledges a posted message.
type SentPayload struct {
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

// EditPayload rewrites a message.
type EditPayload struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

// MessageRefPayload targets a message.
type MessageRefPayload struct {
	MessageID string `json:"messageId"`
}

// ReactPayload toggles a reaction.
type ReactPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// SearchPayload sets the search query. An empty query clears it.
type SearchPayload struct {
	Query string `json:"query"`
}

// NavigatePayload tells the browser to leave the room page.
type NavigatePayload struct {
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// CreateRoomRequest is the lobby's create form.
type CreateRoomRequest struct {
	Name string `json:"name"`
}

// JoinRoomRequest is the lobby's join form.
type JoinRoomRequest struct {
	Name   string `json:"name"`
	RoomID string `json:"roomId"`
}

// RoomLinkResponse tells the browser where to go.
type RoomLinkResponse struct {
	RoomID    string `json:"roomId"`
	Link      string `json:"link"`
	WebSocket string `json:"websocket"`
}

// RoomResponse describes a room's current state.
type RoomResponse struct {
	RoomID       string   `json:"roomId"`
	Link         string   `json:"link"`
	Exists       bool     `json:"exists"`
	OnlineUsers  []string `json:"onlineUsers"`
	ActiveCount  int      `json:"activeCount"`
	Messages     int      `json:"messages"`
	DeletionTime int64    `json:"deletionTime,omitempty"`
	Remaining    int      `json:"remaining,omitempty"`
	Watchers     int      `json:"watchers"`
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

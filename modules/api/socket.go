package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/example/ephemeral-chat/modules/broadcast"
	"github.com/example/ephemeral-chat/modules/composer"
	"github.com/example/ephemeral-chat/modules/identity"
	"github.com/example/ephemeral-chat/modules/reconciler"
	"github.com/example/ephemeral-chat/modules/rooms"
	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// Rate limiting constants
const (
	messagesPerSecond = 10
	burstSize         = 20
)

// rateLimiter implements a simple token bucket rate limiter.
type rateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func newRateLimiter(maxTokens, refillRate int) *rateLimiter {
	return &rateLimiter{
		tokens:     float64(maxTokens),
		maxTokens:  float64(maxTokens),
		refillRate: float64(refillRate),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.tokens += now.Sub(r.lastRefill).Seconds() * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefill = now

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// frameWriter is the write side of a websocket connection.
type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// peer serializes writes from the view forwarder and the read loop.
type peer struct {
	mu   sync.Mutex
	conn frameWriter
}

func (p *peer) sendMessage(msgType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("[api] Failed to encode %s payload: %v", msgType, err)
		return
	}
	p.write(WebSocketMessage{Type: msgType, Payload: payload})
}

func (p *peer) sendError(msg string) {
	p.write(WebSocketMessage{Type: TypeError, Error: msg})
}

func (p *peer) write(msg WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[api] Failed to write %s frame: %v", msg.Type, err)
	}
}

// handleFeed streams room activity at /ws. ?room= narrows it to one room.
func (m *APIModule) handleFeed(c *websocket.Conn) {
	client := &broadcast.Client{
		ID:     uuid.New().String(),
		RoomID: c.Query("room"),
		Conn:   c,
	}
	m.hub.Register(client)
	defer func() {
		m.hub.Unregister(client)
		log.Printf("[api] Feed client disconnected: %s", client.ID)
	}()

	log.Printf("[api] Feed client connected: %s (room: %q)", client.ID, client.RoomID)

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}

// handleRoom runs one room session at /ws/:roomId?name=&client=.
func (m *APIModule) handleRoom(c *websocket.Conn) {
	defer c.Close()
	p := &peer{conn: c}
	ctx := context.Background()

	roomID := c.Params("roomId")
	if user, ok := c.Locals(identity.LocalsKey).(*identity.User); ok && user != nil {
		log.Printf("[api] Signed-in user %s (%s) opening room %s", user.ID, user.Email, roomID)
	}

	session, err := m.rooms.Join(ctx, rooms.JoinRequest{
		RoomID:   roomID,
		UserName: c.Query("name"),
		ClientID: c.Query("client"),
	})
	if err != nil {
		p.sendError(err.Error())
		return
	}
	defer session.Close()

	log.Printf("[api] WebSocket session %s joined room %s as %s", session.ID(), session.RoomID(), session.UserName())
	p.sendMessage(TypeJoined, JoinedPayload{
		SessionID: session.ID(),
		RoomID:    session.RoomID(),
		UserName:  session.UserName(),
	})

	stop := make(chan struct{})
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		forwardViews(p, session, stop, func() { _ = c.Close() })
	}()
	defer func() {
		close(stop)
		<-forwarded
	}()

	limiter := newRateLimiter(burstSize, messagesPerSecond)
	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[api] WebSocket error in session %s: %v", session.ID(), err)
			}
			break
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			p.sendError("Invalid message format")
			continue
		}
		if msg.Type != TypeTyping && !limiter.allow() {
			p.sendError("Rate limit exceeded. Please slow down.")
			continue
		}
		if done := dispatch(ctx, p, session, msg); done {
			break
		}
	}

	log.Printf("[api] WebSocket session %s disconnected", session.ID())
}

// forwardViews pushes view snapshots until stop closes. When the room is
// deleted it sends the browser home and calls hangup.
func forwardViews(p *peer, session *rooms.Session, stop <-chan struct{}, hangup func()) {
	for {
		select {
		case <-stop:
			return
		case v := <-session.Views():
			p.sendMessage(TypeView, v)
		case <-session.Gone():
			p.sendMessage(TypeView, session.View())
			p.sendMessage(TypeNavigate, NavigatePayload{To: "/", Reason: ReasonRoomDeleted})
			hangup()
			return
		}
	}
}

// dispatch runs one intent. It reports whether the connection should end.
func dispatch(ctx context.Context, p *peer, session *rooms.Session, msg WebSocketMessage) bool {
	switch msg.Type {
	case TypeSend:
		var req SendPayload
		if !decode(p, msg, &req) {
			return false
		}
		var img *composer.Image
		if req.Image != nil {
			var err error
			if img, err = decodeImage(req.Image); err != nil {
				p.sendError(err.Error())
				return false
			}
		}
		sent, err := session.Send(ctx, req.Text, req.ReplyTo, img)
		if err != nil {
			p.sendError(intentError(err))
			return false
		}
		p.sendMessage(TypeSent, SentPayload{MessageID: sent.ID, Timestamp: sent.Timestamp})

	case TypeEdit:
		var req EditPayload
		if !decode(p, msg, &req) {
			return false
		}
		if err := session.Edit(ctx, req.MessageID, req.Text); err != nil {
			p.sendError(intentError(err))
		}

	case TypeDelete:
		var req MessageRefPayload
		if !decode(p, msg, &req) {
			return false
		}
		if err := session.Delete(ctx, req.MessageID); err != nil {
			p.sendError(intentError(err))
		}

	case TypeReact:
		var req ReactPayload
		if !decode(p, msg, &req) {
			return false
		}
		if err := session.React(ctx, req.MessageID, req.Emoji); err != nil {
			p.sendError(intentError(err))
		}

	case TypeTyping:
		session.Typing(ctx)

	case TypeSearch:
		var req SearchPayload
		if !decode(p, msg, &req) {
			return false
		}
		session.Search(req.Query)

	case TypeStay:
		if err := session.Stay(ctx); err != nil {
			p.sendError(intentError(err))
		}

	case TypeView:
		p.sendMessage(TypeView, session.View())

	case TypeLeave:
		if err := session.Leave(ctx); err != nil {
			log.Printf("[api] Leave failed for session %s: %v", session.ID(), err)
		}
		p.sendMessage(TypeNavigate, NavigatePayload{To: "/", Reason: ReasonLeft})
		return true

	default:
		p.sendError("Unknown message type: " + msg.Type)
	}
	return false
}

func decode(p *peer, msg WebSocketMessage, v any) bool {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		p.sendError("Invalid " + msg.Type + " payload")
		return false
	}
	return true
}

// decodeImage turns a base64 or data URL payload into a validated image.
func decodeImage(in *ImagePayload) (*composer.Image, error) {
	data := in.Data
	contentType := in.ContentType
	if rest, ok := strings.CutPrefix(data, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return nil, composer.ErrInvalidImage
		}
		if contentType == "" {
			contentType = strings.TrimSuffix(header, ";base64")
		}
		data = body
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, composer.ErrInvalidImage
	}
	return composer.Ingest(in.Name, contentType, raw)
}

// intentError maps session errors to user-facing text.
func intentError(err error) string {
	switch {
	case errors.Is(err, rooms.ErrNotOwner):
		return "You can only change your own messages."
	case errors.Is(err, rooms.ErrSessionClosed):
		return "You are no longer in this room."
	case errors.Is(err, composer.ErrEmptyMessage),
		errors.Is(err, reconciler.ErrEmptyText),
		errors.Is(err, reconciler.ErrEmptyEmoji):
		return err.Error()
	default:
		log.Printf("[api] Intent failed: %v", err)
		return "Something went wrong. Please try again."
	}
}

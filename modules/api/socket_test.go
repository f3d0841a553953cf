package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/example/ephemeral-chat/modules/composer"
	"github.com/example/ephemeral-chat/modules/lifecycle"
	"github.com/example/ephemeral-chat/modules/realtime"
	"github.com/example/ephemeral-chat/modules/rooms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	frames []WebSocketMessage
}

func (r *recorder) WriteMessage(_ int, data []byte) error {
	var msg WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, msg)
	return nil
}

func (r *recorder) last(t *testing.T) WebSocketMessage {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.frames)
	return r.frames[len(r.frames)-1]
}

func (r *recorder) find(msgType string) (WebSocketMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.frames {
		if f.Type == msgType {
			return f, true
		}
	}
	return WebSocketMessage{}, false
}

func frame(t *testing.T, msgType string, payload any) WebSocketMessage {
	t.Helper()
	msg := WebSocketMessage{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		msg.Payload = data
	}
	return msg
}

func newRoomsModule(t *testing.T, lc lifecycle.Config) *rooms.Module {
	t.Helper()
	server, err := realtime.NewServer()
	require.NoError(t, err)
	m, err := rooms.NewModule(rooms.Config{
		Session: rooms.SessionConfig{Lifecycle: lc, TypingTimeout: time.Minute},
	}, server)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

func quietLifecycle() lifecycle.Config {
	return lifecycle.Config{SettleDelay: time.Hour, Grace: time.Hour, TickInterval: time.Hour}
}

func TestDispatch_Intents(t *testing.T) {
	ctx := context.Background()
	m := newRoomsModule(t, quietLifecycle())

	alice, err := m.Join(ctx, rooms.JoinRequest{RoomID: "r1", UserName: "Alice"})
	require.NoError(t, err)
	bob, err := m.Join(ctx, rooms.JoinRequest{RoomID: "r1", UserName: "Bob"})
	require.NoError(t, err)

	ap := &recorder{}
	bp := &recorder{}
	alicePeer := &peer{conn: ap}
	bobPeer := &peer{conn: bp}

	assert.False(t, dispatch(ctx, alicePeer, alice, frame(t, TypeSend, SendPayload{Text: "hello"})))
	sentFrame := ap.last(t)
	require.Equal(t, TypeSent, sentFrame.Type)
	var sent SentPayload
	require.NoError(t, json.Unmarshal(sentFrame.Payload, &sent))
	require.NotEmpty(t, sent.MessageID)

	assert.Eventually(t, func() bool {
		return len(bob.View().Messages) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Only the sender may edit.
	dispatch(ctx, bobPeer, bob, frame(t, TypeEdit, EditPayload{MessageID: sent.MessageID, Text: "hijack"}))
	assert.Equal(t, TypeError, bp.last(t).Type)
	assert.Equal(t, "You can only change your own messages.", bp.last(t).Error)

	dispatch(ctx, bobPeer, bob, frame(t, TypeReact, ReactPayload{MessageID: sent.MessageID, Emoji: "👍"}))
	dispatch(ctx, alicePeer, alice, frame(t, TypeEdit, EditPayload{MessageID: sent.MessageID, Text: "hello there"}))
	assert.Eventually(t, func() bool {
		msgs := alice.View().Messages
		return len(msgs) == 1 && msgs[0].Edited && msgs[0].Text == "hello there" && len(msgs[0].Reactions) == 1
	}, 2*time.Second, 5*time.Millisecond)

	dispatch(ctx, alicePeer, alice, frame(t, TypeSearch, SearchPayload{Query: "nothing"}))
	dispatch(ctx, alicePeer, alice, frame(t, TypeView, nil))
	var v rooms.View
	require.NoError(t, json.Unmarshal(ap.last(t).Payload, &v))
	assert.Equal(t, "nothing", v.Query)
	assert.Empty(t, v.Messages)

	dispatch(ctx, alicePeer, alice, frame(t, TypeDelete, MessageRefPayload{MessageID: sent.MessageID}))
	assert.Eventually(t, func() bool {
		return len(bob.View().Messages) == 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, dispatch(ctx, bobPeer, bob, frame(t, TypeLeave, nil)))
	var nav NavigatePayload
	require.NoError(t, json.Unmarshal(bp.last(t).Payload, &nav))
	assert.Equal(t, NavigatePayload{To: "/", Reason: ReasonLeft}, nav)
	assert.Eventually(t, func() bool {
		return alice.View().ActiveCount == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDispatch_BadInput(t *testing.T) {
	ctx := context.Background()
	m := newRoomsModule(t, quietLifecycle())
	s, err := m.Join(ctx, rooms.JoinRequest{RoomID: "r2", UserName: "Alice"})
	require.NoError(t, err)

	rec := &recorder{}
	p := &peer{conn: rec}

	tests := []struct {
		name    string
		msg     WebSocketMessage
		wantErr string
	}{
		{"unknown type", WebSocketMessage{Type: "shout"}, "Unknown message type: shout"},
		{"bad payload", WebSocketMessage{Type: TypeSend, Payload: json.RawMessage(`"hi"`)}, "Invalid send payload"},
		{"empty message", frame(t, TypeSend, SendPayload{Text: "   "}), composer.ErrEmptyMessage.Error()},
		{"bad image", frame(t, TypeSend, SendPayload{Image: &ImagePayload{Data: "!!!"}}), composer.ErrInvalidImage.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, dispatch(ctx, p, s, tt.msg))
			got := rec.last(t)
			assert.Equal(t, TypeError, got.Type)
			assert.Equal(t, tt.wantErr, got.Error)
		})
	}
}

func TestForwardViews_RoomDeleted(t *testing.T) {
	ctx := context.Background()
	m := newRoomsModule(t, lifecycle.Config{
		SettleDelay:  20 * time.Millisecond,
		Grace:        150 * time.Millisecond,
		TickInterval: 10 * time.Millisecond,
	})
	s, err := m.Join(ctx, rooms.JoinRequest{RoomID: "r3", UserName: "Alice"})
	require.NoError(t, err)

	rec := &recorder{}
	hungUp := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		forwardViews(&peer{conn: rec}, s, make(chan struct{}), func() { close(hungUp) })
	}()

	select {
	case <-hungUp:
	case <-time.After(3 * time.Second):
		t.Fatal("room never expired")
	}
	<-done

	got, ok := rec.find(TypeNavigate)
	require.True(t, ok)
	var nav NavigatePayload
	require.NoError(t, json.Unmarshal(got.Payload, &nav))
	assert.Equal(t, ReasonRoomDeleted, nav.Reason)
	_, ok = rec.find(TypeView)
	assert.True(t, ok)
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(0, 0)
	r := newRateLimiter(2, 1)
	r.now = func() time.Time { return now }
	r.lastRefill = now

	assert.True(t, r.allow())
	assert.True(t, r.allow())
	assert.False(t, r.allow())

	now = now.Add(500 * time.Millisecond)
	assert.False(t, r.allow())
	now = now.Add(500 * time.Millisecond)
	assert.True(t, r.allow())

	now = now.Add(time.Hour)
	assert.True(t, r.allow())
	assert.True(t, r.allow())
	assert.False(t, r.allow(), "bucket never exceeds its burst")
}

func TestDecodeImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 3))))
	b64 := base64.StdEncoding.EncodeToString(buf.Bytes())

	tests := []struct {
		name    string
		in      ImagePayload
		wantErr error
	}{
		{"data url", ImagePayload{Name: "dot.png", Data: "data:image/png;base64," + b64}, nil},
		{"plain base64", ImagePayload{Name: "dot.png", ContentType: "image/png", Data: b64}, nil},
		{"not base64", ImagePayload{Name: "dot.png", Data: "%%%"}, composer.ErrInvalidImage},
		{"data url without base64", ImagePayload{Data: "data:image/png," + b64}, composer.ErrInvalidImage},
		{"not an image", ImagePayload{Name: "notes.txt", Data: base64.StdEncoding.EncodeToString([]byte("hello"))}, composer.ErrNotAnImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := decodeImage(&tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("decodeImage() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			assert.Equal(t, "image/png", img.ContentType)
			assert.Equal(t, 4, img.Width)
			assert.Equal(t, 3, img.Height)
		})
	}
}

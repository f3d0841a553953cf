package chat

import (
	"testing"
)

func TestFromValue(t *testing.T) {
	tests := []struct {
		name      string
		value     any
		wantOK    bool
		wantText  string
		wantReply bool
		wantFile  bool
	}{
		{
			name:   "not a record",
			value:  "hello",
			wantOK: false,
		},
		{
			name:   "missing sender",
			value:  map[string]any{"text": "hi", "timestamp": float64(1)},
			wantOK: false,
		},
		{
			name:   "missing timestamp",
			value:  map[string]any{"text": "hi", "sender": "Alice"},
			wantOK: false,
		},
		{
			name:     "plain text",
			value:    map[string]any{"text": "hi", "sender": "Alice", "timestamp": float64(1700000000000)},
			wantOK:   true,
			wantText: "hi",
		},
		{
			name: "reply with empty id is dropped",
			value: map[string]any{
				"text": "re", "sender": "Bob", "timestamp": float64(2),
				"replyTo": map[string]any{"id": "", "sender": "Alice", "text": "hi"},
			},
			wantOK:   true,
			wantText: "re",
		},
		{
			name: "reply and attachment",
			value: map[string]any{
				"text": "", "sender": "Bob", "timestamp": float64(2),
				"replyTo": map[string]any{"id": "-Nabc", "sender": "Alice", "text": "hi"},
				"fileUrl": "data:image/png;base64,AAAA", "fileType": "image", "fileName": "a.png",
			},
			wantOK:    true,
			wantReply: true,
			wantFile:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := FromValue("k1", tt.value)
			if ok != tt.wantOK {
				t.Fatalf("FromValue() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if msg.ID != "k1" {
				t.Errorf("FromValue() ID = %q, want %q", msg.ID, "k1")
			}
			if msg.Text != tt.wantText {
				t.Errorf("FromValue() Text = %q, want %q", msg.Text, tt.wantText)
			}
			if msg.HasReply() != tt.wantReply {
				t.Errorf("FromValue() HasReply = %v, want %v", msg.HasReply(), tt.wantReply)
			}
			if (msg.Attachment != nil) != tt.wantFile {
				t.Errorf("FromValue() Attachment = %v, want present=%v", msg.Attachment, tt.wantFile)
			}
		})
	}
}

func TestFromValue_ReactionsAreSets(t *testing.T) {
	value := map[string]any{
		"sender":    "Alice",
		"timestamp": float64(1),
		"reactions": map[string]any{
			"👍": []any{"Bob", "Bob", "Carol"},
			"🔥": map[string]any{"Dave": true, "Eve": false},
			"😂": []any{},
		},
	}

	msg, ok := FromValue("k", value)
	if !ok {
		t.Fatal("FromValue() returned false")
	}
	if got := len(msg.Reactions["👍"]); got != 2 {
		t.Errorf("reactions[👍] size = %d, want 2", got)
	}
	if got := msg.Reactions["🔥"]; len(got) != 1 || got[0] != "Dave" {
		t.Errorf("reactions[🔥] = %v, want [Dave]", got)
	}
	if _, ok := msg.Reactions["😂"]; ok {
		t.Error("empty emoji set should be dropped")
	}
}

func TestReactions_Toggle(t *testing.T) {
	orig := Reactions{"👍": {"Bob"}}

	added := orig.Toggle("👍", "Alice")
	if !added.Has("👍", "Alice") || !added.Has("👍", "Bob") {
		t.Errorf("Toggle() add = %v, want Alice and Bob", added)
	}
	if orig.Has("👍", "Alice") {
		t.Error("Toggle() must not mutate the receiver")
	}

	back := added.Toggle("👍", "Alice")
	if len(back["👍"]) != 1 || back["👍"][0] != "Bob" {
		t.Errorf("Toggle() twice = %v, want original %v", back, orig)
	}

	cleared := back.Toggle("👍", "Bob")
	if _, ok := cleared["👍"]; ok {
		t.Errorf("Toggle() should drop empty emoji, got %v", cleared)
	}

	multi := Reactions(nil).Toggle("👍", "Alice").Toggle("🔥", "Alice")
	if !multi.Has("👍", "Alice") || !multi.Has("🔥", "Alice") {
		t.Errorf("Toggle() should allow several emoji per user, got %v", multi)
	}
}

func TestMessage_RecordNormalizesBack(t *testing.T) {
	at := int64(1700000005000)
	msg := Message{
		ID:        "k",
		Text:      "hello",
		Sender:    "Alice",
		Timestamp: 1700000000000,
		Edited:    true,
		EditedAt:  &at,
		Reactions: Reactions{"👍": {"Bob"}},
		ReplyTo:   &ReplyRef{ID: "p", Sender: "Bob", Text: "yo"},
	}

	rec := msg.Record()
	if _, ok := rec["id"]; ok {
		t.Error("Record() must not carry the id")
	}
	if _, ok := rec["fileUrl"]; ok {
		t.Error("Record() must omit attachment fields when none is set")
	}

	got, ok := FromValue("k", rec)
	if !ok {
		t.Fatal("FromValue(Record()) returned false")
	}
	if got.EditedAt == nil || *got.EditedAt != at {
		t.Errorf("EditedAt = %v, want %d", got.EditedAt, at)
	}
	if !got.Reactions.Has("👍", "Bob") {
		t.Errorf("Reactions = %v, want Bob on 👍", got.Reactions)
	}
}

func TestValidateDisplayName(t *testing.T) {
	tests := []struct {
		input string
		want  error
	}{
		{"", ErrNameEmpty},
		{"   ", ErrNameEmpty},
		{"Al", ErrNameTooShort},
		{"Alice", nil},
		{"a/b/c", ErrNameInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ValidateDisplayName(tt.input); got != tt.want {
				t.Errorf("ValidateDisplayName(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateRoomID(t *testing.T) {
	tests := []struct {
		input string
		want  error
	}{
		{"", ErrRoomIDEmpty},
		{"abc12", nil},
		{"x", nil},
		{"rooms/x", ErrRoomIDInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ValidateRoomID(tt.input); got != tt.want {
				t.Errorf("ValidateRoomID(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{MessagePath("abc12", "-Nx"), "rooms/abc12/messages/-Nx"},
		{PresencePath("abc12", "Alice"), "rooms/abc12/onlineUsers/Alice"},
		{TypingUserPath("abc12", "Alice"), "rooms/abc12/typing/Alice"},
		{DeletionTimerPath("abc12"), "rooms/abc12/deletionTimer"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("path = %q, want %q", tt.got, tt.want)
		}
	}
}

package composer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	domain "github.com/example/ephemeral-chat/domain/chat"
	"github.com/example/ephemeral-chat/modules/realtime"
)

// DefaultTypingTimeout is how long a typing record lives after the last
// keystroke.
const DefaultTypingTimeout = 3 * time.Second

// Typing owns one user's typing record in one room. The record is written
// on the first keystroke after an idle period and removed once keystrokes
// stop for the timeout.
type Typing struct {
	client  realtime.Client
	roomID  string
	user    string
	timeout time.Duration

	mu     sync.Mutex
	active bool
	hooked bool
	gen    uint64
	timer  *time.Timer
	closed bool
}

// NewTyping creates a Typing heartbeat. A zero timeout uses the default.
func NewTyping(client realtime.Client, roomID, user string, timeout time.Duration) *Typing {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &Typing{
		client:  client,
		roomID:  roomID,
		user:    user,
		timeout: timeout,
	}
}

// Keystroke marks the user as typing and restarts the expiry window.
func (t *Typing) Keystroke(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.user == "" {
		return
	}

	path := domain.TypingUserPath(t.roomID, t.user)
	if !t.active {
		if err := t.client.Write(ctx, path, true); err != nil {
			slog.Error("Failed to write typing record", "roomID", t.roomID, "user", t.user, "error", err)
			return
		}
		t.active = true
		if !t.hooked {
			if err := t.client.OnDisconnect(path).Delete(); err != nil {
				slog.Warn("Failed to register typing cleanup", "roomID", t.roomID, "user", t.user, "error", err)
			} else {
				t.hooked = true
			}
		}
	}

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.timeout, func() { t.expire(gen) })
}

// Active reports whether the typing record is believed to be present.
func (t *Typing) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// expire runs from the timer; a keystroke since it was armed supersedes it.
func (t *Typing) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return
	}
	t.stopLocked(context.Background())
}

// Stop removes the typing record now.
func (t *Typing) Stop(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked(ctx)
}

func (t *Typing) stopLocked(ctx context.Context) {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if !t.active {
		return
	}
	t.active = false
	if err := t.client.Delete(ctx, domain.TypingUserPath(t.roomID, t.user)); err != nil {
		slog.Error("Failed to remove typing record", "roomID", t.roomID, "user", t.user, "error", err)
	}
}

// Close removes the record and disables further keystrokes.
func (t *Typing) Close(ctx context.Context) {
	t.Stop(ctx)
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

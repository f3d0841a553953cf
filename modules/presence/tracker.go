// Package presence tracks which users are currently in a room.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	domain "github.com/example/ephemeral-chat/domain/chat"
	"github.com/example/ephemeral-chat/modules/realtime"
)

// Tracker maintains the live set of users in one room for one client.
// Presence is keyed by display name, so two connections using the same name
// appear as a single online user.
type Tracker struct {
	client realtime.Client

	mu       sync.RWMutex
	roomID   string
	userName string
	online   []string
	sub      *realtime.Subscription
	hook     *realtime.DisconnectOp
	updates  chan []string
	done     chan struct{}
}

// NewTracker creates a Tracker over client.
func NewTracker(client realtime.Client) *Tracker {
	return &Tracker{
		client:  client,
		updates: make(chan []string, 1),
		done:    make(chan struct{}),
	}
}

// EnterRoom marks userName online in roomID, registers removal of that exact
// record on disconnect, and starts observing the room's presence set. A
// failed presence write is logged and not retried. An empty userName only
// observes.
func (t *Tracker) EnterRoom(ctx context.Context, roomID, userName string) error {
	t.mu.Lock()
	if t.sub != nil {
		t.mu.Unlock()
		return fmt.Errorf("already in room %s", t.roomID)
	}
	t.roomID = roomID
	t.userName = userName
	t.mu.Unlock()

	if userName != "" {
		path := domain.PresencePath(roomID, userName)
		if err := t.client.Write(ctx, path, true); err != nil {
			slog.Error("Failed to write presence", "roomID", roomID, "user", userName, "error", err)
		}
		hook := t.client.OnDisconnect(path)
		if err := hook.Delete(); err != nil {
			slog.Error("Failed to register presence cleanup", "roomID", roomID, "user", userName, "error", err)
		} else {
			t.mu.Lock()
			t.hook = hook
			t.mu.Unlock()
		}
	}

	sub, err := t.client.Watch(ctx, domain.OnlineUsersPath(roomID))
	if err != nil {
		return fmt.Errorf("failed to watch presence: %w", err)
	}

	t.mu.Lock()
	t.sub = sub
	t.mu.Unlock()

	go t.run(sub)
	return nil
}

func (t *Tracker) run(sub *realtime.Subscription) {
	defer close(t.done)
	defer close(t.updates)
	for snap := range sub.Updates() {
		users := snap.Keys()
		if users == nil {
			users = []string{}
		}

		t.mu.Lock()
		t.online = users
		t.mu.Unlock()

		t.publish(users)
	}
}

// publish keeps only the newest set in the channel.
func (t *Tracker) publish(users []string) {
	out := make([]string, len(users))
	copy(out, users)
	select {
	case t.updates <- out:
		return
	default:
	}
	select {
	case <-t.updates:
	default:
	}
	select {
	case t.updates <- out:
	default:
	}
}

// Online returns the sorted user names from the latest delivery.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.online...)
}

// Updates delivers the online set after every presence change. It is closed
// once the tracker stops.
func (t *Tracker) Updates() <-chan []string {
	return t.updates
}

// RoomID returns the room being tracked.
func (t *Tracker) RoomID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roomID
}

// UserName returns the tracked user's display name.
func (t *Tracker) UserName() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.userName
}

// Leave removes the presence record explicitly and stops observing.
func (t *Tracker) Leave(ctx context.Context) error {
	t.mu.Lock()
	roomID, userName, hook, sub := t.roomID, t.userName, t.hook, t.sub
	t.hook = nil
	t.mu.Unlock()

	var err error
	if userName != "" && roomID != "" {
		if err = t.client.Delete(ctx, domain.PresencePath(roomID, userName)); err != nil {
			slog.Error("Failed to remove presence", "roomID", roomID, "user", userName, "error", err)
		}
	}
	if hook != nil {
		_ = hook.Cancel()
	}
	if sub != nil {
		sub.Stop()
		<-t.done
	}
	return err
}

// Close stops observing without touching the presence record; the store's
// disconnect hook removes it when the connection closes.
func (t *Tracker) Close() {
	t.mu.RLock()
	sub := t.sub
	t.mu.RUnlock()
	if sub != nil {
		sub.Stop()
		<-t.done
	}
}

package rooms

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	domain "github.com/example/ephemeral-chat/domain/chat"
	"github.com/example/ephemeral-chat/modules/lifecycle"
	"github.com/example/ephemeral-chat/modules/prefs"
	"github.com/example/ephemeral-chat/modules/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietConfig() Config {
	return Config{
		Session: SessionConfig{
			Lifecycle: lifecycle.Config{
				SettleDelay:  time.Hour,
				Grace:        time.Hour,
				TickInterval: time.Hour,
			},
			TypingTimeout: time.Minute,
		},
	}
}

func newTestModule(t *testing.T, cfg Config) (*Module, *realtime.Server) {
	t.Helper()
	server, err := realtime.NewServer()
	require.NoError(t, err)
	m, err := NewModule(cfg, server)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m, server
}

func join(t *testing.T, m *Module, roomID, name string) *Session {
	t.Helper()
	s, err := m.Join(context.Background(), JoinRequest{RoomID: roomID, UserName: name})
	require.NoError(t, err)
	return s
}

func eventuallyView(t *testing.T, s *Session, cond func(View) bool) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return cond(s.View())
	}, 2*time.Second, 5*time.Millisecond, "view never matched (last %+v)", s.View())
}

func TestSession_SendAndRender(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestModule(t, quietConfig())

	alice := join(t, m, "r1", "Alice")
	eventuallyView(t, alice, func(v View) bool {
		return len(v.OnlineUsers) == 1 && v.OnlineUsers[0] == "Alice"
	})

	msg, err := alice.Send(ctx, " hello ", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)

	eventuallyView(t, alice, func(v View) bool {
		return len(v.Messages) == 1 && v.Messages[0].ID == msg.ID
	})

	v := alice.View()
	assert.Equal(t, "r1", v.RoomID)
	assert.Equal(t, "/r1", v.RoomLink)
	assert.Equal(t, 1, v.ActiveCount)
	assert.Contains(t, v.Colors, "Alice")

	select {
	case got := <-alice.Views():
		assert.Equal(t, "r1", got.RoomID)
	case <-time.After(time.Second):
		t.Fatal("no view delivered")
	}
}

func TestSession_ReplyCompletedFromList(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestModule(t, quietConfig())

	alice := join(t, m, "r1", "Alice")
	bob := join(t, m, "r1", "Bob")

	parent, err := alice.Send(ctx, "where?", nil, nil)
	require.NoError(t, err)
	eventuallyView(t, bob, func(v View) bool { return len(v.Messages) == 1 })

	reply, err := bob.Send(ctx, "here", &domain.ReplyRef{ID: parent.ID}, nil)
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, domain.ReplyRef{ID: parent.ID, Sender: "Alice", Text: "where?"}, *reply.ReplyTo)

	eventuallyView(t, alice, func(v View) bool {
		return len(v.Messages) == 2 && v.Messages[0].ID == reply.ID && v.Messages[1].ID == parent.ID
	})
}

func TestSession_TypingExcludesSelf(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestModule(t, quietConfig())

	alice := join(t, m, "r1", "Alice")
	bob := join(t, m, "r1", "Bob")

	bob.Typing(ctx)
	eventuallyView(t, alice, func(v View) bool {
		return len(v.TypingUsers) == 1 && v.TypingUsers[0] == "Bob"
	})
	assert.Empty(t, bob.View().TypingUsers)

	_, err := bob.Send(ctx, "done", nil, nil)
	require.NoError(t, err)
	eventuallyView(t, alice, func(v View) bool { return len(v.TypingUsers) == 0 })
}

func TestSession_Mutations(t *testing.T) {
	ctx := context.Background()
	m, server := newTestModule(t, quietConfig())

	alice := join(t, m, "r1", "Alice")
	bob := join(t, m, "r1", "Bob")

	msg, err := alice.Send(ctx, "hello", nil, nil)
	require.NoError(t, err)
	eventuallyView(t, bob, func(v View) bool { return len(v.Messages) == 1 })

	assert.True(t, errors.Is(bob.Edit(ctx, msg.ID, "hacked"), ErrNotOwner))
	assert.True(t, errors.Is(bob.Delete(ctx, msg.ID), ErrNotOwner))

	require.NoError(t, alice.Edit(ctx, msg.ID, "hello there"))
	require.NoError(t, bob.React(ctx, msg.ID, "👍"))
	eventuallyView(t, alice, func(v View) bool {
		return len(v.Messages) == 1 && v.Messages[0].Edited && v.Messages[0].Reactions.Has("👍", "Bob")
	})
	assert.Equal(t, "hello there", alice.View().Messages[0].Text)

	require.NoError(t, alice.Delete(ctx, msg.ID))
	stored, err := server.Read(domain.MessagePath("r1", msg.ID))
	require.NoError(t, err)
	assert.Nil(t, stored)

	eventuallyView(t, alice, func(v View) bool { return len(v.Messages) == 0 })
	assert.NoError(t, alice.Edit(ctx, msg.ID, "gone"), "editing a deleted message is a no-op")
	assert.NoError(t, bob.React(ctx, msg.ID, "👍"))
}

func TestSession_Search(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestModule(t, quietConfig())

	alice := join(t, m, "r1", "Alice")
	_, err := alice.Send(ctx, "Hello world", nil, nil)
	require.NoError(t, err)
	_, err = alice.Send(ctx, "bye", nil, nil)
	require.NoError(t, err)
	eventuallyView(t, alice, func(v View) bool { return len(v.Messages) == 2 })

	alice.Search("HELLO")
	v := alice.View()
	require.Len(t, v.Messages, 1)
	assert.Equal(t, "Hello world", v.Messages[0].Text)
	assert.Equal(t, "HELLO", v.Query)

	alice.Search("")
	assert.Len(t, alice.View().Messages, 2)
}

func TestSession_LeaveRemovesPresence(t *testing.T) {
	ctx := context.Background()
	m, server := newTestModule(t, quietConfig())

	alice := join(t, m, "r1", "Alice")
	bob := join(t, m, "r1", "Bob")
	eventuallyView(t, bob, func(v View) bool { return v.ActiveCount == 2 })
	assert.Equal(t, 2, m.SessionCount())

	require.NoError(t, alice.Leave(ctx))
	v, err := server.Read(domain.PresencePath("r1", "Alice"))
	require.NoError(t, err)
	assert.Nil(t, v)
	eventuallyView(t, bob, func(v View) bool { return v.ActiveCount == 1 })
	assert.Equal(t, 1, m.SessionCount())

	_, err = alice.Send(ctx, "late", nil, nil)
	assert.True(t, errors.Is(err, ErrSessionClosed))
	assert.True(t, errors.Is(alice.Leave(ctx), ErrSessionClosed))

	// Dropping the connection removes presence through the disconnect hook.
	bob.Close()
	v, err = server.Read(domain.PresencePath("r1", "Bob"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSession_GoneWhenRoomExpires(t *testing.T) {
	cfg := quietConfig()
	cfg.Session.Lifecycle = lifecycle.Config{
		SettleDelay:  20 * time.Millisecond,
		Grace:        150 * time.Millisecond,
		TickInterval: 10 * time.Millisecond,
	}
	m, server := newTestModule(t, cfg)

	// A lone user counts as an empty room.
	alice := join(t, m, "r1", "Alice")
	select {
	case <-alice.Gone():
	case <-time.After(3 * time.Second):
		t.Fatal("room never expired")
	}

	assert.Equal(t, lifecycle.Deleted, alice.View().Status.State)
	v, err := server.Read(domain.RoomPath("r1"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSession_StayCancelsTimer(t *testing.T) {
	ctx := context.Background()
	cfg := quietConfig()
	cfg.Session.Lifecycle = lifecycle.Config{
		SettleDelay:  20 * time.Millisecond,
		Grace:        time.Hour,
		TickInterval: 10 * time.Millisecond,
	}
	m, server := newTestModule(t, cfg)

	alice := join(t, m, "r1", "Alice")
	eventuallyView(t, alice, func(v View) bool { return v.Status.State == lifecycle.TimerPending })
	assert.Greater(t, alice.View().Status.Remaining, 0)

	require.NoError(t, alice.Stay(ctx))
	eventuallyView(t, alice, func(v View) bool { return v.Status.State != lifecycle.TimerPending })
	v, err := server.Read(domain.DeletionTimerPath("r1"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestModule_LastLeaverArmsTimer(t *testing.T) {
	ctx := context.Background()
	cfg := quietConfig()
	cfg.JanitorInterval = 30 * time.Second
	cfg.Session.Lifecycle = lifecycle.Config{
		SettleDelay:  20 * time.Millisecond,
		Grace:        time.Hour,
		TickInterval: 10 * time.Millisecond,
	}
	m, server := newTestModule(t, cfg)
	require.NoError(t, m.Start(ctx))

	alice := join(t, m, "r1", "Alice")
	bob := join(t, m, "r1", "Bob")
	eventuallyView(t, alice, func(v View) bool { return v.ActiveCount == 2 })
	_, err := alice.Send(ctx, "hi", nil, nil)
	require.NoError(t, err)

	bob.Close()
	require.NoError(t, alice.Leave(ctx))
	assert.Equal(t, 1, m.janitor.Observing())

	assert.Eventually(t, func() bool {
		v, err := server.Read(domain.DeletionTimerPath("r1"))
		return err == nil && v != nil
	}, 25*cfg.Session.Lifecycle.SettleDelay, 5*time.Millisecond, "no deletion timer after the room emptied")
}

func TestModule_ReleaseKeepsAttendedRoomUnobserved(t *testing.T) {
	m, _ := newTestModule(t, quietConfig())

	alice := join(t, m, "r1", "Alice")
	bob := join(t, m, "r1", "Bob")
	_, err := alice.Send(context.Background(), "hi", nil, nil)
	require.NoError(t, err)

	bob.Close()
	assert.Equal(t, 0, m.janitor.Observing(), "a room with an open session needs no observer")
	alice.Close()
	assert.Equal(t, 1, m.janitor.Observing())
}

func TestModule_JoinValidation(t *testing.T) {
	m, _ := newTestModule(t, quietConfig())

	tests := []struct {
		name    string
		req     JoinRequest
		wantErr error
	}{
		{"empty room", JoinRequest{RoomID: "  ", UserName: "Alice"}, domain.ErrRoomIDEmpty},
		{"bad room", JoinRequest{RoomID: "a/b", UserName: "Alice"}, domain.ErrRoomIDInvalid},
		{"short name", JoinRequest{RoomID: "r1", UserName: "Al"}, domain.ErrNameTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Join(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Join() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	assert.Equal(t, 0, m.SessionCount())
}

func TestModule_JoinUsesStoredPrefs(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestModule(t, quietConfig())

	plugin := prefs.NewPluginModule(prefs.DefaultConfig())
	require.NoError(t, plugin.Start(ctx))
	t.Cleanup(func() { _ = plugin.Stop(ctx) })
	m.SetPlugin("prefs", plugin)

	anon, err := m.Join(ctx, JoinRequest{RoomID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultDisplayName, anon.UserName())
	anon.Close()

	first, err := m.Join(ctx, JoinRequest{RoomID: "r1", UserName: "Carol", ClientID: "browser-1"})
	require.NoError(t, err)
	color := first.View().Colors["Carol"]
	first.Close()

	again, err := m.Join(ctx, JoinRequest{RoomID: "r2", ClientID: "browser-1"})
	require.NoError(t, err)
	assert.Equal(t, "Carol", again.UserName())
	assert.Equal(t, color, again.View().Colors["Carol"])
}

func TestModule_CreateRoomAndInfo(t *testing.T) {
	m, _ := newTestModule(t, quietConfig())

	created, err := m.CreateRoom()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9]{5}$`), created.RoomID)
	assert.Equal(t, "/"+created.RoomID, created.Link)

	info, err := m.RoomInfo(created.RoomID)
	require.NoError(t, err)
	assert.False(t, info.Exists)

	alice := join(t, m, created.RoomID, "Alice")
	eventuallyView(t, alice, func(v View) bool { return v.ActiveCount == 1 })

	info, err = m.RoomInfo(created.RoomID)
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, []string{"Alice"}, info.OnlineUsers)

	_, err = m.RoomInfo("")
	assert.True(t, errors.Is(err, domain.ErrRoomIDEmpty))
}

func TestUnusedRoomID(t *testing.T) {
	seq := []string{"aaaaa", "bbbbb", "ccccc"}
	next := func() func() string {
		i := 0
		return func() string {
			id := seq[i%len(seq)]
			i++
			return id
		}
	}

	tests := []struct {
		name    string
		taken   map[string]bool
		want    string
		wantErr error
	}{
		{"first free", map[string]bool{}, "aaaaa", nil},
		{"skips taken", map[string]bool{"aaaaa": true, "bbbbb": true}, "ccccc", nil},
		{"all taken", map[string]bool{"aaaaa": true, "bbbbb": true, "ccccc": true}, "", ErrRoomIDExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := unusedRoomID(next(), func(id string) bool { return tt.taken[id] })
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("unusedRoomID() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("unusedRoomID() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewRoomIDGenerator(t *testing.T) {
	gen, err := NewRoomIDGenerator()
	require.NoError(t, err)
	pattern := regexp.MustCompile(`^[A-Za-z0-9]{5}$`)
	for i := 0; i < 100; i++ {
		if id := gen(); !pattern.MatchString(id) {
			t.Errorf("NewRoomIDGenerator() produced %q", id)
		}
	}
}

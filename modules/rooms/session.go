// Package rooms runs one store client per browser connection and turns
// every change in the joined room into a View for the browser to render.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	domain "github.com/example/ephemeral-chat/domain/chat"
	"github.com/example/ephemeral-chat/modules/composer"
	"github.com/example/ephemeral-chat/modules/lifecycle"
	"github.com/example/ephemeral-chat/modules/presence"
	"github.com/example/ephemeral-chat/modules/realtime"
	"github.com/example/ephemeral-chat/modules/reconciler"
)

// SessionConfig holds the per-session timings.
type SessionConfig struct {
	Lifecycle     lifecycle.Config
	TypingTimeout time.Duration
}

// DefaultSessionConfig returns the standard timings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Lifecycle:     lifecycle.DefaultConfig(),
		TypingTimeout: composer.DefaultTypingTimeout,
	}
}

// Notifier is told about session and lifecycle transitions.
type Notifier interface {
	lifecycle.Listener
	UserEntered(roomID, clientID, userName string)
	UserLeft(roomID, clientID, userName string)
}

// View is everything the browser needs to render the room.
type View struct {
	RoomID      string            `json:"roomId"`
	RoomLink    string            `json:"roomLink"`
	UserName    string            `json:"userName"`
	Messages    []domain.Message  `json:"messages"`
	Colors      map[string]string `json:"colors"`
	OnlineUsers []string          `json:"onlineUsers"`
	ActiveCount int               `json:"activeCount"`
	TypingUsers []string          `json:"typingUsers"`
	Status      lifecycle.Status  `json:"status"`
	Query       string            `json:"query,omitempty"`
}

// Session is one browser connection joined to one room.
type Session struct {
	id       string
	roomID   string
	userName string
	client   realtime.Client
	notifier Notifier

	tracker    *presence.Tracker
	controller *lifecycle.Controller
	stream     *reconciler.Stream
	mutator    *reconciler.Mutator
	typing     *composer.Typing
	composer   *composer.Composer
	uploader   *composer.Uploader
	typingSub  *realtime.Subscription

	mu          sync.RWMutex
	query       string
	online      []string
	typingUsers []string
	status      lifecycle.Status
	running     bool
	closed      bool
	left        bool

	views   chan View
	gone    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	release func()
}

func newSession(client realtime.Client, roomID, userName string, cfg SessionConfig, colors *reconciler.ColorBook, uploader *composer.Uploader, notifier Notifier) *Session {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if uploader == nil {
		uploader = composer.NewUploader(nil)
	}
	typing := composer.NewTyping(client, roomID, userName, cfg.TypingTimeout)
	return &Session{
		id:          client.ID(),
		roomID:      roomID,
		userName:    userName,
		client:      client,
		notifier:    notifier,
		tracker:     presence.NewTracker(client),
		controller:  lifecycle.New(client, roomID, userName, cfg.Lifecycle, notifier),
		stream:      reconciler.NewStream(client, roomID, colors),
		mutator:     reconciler.NewMutator(client, roomID),
		typing:      typing,
		composer:    composer.New(client, roomID, userName, typing),
		uploader:    uploader,
		online:      []string{},
		typingUsers: []string{},
		status:      lifecycle.Status{RoomID: roomID, State: lifecycle.Populated},
		views:       make(chan View, 1),
		gone:        make(chan struct{}),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// open subscribes to the room and writes presence. On error the caller
// closes the session.
func (s *Session) open(ctx context.Context) error {
	if err := s.stream.Start(ctx); err != nil {
		return err
	}

	sub, err := s.client.Watch(ctx, domain.TypingPath(s.roomID))
	if err != nil {
		return fmt.Errorf("failed to watch typing: %w", err)
	}
	s.typingSub = sub

	if err := s.controller.Start(ctx); err != nil {
		return err
	}
	if err := s.tracker.EnterRoom(ctx, s.roomID, s.userName); err != nil {
		return err
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.notifier.UserEntered(s.roomID, s.id, s.userName)
	go s.run()
	return nil
}

func (s *Session) run() {
	defer close(s.done)

	users := s.tracker.Updates()
	messages := s.stream.Updates()
	typing := s.typingSub.Updates()
	statuses := s.controller.Statuses()

	for {
		select {
		case <-s.stop:
			return

		case online, ok := <-users:
			if !ok {
				users = nil
				continue
			}
			s.controller.ObservePresence(online)
			s.mu.Lock()
			s.online = online
			s.mu.Unlock()

		case _, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}

		case snap, ok := <-typing:
			if !ok {
				typing = nil
				continue
			}
			s.setTyping(snap.Keys())

		case st := <-statuses:
			s.mu.Lock()
			s.status = st
			s.mu.Unlock()

		case <-s.controller.Deleted():
			s.mu.Lock()
			s.status = s.controller.Status()
			s.mu.Unlock()
			s.render()
			close(s.gone)
			return
		}
		s.render()
	}
}

// setTyping stores the typing users other than this session's user.
func (s *Session) setTyping(names []string) {
	others := make([]string, 0, len(names))
	for _, n := range names {
		if n != s.userName {
			others = append(others, n)
		}
	}
	s.mu.Lock()
	s.typingUsers = others
	s.mu.Unlock()
}

// render keeps only the newest view in the channel.
func (s *Session) render() {
	v := s.View()
	select {
	case s.views <- v:
		return
	default:
	}
	select {
	case <-s.views:
	default:
	}
	select {
	case s.views <- v:
	default:
	}
}

// ID returns the store session id.
func (s *Session) ID() string {
	return s.id
}

// RoomID returns the joined room.
func (s *Session) RoomID() string {
	return s.roomID
}

// UserName returns the display name used in the room.
func (s *Session) UserName() string {
	return s.userName
}

// Views delivers the newest View after every change.
func (s *Session) Views() <-chan View {
	return s.views
}

// Gone is closed when the room has been deleted and the browser should
// navigate back to the lobby.
func (s *Session) Gone() <-chan struct{} {
	return s.gone
}

// View renders the current state.
func (s *Session) View() View {
	s.mu.RLock()
	query := s.query
	online := append([]string{}, s.online...)
	typing := append([]string{}, s.typingUsers...)
	status := s.status
	s.mu.RUnlock()

	msgs := s.stream.View(query)
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return View{
		RoomID:      s.roomID,
		RoomLink:    "/" + s.roomID,
		UserName:    s.userName,
		Messages:    msgs,
		Colors:      s.stream.Colors().Snapshot(),
		OnlineUsers: online,
		ActiveCount: len(online),
		TypingUsers: typing,
		Status:      status,
		Query:       query,
	}
}

func (s *Session) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

// ============================================================
// Intents
// ============================================================

// Send posts a message. img is optional; it is uploaded first and attached.
// A reply reference with only an id is completed from the message list.
func (s *Session) Send(ctx context.Context, text string, replyTo *domain.ReplyRef, img *composer.Image) (domain.Message, error) {
	if err := s.check(); err != nil {
		return domain.Message{}, err
	}

	draft := composer.Draft{Text: text}
	if replyTo != nil && replyTo.ID != "" {
		ref := *replyTo
		if parent, ok := s.stream.Find(ref.ID); ok {
			if ref.Sender == "" {
				ref.Sender = parent.Sender
			}
			if ref.Text == "" {
				ref.Text = parent.Text
			}
		}
		draft.ReplyTo = &ref
	}
	if img != nil {
		att := s.uploader.Attach(ctx, img)
		draft.Attachment = &att
	}
	return s.composer.Send(ctx, draft)
}

// Edit rewrites one of the user's own messages.
func (s *Session) Edit(ctx context.Context, messageID, text string) error {
	if err := s.own(messageID); err != nil {
		return ignoreMissing(err)
	}
	return ignoreMissing(s.mutator.Edit(ctx, messageID, text))
}

// Delete removes one of the user's own messages.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	if err := s.own(messageID); err != nil {
		return ignoreMissing(err)
	}
	return s.mutator.Delete(ctx, messageID)
}

// React toggles the user's reaction on a message.
func (s *Session) React(ctx context.Context, messageID, emoji string) error {
	if err := s.check(); err != nil {
		return err
	}
	return ignoreMissing(s.mutator.React(ctx, messageID, emoji, s.userName))
}

// Typing records a keystroke.
func (s *Session) Typing(ctx context.Context) {
	if s.check() != nil {
		return
	}
	s.typing.Keystroke(ctx)
}

// Search sets the query applied to the message list. An empty query shows
// everything.
func (s *Session) Search(query string) {
	s.mu.Lock()
	s.query = query
	s.mu.Unlock()
	s.render()
}

// Stay cancels a pending deletion of the room.
func (s *Session) Stay(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.controller.CancelTimer(ctx)
}

// Leave removes the user's presence explicitly and closes the session.
func (s *Session) Leave(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	s.typing.Close(ctx)
	err := s.tracker.Leave(ctx)

	s.mu.Lock()
	s.left = true
	s.mu.Unlock()
	s.notifier.UserLeft(s.roomID, s.id, s.userName)

	s.Close()
	return err
}

func (s *Session) own(messageID string) error {
	if err := s.check(); err != nil {
		return err
	}
	msg, ok := s.stream.Find(messageID)
	if !ok {
		return reconciler.ErrMessageNotFound
	}
	if msg.Sender != s.userName {
		return ErrNotOwner
	}
	return nil
}

// ignoreMissing treats a mutation of a vanished message as done.
func ignoreMissing(err error) error {
	if errors.Is(err, reconciler.ErrMessageNotFound) {
		slog.Debug("Ignoring mutation of missing message")
		return nil
	}
	return err
}

// Close stops every component and ends the store session, which runs the
// disconnect hooks for presence and typing.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	running, left := s.running, s.left
	s.mu.Unlock()

	close(s.stop)
	if running {
		<-s.done
	}

	s.typing.Close(context.Background())
	s.controller.Close()
	s.tracker.Close()
	s.stream.Close()
	if s.typingSub != nil {
		s.typingSub.Stop()
	}
	if err := s.client.Close(); err != nil {
		slog.Warn("Failed to close store session", "sessionID", s.id, "error", err)
	}

	if running && !left {
		s.notifier.UserLeft(s.roomID, s.id, s.userName)
	}
	if s.release != nil {
		s.release()
	}
}

type nopNotifier struct{}

func (nopNotifier) ExpiryScheduled(string, int64) {}
func (nopNotifier) ExpiryCancelled(string) {}
func (nopNotifier) RoomDeleted(string) {}
func (nopNotifier) UserEntered(string, string, string) {}
func (nopNotifier) UserLeft(string, string, string) {}

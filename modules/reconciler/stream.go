package reconciler

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/example/ephemeral-chat/domain/chat"
	"github.com/example/ephemeral-chat/modules/realtime"
)

// Stream watches a room's messages and keeps the reconciled list current.
type Stream struct {
	client realtime.Client
	roomID string
	colors *ColorBook

	mu       sync.RWMutex
	messages []domain.Message
	sub      *realtime.Subscription
	updates  chan []domain.Message
	done     chan struct{}
}

// NewStream creates a Stream over roomID. New senders get a color in colors.
func NewStream(client realtime.Client, roomID string, colors *ColorBook) *Stream {
	if colors == nil {
		colors = NewColorBook()
	}
	return &Stream{
		client:   client,
		roomID:   roomID,
		colors:   colors,
		messages: []domain.Message{},
		updates:  make(chan []domain.Message, 1),
		done:     make(chan struct{}),
	}
}

// Start subscribes to the message collection.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.sub != nil {
		s.mu.Unlock()
		return fmt.Errorf("stream for room %s already started", s.roomID)
	}
	s.mu.Unlock()

	sub, err := s.client.Watch(ctx, domain.MessagesPath(s.roomID))
	if err != nil {
		return fmt.Errorf("failed to watch messages: %w", err)
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	go s.run(sub)
	return nil
}

func (s *Stream) run(sub *realtime.Subscription) {
	defer close(s.done)
	defer close(s.updates)
	for snap := range sub.Updates() {
		msgs := Reconcile(snap.Value)

		senders := make([]string, 0, len(msgs))
		for _, m := range msgs {
			senders = append(senders, m.Sender)
		}
		s.colors.Assign(senders...)

		s.mu.Lock()
		s.messages = msgs
		s.mu.Unlock()

		select {
		case s.updates <- msgs:
			continue
		default:
		}
		select {
		case <-s.updates:
		default:
		}
		select {
		case s.updates <- msgs:
		default:
		}
	}
}

// Updates delivers the sorted message list after each change. It is closed
// when the stream stops.
func (s *Stream) Updates() <-chan []domain.Message {
	return s.updates
}

// Messages returns the latest sorted message list.
func (s *Stream) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages
}

// Find returns the message with id from the latest list.
func (s *Stream) Find(id string) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Message{}, false
}

// View returns the latest list filtered by query and threaded.
func (s *Stream) View(query string) []domain.Message {
	return Thread(Filter(s.Messages(), query))
}

// Colors returns the stream's color book.
func (s *Stream) Colors() *ColorBook {
	return s.colors
}

// Close stops watching.
func (s *Stream) Close() {
	s.mu.RLock()
	sub := s.sub
	s.mu.RUnlock()
	if sub != nil {
		sub.Stop()
		<-s.done
	}
}

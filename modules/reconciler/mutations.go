package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/example/ephemeral-chat/domain/chat"
	"github.com/example/ephemeral-chat/modules/realtime"
)

// Mutator applies edits, deletions and reaction toggles to one room's
// messages. Edits and reactions rewrite the whole record.
type Mutator struct {
	client realtime.Client
	roomID string
	now    func() time.Time
}

// NewMutator creates a Mutator for roomID.
func NewMutator(client realtime.Client, roomID string) *Mutator {
	return &Mutator{client: client, roomID: roomID, now: time.Now}
}

// Edit replaces the message text, marking it edited. Reactions and reply
// references are carried over from the stored record.
func (m *Mutator) Edit(ctx context.Context, messageID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	editedAt := m.now().UnixMilli()

	return m.rewrite(ctx, messageID, func(msg *domain.Message) {
		msg.Text = text
		msg.Edited = true
		msg.EditedAt = &editedAt
	})
}

// Delete removes the message record. Deleting a missing message succeeds.
func (m *Mutator) Delete(ctx context.Context, messageID string) error {
	if err := m.client.Delete(ctx, domain.MessagePath(m.roomID, messageID)); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// React toggles user's reaction with emoji. A user may hold several
// different reactions on the same message.
func (m *Mutator) React(ctx context.Context, messageID, emoji, user string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return ErrEmptyEmoji
	}
	return m.rewrite(ctx, messageID, func(msg *domain.Message) {
		msg.Reactions = msg.Reactions.Toggle(emoji, user)
	})
}

func (m *Mutator) rewrite(ctx context.Context, messageID string, change func(*domain.Message)) error {
	path := domain.MessagePath(m.roomID, messageID)
	ok, err := m.client.Update(ctx, path, func(current any) (any, bool) {
		msg, ok := domain.FromValue(messageID, current)
		if !ok {
			return nil, false
		}
		change(&msg)
		return msg.Record(), true
	})
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if !ok {
		return ErrMessageNotFound
	}
	return nil
}

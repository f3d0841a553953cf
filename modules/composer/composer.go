// Package composer builds outgoing messages, keeps the typing indicator
// alive while a user types and ingests images for attachment.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	domain "github.com/example/ephemeral-chat/domain/chat"
	"github.com/example/ephemeral-chat/modules/realtime"
)

// Draft is what a user submits from the input surface.
type Draft struct {
	Text       string
	ReplyTo    *domain.ReplyRef
	Attachment *domain.Attachment
}

// Build returns the record for a new message. Text is trimmed; a draft
// without text is only valid with an attachment.
func Build(sender string, draft Draft, now time.Time) (domain.Message, error) {
	if sender == "" {
		return domain.Message{}, ErrNoSender
	}
	text := strings.TrimSpace(draft.Text)
	if text == "" && draft.Attachment == nil {
		return domain.Message{}, ErrEmptyMessage
	}

	msg := domain.Message{
		Text:      text,
		Sender:    sender,
		Timestamp: now.UnixMilli(),
		Edited:    false,
		Reactions: domain.Reactions{},
	}
	if draft.ReplyTo != nil && draft.ReplyTo.ID != "" {
		ref := *draft.ReplyTo
		msg.ReplyTo = &ref
	}
	if draft.Attachment != nil {
		att := *draft.Attachment
		if att.Type == "" {
			att.Type = domain.FileTypeImage
		}
		msg.Attachment = &att
	}
	return msg, nil
}

// Composer sends messages into one room as one sender.
type Composer struct {
	client realtime.Client
	roomID string
	sender string
	typing *Typing
	now    func() time.Time
}

// New creates a Composer. typing may be nil.
func New(client realtime.Client, roomID, sender string, typing *Typing) *Composer {
	return &Composer{
		client: client,
		roomID: roomID,
		sender: sender,
		typing: typing,
		now:    time.Now,
	}
}

// Send appends the draft to the room's messages and clears the sender's
// typing record. It returns the new message.
func (c *Composer) Send(ctx context.Context, draft Draft) (domain.Message, error) {
	msg, err := Build(c.sender, draft, c.now())
	if err != nil {
		return domain.Message{}, err
	}

	id, err := c.client.Append(ctx, domain.MessagesPath(c.roomID), msg.Record())
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to send message: %w", err)
	}
	msg.ID = id

	if c.typing != nil {
		c.typing.Stop(ctx)
	}

	slog.Debug("Message sent", "roomID", c.roomID, "messageID", id, "sender", c.sender)
	return msg, nil
}

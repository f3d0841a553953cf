package chat

import (
	"encoding/json"
	"math"
	"sort"
)

// FileTypeImage is the only attachment type the composer produces.
const FileTypeImage = "image"

// Message represents a chat message stored at rooms/{roomId}/messages/{id}.
type Message struct {
	ID         string      `json:"id"`
	Text       string      `json:"text"`
	Sender     string      `json:"sender"`
	Timestamp  int64       `json:"timestamp"`
	Edited     bool        `json:"edited"`
	EditedAt   *int64      `json:"editedAt,omitempty"`
	Reactions  Reactions   `json:"reactions,omitempty"`
	ReplyTo    *ReplyRef   `json:"replyTo,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// ReplyRef is a snapshot of the message being replied to, captured at reply time.
type ReplyRef struct {
	ID     string `json:"id"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// Attachment describes an image attached to a message.
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// Reactions maps an emoji to the names of the senders who reacted with it.
type Reactions map[string][]string

// Has reports whether user reacted with emoji.
func (r Reactions) Has(emoji, user string) bool {
	for _, name := range r[emoji] {
		if name == user {
			return true
		}
	}
	return false
}

// Toggle returns a copy of r with user's membership in emoji flipped.
// An emoji whose sender set becomes empty is removed.
func (r Reactions) Toggle(emoji, user string) Reactions {
	out := make(Reactions, len(r)+1)
	for k, v := range r {
		out[k] = append([]string(nil), v...)
	}

	if out.Has(emoji, user) {
		kept := out[emoji][:0]
		for _, name := range out[emoji] {
			if name != user {
				kept = append(kept, name)
			}
		}
		if len(kept) == 0 {
			delete(out, emoji)
		} else {
			out[emoji] = kept
		}
		return out
	}

	out[emoji] = append(out[emoji], user)
	return out
}

// HasReply reports whether the message references a parent.
func (m Message) HasReply() bool {
	return m.ReplyTo != nil && m.ReplyTo.ID != ""
}

// Record returns the store representation of the message. The id is the
// store key and is never part of the record.
func (m Message) Record() map[string]any {
	rec := map[string]any{
		"text":      m.Text,
		"sender":    m.Sender,
		"timestamp": m.Timestamp,
		"edited":    m.Edited,
	}
	if m.EditedAt != nil {
		rec["editedAt"] = *m.EditedAt
	}
	if len(m.Reactions) > 0 {
		reactions := make(map[string]any, len(m.Reactions))
		for emoji, names := range m.Reactions {
			reactions[emoji] = append([]string(nil), names...)
		}
		rec["reactions"] = reactions
	}
	if m.HasReply() {
		rec["replyTo"] = map[string]any{
			"id":     m.ReplyTo.ID,
			"sender": m.ReplyTo.Sender,
			"text":   m.ReplyTo.Text,
		}
	}
	if m.Attachment != nil {
		rec["fileUrl"] = m.Attachment.URL
		rec["fileType"] = m.Attachment.Type
		rec["fileName"] = m.Attachment.Name
	}
	return rec
}

// FromValue normalizes a raw store value into a Message. It returns false
// when the value is not a record or lacks a sender or timestamp.
func FromValue(id string, v any) (Message, bool) {
	raw, ok := v.(map[string]any)
	if !ok {
		return Message{}, false
	}

	sender, _ := raw["sender"].(string)
	ts, hasTS := toInt64(raw["timestamp"])
	if sender == "" || !hasTS {
		return Message{}, false
	}

	msg := Message{
		ID:        id,
		Sender:    sender,
		Timestamp: ts,
	}
	msg.Text, _ = raw["text"].(string)
	msg.Edited, _ = raw["edited"].(bool)
	if at, ok := toInt64(raw["editedAt"]); ok {
		msg.EditedAt = &at
	}
	msg.Reactions = reactionsFromValue(raw["reactions"])

	if reply, ok := raw["replyTo"].(map[string]any); ok {
		ref := &ReplyRef{}
		ref.ID, _ = reply["id"].(string)
		ref.Sender, _ = reply["sender"].(string)
		ref.Text, _ = reply["text"].(string)
		if ref.ID != "" {
			msg.ReplyTo = ref
		}
	}

	if url, ok := raw["fileUrl"].(string); ok && url != "" {
		att := &Attachment{URL: url, Type: FileTypeImage}
		if t, ok := raw["fileType"].(string); ok && t != "" {
			att.Type = t
		}
		att.Name, _ = raw["fileName"].(string)
		msg.Attachment = att
	}

	return msg, true
}

// reactionsFromValue accepts either a list of names or a name->true map per
// emoji and enforces set semantics.
func reactionsFromValue(v any) Reactions {
	raw, ok := v.(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}

	out := make(Reactions, len(raw))
	for emoji, entry := range raw {
		seen := make(map[string]bool)
		var names []string
		add := func(name string) {
			if name != "" && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}

		switch e := entry.(type) {
		case []any:
			for _, n := range e {
				if s, ok := n.(string); ok {
					add(s)
				}
			}
		case []string:
			for _, s := range e {
				add(s)
			}
		case map[string]any:
			keys := make([]string, 0, len(e))
			for name, present := range e {
				if b, ok := present.(bool); ok && b {
					keys = append(keys, name)
				}
			}
			sort.Strings(keys)
			for _, s := range keys {
				add(s)
			}
		}

		if len(names) > 0 {
			out[emoji] = names
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	}
	return 0, false
}

// TimestampFromValue reads an epoch-millis value such as the deletion timer.
func TimestampFromValue(v any) (int64, bool) {
	return toInt64(v)
}

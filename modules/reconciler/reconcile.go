// Package reconciler turns a room's raw message collection into the ordered,
// filtered and threaded list a client renders.
package reconciler

import (
	"sort"
	"strings"

	domain "github.com/example/ephemeral-chat/domain/chat"
)

// Reconcile converts the raw value at rooms/{roomId}/messages into messages
// sorted by timestamp, with the message id breaking ties. Records that do
// not normalize are dropped. The result is the same for the same input.
func Reconcile(raw any) []domain.Message {
	children, ok := raw.(map[string]any)
	if !ok || len(children) == 0 {
		return []domain.Message{}
	}

	msgs := make([]domain.Message, 0, len(children))
	for id, v := range children {
		if msg, ok := domain.FromValue(id, v); ok {
			msgs = append(msgs, msg)
		}
	}

	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs
}

// Filter keeps the messages whose text or sender contains query, ignoring
// case. An empty query keeps everything.
func Filter(msgs []domain.Message, query string) []domain.Message {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return msgs
	}

	out := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.Contains(strings.ToLower(m.Text), q) ||
			strings.Contains(strings.ToLower(m.Sender), q) {
			out = append(out, m)
		}
	}
	return out
}

// Thread groups replies with their parents. Each message appears once:
// a parent is preceded by its pending replies in timestamp order, and a
// reply met before its parent pulls the parent in right after it. Replies
// whose parent is missing keep their own position.
func Thread(sorted []domain.Message) []domain.Message {
	index := make(map[string]int, len(sorted))
	replies := make(map[string][]int)
	for i, m := range sorted {
		index[m.ID] = i
		if m.HasReply() {
			replies[m.ReplyTo.ID] = append(replies[m.ReplyTo.ID], i)
		}
	}

	out := make([]domain.Message, 0, len(sorted))
	processed := make(map[string]bool, len(sorted))
	emit := func(m domain.Message) {
		out = append(out, m)
		processed[m.ID] = true
	}

	for _, m := range sorted {
		if processed[m.ID] {
			continue
		}

		if m.HasReply() {
			parent, ok := index[m.ReplyTo.ID]
			emit(m)
			if ok && !processed[m.ReplyTo.ID] {
				emit(sorted[parent])
			}
			continue
		}

		for _, i := range replies[m.ID] {
			if !processed[sorted[i].ID] {
				emit(sorted[i])
			}
		}
		emit(m)
	}
	return out
}

// View is the list a client renders: reconciled, filtered by query, then
// threaded.
func View(raw any, query string) []domain.Message {
	return Thread(Filter(Reconcile(raw), query))
}

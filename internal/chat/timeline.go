package chat

import "sort"

// Timeline is one room's messages, unique by id and ordered by creation time. Ties keep
// arrival order. It is not safe for concurrent use; the Synchronizer guards it.
type Timeline struct {
	msgs []Message
	ids  map[int64]struct{}
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{ids: make(map[int64]struct{})}
}

// Merge inserts m unless its id is already present. Returns false for a duplicate.
func (t *Timeline) Merge(m Message) bool {
	if _, dup := t.ids[m.ID]; dup {
		return false
	}
	t.ids[m.ID] = struct{}{}
	t.msgs = append(t.msgs, m)
	sortByCreated(t.msgs)
	return true
}

// Replace swaps the contents for msgs (a fresh fetch), dropping duplicate ids.
func (t *Timeline) Replace(msgs []Message) {
	t.msgs = make([]Message, 0, len(msgs))
	t.ids = make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := t.ids[m.ID]; dup {
			continue
		}
		t.ids[m.ID] = struct{}{}
		t.msgs = append(t.msgs, m)
	}
	sortByCreated(t.msgs)
}

// MarkRead sets the read flag of Direct message id. Returns false if it is absent, not a
// Direct message, or already read.
func (t *Timeline) MarkRead(id int64) bool {
	for i := range t.msgs {
		m := &t.msgs[i]
		if m.ID != id {
			continue
		}
		if m.Kind != Direct || m.IsRead() {
			return false
		}
		m.Direct = &DirectFields{Read: true}
		return true
	}
	return false
}

// Last returns the most recent message.
func (t *Timeline) Last() (Message, bool) {
	if len(t.msgs) == 0 {
		return Message{}, false
	}
	return t.msgs[len(t.msgs)-1], true
}

// Len returns the number of messages.
func (t *Timeline) Len() int { return len(t.msgs) }

// Messages returns a copy of the ordered messages.
func (t *Timeline) Messages() []Message {
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

func sortByCreated(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

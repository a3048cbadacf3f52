package chat

import (
	"slices"
	"sync"
)

// Thread is a client-side view of one conversation. Any delivery path may
// be the first to observe a message id, so Add ignores ids already present.
type Thread struct {
	mu   sync.Mutex
	seen map[int64]int
	msgs []Message
}

// NewThread returns an empty thread.
func NewThread() *Thread {
	return &Thread{seen: make(map[int64]int)}
}

// Add merges messages and reports how many were new. Order is ascending by
// createdAt, then id.
func (t *Thread) Add(msgs ...Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	added := 0
	for _, m := range msgs {
		if i, ok := t.seen[m.ID]; ok {
			// a later fetch may carry a fresher read flag
			if m.IsRead {
				t.msgs[i].IsRead = true
			}
			continue
		}
		t.msgs = append(t.msgs, m)
		t.seen[m.ID] = len(t.msgs) - 1
		added++
	}
	if added > 0 {
		slices.SortStableFunc(t.msgs, func(a, b Message) int {
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
			return cmpInt64(a.ID, b.ID)
		})
		for i, m := range t.msgs {
			t.seen[m.ID] = i
		}
	}
	return added
}

// ApplyRead applies a messages-read event received by ev.FriendID: the
// messages it sent to ev.UserID are now read. It returns the number changed.
func (t *Thread) ApplyRead(ev MessagesRead) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for i := range t.msgs {
		m := &t.msgs[i]
		rid, ok := m.ReceiverID()
		if !ok || m.IsRead || m.SenderID != ev.FriendID || rid != ev.UserID {
			continue
		}
		m.IsRead = true
		n++
	}
	return n
}

// Messages returns a copy of the ordered messages.
func (t *Thread) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.msgs)
}

// Len returns the number of distinct messages.
func (t *Thread) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgs)
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

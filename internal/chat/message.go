package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Target is where a message is addressed: Private or Group, never both.
type Target interface {
	key(senderID int64) ConversationKey
}

// Private addresses a single friend.
type Private struct {
	ReceiverID int64
}

// Group addresses every member of a group.
type Group struct {
	GroupID int64
}

func (p Private) key(senderID int64) ConversationKey { return PrivateKey(senderID, p.ReceiverID) }

func (g Group) key(int64) ConversationKey { return GroupKey(g.GroupID) }

// Message is a persisted chat message. Only IsRead changes after creation,
// and only for private messages.
type Message struct {
	ID        int64
	SenderID  int64
	To        Target
	Text      string
	IsRead    bool
	CreatedAt time.Time
	// Sender is filled from the directory when known. It is not stored.
	Sender    *Peer
}

// Key returns the conversation the message belongs to.
func (m Message) Key() ConversationKey { return m.To.key(m.SenderID) }

// ReceiverID returns the private receiver, if any.
func (m Message) ReceiverID() (int64, bool) {
	p, ok := m.To.(Private)
	return p.ReceiverID, ok
}

// GroupID returns the group, if any.
func (m Message) GroupID() (int64, bool) {
	g, ok := m.To.(Group)
	return g.GroupID, ok
}

// wireMessage is the JSON shape clients consume. sender is null when the
// sender could not be resolved.
type wireMessage struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"senderId"`
	Sender     *Peer     `json:"sender"`
	ReceiverID *int64    `json:"receiverId"`
	GroupID    *int64    `json:"groupId"`
	Text       string    `json:"text"`
	IsRead     bool      `json:"isRead"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MarshalJSON writes the message with the unused target field set to null.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Sender:    m.Sender,
		Text:      m.Text,
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt,
	}
	switch t := m.To.(type) {
	case Private:
		w.ReceiverID = &t.ReceiverID
	case Group:
		w.GroupID = &t.GroupID
	default:
		return nil, fmt.Errorf("message %d has no target", m.ID)
	}
	return json.Marshal(w)
}

// UnmarshalJSON rejects documents with both or neither target set.
func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	to, err := NewTarget(w.ReceiverID, w.GroupID)
	if err != nil {
		return err
	}
	*m = Message{
		ID:        w.ID,
		SenderID:  w.SenderID,
		To:        to,
		Text:      w.Text,
		IsRead:    w.IsRead,
		CreatedAt: w.CreatedAt,
		Sender:    w.Sender,
	}
	return nil
}

// NewTarget builds a Target from a nullable receiver/group pair as stored on disk.
func NewTarget(receiverID, groupID *int64) (Target, error) {
	switch {
	case receiverID != nil && groupID != nil:
		return nil, validationf("message has both receiverId and groupId")
	case receiverID != nil:
		return Private{ReceiverID: *receiverID}, nil
	case groupID != nil:
		return Group{GroupID: *groupID}, nil
	default:
		return nil, validationf("message has neither receiverId nor groupId")
	}
}

// ConversationKey groups messages: an unordered friend pair or a group.
type ConversationKey struct {
	Low, High int64
	GroupID   int64
}

// PrivateKey is order independent: PrivateKey(a, b) == PrivateKey(b, a).
func PrivateKey(a, b int64) ConversationKey {
	if a > b {
		a, b = b, a
	}
	return ConversationKey{Low: a, High: b}
}

// GroupKey returns the key of a group conversation.
func GroupKey(groupID int64) ConversationKey {
	return ConversationKey{GroupID: groupID}
}

func (k ConversationKey) String() string {
	if k.GroupID != 0 {
		return fmt.Sprintf("group:%d", k.GroupID)
	}
	return fmt.Sprintf("private:%d:%d", k.Low, k.High)
}

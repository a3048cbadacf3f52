package data

import (
	"fmt"
	"time"

	"github.com/PaulBabatuyi/chatsync/internal/chat"
)

// Message maps to the messages collection. Exactly one of ReceiverID and
// GroupID is set.
type Message struct {
	ID         int64     `bson:"_id"`
	SenderID   int64     `bson:"sender_id"`
	ReceiverID *int64    `bson:"receiver_id,omitempty"`
	GroupID    *int64    `bson:"group_id,omitempty"`
	Text       string    `bson:"text"`
	IsRead     bool      `bson:"is_read"`
	CreatedAt  time.Time `bson:"created_at"`
}

// counter maps to the counters collection (one document per sequence).
type counter struct {
	Name  string `bson:"_id"`
	Value int64  `bson:"seq"`
}

func fromChat(m chat.Message) (Message, error) {
	doc := Message{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt,
	}
	switch t := m.To.(type) {
	case chat.Private:
		doc.ReceiverID = &t.ReceiverID
	case chat.Group:
		doc.GroupID = &t.GroupID
	default:
		return Message{}, fmt.Errorf("message from %d has no target", m.SenderID)
	}
	return doc, nil
}

func (d Message) toChat() (chat.Message, error) {
	to, err := chat.NewTarget(d.ReceiverID, d.GroupID)
	if err != nil {
		return chat.Message{}, fmt.Errorf("message %d: %w", d.ID, err)
	}
	return chat.Message{
		ID:        d.ID,
		SenderID:  d.SenderID,
		To:        to,
		Text:      d.Text,
		IsRead:    d.IsRead,
		CreatedAt: d.CreatedAt,
	}, nil
}

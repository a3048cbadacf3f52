package chat_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/chatsync/internal/chat"
)

func TestThread_DuplicateDeliveryIsNoop(t *testing.T) {
	h := newHarness(t)
	h.graph.Befriend(1, 2)
	b := h.connect(t, "b1", 2)
	ctx := context.Background()

	m, err := h.router.SendPrivate(ctx, 1, 2, "hi")
	require.NoError(t, err)

	thread := chat.NewThread()

	// live push first
	ev, ok := b.Last(chat.EventNewMessage)
	require.True(t, ok)
	require.Equal(t, 1, thread.Add(ev.Data.(chat.Message)))

	// then the same id via fetch
	fetched, err := h.router.OpenConversation(ctx, 2, 1)
	require.NoError(t, err)
	require.Zero(t, thread.Add(fetched...))

	require.Equal(t, 1, thread.Len())
	require.Equal(t, m.ID, thread.Messages()[0].ID)
}

func TestThread_KeepsCreatedAtOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	thread := chat.NewThread()

	thread.Add(chat.Message{ID: 3, SenderID: 1, To: chat.Private{ReceiverID: 2}, Text: "c", CreatedAt: base.Add(2 * time.Second)})
	thread.Add(
		chat.Message{ID: 1, SenderID: 1, To: chat.Private{ReceiverID: 2}, Text: "a", CreatedAt: base},
		chat.Message{ID: 2, SenderID: 2, To: chat.Private{ReceiverID: 1}, Text: "b", CreatedAt: base.Add(time.Second)},
	)

	var ids []int64
	for _, m := range thread.Messages() {
		ids = append(ids, m.ID)
	}
	require.Equal(t, []int64{1, 2, 3}, ids)
}

func TestThread_ApplyReadMatchesOwnSentMessages(t *testing.T) {
	thread := chat.NewThread()
	thread.Add(
		chat.Message{ID: 1, SenderID: 1, To: chat.Private{ReceiverID: 2}, Text: "mine"},
		chat.Message{ID: 2, SenderID: 2, To: chat.Private{ReceiverID: 1}, Text: "theirs"},
	)

	// user 1 receives: user 2 read what 1 sent
	n := thread.ApplyRead(chat.MessagesRead{UserID: 2, FriendID: 1, UpdatedCount: 1})
	require.Equal(t, 1, n)

	msgs := thread.Messages()
	require.True(t, msgs[0].IsRead)
	require.False(t, msgs[1].IsRead)
}

func TestMessage_JSONShape(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	b, err := json.Marshal(chat.Message{ID: 4, SenderID: 1, To: chat.Group{GroupID: 9}, Text: "yo", CreatedAt: at})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":4,"senderId":1,"sender":null,"receiverId":null,"groupId":9,"text":"yo","isRead":false,"createdAt":"2024-05-01T10:00:00Z"}`, string(b))

	var back chat.Message
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, chat.Group{GroupID: 9}, back.To)

	withSender := chat.Message{ID: 5, SenderID: 1, To: chat.Private{ReceiverID: 2}, Text: "hi", CreatedAt: at, Sender: &chat.Peer{ID: 1, Name: "ada"}}
	b, err = json.Marshal(withSender)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":5,"senderId":1,"sender":{"id":1,"name":"ada","lastSeen":null,"isOnline":false},"receiverId":2,"groupId":null,"text":"hi","isRead":false,"createdAt":"2024-05-01T10:00:00Z"}`, string(b))
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, "ada", back.Sender.Name)
}

func TestConversationKey(t *testing.T) {
	require.Equal(t, chat.PrivateKey(1, 2), chat.PrivateKey(2, 1))
	require.NotEqual(t, chat.PrivateKey(1, 2), chat.GroupKey(2))

	m := chat.Message{SenderID: 7, To: chat.Private{ReceiverID: 3}}
	require.Equal(t, "private:3:7", m.Key().String())
	g := chat.Message{SenderID: 7, To: chat.Group{GroupID: 3}}
	require.Equal(t, "group:3", g.Key().String())
}

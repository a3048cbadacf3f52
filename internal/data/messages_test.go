package data

import (
	"context"
	"testing"

	"github.com/PaulBabatuyi/chatsync/internal/chat"
)

func TestMessagesInsertAndConversation(t *testing.T) {
	c := setupDB(t)
	defer func() { _ = c.Close(context.Background()) }()

	ctx := context.Background()
	msgs := NewMessagesStore(c.MessagesCollection(), c.CountersCollection())

	m1, err := msgs.Insert(ctx, chat.Message{SenderID: 1, To: chat.Private{ReceiverID: 2}, Text: "hi bob"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	m2, err := msgs.Insert(ctx, chat.Message{SenderID: 2, To: chat.Private{ReceiverID: 1}, Text: "hello alice"})
	if err != nil {
		t.Fatalf("Insert 2 failed: %v", err)
	}
	if m2.ID <= m1.ID {
		t.Fatalf("ids must increase: %d then %d", m1.ID, m2.ID)
	}
	if id, err := msgs.LastID(ctx); err != nil || id != m2.ID {
		t.Fatalf("LastID = %d, %v; want %d", id, err, m2.ID)
	}

	for _, pair := range [][2]int64{{1, 2}, {2, 1}} {
		history, err := msgs.Conversation(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("Conversation failed: %v", err)
		}
		if len(history) != 2 || history[0].ID != m1.ID || history[1].ID != m2.ID {
			t.Fatalf("unexpected history for %v: %+v", pair, history)
		}
		if !history[0].CreatedAt.Equal(m1.CreatedAt) {
			t.Fatalf("createdAt changed on read: %v vs %v", history[0].CreatedAt, m1.CreatedAt)
		}
	}

	last, err := msgs.LastPrivate(ctx, 1, 2)
	if err != nil {
		t.Fatalf("LastPrivate failed: %v", err)
	}
	if last == nil || last.ID != m2.ID {
		t.Fatalf("expected last message %d, got %+v", m2.ID, last)
	}

	none, err := msgs.LastPrivate(ctx, 1, 3)
	if err != nil {
		t.Fatalf("LastPrivate (empty) failed: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no last message, got %+v", none)
	}
}

func TestMessagesReadState(t *testing.T) {
	c := setupDB(t)
	defer func() { _ = c.Close(context.Background()) }()

	ctx := context.Background()
	msgs := NewMessagesStore(c.MessagesCollection(), c.CountersCollection())

	var last chat.Message
	for i := 0; i < 3; i++ {
		m, err := msgs.Insert(ctx, chat.Message{SenderID: 1, To: chat.Private{ReceiverID: 2}, Text: "ping"})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		last = m
	}
	if _, err := msgs.Insert(ctx, chat.Message{SenderID: 3, To: chat.Private{ReceiverID: 2}, Text: "other"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if n, _ := msgs.CountUnread(ctx, 2); n != 4 {
		t.Fatalf("expected 4 unread, got %d", n)
	}
	if n, _ := msgs.CountUnreadFrom(ctx, 2, 1); n != 3 {
		t.Fatalf("expected 3 unread from 1, got %d", n)
	}

	ok, err := msgs.MarkRead(ctx, last.ID, 1)
	if err != nil || ok {
		t.Fatalf("sender must not mark its own message read: ok=%v err=%v", ok, err)
	}
	ok, err = msgs.MarkRead(ctx, last.ID, 2)
	if err != nil || !ok {
		t.Fatalf("MarkRead failed: ok=%v err=%v", ok, err)
	}

	n, err := msgs.MarkConversationRead(ctx, 2, 1)
	if err != nil {
		t.Fatalf("MarkConversationRead failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 updated, got %d", n)
	}
	n, err = msgs.MarkConversationRead(ctx, 2, 1)
	if err != nil || n != 0 {
		t.Fatalf("second MarkConversationRead should update nothing: n=%d err=%v", n, err)
	}
	if n, _ := msgs.CountUnread(ctx, 2); n != 1 {
		t.Fatalf("expected 1 unread left, got %d", n)
	}
}

func TestMessagesGroup(t *testing.T) {
	c := setupDB(t)
	defer func() { _ = c.Close(context.Background()) }()

	ctx := context.Background()
	msgs := NewMessagesStore(c.MessagesCollection(), c.CountersCollection())

	g, err := msgs.Insert(ctx, chat.Message{SenderID: 1, To: chat.Group{GroupID: 9}, Text: "all"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	list, err := msgs.GroupMessages(ctx, 9)
	if err != nil {
		t.Fatalf("GroupMessages failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 group message, got %d", len(list))
	}
	if gid, ok := list[0].GroupID(); !ok || gid != 9 {
		t.Fatalf("expected group target, got %+v", list[0].To)
	}
	if _, ok := list[0].ReceiverID(); ok {
		t.Fatal("group message must not carry a receiver")
	}

	// group messages never count as private unread
	if n, _ := msgs.CountUnread(ctx, 1); n != 0 {
		t.Fatalf("expected 0 unread, got %d", n)
	}

	last, err := msgs.LastGroup(ctx, 9)
	if err != nil || last == nil || last.ID != g.ID {
		t.Fatalf("LastGroup: %+v %v", last, err)
	}
}

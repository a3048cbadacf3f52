package chat_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/PaulBabatuyi/chatsync/internal/chat"
	"github.com/PaulBabatuyi/chatsync/internal/chattest"
)

func TestSendPrivate_FetchMarksReadAndNotifiesSender(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.graph.Befriend(1, 2)

	a := h.connect(t, "a1", 1)
	b := h.connect(t, "b1", 2)

	// Given A sends "hi" to B
	m, err := h.router.SendPrivate(ctx, 1, 2, "hi")
	require.NoError(t, err)
	require.False(t, m.IsRead)

	ev, ok := b.Last(chat.EventNewMessage)
	require.True(t, ok)
	require.Equal(t, m.ID, ev.Data.(chat.Message).ID)
	ev, ok = a.Last(chat.EventMessageSent)
	require.True(t, ok)
	require.Equal(t, m.ID, ev.Data.(chat.Message).ID)
	require.Equal(t, 1, a.Count(chat.EventChatsUpdated))
	require.Equal(t, 1, b.Count(chat.EventChatsUpdated))

	unread, err := h.store.UnreadCount(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), unread)

	// When B opens the conversation
	msgs, err := h.router.OpenConversation(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, m.ID, msgs[0].ID)

	// Then B has nothing unread and A learns its messages were read
	unread, err = h.store.UnreadCount(ctx, 2)
	require.NoError(t, err)
	require.Zero(t, unread)

	ev, ok = a.Last(chat.EventMessagesRead)
	require.True(t, ok)
	require.Equal(t, chat.MessagesRead{UserID: 2, FriendID: 1, UpdatedCount: 1}, ev.Data)
	require.Zero(t, b.Count(chat.EventMessagesRead))
}

func TestSendPrivate_ReachesEveryConnection(t *testing.T) {
	h := newHarness(t)
	h.graph.Befriend(1, 2)

	b1 := h.connect(t, "b1", 2)
	b2 := h.connect(t, "b2", 2)
	a1 := h.connect(t, "a1", 1)
	a2 := h.connect(t, "a2", 1)

	_, err := h.router.SendPrivate(context.Background(), 1, 2, "hello")
	require.NoError(t, err)

	for _, c := range []interface{ Count(string) int }{b1, b2} {
		require.Equal(t, 1, c.Count(chat.EventNewMessage))
		require.Zero(t, c.Count(chat.EventMessageSent))
	}
	for _, c := range []interface{ Count(string) int }{a1, a2} {
		require.Equal(t, 1, c.Count(chat.EventMessageSent))
		require.Zero(t, c.Count(chat.EventNewMessage))
	}
}

func TestSendPrivate_NotFriendsRejectedBeforePersist(t *testing.T) {
	h := newHarness(t)
	b := h.connect(t, "b1", 2)

	_, err := h.router.SendPrivate(context.Background(), 1, 2, "hi")
	require.ErrorIs(t, err, chat.ErrMembership)
	require.Zero(t, h.repo.Len())
	require.Zero(t, b.Count(chat.EventNewMessage))
}

func TestSendPrivate_DeadConnectionDoesNotFailSender(t *testing.T) {
	h := newHarness(t)
	h.graph.Befriend(1, 2)

	dead := h.connect(t, "b-dead", 2)
	live := h.connect(t, "b-live", 2)
	dead.Fail = true

	_, err := h.router.SendPrivate(context.Background(), 1, 2, "hi")
	require.NoError(t, err)
	require.True(t, dead.Closed())
	require.Equal(t, 1, live.Count(chat.EventNewMessage))
	require.Equal(t, 1, h.repo.Len())
}

func TestSendGroup_NonMemberRejected(t *testing.T) {
	h := newHarness(t)
	h.graph.SetMembers(5, 2, 3)
	member := h.connect(t, "b1", 2)

	_, err := h.router.SendGroup(context.Background(), 1, 5, "hi")
	require.ErrorIs(t, err, chat.ErrMembership)
	require.Zero(t, h.repo.Len())
	require.Zero(t, member.Count(chat.EventNewGroupMessage))
}

func TestSendGroup_BroadcastsAndRefreshesMembers(t *testing.T) {
	h := newHarness(t)
	h.graph.SetMembers(5, 1, 2, 3)

	a := h.connect(t, "a1", 1)
	b := h.connect(t, "b1", 2)
	outsider := h.connect(t, "x1", 4)

	m, err := h.router.SendGroup(context.Background(), 1, 5, "hello group")
	require.NoError(t, err)
	gid, ok := m.GroupID()
	require.True(t, ok)
	require.Equal(t, int64(5), gid)

	for _, c := range []interface{ Count(string) int }{a, b} {
		require.Equal(t, 1, c.Count(chat.EventNewGroupMessage))
		require.Equal(t, 1, c.Count(chat.EventChatsUpdated))
	}
	require.Zero(t, outsider.Count(chat.EventNewGroupMessage))
	require.Zero(t, outsider.Count(chat.EventChatsUpdated))
}

func TestMarkRead_NothingUnreadSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.graph.Befriend(1, 2)
	a := h.connect(t, "a1", 1)

	n, err := h.router.MarkRead(context.Background(), 2, 1)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, a.Count(chat.EventMessagesRead))

	_, err = h.router.MarkRead(context.Background(), 2, 3)
	require.ErrorIs(t, err, chat.ErrMembership)
}

func TestMembershipChanged_MovesConnections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.graph.SetMembers(5, 1, 2)

	a := h.connect(t, "a1", 1)
	c := h.connect(t, "c1", 3)
	b := h.connect(t, "b1", 2)

	// Given 3 is added and 2 is removed
	h.graph.SetMembers(5, 1, 3)
	h.router.MembershipChanged(ctx, chat.MembershipChange{GroupID: 5, ActorID: 1, Added: []int64{3}, Removed: []int64{2}})

	require.True(t, h.bus.Subscribed(chat.GroupTopic(5), c))
	require.False(t, h.bus.Subscribed(chat.GroupTopic(5), b))
	require.Equal(t, 1, c.Count(chat.EventAddedToGroup))
	require.Equal(t, 1, b.Count(chat.EventRemovedFromGroup))

	ev, ok := a.Last(chat.EventGroupMembersUpdated)
	require.True(t, ok)
	require.Equal(t, []int64{1, 3}, ev.Data.(chat.GroupMembersUpdated).Members)
	require.Equal(t, 1, b.Count(chat.EventChatsUpdated))

	// Then group traffic follows the new membership
	_, err := h.router.SendGroup(ctx, 1, 5, "welcome")
	require.NoError(t, err)
	require.Equal(t, 1, c.Count(chat.EventNewGroupMessage))
	require.Zero(t, b.Count(chat.EventNewGroupMessage))
}

// disconnectingBus runs hook once, right before victim joins topic.
type disconnectingBus struct {
	*chat.LocalBus
	topic  string
	victim chat.Conn
	hook   func()
	once   sync.Once
}

func (b *disconnectingBus) Join(topic string, c chat.Conn) {
	if topic == b.topic && b.victim != nil && c.ID() == b.victim.ID() {
		b.once.Do(b.hook)
	}
	b.LocalBus.Join(topic, c)
}

func TestMembershipChanged_ConnectionClosedMidJoin(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	ctx := context.Background()
	graph := chattest.NewSocialGraph()

	bus := &disconnectingBus{LocalBus: chat.NewLocalBus(log), topic: chat.GroupTopic(9)}
	presence := chat.NewPresence(log, graph)
	store := chat.NewConversations(log, chattest.NewMemoryRepository(), graph, graph)
	router := chat.NewRouter(log, store, graph, graph, presence, bus)
	gw := chat.NewGateway(log, staticAuth{}, presence, bus, router, graph)

	c := chattest.NewConn("c1", 1)
	bus.victim = c
	bus.hook = func() { gw.Disconnect(ctx, c) }
	require.NoError(t, gw.Connect(ctx, c))

	// the socket closes between the router's presence snapshot and its join
	graph.SetMembers(9, 1)
	router.MembershipChanged(ctx, chat.MembershipChange{GroupID: 9, ActorID: 2, Added: []int64{1}})

	require.False(t, presence.Online(1))
	require.False(t, bus.Subscribed(chat.GroupTopic(9), c))
	require.False(t, bus.Subscribed(chat.UserTopic(1), c))
	require.Zero(t, bus.Publish(chat.GroupTopic(9), chat.Event{Name: chat.EventNewGroupMessage}))
}

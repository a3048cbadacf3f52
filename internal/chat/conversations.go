package chat

import (
	"context"
	"fmt"
	"slices"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/chatsync/internal/normalize"
)

// Conversations is the message store: validated appends, ordered reads,
// read state and chat summaries.
type Conversations struct {
	log      *zap.SugaredLogger
	repo     MessageRepository
	friends  Friendships
	groups   Memberships
	reads    GroupReadState
	profiles Profiles
}

// ConversationsOption configures Conversations.
type ConversationsOption func(*Conversations)

// WithGroupReadState replaces the zero group unread counter.
func WithGroupReadState(r GroupReadState) ConversationsOption {
	return func(c *Conversations) { c.reads = r }
}

// WithProfiles attaches a sender descriptor to every message returned.
func WithProfiles(p Profiles) ConversationsOption {
	return func(c *Conversations) { c.profiles = p }
}

// NewConversations returns a store backed by repo.
func NewConversations(log *zap.SugaredLogger, repo MessageRepository, friends Friendships, groups Memberships, opts ...ConversationsOption) *Conversations {
	c := &Conversations{
		log:     log,
		repo:    repo,
		friends: friends,
		groups:  groups,
		reads:   NoGroupReads{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func refs(msgs []Message) []*Message {
	out := make([]*Message, len(msgs))
	for i := range msgs {
		out[i] = &msgs[i]
	}
	return out
}

// attachSenders fills Sender on msgs. A failed lookup leaves Sender nil:
// the messages themselves are still valid.
func (c *Conversations) attachSenders(ctx context.Context, msgs ...*Message) {
	if c.profiles == nil || len(msgs) == 0 {
		return
	}
	ids := lo.Uniq(lo.Map(msgs, func(m *Message, _ int) int64 { return m.SenderID }))
	peers, err := c.profiles.PeersByID(ctx, ids)
	if err != nil {
		c.log.Warnw("load message senders", "senders", len(ids), "error", err)
		return
	}
	for _, m := range msgs {
		if p, ok := peers[m.SenderID]; ok {
			m.Sender = &p
		}
	}
}

func checkText(text string) (string, error) {
	t := normalize.Text(text)
	if t == "" {
		return "", validationf("Message text is required")
	}
	return t, nil
}

func checkID(name string, id int64) error {
	if id <= 0 {
		return validationf("invalid %s", name)
	}
	return nil
}

// AppendPrivate stores an unread private message. Friendship is not checked here.
func (c *Conversations) AppendPrivate(ctx context.Context, senderID, receiverID int64, text string) (Message, error) {
	text, err := checkText(text)
	if err != nil {
		return Message{}, err
	}
	if err := checkID("senderId", senderID); err != nil {
		return Message{}, err
	}
	if err := checkID("receiverId", receiverID); err != nil {
		return Message{}, err
	}
	if senderID == receiverID {
		return Message{}, validationf("cannot send a message to yourself")
	}

	m, err := c.repo.Insert(ctx, Message{
		SenderID: senderID,
		To:       Private{ReceiverID: receiverID},
		Text:     text,
	})
	if err != nil {
		return Message{}, fmt.Errorf("append private message: %w", err)
	}
	c.attachSenders(ctx, &m)
	return m, nil
}

// AppendGroup stores a group message if the sender is a member right now.
func (c *Conversations) AppendGroup(ctx context.Context, senderID, groupID int64, text string) (Message, error) {
	text, err := checkText(text)
	if err != nil {
		return Message{}, err
	}
	if err := checkID("senderId", senderID); err != nil {
		return Message{}, err
	}
	if err := checkID("groupId", groupID); err != nil {
		return Message{}, err
	}
	if err := c.requireMember(ctx, groupID, senderID); err != nil {
		return Message{}, err
	}

	m, err := c.repo.Insert(ctx, Message{
		SenderID: senderID,
		To:       Group{GroupID: groupID},
		Text:     text,
	})
	if err != nil {
		return Message{}, fmt.Errorf("append group message: %w", err)
	}
	c.attachSenders(ctx, &m)
	return m, nil
}

func (c *Conversations) requireMember(ctx context.Context, groupID, userID int64) error {
	ok, err := c.groups.IsMember(ctx, groupID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return membershipf("You are not a member of this group")
	}
	return nil
}

// ListConversation returns both directions of a private pair, oldest first.
func (c *Conversations) ListConversation(ctx context.Context, userID, peerID int64) ([]Message, error) {
	if err := checkID("friendId", peerID); err != nil {
		return nil, err
	}
	msgs, err := c.repo.Conversation(ctx, userID, peerID)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	c.attachSenders(ctx, refs(msgs)...)
	return msgs, nil
}

// ListGroupMessages returns a group's messages, oldest first, to a member.
func (c *Conversations) ListGroupMessages(ctx context.Context, groupID, userID int64) ([]Message, error) {
	if err := checkID("groupId", groupID); err != nil {
		return nil, err
	}
	if err := c.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	msgs, err := c.repo.GroupMessages(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group messages: %w", err)
	}
	c.attachSenders(ctx, refs(msgs)...)
	return msgs, nil
}

// MarkConversationRead marks everything peerID sent to userID as read and
// returns how many rows changed.
func (c *Conversations) MarkConversationRead(ctx context.Context, userID, peerID int64) (int64, error) {
	if err := checkID("friendId", peerID); err != nil {
		return 0, err
	}
	n, err := c.repo.MarkConversationRead(ctx, userID, peerID)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	return n, nil
}

// MarkMessageRead marks a single message read for its receiver. Unknown
// messages and messages addressed to somebody else report false.
func (c *Conversations) MarkMessageRead(ctx context.Context, messageID, userID int64) (bool, error) {
	if err := checkID("messageId", messageID); err != nil {
		return false, err
	}
	ok, err := c.repo.MarkRead(ctx, messageID, userID)
	if err != nil {
		return false, fmt.Errorf("mark message read: %w", err)
	}
	return ok, nil
}

// UnreadCount counts unread private messages addressed to userID.
func (c *Conversations) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	n, err := c.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// ListChatSummaries builds one summary per friend and per group, newest
// activity first. Conversations without messages go last.
func (c *Conversations) ListChatSummaries(ctx context.Context, userID int64) ([]ChatSummary, error) {
	friends, err := c.friends.FriendsOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	groups, err := c.groups.GroupsOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	out := make([]ChatSummary, 0, len(friends)+len(groups))
	for _, f := range friends {
		last, err := c.repo.LastPrivate(ctx, userID, f.ID)
		if err != nil {
			return nil, fmt.Errorf("last message with %d: %w", f.ID, err)
		}
		unread, err := c.repo.CountUnreadFrom(ctx, userID, f.ID)
		if err != nil {
			return nil, fmt.Errorf("unread from %d: %w", f.ID, err)
		}
		out = append(out, ChatSummary{Kind: KindPrivate, Friend: &f, LastMessage: last, UnreadCount: unread})
	}
	for _, g := range groups {
		last, err := c.repo.LastGroup(ctx, g.ID)
		if err != nil {
			return nil, fmt.Errorf("last message in group %d: %w", g.ID, err)
		}
		unread, err := c.reads.UnreadInGroup(ctx, g.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("group %d read state: %w", g.ID, err)
		}
		out = append(out, ChatSummary{Kind: KindGroup, Group: &g, LastMessage: last, UnreadCount: unread})
	}

	c.attachSenders(ctx, lo.FilterMap(out, func(s ChatSummary, _ int) (*Message, bool) {
		return s.LastMessage, s.LastMessage != nil
	})...)
	SortSummaries(out)
	return out, nil
}

// SortSummaries orders by last message time, newest first. Summaries
// without a message keep their relative order after all others.
func SortSummaries(s []ChatSummary) {
	slices.SortStableFunc(s, func(a, b ChatSummary) int {
		switch {
		case a.LastMessage == nil && b.LastMessage == nil:
			return 0
		case a.LastMessage == nil:
			return 1
		case b.LastMessage == nil:
			return -1
		}
		if c := b.LastMessage.CreatedAt.Compare(a.LastMessage.CreatedAt); c != 0 {
			return c
		}
		return cmpInt64(b.LastMessage.ID, a.LastMessage.ID)
	})
}

package chat

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Router runs the send and read pipelines: validate, persist, then fan out.
// Fan-out is best-effort and never fails the caller.
type Router struct {
	log      *zap.SugaredLogger
	store    *Conversations
	friends  Friendships
	groups   Memberships
	presence *Presence
	bus      Bus
}

// NewRouter wires a Router.
func NewRouter(log *zap.SugaredLogger, store *Conversations, friends Friendships, groups Memberships, presence *Presence, bus Bus) *Router {
	return &Router{
		log:      log,
		store:    store,
		friends:  friends,
		groups:   groups,
		presence: presence,
		bus:      bus,
	}
}

func (r *Router) requireFriend(ctx context.Context, userID, peerID int64) error {
	if err := checkID("friendId", peerID); err != nil {
		return err
	}
	ok, err := r.friends.IsAcceptedFriend(ctx, userID, peerID)
	if err != nil {
		return fmt.Errorf("check friendship: %w", err)
	}
	if !ok {
		return membershipf("You can only message friends")
	}
	return nil
}

// SendPrivate persists a private message and pushes new-message to the
// receiver, message-sent to the sender and chats-updated to both.
func (r *Router) SendPrivate(ctx context.Context, senderID, receiverID int64, text string) (Message, error) {
	if _, err := checkText(text); err != nil {
		return Message{}, err
	}
	if err := r.requireFriend(ctx, senderID, receiverID); err != nil {
		return Message{}, err
	}

	m, err := r.store.AppendPrivate(ctx, senderID, receiverID, text)
	if err != nil {
		return Message{}, err
	}

	r.bus.Publish(UserTopic(receiverID), Event{Name: EventNewMessage, Data: m})
	r.bus.Publish(UserTopic(senderID), Event{Name: EventMessageSent, Data: m})
	r.refreshChats(ctx, senderID, receiverID)

	r.log.Debugw("private message routed", "message_id", m.ID, "sender_id", senderID, "receiver_id", receiverID)
	return m, nil
}

// SendGroup persists a group message, broadcasts it on the group channel
// and refreshes every current member's chat list.
func (r *Router) SendGroup(ctx context.Context, senderID, groupID int64, text string) (Message, error) {
	m, err := r.store.AppendGroup(ctx, senderID, groupID, text)
	if err != nil {
		return Message{}, err
	}

	n := r.bus.Publish(GroupTopic(groupID), Event{Name: EventNewGroupMessage, Data: m})

	members, err := r.groups.MembersOf(ctx, groupID)
	if err != nil {
		r.log.Errorw("list members after group send", "group_id", groupID, "error", err)
	} else {
		r.refreshChats(ctx, members...)
	}

	r.log.Debugw("group message routed", "message_id", m.ID, "group_id", groupID, "delivered", n)
	return m, nil
}

// MarkRead marks what peerID sent to userID as read. When anything
// changed, peerID is told with messages-read and both chat lists refresh.
func (r *Router) MarkRead(ctx context.Context, userID, peerID int64) (int64, error) {
	if err := r.requireFriend(ctx, userID, peerID); err != nil {
		return 0, err
	}
	n, err := r.store.MarkConversationRead(ctx, userID, peerID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.bus.Publish(UserTopic(peerID), Event{
			Name: EventMessagesRead,
			Data: MessagesRead{UserID: userID, FriendID: peerID, UpdatedCount: n},
		})
		r.refreshChats(ctx, userID, peerID)
	}
	return n, nil
}

// MarkMessageRead marks one message read for its receiver and refreshes
// the receiver's chat list. A miss is a no-op.
func (r *Router) MarkMessageRead(ctx context.Context, userID, messageID int64) (bool, error) {
	ok, err := r.store.MarkMessageRead(ctx, messageID, userID)
	if err != nil || !ok {
		return false, err
	}
	r.refreshChats(ctx, userID)
	return true, nil
}

// OpenConversation returns the conversation with peerID and then marks it
// read, so a fetch also reconciles read state.
func (r *Router) OpenConversation(ctx context.Context, userID, peerID int64) ([]Message, error) {
	if err := r.requireFriend(ctx, userID, peerID); err != nil {
		return nil, err
	}
	msgs, err := r.store.ListConversation(ctx, userID, peerID)
	if err != nil {
		return nil, err
	}
	if _, err := r.MarkRead(ctx, userID, peerID); err != nil {
		r.log.Errorw("implicit mark read", "user_id", userID, "friend_id", peerID, "error", err)
	}
	return msgs, nil
}

// OpenGroup returns a group's messages to a current member.
func (r *Router) OpenGroup(ctx context.Context, userID, groupID int64) ([]Message, error) {
	return r.store.ListGroupMessages(ctx, groupID, userID)
}

// MembershipChanged moves live connections between group channels and
// pushes fresh member lists and chat summaries to everyone affected.
func (r *Router) MembershipChanged(ctx context.Context, ch MembershipChange) {
	topic := GroupTopic(ch.GroupID)

	for _, uid := range ch.Added {
		for _, c := range r.presence.ConnectionsFor(uid) {
			r.bus.Join(topic, c)
			// c may have disconnected since the snapshot; its LeaveAll has run
			if !r.presence.Connected(c) {
				r.bus.Leave(topic, c)
			}
		}
		r.bus.Publish(UserTopic(uid), Event{Name: EventAddedToGroup, Data: GroupNotice{GroupID: ch.GroupID, ActorID: ch.ActorID}})
	}
	for _, uid := range ch.Removed {
		for _, c := range r.presence.ConnectionsFor(uid) {
			r.bus.Leave(topic, c)
		}
		r.bus.Publish(UserTopic(uid), Event{Name: EventRemovedFromGroup, Data: GroupNotice{GroupID: ch.GroupID, ActorID: ch.ActorID}})
	}

	members, err := r.groups.MembersOf(ctx, ch.GroupID)
	if err != nil {
		r.log.Errorw("list members after membership change", "group_id", ch.GroupID, "error", err)
		r.refreshChats(ctx, lo.Union(ch.Added, ch.Removed)...)
		return
	}
	r.bus.Publish(topic, Event{
		Name: EventGroupMembersUpdated,
		Data: GroupMembersUpdated{GroupID: ch.GroupID, Members: members},
	})
	r.refreshChats(ctx, lo.Union(members, ch.Removed)...)
}

// refreshChats recomputes and pushes chats-updated to each user with a
// live connection. Each user gets their own view.
func (r *Router) refreshChats(ctx context.Context, userIDs ...int64) {
	for _, uid := range lo.Uniq(userIDs) {
		if !r.presence.Online(uid) {
			continue
		}
		summaries, err := r.store.ListChatSummaries(ctx, uid)
		if err != nil {
			r.log.Errorw("recompute chat summaries", "user_id", uid, "error", err)
			continue
		}
		r.bus.Publish(UserTopic(uid), Event{Name: EventChatsUpdated, Data: summaries})
	}
}

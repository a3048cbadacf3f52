package chat

import (
	"context"
	"time"
)

// MessageRepository persists messages. Insert assigns ID and CreatedAt.
// Lookups of absent rows return nil or false, not errors.
type MessageRepository interface {
	Insert(ctx context.Context, m Message) (Message, error)
	Conversation(ctx context.Context, userID, peerID int64) ([]Message, error)
	GroupMessages(ctx context.Context, groupID int64) ([]Message, error)
	MarkConversationRead(ctx context.Context, userID, peerID int64) (int64, error)
	MarkRead(ctx context.Context, messageID, receiverID int64) (bool, error)
	CountUnread(ctx context.Context, userID int64) (int64, error)
	CountUnreadFrom(ctx context.Context, userID, peerID int64) (int64, error)
	LastPrivate(ctx context.Context, userID, peerID int64) (*Message, error)
	LastGroup(ctx context.Context, groupID int64) (*Message, error)
}

// Friendships answers friend-of questions.
type Friendships interface {
	IsAcceptedFriend(ctx context.Context, a, b int64) (bool, error)
	// FriendsOf lists accepted friends in a stable order.
	FriendsOf(ctx context.Context, userID int64) ([]Peer, error)
}

// Memberships answers group membership questions. Results must be fresh:
// callers query at the moment of routing.
type Memberships interface {
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
	MembersOf(ctx context.Context, groupID int64) ([]int64, error)
	// GroupsOf lists the user's groups in a stable order.
	GroupsOf(ctx context.Context, userID int64) ([]GroupInfo, error)
}

// Profiles resolves user ids to display descriptors. Unknown ids are
// absent from the result.
type Profiles interface {
	PeersByID(ctx context.Context, ids []int64) (map[int64]Peer, error)
}

// LastSeenRecorder stores the last time a user was active.
type LastSeenRecorder interface {
	TouchLastSeen(ctx context.Context, userID int64, at time.Time) error
}

// GroupReadState reports per-user unread counts in a group.
type GroupReadState interface {
	UnreadInGroup(ctx context.Context, groupID, userID int64) (int64, error)
}

// NoGroupReads reports zero unread for every group. Group read receipts are not tracked.
type NoGroupReads struct{}

func (NoGroupReads) UnreadInGroup(context.Context, int64, int64) (int64, error) { return 0, nil }

// MembershipChange is emitted by the group owner after members are added or removed.
type MembershipChange struct {
	GroupID int64
	ActorID int64
	Added   []int64
	Removed []int64
}

// MembershipListener receives membership changes.
type MembershipListener interface {
	MembershipChanged(ctx context.Context, change MembershipChange)
}

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	Authenticate(token string) (int64, error)
}

// Limiter gates inbound events per key.
type Limiter interface {
	Allow(key string) bool
}

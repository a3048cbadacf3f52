package chat

import "time"

// Outbound event names.
const (
	EventNewMessage          = "new-message"
	EventMessageSent         = "message-sent"
	EventNewGroupMessage     = "new-group-message"
	EventMessagesRead        = "messages-read"
	EventChatsUpdated        = "chats-updated"
	EventUserOnline          = "user-online"
	EventUserOffline         = "user-offline"
	EventError               = "error"
	EventGroupMembersUpdated = "group-members-updated"
	EventAddedToGroup        = "added-to-group"
	EventRemovedFromGroup    = "removed-from-group"
)

// Inbound event names.
const (
	EventSendMessage      = "send-message"
	EventSendGroupMessage = "send-group-message"
	EventMarkRead         = "mark-read"
	EventJoinGroup        = "join-group"
	EventLeaveGroup       = "leave-group"
)

// Event is the envelope written to live connections.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// MessagesRead is delivered to FriendID: the messages FriendID sent to
// UserID have been read by UserID.
type MessagesRead struct {
	UserID       int64 `json:"userId"`
	FriendID     int64 `json:"friendId"`
	UpdatedCount int64 `json:"updatedCount"`
}

// PresenceChange carries user-online and user-offline.
type PresenceChange struct {
	UserID int64 `json:"userId"`
}

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// GroupMembersUpdated lists the current members after a change.
type GroupMembersUpdated struct {
	GroupID int64   `json:"groupId"`
	Members []int64 `json:"members"`
}

// GroupNotice tells a user they were added to or removed from a group.
type GroupNotice struct {
	GroupID int64 `json:"groupId"`
	ActorID int64 `json:"actorId,omitempty"`
}

// ChatKind distinguishes private and group summaries.
type ChatKind string

const (
	KindPrivate ChatKind = "private"
	KindGroup   ChatKind = "group"
)

// Peer describes a friend in a chat summary.
type Peer struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Nickname string     `json:"nickname,omitempty"`
	Avatar   string     `json:"avatar,omitempty"`
	LastSeen *time.Time `json:"lastSeen"`
	IsOnline bool       `json:"isOnline"`
}

// GroupInfo describes a group in a chat summary.
type GroupInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	CreatorID   int64  `json:"creatorId"`
}

// ChatSummary is one row of a user's chat list. It is derived, never stored.
type ChatSummary struct {
	Kind        ChatKind   `json:"type"`
	Friend      *Peer      `json:"friend,omitempty"`
	Group       *GroupInfo `json:"group,omitempty"`
	LastMessage *Message   `json:"lastMessage"`
	UnreadCount int64      `json:"unreadCount"`
}

package directory

import "time"

// User is a chat participant. Profile fields are read-only here.
type User struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Nickname  string
	Avatar    string
	LastSeen  *time.Time
	CreatedAt time.Time
}

// FriendshipStatus is the state of a friend request.
type FriendshipStatus string

const (
	StatusPending  FriendshipStatus = "pending"
	StatusAccepted FriendshipStatus = "accepted"
	StatusBlocked  FriendshipStatus = "blocked"
)

// Friendship is stored once per pair, from requester to addressee.
type Friendship struct {
	ID        int64            `gorm:"primaryKey"`
	UserID    int64            `gorm:"not null;uniqueIndex:idx_friend_pair"`
	FriendID  int64            `gorm:"not null;uniqueIndex:idx_friend_pair;index"`
	Status    FriendshipStatus `gorm:"not null;default:pending"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Group is a named set of members.
type Group struct {
	ID          int64  `gorm:"primaryKey"`
	Name        string `gorm:"not null"`
	Description string
	Avatar      string
	CreatorID   int64 `gorm:"not null"`
	CreatedAt   time.Time
}

// Role of a group member.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// GroupMember is one membership fact.
type GroupMember struct {
	ID       int64 `gorm:"primaryKey"`
	GroupID  int64 `gorm:"not null;uniqueIndex:idx_group_member"`
	UserID   int64 `gorm:"not null;uniqueIndex:idx_group_member;index"`
	Role     Role  `gorm:"not null;default:member"`
	JoinedAt time.Time
}

// Member is a group member with profile fields, as listed to clients.
type Member struct {
	UserID   int64     `json:"userId"`
	Name     string    `json:"name"`
	Nickname string    `json:"nickname,omitempty"`
	Avatar   string    `json:"avatar,omitempty"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

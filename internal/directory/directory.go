// Package directory stores the social graph the chat core consults:
// users and their lastSeen, friendships, groups and group members.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/PaulBabatuyi/chatsync/internal/chat"
)

// DefaultOnlineWindow is how recent lastSeen must be for a user to show as online.
const DefaultOnlineWindow = 5 * time.Minute

// Directory is a GORM-backed social graph. It implements chat.Friendships,
// chat.Memberships and chat.LastSeenRecorder.
type Directory struct {
	db     *gorm.DB
	log    *zap.SugaredLogger
	window time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	listeners []chat.MembershipListener
}

var (
	_ chat.Friendships      = (*Directory)(nil)
	_ chat.Memberships      = (*Directory)(nil)
	_ chat.LastSeenRecorder = (*Directory)(nil)
)

// Option configures a Directory.
type Option func(*Directory)

// WithOnlineWindow sets how recent lastSeen must be to count as online.
func WithOnlineWindow(d time.Duration) Option {
	return func(dir *Directory) {
		if d > 0 {
			dir.window = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(dir *Directory) { dir.now = now }
}

// New opens the sqlite database at dsn and migrates the schema.
func New(dsn string, log *zap.SugaredLogger, opts ...Option) (*Directory, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: newGormLogger(log, logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("directory handle: %w", err)
	}
	// sqlite allows a single writer
	sqlDB.SetMaxOpenConns(1)

	d := &Directory{
		db:     db,
		log:    log,
		window: DefaultOnlineWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.migrate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Directory) migrate() error {
	if err := d.db.AutoMigrate(&User{}, &Friendship{}, &Group{}, &GroupMember{}); err != nil {
		d.log.Errorw("directory: migrate", "error", err)
		return fmt.Errorf("migrate directory: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (d *Directory) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database.
func (d *Directory) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Subscribe registers l for membership changes.
func (d *Directory) Subscribe(l chat.MembershipListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

func (d *Directory) notify(ctx context.Context, change chat.MembershipChange) {
	d.mu.RLock()
	listeners := append([]chat.MembershipListener(nil), d.listeners...)
	d.mu.RUnlock()

	for _, l := range listeners {
		l.MembershipChanged(ctx, change)
	}
}

func (d *Directory) online(lastSeen *time.Time) bool {
	return lastSeen != nil && d.now().Sub(*lastSeen) < d.window
}

// isOnline reports whether the user was active within the online window.
func (d *Directory) isOnline(ctx context.Context, userID int64) (bool, error) {
	var u User
	err := d.db.WithContext(ctx).Select("last_seen").First(&u, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		d.log.Errorw("directory: load last seen", "error", err, "user_id", userID)
		return false, fmt.Errorf("load user %d: %w", userID, err)
	}
	return d.online(u.LastSeen), nil
}

// TouchLastSeen records activity for userID.
func (d *Directory) TouchLastSeen(ctx context.Context, userID int64, at time.Time) error {
	err := d.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("last_seen", at).Error
	if err != nil {
		d.log.Errorw("directory: touch last seen", "error", err, "user_id", userID)
		return fmt.Errorf("touch last seen: %w", err)
	}
	return nil
}

// IsAcceptedFriend reports whether a and b have an accepted friendship in
// either direction.
func (d *Directory) IsAcceptedFriend(ctx context.Context, a, b int64) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&Friendship{}).
		Where("status = ?", StatusAccepted).
		Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", a, b, b, a).
		Count(&count).Error
	if err != nil {
		d.log.Errorw("directory: check friendship", "error", err, "user_id", a, "friend_id", b)
		return false, fmt.Errorf("check friendship: %w", err)
	}
	return count > 0, nil
}

// FriendsOf lists accepted friends in the order the friendships were made.
func (d *Directory) FriendsOf(ctx context.Context, userID int64) ([]chat.Peer, error) {
	var rows []Friendship
	err := d.db.WithContext(ctx).
		Where("status = ?", StatusAccepted).
		Where("user_id = ? OR friend_id = ?", userID, userID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		d.log.Errorw("directory: list friendships", "error", err, "user_id", userID)
		return nil, fmt.Errorf("list friendships: %w", err)
	}

	ids := lo.Map(rows, func(f Friendship, _ int) int64 {
		if f.UserID == userID {
			return f.FriendID
		}
		return f.UserID
	})
	if len(ids) == 0 {
		return nil, nil
	}

	var users []User
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		d.log.Errorw("directory: load friends", "error", err, "user_id", userID)
		return nil, fmt.Errorf("load friends: %w", err)
	}
	byID := lo.KeyBy(users, func(u User) int64 { return u.ID })

	peers := make([]chat.Peer, 0, len(ids))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok {
			continue
		}
		peers = append(peers, d.peer(u))
	}
	return peers, nil
}

func (d *Directory) peer(u User) chat.Peer {
	return chat.Peer{
		ID:       u.ID,
		Name:     u.Name,
		Nickname: u.Nickname,
		Avatar:   u.Avatar,
		LastSeen: u.LastSeen,
		IsOnline: d.online(u.LastSeen),
	}
}

// PeersByID loads the profiles of ids. Unknown ids are left out.
func (d *Directory) PeersByID(ctx context.Context, ids []int64) (map[int64]chat.Peer, error) {
	if len(ids) == 0 {
		return map[int64]chat.Peer{}, nil
	}
	var users []User
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		d.log.Errorw("directory: load profiles", "error", err, "users", len(ids))
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	return lo.SliceToMap(users, func(u User) (int64, chat.Peer) { return u.ID, d.peer(u) }), nil
}

// IsMember reports whether userID is currently in groupID.
func (d *Directory) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	return d.isMember(d.db.WithContext(ctx), groupID, userID)
}

func (d *Directory) isMember(tx *gorm.DB, groupID, userID int64) (bool, error) {
	var count int64
	err := tx.Model(&GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	if err != nil {
		d.log.Errorw("directory: check membership", "error", err, "group_id", groupID, "user_id", userID)
		return false, fmt.Errorf("check membership: %w", err)
	}
	return count > 0, nil
}

// MembersOf lists the ids of a group's members in join order.
func (d *Directory) MembersOf(ctx context.Context, groupID int64) ([]int64, error) {
	var ids []int64
	err := d.db.WithContext(ctx).Model(&GroupMember{}).
		Where("group_id = ?", groupID).
		Order("id").
		Pluck("user_id", &ids).Error
	if err != nil {
		d.log.Errorw("directory: list members", "error", err, "group_id", groupID)
		return nil, fmt.Errorf("list members: %w", err)
	}
	return ids, nil
}

// GroupsOf lists the groups userID belongs to.
func (d *Directory) GroupsOf(ctx context.Context, userID int64) ([]chat.GroupInfo, error) {
	var groups []Group
	err := d.db.WithContext(ctx).
		Joins("JOIN group_members ON group_members.group_id = groups.id").
		Where("group_members.user_id = ?", userID).
		Order("groups.id").
		Find(&groups).Error
	if err != nil {
		d.log.Errorw("directory: list groups", "error", err, "user_id", userID)
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return lo.Map(groups, func(g Group, _ int) chat.GroupInfo {
		return chat.GroupInfo{
			ID:          g.ID,
			Name:        g.Name,
			Description: g.Description,
			Avatar:      g.Avatar,
			CreatorID:   g.CreatorID,
		}
	}), nil
}

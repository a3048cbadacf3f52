package directory

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/PaulBabatuyi/chatsync/internal/chat"
)

func invalid(msg string) error   { return &chat.Error{Kind: chat.ErrValidation, Msg: msg} }
func forbidden(msg string) error { return &chat.Error{Kind: chat.ErrMembership, Msg: msg} }

var errNotMember = forbidden("You are not a member of this group")

func (d *Directory) group(tx *gorm.DB, groupID int64) (*Group, error) {
	var g Group
	err := tx.First(&g, groupID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &chat.Error{Kind: chat.ErrNotFound, Msg: "Group not found"}
	}
	if err != nil {
		d.log.Errorw("directory: load group", "error", err, "group_id", groupID)
		return nil, fmt.Errorf("load group %d: %w", groupID, err)
	}
	return &g, nil
}

func (d *Directory) membership(tx *gorm.DB, groupID, userID int64) (*GroupMember, error) {
	var m GroupMember
	err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		d.log.Errorw("directory: load membership", "error", err, "group_id", groupID, "user_id", userID)
		return nil, fmt.Errorf("load membership: %w", err)
	}
	return &m, nil
}

// Members lists a group's members with their profiles. Only members may ask.
func (d *Directory) Members(ctx context.Context, groupID, requesterID int64) ([]Member, error) {
	tx := d.db.WithContext(ctx)
	ok, err := d.isMember(tx, groupID, requesterID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotMember
	}

	var out []Member
	err = tx.Table("group_members").
		Select("group_members.user_id, users.name, users.nickname, users.avatar, group_members.role, group_members.joined_at").
		Joins("JOIN users ON users.id = group_members.user_id").
		Where("group_members.group_id = ?", groupID).
		Order("group_members.id").
		Scan(&out).Error
	if err != nil {
		d.log.Errorw("directory: list member profiles", "error", err, "group_id", groupID)
		return nil, fmt.Errorf("list member profiles: %w", err)
	}
	return out, nil
}

// AddMembers adds the actor's friends to a group the actor belongs to and
// returns the ids actually added.
func (d *Directory) AddMembers(ctx context.Context, groupID, actorID int64, userIDs []int64) ([]int64, error) {
	userIDs = lo.Uniq(lo.Without(userIDs, actorID))
	if len(userIDs) == 0 {
		return nil, invalid("memberIds is required")
	}

	var added []int64
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := d.group(tx, groupID); err != nil {
			return err
		}
		ok, err := d.isMember(tx, groupID, actorID)
		if err != nil {
			return err
		}
		if !ok {
			return errNotMember
		}

		var existing []int64
		if err := tx.Model(&GroupMember{}).Where("group_id = ? AND user_id IN ?", groupID, userIDs).Pluck("user_id", &existing).Error; err != nil {
			return fmt.Errorf("load existing members: %w", err)
		}
		added = lo.Without(userIDs, existing...)
		if len(added) == 0 {
			return invalid("All selected users are already members")
		}

		for _, uid := range added {
			var count int64
			err := tx.Model(&Friendship{}).
				Where("status = ?", StatusAccepted).
				Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", actorID, uid, uid, actorID).
				Count(&count).Error
			if err != nil {
				return fmt.Errorf("check friendship: %w", err)
			}
			if count == 0 {
				return invalid("You can only add friends to a group")
			}
		}

		now := d.now()
		rows := lo.Map(added, func(uid int64, _ int) GroupMember {
			return GroupMember{GroupID: groupID, UserID: uid, Role: RoleMember, JoinedAt: now}
		})
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert members: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.log.Infow("directory: members added", "group_id", groupID, "actor_id", actorID, "added", added)
	d.notify(ctx, chat.MembershipChange{GroupID: groupID, ActorID: actorID, Added: added})
	return added, nil
}

// RemoveMember removes userID from a group. Only the creator or an admin
// may do this, and the creator cannot be removed.
func (d *Directory) RemoveMember(ctx context.Context, groupID, actorID, userID int64) error {
	if actorID == userID {
		return d.LeaveGroup(ctx, groupID, userID)
	}

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := d.group(tx, groupID)
		if err != nil {
			return err
		}
		actor, err := d.membership(tx, groupID, actorID)
		if err != nil {
			return err
		}
		if actor == nil {
			return errNotMember
		}
		if actor.Role != RoleAdmin && g.CreatorID != actorID {
			return forbidden("Only group admins can remove members")
		}
		if userID == g.CreatorID {
			return invalid("The group creator cannot be removed")
		}

		res := tx.Where("group_id = ? AND user_id = ?", groupID, userID).Delete(&GroupMember{})
		if res.Error != nil {
			return fmt.Errorf("delete member: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return invalid("User is not a member of this group")
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.log.Infow("directory: member removed", "group_id", groupID, "actor_id", actorID, "user_id", userID)
	d.notify(ctx, chat.MembershipChange{GroupID: groupID, ActorID: actorID, Removed: []int64{userID}})
	return nil
}

// LeaveGroup removes userID from a group at their own request. The creator
// cannot leave.
func (d *Directory) LeaveGroup(ctx context.Context, groupID, userID int64) error {
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := d.group(tx, groupID)
		if err != nil {
			return err
		}
		if g.CreatorID == userID {
			return invalid("The group creator cannot leave the group")
		}
		res := tx.Where("group_id = ? AND user_id = ?", groupID, userID).Delete(&GroupMember{})
		if res.Error != nil {
			return fmt.Errorf("delete member: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errNotMember
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.log.Infow("directory: member left", "group_id", groupID, "user_id", userID)
	d.notify(ctx, chat.MembershipChange{GroupID: groupID, ActorID: userID, Removed: []int64{userID}})
	return nil
}

// CreateUser inserts a user.
func (d *Directory) CreateUser(ctx context.Context, name, nickname string) (*User, error) {
	u := &User{Name: name, Nickname: nickname}
	if err := d.db.WithContext(ctx).Create(u).Error; err != nil {
		d.log.Errorw("directory: create user", "error", err, "name", name)
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Befriend records a friendship from a to b with the given status,
// replacing any earlier status for the pair.
func (d *Directory) Befriend(ctx context.Context, a, b int64, status FriendshipStatus) error {
	if a == b {
		return invalid("cannot befriend yourself")
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var f Friendship
		err := tx.Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", a, b, b, a).First(&f).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&Friendship{UserID: a, FriendID: b, Status: status}).Error
		case err != nil:
			d.log.Errorw("directory: load friendship", "error", err, "user_id", a, "friend_id", b)
			return fmt.Errorf("load friendship: %w", err)
		}
		return tx.Model(&f).Update("status", status).Error
	})
}

// CreateGroup creates a group with the creator as admin plus the given members.
func (d *Directory) CreateGroup(ctx context.Context, creatorID int64, name, description string, memberIDs []int64) (*Group, error) {
	if name == "" {
		return nil, invalid("Group name is required")
	}
	g := &Group{Name: name, Description: description, CreatorID: creatorID}
	added := append([]int64{creatorID}, lo.Without(lo.Uniq(memberIDs), creatorID)...)
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(g).Error; err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		now := d.now()
		rows := []GroupMember{{GroupID: g.ID, UserID: creatorID, Role: RoleAdmin, JoinedAt: now}}
		for _, uid := range added[1:] {
			rows = append(rows, GroupMember{GroupID: g.ID, UserID: uid, Role: RoleMember, JoinedAt: now})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert members: %w", err)
		}
		return nil
	})
	if err != nil {
		d.log.Errorw("directory: create group", "error", err, "creator_id", creatorID)
		return nil, err
	}
	d.log.Infow("directory: group created", "group_id", g.ID, "creator_id", creatorID, "members", len(added))
	d.notify(ctx, chat.MembershipChange{GroupID: g.ID, ActorID: creatorID, Added: added})
	return g, nil
}

// SetRole changes a member's role.
func (d *Directory) SetRole(ctx context.Context, groupID, userID int64, role Role) error {
	if !slices.Contains([]Role{RoleMember, RoleAdmin}, role) {
		return invalid("unknown role")
	}
	res := d.db.WithContext(ctx).Model(&GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Update("role", role)
	if res.Error != nil {
		d.log.Errorw("directory: set role", "error", res.Error, "group_id", groupID, "user_id", userID)
		return fmt.Errorf("set role: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errNotMember
	}
	return nil
}

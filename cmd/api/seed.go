package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/PaulBabatuyi/chatsync/internal/auth"
	"github.com/PaulBabatuyi/chatsync/internal/directory"
)

// seedDemo creates three users who are all friends plus a group, and
// logs a token for each. For local runs only.
func seedDemo(ctx context.Context, log *zap.SugaredLogger, dir *directory.Directory, jwtMgr *auth.JWTManager) error {
	names := []string{"alice", "bob", "carol"}
	users := make([]*directory.User, 0, len(names))
	for _, n := range names {
		u, err := dir.CreateUser(ctx, n, "")
		if err != nil {
			return fmt.Errorf("seed user %s: %w", n, err)
		}
		users = append(users, u)
	}

	for i := range users {
		for j := i + 1; j < len(users); j++ {
			if err := dir.Befriend(ctx, users[i].ID, users[j].ID, directory.StatusAccepted); err != nil {
				return fmt.Errorf("seed friendship: %w", err)
			}
		}
	}

	g, err := dir.CreateGroup(ctx, users[0].ID, "demo", "seeded group", []int64{users[1].ID, users[2].ID})
	if err != nil {
		return fmt.Errorf("seed group: %w", err)
	}
	// bob co-administers the demo group
	if err := dir.SetRole(ctx, g.ID, users[1].ID, directory.RoleAdmin); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	log.Infow("seeded group", "group_id", g.ID, "name", g.Name, "admins", []string{users[0].Name, users[1].Name})

	for _, u := range users {
		token, exp, err := jwtMgr.GenerateToken(u.ID, u.Name)
		if err != nil {
			return fmt.Errorf("token for %s: %w", u.Name, err)
		}
		log.Infow("seeded user", "user_id", u.ID, "name", u.Name, "token", token, "expires_at", exp)
	}
	return nil
}

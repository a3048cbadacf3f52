package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Presence tracks the live connections of each user. A user may hold
// several at once. The registry is process-local.
type Presence struct {
	log  *zap.SugaredLogger
	seen LastSeenRecorder
	now  func() time.Time

	mu    sync.RWMutex
	conns map[int64]map[string]Conn
}

// PresenceOption configures Presence.
type PresenceOption func(*Presence)

// WithClock overrides time.Now for lastSeen stamps.
func WithClock(now func() time.Time) PresenceOption {
	return func(p *Presence) { p.now = now }
}

// NewPresence returns an empty registry that records lastSeen through seen.
func NewPresence(log *zap.SugaredLogger, seen LastSeenRecorder, opts ...PresenceOption) *Presence {
	p := &Presence{
		log:   log,
		seen:  seen,
		now:   time.Now,
		conns: make(map[int64]map[string]Conn),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register adds c to its user's set. The user's first connection is
// announced with user-online to every other connected user. The broadcast
// happens under the registry lock so peers see a user's transitions in the
// order they were applied; Conn.Send never blocks.
func (p *Presence) Register(ctx context.Context, c Conn) bool {
	uid := c.UserID()

	p.mu.Lock()
	set, ok := p.conns[uid]
	if !ok {
		set = make(map[string]Conn)
		p.conns[uid] = set
	}
	first := len(set) == 0
	set[c.ID()] = c
	if first {
		p.broadcast(p.othersLocked(uid), Event{Name: EventUserOnline, Data: PresenceChange{UserID: uid}})
	}
	p.mu.Unlock()

	if err := p.TouchLastSeen(ctx, uid); err != nil {
		p.log.Warnw("touch last seen on connect", "user_id", uid, "error", err)
	}
	return first
}

// Unregister removes c. When the user's last connection goes, the entry is
// dropped and user-offline is broadcast. Unknown connections are ignored.
func (p *Presence) Unregister(ctx context.Context, c Conn) bool {
	uid := c.UserID()

	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.conns[uid]
	if !ok {
		return false
	}
	if _, ok := set[c.ID()]; !ok {
		return false
	}
	delete(set, c.ID())
	if len(set) > 0 {
		return false
	}
	delete(p.conns, uid)
	p.broadcast(p.othersLocked(uid), Event{Name: EventUserOffline, Data: PresenceChange{UserID: uid}})
	return true
}

// TouchLastSeen stamps the user's lastSeen with the current time.
func (p *Presence) TouchLastSeen(ctx context.Context, userID int64) error {
	if p.seen == nil {
		return nil
	}
	return p.seen.TouchLastSeen(ctx, userID, p.now())
}

// ConnectionsFor returns a snapshot of the user's live connections.
func (p *Presence) ConnectionsFor(userID int64) []Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()

	set := p.conns[userID]
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Connected reports whether c itself is still registered.
func (p *Presence) Connected(c Conn) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.conns[c.UserID()][c.ID()]
	return ok
}

// Online reports whether the user has at least one live connection.
func (p *Presence) Online(userID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns[userID]) > 0
}

// Users returns the ids of users with live connections.
func (p *Presence) Users() []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]int64, 0, len(p.conns))
	for uid := range p.conns {
		out = append(out, uid)
	}
	return out
}

func (p *Presence) othersLocked(uid int64) []Conn {
	var out []Conn
	for other, set := range p.conns {
		if other == uid {
			continue
		}
		for _, c := range set {
			out = append(out, c)
		}
	}
	return out
}

func (p *Presence) broadcast(conns []Conn, e Event) {
	for _, c := range conns {
		deliver(p.log, c, e)
	}
}

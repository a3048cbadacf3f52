// Package chattest provides in-memory doubles for the chat collaborators.
package chattest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/PaulBabatuyi/chatsync/internal/chat"
)

// MemoryRepository is a chat.MessageRepository kept in a slice.
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	now    func() time.Time
	rows   []chat.Message
}

// NewMemoryRepository returns an empty repository. Each insert advances the
// clock by one millisecond so createdAt order is deterministic.
func NewMemoryRepository() *MemoryRepository {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r := &MemoryRepository{}
	r.now = func() time.Time { return base.Add(time.Duration(r.nextID) * time.Millisecond) }
	return r
}

func (r *MemoryRepository) Insert(_ context.Context, m chat.Message) (chat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	m.ID = r.nextID
	m.CreatedAt = r.now()
	m.IsRead = false
	r.rows = append(r.rows, m)
	return m, nil
}

// Len returns the number of stored messages.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// All returns every stored message in insertion order.
func (r *MemoryRepository) All() []chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.rows)
}

func between(m chat.Message, a, b int64) bool {
	rid, ok := m.ReceiverID()
	return ok && ((m.SenderID == a && rid == b) || (m.SenderID == b && rid == a))
}

func (r *MemoryRepository) filter(keep func(chat.Message) bool) []chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Filter(r.rows, func(m chat.Message, _ int) bool { return keep(m) })
}

func (r *MemoryRepository) Conversation(_ context.Context, userID, peerID int64) ([]chat.Message, error) {
	return r.filter(func(m chat.Message) bool { return between(m, userID, peerID) }), nil
}

func (r *MemoryRepository) GroupMessages(_ context.Context, groupID int64) ([]chat.Message, error) {
	return r.filter(func(m chat.Message) bool {
		gid, ok := m.GroupID()
		return ok && gid == groupID
	}), nil
}

func unreadFrom(m chat.Message, userID, peerID int64) bool {
	rid, ok := m.ReceiverID()
	return ok && !m.IsRead && rid == userID && (peerID == 0 || m.SenderID == peerID)
}

func (r *MemoryRepository) MarkConversationRead(_ context.Context, userID, peerID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.rows {
		if unreadFrom(r.rows[i], userID, peerID) {
			r.rows[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) MarkRead(_ context.Context, messageID, receiverID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ID == messageID && unreadFrom(r.rows[i], receiverID, 0) {
			r.rows[i].IsRead = true
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) CountUnread(_ context.Context, userID int64) (int64, error) {
	return int64(len(r.filter(func(m chat.Message) bool { return unreadFrom(m, userID, 0) }))), nil
}

func (r *MemoryRepository) CountUnreadFrom(_ context.Context, userID, peerID int64) (int64, error) {
	return int64(len(r.filter(func(m chat.Message) bool { return unreadFrom(m, userID, peerID) }))), nil
}

func (r *MemoryRepository) LastPrivate(ctx context.Context, userID, peerID int64) (*chat.Message, error) {
	msgs, _ := r.Conversation(ctx, userID, peerID)
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[len(msgs)-1], nil
}

func (r *MemoryRepository) LastGroup(ctx context.Context, groupID int64) (*chat.Message, error) {
	msgs, _ := r.GroupMessages(ctx, groupID)
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[len(msgs)-1], nil
}

// SocialGraph is an in-memory friend and group directory.
type SocialGraph struct {
	mu       sync.Mutex
	names    map[int64]string
	friends  map[int64][]int64
	groups   map[int64][]int64
	LastSeen map[int64]time.Time
	Err      error
}

// NewSocialGraph returns an empty graph.
func NewSocialGraph() *SocialGraph {
	return &SocialGraph{
		names:    map[int64]string{},
		friends:  map[int64][]int64{},
		groups:   map[int64][]int64{},
		LastSeen: map[int64]time.Time{},
	}
}

// Befriend records an accepted friendship between a and b.
func (g *SocialGraph) Befriend(a, b int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.friends[a] = lo.Uniq(append(g.friends[a], b))
	g.friends[b] = lo.Uniq(append(g.friends[b], a))
}

// SetMembers replaces a group's member list.
func (g *SocialGraph) SetMembers(groupID int64, members ...int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.groups[groupID] = slices.Clone(members)
}

func (g *SocialGraph) IsAcceptedFriend(_ context.Context, a, b int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Contains(g.friends[a], b), g.Err
}

func (g *SocialGraph) FriendsOf(_ context.Context, userID int64) ([]chat.Peer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return lo.Map(g.friends[userID], func(id int64, _ int) chat.Peer {
		return chat.Peer{ID: id, Name: fmt.Sprintf("user-%d", id)}
	}), g.Err
}

func (g *SocialGraph) PeersByID(_ context.Context, ids []int64) (map[int64]chat.Peer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	return lo.SliceToMap(ids, func(id int64) (int64, chat.Peer) {
		return id, chat.Peer{ID: id, Name: fmt.Sprintf("user-%d", id)}
	}), nil
}

func (g *SocialGraph) IsMember(_ context.Context, groupID, userID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Contains(g.groups[groupID], userID), g.Err
}

func (g *SocialGraph) MembersOf(_ context.Context, groupID int64) ([]int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.groups[groupID]), g.Err
}

func (g *SocialGraph) GroupsOf(_ context.Context, userID int64) ([]chat.GroupInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := lo.Keys(g.groups)
	slices.Sort(ids)
	var out []chat.GroupInfo
	for _, id := range ids {
		if slices.Contains(g.groups[id], userID) {
			out = append(out, chat.GroupInfo{ID: id, Name: fmt.Sprintf("group-%d", id)})
		}
	}
	return out, g.Err
}

func (g *SocialGraph) TouchLastSeen(_ context.Context, userID int64, at time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.LastSeen[userID] = at
	return nil
}

// ErrClosed is returned by Send on a closed RecordingConn.
var ErrClosed = errors.New("connection closed")

// RecordingConn is a chat.Conn that keeps every event it is sent.
type RecordingConn struct {
	id   string
	user int64

	mu     sync.Mutex
	events []chat.Event
	closed bool
	Fail   bool
}

// NewConn returns a connection for user with the given id.
func NewConn(id string, user int64) *RecordingConn {
	return &RecordingConn{id: id, user: user}
}

func (c *RecordingConn) ID() string    { return c.id }
func (c *RecordingConn) UserID() int64 { return c.user }

func (c *RecordingConn) Send(e chat.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail || c.closed {
		return ErrClosed
	}
	// round-trip through JSON like a real socket so payload shapes are checked
	if _, err := json.Marshal(e); err != nil {
		return err
	}
	c.events = append(c.events, e)
	return nil
}

func (c *RecordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *RecordingConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns the names of received events in order.
func (c *RecordingConn) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.Map(c.events, func(e chat.Event, _ int) string { return e.Name })
}

// Last returns the most recent event with the given name.
func (c *RecordingConn) Last(name string) (chat.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Name == name {
			return c.events[i], true
		}
	}
	return chat.Event{}, false
}

// Count returns how many events with the given name were received.
func (c *RecordingConn) Count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.CountBy(c.events, func(e chat.Event) bool { return e.Name == name })
}

// Reset forgets received events.
func (c *RecordingConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

package chat

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Conn is a live client connection.
type Conn interface {
	ID() string
	UserID() int64
	// Send queues an event for the client. It must not block on a slow
	// client and must not call back into Presence.
	Send(e Event) error
	Close() error
}

// UserTopic is the personal channel of a user.
func UserTopic(userID int64) string { return fmt.Sprintf("user-%d", userID) }

// GroupTopic is the broadcast channel of a group.
func GroupTopic(groupID int64) string { return fmt.Sprintf("group-%d", groupID) }

// Bus fans events out to the connections subscribed to a topic.
type Bus interface {
	Join(topic string, c Conn)
	Leave(topic string, c Conn)
	LeaveAll(c Conn)
	// Publish delivers e to every subscriber and returns how many accepted it.
	Publish(topic string, e Event) int
	Subscribed(topic string, c Conn) bool
}

// LocalBus is an in-process Bus. Subscriptions are lost on restart.
type LocalBus struct {
	log *zap.SugaredLogger

	mu     sync.RWMutex
	topics map[string]map[string]Conn
	joined map[string]map[string]struct{}
}

// NewLocalBus returns an empty bus.
func NewLocalBus(log *zap.SugaredLogger) *LocalBus {
	return &LocalBus{
		log:    log,
		topics: make(map[string]map[string]Conn),
		joined: make(map[string]map[string]struct{}),
	}
}

func (b *LocalBus) Join(topic string, c Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[topic]; !ok {
		b.topics[topic] = make(map[string]Conn)
	}
	b.topics[topic][c.ID()] = c

	if _, ok := b.joined[c.ID()]; !ok {
		b.joined[c.ID()] = make(map[string]struct{})
	}
	b.joined[c.ID()][topic] = struct{}{}
}

func (b *LocalBus) Leave(topic string, c Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(topic, c.ID())
}

func (b *LocalBus) LeaveAll(c Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic := range b.joined[c.ID()] {
		b.leaveLocked(topic, c.ID())
	}
}

func (b *LocalBus) leaveLocked(topic, connID string) {
	if subs, ok := b.topics[topic]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
	if topics, ok := b.joined[connID]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(b.joined, connID)
		}
	}
}

func (b *LocalBus) Subscribed(topic string, c Conn) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.topics[topic][c.ID()]
	return ok
}

// Publish is best-effort: a subscriber that fails is closed and skipped.
func (b *LocalBus) Publish(topic string, e Event) int {
	b.mu.RLock()
	subs := make([]Conn, 0, len(b.topics[topic]))
	for _, c := range b.topics[topic] {
		subs = append(subs, c)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, c := range subs {
		if deliver(b.log, c, e) {
			delivered++
		}
	}
	return delivered
}

// deliver sends e to c. A failed connection is closed; its read loop then
// unregisters it.
func deliver(log *zap.SugaredLogger, c Conn, e Event) bool {
	if err := c.Send(e); err != nil {
		log.Debugw("push dropped",
			"event", e.Name,
			"conn", c.ID(),
			"user_id", c.UserID(),
			"error", fmt.Errorf("%w: %w", ErrDelivery, err),
		)
		_ = c.Close()
		return false
	}
	return true
}

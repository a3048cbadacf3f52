package chat_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/PaulBabatuyi/chatsync/internal/chat"
	"github.com/PaulBabatuyi/chatsync/internal/chattest"
)

type staticAuth map[string]int64

func (a staticAuth) Authenticate(token string) (int64, error) {
	if id, ok := a[token]; ok {
		return id, nil
	}
	return 0, errors.New("bad token")
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

type harness struct {
	repo     *chattest.MemoryRepository
	graph    *chattest.SocialGraph
	bus      *chat.LocalBus
	presence *chat.Presence
	store    *chat.Conversations
	router   *chat.Router
	gateway  *chat.Gateway
}

func newHarness(t *testing.T, opts ...chat.GatewayOption) *harness {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()

	h := &harness{
		repo:  chattest.NewMemoryRepository(),
		graph: chattest.NewSocialGraph(),
	}
	h.bus = chat.NewLocalBus(log)
	h.presence = chat.NewPresence(log, h.graph, chat.WithClock(func() time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}))
	h.store = chat.NewConversations(log, h.repo, h.graph, h.graph, chat.WithProfiles(h.graph))
	h.router = chat.NewRouter(log, h.store, h.graph, h.graph, h.presence, h.bus)
	h.gateway = chat.NewGateway(log, staticAuth{"token-a": 1, "token-b": 2}, h.presence, h.bus, h.router, h.graph, opts...)
	return h
}

// connect opens a live connection for user through the gateway.
func (h *harness) connect(t *testing.T, id string, user int64) *chattest.RecordingConn {
	t.Helper()
	c := chattest.NewConn(id, user)
	require.NoError(t, h.gateway.Connect(context.Background(), c))
	return c
}

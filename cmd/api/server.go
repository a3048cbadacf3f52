package main

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/chatsync/internal/chat"
	"github.com/PaulBabatuyi/chatsync/internal/directory"
	"github.com/PaulBabatuyi/chatsync/internal/middleware"
)

// groupAdmin is the group management surface of the directory.
type groupAdmin interface {
	Members(ctx context.Context, groupID, requesterID int64) ([]directory.Member, error)
	AddMembers(ctx context.Context, groupID, actorID int64, userIDs []int64) ([]int64, error)
	RemoveMember(ctx context.Context, groupID, actorID, userID int64) error
	LeaveGroup(ctx context.Context, groupID, userID int64) error
}

// Server holds the components the HTTP and WebSocket handlers call into.
type Server struct {
	log        *zap.SugaredLogger
	auth       chat.Authenticator
	store      *chat.Conversations
	router     *chat.Router
	presence   *chat.Presence
	gateway    *chat.Gateway
	groups     groupAdmin
	limiter    *middleware.LimiterStore
	sendBuffer int
}

// newServer returns a ready-to-use Server.
func newServer(
	log *zap.SugaredLogger,
	authn chat.Authenticator,
	store *chat.Conversations,
	router *chat.Router,
	presence *chat.Presence,
	gateway *chat.Gateway,
	groups groupAdmin,
	limiter *middleware.LimiterStore,
	sendBuffer int,
) *Server {
	return &Server{
		log:        log,
		auth:       authn,
		store:      store,
		router:     router,
		presence:   presence,
		gateway:    gateway,
		groups:     groups,
		limiter:    limiter,
		sendBuffer: sendBuffer,
	}
}

// routes builds the fiber app.
func (s *Server) routes() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          s.errorHandler,
		DisableStartupMessage: true,
	})
	app.Use(s.requestLog)

	// the socket authenticates from the query string before the upgrade
	app.Get("/api/ws", s.upgradeSocket, websocket.New(s.serveSocket))

	api := app.Group("/api", s.requireAuth, s.touchLastSeen, middleware.RateLimit(s.limiter, rateKey))

	msgs := api.Group("/messages")
	msgs.Get("/chats", s.listChats)
	msgs.Get("/unread-count", s.unreadCount)
	msgs.Get("/chat/:friendId", s.getConversation)
	msgs.Put("/chat/:friendId/read-all", s.markConversationRead)
	msgs.Post("/group", s.sendGroupMessage)
	msgs.Get("/group/:groupId", s.getGroupMessages)
	msgs.Put("/:messageId/read", s.markMessageRead)
	msgs.Post("/", s.sendMessage)

	groups := api.Group("/groups")
	groups.Get("/:groupId/members", s.listMembers)
	groups.Post("/:groupId/members", s.addMembers)
	groups.Delete("/:groupId/members/:userId", s.removeMember)
	groups.Delete("/:groupId/leave", s.leaveGroup)

	return app
}

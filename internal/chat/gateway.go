package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// ErrUnauthenticated rejects a connection without a valid bearer token.
var ErrUnauthenticated = errors.New("unauthenticated")

// Gateway binds live connections to presence and channels and routes
// their inbound events. One Gateway is built per process and shared by
// every connection handler.
type Gateway struct {
	log      *zap.SugaredLogger
	auth     Authenticator
	presence *Presence
	bus      Bus
	router   *Router
	groups   Memberships
	limiter  Limiter

	parsers fastjson.ParserPool
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithLimiter rate limits inbound events per user.
func WithLimiter(l Limiter) GatewayOption {
	return func(g *Gateway) { g.limiter = l }
}

// NewGateway wires a Gateway.
func NewGateway(log *zap.SugaredLogger, auth Authenticator, presence *Presence, bus Bus, router *Router, groups Memberships, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		log:      log,
		auth:     auth,
		presence: presence,
		bus:      bus,
		router:   router,
		groups:   groups,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate resolves the token presented at connection time.
func (g *Gateway) Authenticate(token string) (int64, error) {
	if token == "" {
		return 0, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	uid, err := g.auth.Authenticate(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return uid, nil
}

// Connect subscribes c to its user's channel and to every group the user
// belongs to now, then registers it with presence. Later membership
// changes arrive through the router or join-group.
func (g *Gateway) Connect(ctx context.Context, c Conn) error {
	uid := c.UserID()
	groups, err := g.groups.GroupsOf(ctx, uid)
	if err != nil {
		return fmt.Errorf("load groups for %d: %w", uid, err)
	}

	g.bus.Join(UserTopic(uid), c)
	for _, gr := range groups {
		g.bus.Join(GroupTopic(gr.ID), c)
	}
	g.presence.Register(ctx, c)

	g.log.Infow("connection accepted", "conn", c.ID(), "user_id", uid, "groups", len(groups))
	return nil
}

// Disconnect unregisters c and then drops every subscription. A join that
// races with it sees c gone from presence and undoes itself.
func (g *Gateway) Disconnect(ctx context.Context, c Conn) {
	g.presence.Unregister(ctx, c)
	g.bus.LeaveAll(c)
	g.log.Infow("connection closed", "conn", c.ID(), "user_id", c.UserID())
}

type sendMessagePayload struct {
	ReceiverID int64  `json:"receiverId" validate:"gt=0"`
	Text       string `json:"text"`
}

type sendGroupPayload struct {
	GroupID int64  `json:"groupId" validate:"gt=0"`
	Text    string `json:"text"`
}

type markReadPayload struct {
	FriendID int64 `json:"friendId" validate:"gt=0"`
}

type groupPayload struct {
	GroupID int64 `json:"groupId" validate:"gt=0"`
}

// Dispatch handles one inbound frame of the form {"event": name, "data": {...}}.
// Failures are reported to c as an error event.
func (g *Gateway) Dispatch(ctx context.Context, c Conn, frame []byte) {
	if err := g.dispatch(ctx, c, frame); err != nil {
		g.fail(c, err)
	}
}

func (g *Gateway) dispatch(ctx context.Context, c Conn, frame []byte) error {
	uid := c.UserID()

	p := g.parsers.Get()
	defer g.parsers.Put(p)

	v, err := p.ParseBytes(frame)
	if err != nil {
		return validationf("malformed frame")
	}
	name := string(v.GetStringBytes("event"))
	if name == "" {
		return validationf("event is required")
	}
	if g.limiter != nil && !g.limiter.Allow(fmt.Sprintf("user:%d", uid)) {
		return validationf("rate limit exceeded")
	}

	switch name {
	case EventSendMessage:
		in := sendMessagePayload{
			ReceiverID: v.GetInt64("data", "receiverId"),
			Text:       string(v.GetStringBytes("data", "text")),
		}
		if err := Validate(in); err != nil {
			return err
		}
		_, err := g.router.SendPrivate(ctx, uid, in.ReceiverID, in.Text)
		return err

	case EventSendGroupMessage:
		in := sendGroupPayload{
			GroupID: v.GetInt64("data", "groupId"),
			Text:    string(v.GetStringBytes("data", "text")),
		}
		if err := Validate(in); err != nil {
			return err
		}
		_, err := g.router.SendGroup(ctx, uid, in.GroupID, in.Text)
		return err

	case EventMarkRead:
		in := markReadPayload{FriendID: v.GetInt64("data", "friendId")}
		if err := Validate(in); err != nil {
			return err
		}
		_, err := g.router.MarkRead(ctx, uid, in.FriendID)
		return err

	case EventJoinGroup:
		in := groupPayload{GroupID: v.GetInt64("data", "groupId")}
		if err := Validate(in); err != nil {
			return err
		}
		ok, err := g.groups.IsMember(ctx, in.GroupID, uid)
		if err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if !ok {
			return membershipf("You are not a member of this group")
		}
		topic := GroupTopic(in.GroupID)
		if g.bus.Subscribed(topic, c) {
			g.log.Debugw("already joined", "conn", c.ID(), "group_id", in.GroupID)
			return nil
		}
		g.bus.Join(topic, c)
		return nil

	case EventLeaveGroup:
		in := groupPayload{GroupID: v.GetInt64("data", "groupId")}
		if err := Validate(in); err != nil {
			return err
		}
		g.bus.Leave(GroupTopic(in.GroupID), c)
		return nil
	}
	return validationf("unknown event %q", name)
}

func (g *Gateway) fail(c Conn, err error) {
	if !errors.Is(err, ErrValidation) && !errors.Is(err, ErrMembership) {
		g.log.Errorw("socket event failed", "conn", c.ID(), "user_id", c.UserID(), "error", err)
	}
	deliver(g.log, c, Event{Name: EventError, Data: ErrorPayload{Message: PublicMessage(err)}})
}

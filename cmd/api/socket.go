package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/PaulBabatuyi/chatsync/internal/chat"
	"github.com/PaulBabatuyi/chatsync/internal/normalize"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxFrameSize = 64 << 10
)

var (
	errConnClosed     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// frameWriter is the write side of a websocket connection.
type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// socketConn adapts a websocket to chat.Conn. Events are queued on a
// bounded channel and written by a single goroutine; a client that falls
// behind by more than the buffer is dropped.
type socketConn struct {
	id     string
	userID int64
	ws     frameWriter

	send       chan []byte
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
}

func newSocketConn(userID int64, ws frameWriter, buffer int) *socketConn {
	return &socketConn{
		id:         uuid.NewString(),
		userID:     userID,
		ws:         ws,
		send:       make(chan []byte, buffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (c *socketConn) ID() string    { return c.id }
func (c *socketConn) UserID() int64 { return c.userID }

// Send queues e without blocking.
func (c *socketConn) Send(e chat.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errSendBufferFull
	}
}

// Close stops the writer and closes the socket, which ends the read loop.
func (c *socketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// writePump owns all writes to the socket.
func (c *socketConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.writerDone)
	}()

	for {
		select {
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// upgradeSocket authenticates the upgrade request. The token comes from
// ?token= or the Authorization header.
func (s *Server) upgradeSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	token := c.Query("token")
	if token == "" {
		token = normalize.BearerToken(c.Get(fiber.HeaderAuthorization))
	}
	uid, err := s.gateway.Authenticate(token)
	if err != nil {
		s.log.Debugw("socket rejected", "error", err, "ip", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Unauthorized"})
	}
	c.Locals(userIDKey, uid)
	return c.Next()
}

// serveSocket runs one connection: connect, read and dispatch frames
// until the socket fails, then disconnect.
func (s *Server) serveSocket(ws *websocket.Conn) {
	uid, _ := ws.Locals(userIDKey).(int64)
	conn := newSocketConn(uid, ws, s.sendBuffer)
	ctx := context.Background()

	go conn.writePump()
	defer func() {
		_ = conn.Close()
		<-conn.writerDone
	}()

	if err := s.gateway.Connect(ctx, conn); err != nil {
		s.log.Errorw("socket connect", "user_id", uid, "error", err)
		return
	}
	defer s.gateway.Disconnect(ctx, conn)

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debugw("socket read", "conn", conn.ID(), "user_id", uid, "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		s.gateway.Dispatch(ctx, conn, frame)
	}
}

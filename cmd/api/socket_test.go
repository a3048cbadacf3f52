package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/chatsync/internal/chat"
)

type fakeWriter struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func (f *fakeWriter) WriteMessage(mt int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("write fail")
	}
	if mt == websocket.TextMessage {
		f.frames = append(f.frames, data)
	}
	return nil
}

func (f *fakeWriter) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSocketConn_SendAndWrite(t *testing.T) {
	w := &fakeWriter{}
	c := newSocketConn(7, w, 4)
	go c.writePump()

	if err := c.Send(chat.Event{Name: chat.EventUserOnline, Data: chat.PresenceChange{UserID: 3}}); err != nil {
		t.Fatalf("expected send success, got: %v", err)
	}
	waitFor(t, func() bool { return w.count() == 1 })

	var got struct {
		Event string `json:"event"`
		Data  struct {
			UserID int64 `json:"userId"`
		} `json:"data"`
	}
	w.mu.Lock()
	err := json.Unmarshal(w.frames[0], &got)
	w.mu.Unlock()
	if err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	if got.Event != chat.EventUserOnline || got.Data.UserID != 3 {
		t.Fatalf("unexpected frame: %+v", got)
	}

	_ = c.Close()
	<-c.writerDone
	if !w.closed {
		t.Fatalf("Close should close the socket")
	}
}

func TestSocketConn_BufferFull(t *testing.T) {
	c := newSocketConn(1, &fakeWriter{}, 1)

	if err := c.Send(chat.Event{Name: "a"}); err != nil {
		t.Fatalf("first send should fit the buffer: %v", err)
	}
	if err := c.Send(chat.Event{Name: "b"}); !errors.Is(err, errSendBufferFull) {
		t.Fatalf("expected errSendBufferFull, got %v", err)
	}
}

func TestSocketConn_SendAfterClose(t *testing.T) {
	c := newSocketConn(1, &fakeWriter{}, 1)
	_ = c.Close()
	_ = c.Close()

	if err := c.Send(chat.Event{Name: "a"}); !errors.Is(err, errConnClosed) {
		t.Fatalf("expected errConnClosed, got %v", err)
	}
}

func TestSocketConn_WriteFailureCloses(t *testing.T) {
	w := &fakeWriter{fail: true}
	c := newSocketConn(1, w, 2)
	go c.writePump()

	if err := c.Send(chat.Event{Name: "a"}); err != nil {
		t.Fatalf("send should queue: %v", err)
	}
	<-c.writerDone
	if err := c.Send(chat.Event{Name: "b"}); !errors.Is(err, errConnClosed) {
		t.Fatalf("a failed write should close the connection, got %v", err)
	}
}

func TestUpgradeRejected(t *testing.T) {
	e := newTestEnv(t, "alice")

	req := httptest.NewRequest("GET", "/api/ws", nil)
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Fatalf("expected 426 for a plain request, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest("GET", "/api/ws?token=garbage", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	resp, err = e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", resp.StatusCode)
	}
}

// frame is an event as read by a client.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// readUntil reads frames until one named event arrives.
func readUntil(t *testing.T, ws *fws.Conn, event string) frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, b, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		var f frame
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("bad frame %s: %v", b, err)
		}
		if f.Event == event {
			return f
		}
	}
}

func TestSocketEndToEnd(t *testing.T) {
	// socket goroutines may log after the test returns
	e := newTestEnvWithLog(t, zap.NewNop().Sugar(), "alice", "bob")
	e.befriend(t, "alice", "bob")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = e.app.Listener(ln) }()
	t.Cleanup(func() { _ = e.app.Shutdown() })

	dial := func(user string) *fws.Conn {
		url := "ws://" + ln.Addr().String() + "/api/ws?token=" + e.tokens[user]
		ws, _, err := fws.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial as %s: %v", user, err)
		}
		t.Cleanup(func() { _ = ws.Close() })
		return ws
	}

	bob := dial("bob")
	waitFor(t, func() bool { return e.srv.presence.Online(e.users["bob"]) })
	alice := dial("alice")

	// bob hears alice come online
	online := readUntil(t, bob, chat.EventUserOnline)
	if !strings.Contains(string(online.Data), id(e.users["alice"])) {
		t.Fatalf("unexpected user-online payload: %s", online.Data)
	}

	send := `{"event":"send-message","data":{"receiverId":` + id(e.users["bob"]) + `,"text":"hey bob"}}`
	if err := alice.WriteMessage(fws.TextMessage, []byte(send)); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := readUntil(t, bob, chat.EventNewMessage)
	var m chat.Message
	if err := json.Unmarshal(got.Data, &m); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if m.Text != "hey bob" || m.SenderID != e.users["alice"] {
		t.Fatalf("unexpected message: %+v", m)
	}
	readUntil(t, alice, chat.EventMessageSent)

	// errors come back on the sending connection
	if err := alice.WriteMessage(fws.TextMessage, []byte(`{"event":"nope"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, alice, chat.EventError)

	// bob leaving is seen by alice
	_ = bob.Close()
	readUntil(t, alice, chat.EventUserOffline)

	_ = alice.Close()
	waitFor(t, func() bool { return len(e.srv.presence.Users()) == 0 })
}

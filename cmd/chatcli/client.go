package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/PaulBabatuyi/chatsync/internal/chat"
)

// session follows one conversation: a friend or a group.
type session struct {
	server string
	token  string
	friend int64
	group  int64
	thread *chat.Thread
	out    io.Writer
}

func (s *session) historyURL() string {
	if s.group > 0 {
		return s.server + "/api/messages/group/" + strconv.FormatInt(s.group, 10)
	}
	return s.server + "/api/messages/chat/" + strconv.FormatInt(s.friend, 10)
}

// socketURL turns the http(s) server address into the ws(s) upgrade URL.
func (s *session) socketURL() (string, error) {
	u, err := url.Parse(s.server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/ws"
	u.RawQuery = url.Values{"token": {s.token}}.Encode()
	return u.String(), nil
}

// fetchHistory loads the conversation over REST and merges it into the thread.
func (s *session) fetchHistory() (int, error) {
	a := fiber.Get(s.historyURL())
	a.Set(fiber.HeaderAuthorization, "Bearer "+s.token)
	if err := a.Parse(); err != nil {
		return 0, err
	}
	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return 0, errs[0]
	}
	if code != fiber.StatusOK {
		return 0, fmt.Errorf("history: %d %s", code, strings.TrimSpace(string(body)))
	}
	var msgs []chat.Message
	if err := json.Unmarshal(body, &msgs); err != nil {
		return 0, fmt.Errorf("decode history: %w", err)
	}
	return s.thread.Add(msgs...), nil
}

// belongs reports whether m is part of the followed conversation.
func (s *session) belongs(m chat.Message) bool {
	k := m.Key()
	if s.group > 0 {
		return k == chat.GroupKey(s.group)
	}
	return k.GroupID == 0 && (k.Low == s.friend || k.High == s.friend)
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// handle applies one server frame to the thread and prints what changed.
func (s *session) handle(frame []byte) error {
	var in inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		return fmt.Errorf("bad frame: %w", err)
	}

	switch in.Event {
	case chat.EventNewMessage, chat.EventMessageSent, chat.EventNewGroupMessage:
		var m chat.Message
		if err := json.Unmarshal(in.Data, &m); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		if s.belongs(m) && s.thread.Add(m) > 0 {
			s.print(m)
		}
	case chat.EventMessagesRead:
		var ev chat.MessagesRead
		if err := json.Unmarshal(in.Data, &ev); err != nil {
			return fmt.Errorf("decode messages-read: %w", err)
		}
		if n := s.thread.ApplyRead(ev); n > 0 {
			fmt.Fprintf(s.out, "-- %d message(s) read by %d\n", n, ev.UserID)
		}
	case chat.EventUserOnline, chat.EventUserOffline:
		var ev chat.PresenceChange
		if err := json.Unmarshal(in.Data, &ev); err == nil && ev.UserID == s.friend {
			fmt.Fprintf(s.out, "-- %d is %s\n", ev.UserID, strings.TrimPrefix(in.Event, "user-"))
		}
	case chat.EventError:
		var ev chat.ErrorPayload
		_ = json.Unmarshal(in.Data, &ev)
		fmt.Fprintf(s.out, "!! %s\n", ev.Message)
	}
	return nil
}

// sendFrame builds the outbound frame for a line typed by the user. "/read"
// marks the private conversation read.
func (s *session) sendFrame(line string) ([]byte, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}
	var e chat.Event
	switch {
	case line == "/read" && s.friend > 0:
		e = chat.Event{Name: chat.EventMarkRead, Data: map[string]int64{"friendId": s.friend}}
	case s.group > 0:
		e = chat.Event{Name: chat.EventSendGroupMessage, Data: map[string]any{"groupId": s.group, "text": line}}
	default:
		e = chat.Event{Name: chat.EventSendMessage, Data: map[string]any{"receiverId": s.friend, "text": line}}
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, false
	}
	return b, true
}

func (s *session) print(m chat.Message) {
	mark := ""
	if m.IsRead {
		mark = " (read)"
	}
	fmt.Fprintf(s.out, "[%s] %d: %s%s\n", m.CreatedAt.Local().Format("15:04:05"), m.SenderID, m.Text, mark)
}

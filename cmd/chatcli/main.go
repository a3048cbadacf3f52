// Command chatcli follows one conversation from a terminal: it loads the
// history over REST, then merges live events from the socket into the same
// thread so nothing shows twice.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/fasthttp/websocket"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/chatsync/internal/chat"
)

type config struct {
	Server string `env:"CHAT_SERVER,default=http://localhost:8080"`
	Token  string `env:"CHAT_TOKEN"`
}

func main() {
	_ = godotenv.Load()
	var cfg config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	friend := flag.Int64("friend", 0, "friend id to chat with")
	group := flag.Int64("group", 0, "group id to chat in")
	flag.StringVar(&cfg.Server, "server", cfg.Server, "server base URL")
	flag.StringVar(&cfg.Token, "token", cfg.Token, "bearer token (or CHAT_TOKEN)")
	flag.Parse()

	if cfg.Token == "" || (*friend <= 0) == (*group <= 0) {
		fmt.Fprintln(os.Stderr, "usage: chatcli -token T (-friend ID | -group ID)")
		os.Exit(2)
	}

	zl, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	s := &session{
		server: cfg.Server,
		token:  cfg.Token,
		friend: *friend,
		group:  *group,
		thread: chat.NewThread(),
		out:    os.Stdout,
	}

	// connect first so nothing sent during the history fetch is missed
	wsURL, err := s.socketURL()
	if err != nil {
		logger.Fatalw("bad server URL", "error", err)
	}
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		logger.Fatalw("connect", "error", err)
	}
	defer ws.Close()

	frames := make(chan []byte, 64)
	go func() {
		defer close(frames)
		for {
			_, b, err := ws.ReadMessage()
			if err != nil {
				logger.Debugw("socket closed", "error", err)
				return
			}
			frames <- b
		}
	}()

	n, err := s.fetchHistory()
	if err != nil {
		logger.Fatalw("fetch history", "error", err)
	}
	for _, m := range s.thread.Messages() {
		s.print(m)
	}
	logger.Debugw("history loaded", "messages", n)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case b, ok := <-frames:
			if !ok {
				return
			}
			if err := s.handle(b); err != nil {
				logger.Warnw("frame", "error", err)
			}
		case line, ok := <-lines:
			if !ok {
				return
			}
			if b, ok := s.sendFrame(line); ok {
				if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
					logger.Errorw("send", "error", err)
					return
				}
			}
		case <-stop:
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

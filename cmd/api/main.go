package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/PaulBabatuyi/chatsync/internal/chat"
	"github.com/PaulBabatuyi/chatsync/internal/data"
	"github.com/PaulBabatuyi/chatsync/internal/db"
	"github.com/PaulBabatuyi/chatsync/internal/directory"
	"github.com/PaulBabatuyi/chatsync/internal/middleware"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	seed := flag.Bool("seed", false, "create demo users, friendships and a group, print their tokens, then exit")
	flag.Parse()

	code, err := run(*seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chat server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// run wires every component and serves until SIGINT/SIGTERM.
func run(seed bool) (int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return exitConfig, err
	}
	jwtMgr, err := cfg.jwtManager()
	if err != nil {
		return exitConfig, err
	}

	zl, err := newLogger(cfg.LogDevelopment)
	if err != nil {
		return exitConfig, fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	log := zl.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Social graph
	dir, err := directory.New(cfg.DirectoryDSN, log.Named("directory"), directory.WithOnlineWindow(cfg.OnlineWindow))
	if err != nil {
		return exitRuntime, err
	}
	defer func() { _ = dir.Close() }()

	if seed {
		if err := seedDemo(ctx, log, dir, jwtMgr); err != nil {
			return exitRuntime, err
		}
		return exitOK, nil
	}

	// Message store
	dbClient, err := db.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return exitRuntime, fmt.Errorf("connect to DB: %w", err)
	}
	defer func() {
		_ = dbClient.Close(context.Background())
	}()
	if err := dbClient.CreateIndexes(ctx); err != nil {
		return exitRuntime, fmt.Errorf("create indexes: %w", err)
	}

	msgs := data.NewMessagesStore(dbClient.MessagesCollection(), dbClient.CountersCollection())
	lastID, err := msgs.LastID(ctx)
	if err != nil {
		return exitRuntime, fmt.Errorf("read message sequence: %w", err)
	}
	log.Infow("message store ready", "database", cfg.MongoDatabase, "last_message_id", lastID)

	limiter := middleware.NewLimiterStore(cfg.RateLimitRPM, cfg.RateLimitBurst, time.Minute)
	defer limiter.Stop()

	chatLog := log.Named("chat")
	store := chat.NewConversations(chatLog, msgs, dir, dir, chat.WithProfiles(dir))
	presence := chat.NewPresence(chatLog, dir)
	bus := chat.NewLocalBus(chatLog)
	router := chat.NewRouter(chatLog, store, dir, dir, presence, bus)
	gateway := chat.NewGateway(chatLog, jwtMgr, presence, bus, router, dir, chat.WithLimiter(limiter))
	dir.Subscribe(router)

	srv := newServer(log.Named("http"), jwtMgr, store, router, presence, gateway, dir, limiter, cfg.SendBuffer)
	app := srv.routes()

	// gRPC health, with TLS when certs are configured
	var grpcOpts []grpc.ServerOption
	if cfg.tlsEnabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return exitConfig, fmt.Errorf("load TLS certs: %w", err)
		}
		grpcOpts = append(grpcOpts, grpc.Creds(creds))
	}
	checker := newHealthChecker(log.Named("health"), cfg.HealthInterval, map[string]pinger{
		"messages":  dbClient,
		"directory": dir,
	})
	healthSrv := checker.grpcServer(grpcOpts...)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HealthPort))
	if err != nil {
		return exitRuntime, fmt.Errorf("listen health: %w", err)
	}

	errCh := make(chan error, 2)
	go checker.run(ctx)
	go func() {
		log.Infow("gRPC health listening", "addr", lis.Addr().String())
		if err := healthSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("health server: %w", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	go func() {
		log.Infow("HTTP listening", "addr", addr, "tls", cfg.tlsEnabled())
		var err error
		if cfg.tlsEnabled() {
			err = app.ListenTLS(addr, cfg.TLSCert, cfg.TLSKey)
		} else {
			err = app.Listen(addr)
		}
		if err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	code := exitOK
	select {
	case <-ctx.Done():
		log.Infow("shutting down", "online_users", len(presence.Users()))
	case err = <-errCh:
		log.Errorw("server failed", "error", err)
		code = exitRuntime
	}

	if serr := app.ShutdownWithTimeout(10 * time.Second); serr != nil {
		log.Warnw("http shutdown", "error", serr)
	}
	healthSrv.GracefulStop()
	return code, err
}

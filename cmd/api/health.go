package main

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// pinger is a dependency whose reachability decides serving status.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthChecker publishes dependency status on the gRPC health service.
// Each dependency is its own service name; "" is serving only when all are.
type healthChecker struct {
	log      *zap.SugaredLogger
	srv      *health.Server
	deps     map[string]pinger
	interval time.Duration
}

func newHealthChecker(log *zap.SugaredLogger, interval time.Duration, deps map[string]pinger) *healthChecker {
	return &healthChecker{
		log:      log,
		srv:      health.NewServer(),
		deps:     deps,
		interval: interval,
	}
}

// check pings every dependency once and updates the published status.
func (h *healthChecker) check(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING
	for name, dep := range h.deps {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := dep.Ping(pctx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			h.log.Warnw("health check failed", "dependency", name, "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
		h.srv.SetServingStatus(name, status)
	}
	h.srv.SetServingStatus("", overall)
}

// run checks immediately and then every interval until ctx is done.
func (h *healthChecker) run(ctx context.Context) {
	h.check(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.check(ctx)
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		}
	}
}

// grpcServer returns a gRPC server exposing only the health service.
func (h *healthChecker) grpcServer(opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, h.srv)
	return s
}

//go:build grpc

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/luxfi/linerpc/tcp"
)

// HealthService is the service name reported by the gRPC surface.
const HealthService = "linerpc.Daemon"

func init() {
	// Register gRPC surface when build tag is enabled
	Register(SurfaceGRPC, serveGRPC)
}

func serveGRPC(ctx context.Context, ln net.Listener, d *tcp.Daemon, log *slog.Logger) error {
	hs := health.NewServer()
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Debug("grpc surface stopping", "clients", d.Count())
	hs.Shutdown()
	srv.GracefulStop()
	if err := <-errCh; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// HealthCheck asks the gRPC surface at addr whether the daemon is serving.
func HealthCheck(ctx context.Context, addr string) (bool, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return false, fmt.Errorf("grpc dial: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/luxfi/linerpc/tcp"
)

// Surface names
const (
	SurfaceJSON = "json" // JSON-RPC 2.0 over HTTP, default
	SurfaceGRPC = "grpc" // gRPC health service, requires build tag
)

// Path is where the JSON surface serves requests.
const Path = "/rpc"

// ServeFunc serves one admin surface for d on ln until ctx ends.
type ServeFunc func(ctx context.Context, ln net.Listener, d *tcp.Daemon, log *slog.Logger) error

var (
	surfacesMu sync.RWMutex
	surfaces   = map[string]ServeFunc{
		SurfaceJSON: serveJSON,
	}
)

// Register adds a surface, replacing any with the same name.
func Register(name string, fn ServeFunc) {
	surfacesMu.Lock()
	defer surfacesMu.Unlock()
	surfaces[name] = fn
}

// Surfaces returns the available surface names, sorted.
func Surfaces() []string {
	surfacesMu.RLock()
	defer surfacesMu.RUnlock()
	names := make([]string, 0, len(surfaces))
	for name := range surfaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasSurface checks if a surface is available.
func HasSurface(name string) bool {
	_, ok := lookup(name)
	return ok
}

func lookup(name string) (ServeFunc, bool) {
	surfacesMu.RLock()
	defer surfacesMu.RUnlock()
	fn, ok := surfaces[name]
	return fn, ok
}

// Serve listens on addr and serves the named surface until ctx ends.
func Serve(ctx context.Context, name, addr string, d *tcp.Daemon, log *slog.Logger) error {
	fn, ok := lookup(name)
	if !ok {
		return fmt.Errorf("unknown admin surface: %s", name)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin listen: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	log.Info("admin surface listening", "surface", name, "addr", ln.Addr().String())
	return fn(ctx, ln, d, log)
}

func serveJSON(ctx context.Context, ln net.Listener, d *tcp.Daemon, log *slog.Logger) error {
	h, err := NewHandler(d, log)
	if err != nil {
		ln.Close()
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(Path, h)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

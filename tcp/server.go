// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tcp

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/luxfi/linerpc/internal/pool"
	"github.com/luxfi/linerpc/internal/vsync"
)

var (
	ErrServerClosed = errors.New("tcp: server closed")
	ErrServerFull   = errors.New("tcp: too many clients")
)

// Conn is a registered client connection.
type Conn struct {
	net.Conn

	id   uuid.UUID
	addr string

	mu    sync.Mutex
	value any

	handle *pool.Handle
	elem   *list.Element
}

func newConn(nc net.Conn) *Conn {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Conn{
		Conn: nc,
		id:   id,
		addr: nc.RemoteAddr().String(),
	}
}

func (c *Conn) ID() uuid.UUID { return c.id }
func (c *Conn) Addr() string  { return c.addr }

// Value returns the value attached by SetValue, usually from the accept hook.
func (c *Conn) Value() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *Conn) SetValue(v any) {
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
}

// Wait blocks until the connection's handler has returned or ctx ends.
func (c *Conn) Wait(ctx context.Context) error {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Join(ctx)
}

// Server accepts TCP connections and serves each one on its own task until
// the connect hook returns.
type Server struct {
	listener net.Listener
	opts     *options
	log      *slog.Logger

	mu      sync.Mutex
	clients *list.List
	// holds its token while no client is registered
	empty *vsync.Semaphore

	closed   atomic.Bool
	acceptWG sync.WaitGroup
}

// Listen binds addr and returns a server that is not yet accepting.
func Listen(addr string, opts ...Option) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen: %w", err)
	}
	return NewServer(ln, opts...), nil
}

// NewServer serves connections from an existing listener.
func NewServer(ln net.Listener, opts ...Option) *Server {
	o := newOptions(opts)
	return &Server{
		listener: ln,
		opts:     o,
		log:      o.log,
		clients:  list.New(),
		empty:    vsync.NewBinary(true),
	}
}

// Start runs the accept loop on a background goroutine.
func (s *Server) Start(ctx context.Context) {
	s.acceptWG.Add(1)
	go func() {
		defer s.acceptWG.Done()
		if err := s.serve(ctx); err != nil && !errors.Is(err, ErrServerClosed) {
			s.log.Error("accept loop stopped", "err", err)
		}
	}()
}

// Serve accepts connections until the server is stopped.
func (s *Server) Serve(ctx context.Context) error {
	s.acceptWG.Add(1)
	defer s.acceptWG.Done()
	return s.serve(ctx)
}

func (s *Server) serve(ctx context.Context) error {
	s.log.Info("listening", "addr", s.Addr().String())
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			s.log.Debug("accept failed", "err", err)
			continue
		}
		s.handleConn(ctx, nc)
	}
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	c := newConn(nc)
	log := s.log.With("client", c.addr, "id", c.id.String())

	// a full or closed server rejects before the accept hook sees the client
	if err := s.admit(); err != nil {
		log.Warn("connection rejected", "err", err)
		nc.Close()
		return
	}
	if s.opts.onAccept != nil {
		if err := s.opts.onAccept(c); err != nil {
			log.Info("connection rejected", "err", err)
			nc.Close()
			return
		}
	}
	if err := s.link(c); err != nil {
		log.Warn("connection rejected", "err", err)
		nc.Close()
		return
	}
	log.Debug("client connected", "clients", s.Count())

	h, err := s.opts.spawner.Go(func() {
		if s.opts.onConnect != nil {
			s.opts.onConnect(ctx, c)
		}
		s.finish(c)
		log.Debug("client disconnected", "clients", s.Count())
	})
	if err != nil {
		log.Warn("connection rejected", "err", err)
		s.finish(c)
		return
	}
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
}

func (s *Server) admit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitLocked()
}

func (s *Server) admitLocked() error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if s.opts.maxClients > 0 && s.clients.Len() >= s.opts.maxClients {
		return ErrServerFull
	}
	return nil
}

func (s *Server) link(c *Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.admitLocked(); err != nil {
		return err
	}
	if s.clients.Len() == 0 {
		s.empty.TryWait()
	}
	c.elem = s.clients.PushBack(c)
	return nil
}

func (s *Server) unlink(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.elem == nil {
		return
	}
	s.clients.Remove(c.elem)
	c.elem = nil
	if s.clients.Len() == 0 {
		_ = s.empty.Post()
	}
}

func (s *Server) finish(c *Conn) {
	s.unlink(c)
	if s.opts.onDisconnect != nil {
		s.opts.onDisconnect(c)
	}
	c.Close()
}

// Count returns the number of registered connections.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients.Len()
}

// ForEach calls fn for every registered connection in connection order
// while holding the registry lock. fn returning false stops the walk.
func (s *Server) ForEach(fn func(*Conn) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for e := s.clients.Front(); e != nil; e = e.Next() {
		if !fn(e.Value.(*Conn)) {
			return
		}
	}
}

// Conns returns a snapshot of the registered connections.
func (s *Server) Conns() []*Conn {
	var out []*Conn
	s.ForEach(func(c *Conn) bool {
		out = append(out, c)
		return true
	})
	return out
}

// Stop closes the listener and every client socket, then waits until all
// connection handlers have returned or ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.listener.Close()
	s.acceptWG.Wait()

	s.ForEach(func(c *Conn) bool {
		c.Close()
		return true
	})
	if werr := s.empty.Wait(ctx); werr != nil {
		return fmt.Errorf("tcp stop: %w", werr)
	}
	_ = s.empty.Post()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

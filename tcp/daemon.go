// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tcp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/luxfi/linerpc"
)

// Peer is one client session of a Daemon. Every use of the session outside
// the daemon's own loop must hold the peer through Do.
type Peer struct {
	mu   sync.Mutex
	conn *Conn
	sess *linerpc.Session
}

func (p *Peer) ID() uuid.UUID { return p.conn.ID() }
func (p *Peer) Addr() string  { return p.conn.Addr() }
func (p *Peer) Conn() *Conn   { return p.conn }

// Session returns the peer's session. Callers must hold the peer lock, see Do.
func (p *Peer) Session() *linerpc.Session { return p.sess }

// Do runs fn with the peer lock held.
func (p *Peer) Do(fn func(*linerpc.Session) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fn(p.sess)
}

// State reports the session state under the peer lock.
func (p *Peer) State() linerpc.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess.State()
}

// Daemon serves a linerpc session on every accepted connection and can push
// calls to its clients.
type Daemon struct {
	srv  *Server
	opts *options
	log  *slog.Logger

	peers    sync.Map // *linerpc.Session -> *Peer
	stopping atomic.Bool
}

// NewDaemon binds addr. Sessions are configured with WithSessionOptions; the
// peer is always allowed to call exit.
func NewDaemon(addr string, opts ...Option) (*Daemon, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewDaemonListener(ln, opts...), nil
}

// NewDaemonListener serves an existing listener.
func NewDaemonListener(ln net.Listener, opts ...Option) *Daemon {
	d := &Daemon{}
	all := append([]Option{}, opts...)
	all = append(all, WithConnectHook(d.serve))
	d.srv = NewServer(ln, all...)
	d.opts = d.srv.opts
	d.log = d.srv.log
	return d
}

func (d *Daemon) Server() *Server { return d.srv }
func (d *Daemon) Addr() net.Addr  { return d.srv.Addr() }
func (d *Daemon) Count() int      { return d.srv.Count() }

// Start accepts connections on a background goroutine.
func (d *Daemon) Start(ctx context.Context) { d.srv.Start(ctx) }

// Serve accepts connections until Stop.
func (d *Daemon) Serve(ctx context.Context) error { return d.srv.Serve(ctx) }

// Stop ends every peer loop and waits for the clients to drain.
func (d *Daemon) Stop(ctx context.Context) error {
	d.stopping.Store(true)
	return d.srv.Stop(ctx)
}

func (d *Daemon) serve(ctx context.Context, c *Conn) {
	t := linerpc.NewTransport(c.Conn)
	opts := append([]linerpc.Option{
		linerpc.WithLogger(d.log),
		linerpc.WithPeer(c.Addr()),
		linerpc.WithValue(c),
	}, d.opts.session...)
	sess := linerpc.NewSession(t, opts...)
	sess.SetPerm(sess.Perm() | linerpc.PermExit)

	p := &Peer{conn: c, sess: sess}
	d.peers.Store(sess, p)
	c.SetValue(p)
	defer func() {
		d.peers.Delete(sess)
		p.mu.Lock()
		sess.Release()
		p.mu.Unlock()
		t.Close()
	}()

	err := serveLoop(ctx, &p.mu, sess, t, d.opts.selectTimeout, d.stopping.Load)
	switch {
	case err == nil, errors.Is(err, linerpc.ErrEOP):
		d.log.Debug("peer closed", "client", c.Addr())
	case errors.Is(err, linerpc.ErrExit):
		d.log.Info("peer exited", "client", c.Addr(), "value", sess.ExitValue())
	default:
		d.log.Warn("peer loop stopped", "client", c.Addr(), "err", err)
	}
}

// PeerOf returns the peer a session belongs to, so a handler can find its
// own connection.
func (d *Daemon) PeerOf(s *linerpc.Session) *Peer {
	if v, ok := d.peers.Load(s); ok {
		return v.(*Peer)
	}
	return nil
}

// Peers returns a snapshot of the connected peers in connection order.
func (d *Daemon) Peers() []*Peer {
	var out []*Peer
	d.srv.ForEach(func(c *Conn) bool {
		if p, ok := c.Value().(*Peer); ok {
			out = append(out, p)
		}
		return true
	})
	return out
}

// ForEach calls fn for every peer, serially, each with its lock held.
func (d *Daemon) ForEach(fn func(*Peer)) {
	for _, p := range d.Peers() {
		p.mu.Lock()
		fn(p)
		p.mu.Unlock()
	}
}

// Broadcast calls argv on every peer except exclude without waiting for
// the results, which the peer loops collect. It returns the number of peers
// the call was sent to; peers with a call outstanding are skipped. A handler
// broadcasting from inside a peer's loop must pass that peer as exclude.
// Handlers of two peers broadcasting at once wait on each other's lock, so
// handlers that may run concurrently should broadcast from a goroutine.
func (d *Daemon) Broadcast(ctx context.Context, exclude *Peer, argv ...string) int {
	sent := 0
	for _, p := range d.Peers() {
		if p == exclude {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		p.mu.Lock()
		err := p.sess.Call(argv...)
		p.mu.Unlock()
		if err != nil {
			d.log.Debug("broadcast skipped peer", "client", p.Addr(), "err", err)
			continue
		}
		sent++
	}
	return sent
}

// BroadcastArgs is Broadcast with arguments converted by linerpc.Args.
func (d *Daemon) BroadcastArgs(ctx context.Context, exclude *Peer, vals ...any) (int, error) {
	argv, err := linerpc.Args(vals...)
	if err != nil {
		return 0, err
	}
	return d.Broadcast(ctx, exclude, argv...), nil
}

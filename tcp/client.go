// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/linerpc"
)

var ErrClientClosed = errors.New("tcp: client closed")

// closeTimeout bounds the wait for the server to acknowledge exit on Close.
const closeTimeout = 2 * time.Second

// Client is one persistent session to a daemon. A background listener
// serves the daemon's calls; foreground calls go through Do.
type Client struct {
	conn net.Conn
	t    *linerpc.StreamTransport
	log  *slog.Logger

	mu   sync.Mutex
	sess *linerpc.Session

	cancel context.CancelFunc
	done   chan struct{}
	err    error
	closed atomic.Bool
}

// Dial connects to addr and starts the listener.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := newOptions(opts)
	if o.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.dialTimeout)
		defer cancel()
	}
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp dial: %w", err)
	}
	return newClient(nc, o), nil
}

// NewClient runs a client over an established connection.
func NewClient(nc net.Conn, opts ...Option) *Client {
	return newClient(nc, newOptions(opts))
}

func newClient(nc net.Conn, o *options) *Client {
	t := linerpc.NewTransport(nc)
	sopts := append([]linerpc.Option{
		linerpc.WithLogger(o.log),
		linerpc.WithPeer(nc.RemoteAddr().String()),
	}, o.session...)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:   nc,
		t:      t,
		log:    o.log,
		sess:   linerpc.NewSession(t, sopts...),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.listen(ctx)
	return c
}

func (c *Client) listen(ctx context.Context) {
	defer close(c.done)
	err := serveLoop(ctx, &c.mu, c.sess, c.t, linerpc.Forever, nil)
	switch {
	case errors.Is(err, linerpc.ErrEOP), errors.Is(err, context.Canceled):
		c.log.Debug("listener stopped", "err", err)
	case errors.Is(err, linerpc.ErrExit):
		c.log.Info("server asked to exit", "value", c.sess.ExitValue())
	default:
		c.log.Warn("listener stopped", "err", err)
	}
	c.err = err
}

// Do runs fn with the session lock held.
func (c *Client) Do(ctx context.Context, fn func(*linerpc.Session) error) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(c.sess)
}

// Call invokes a function on the server and returns its results.
func (c *Client) Call(ctx context.Context, argv ...string) ([]string, error) {
	var res []string
	err := c.Do(ctx, func(s *linerpc.Session) error {
		var err error
		res, err = s.Invoke(ctx, argv...)
		return err
	})
	return res, err
}

// Ping reports whether the server answered the ping builtin.
func (c *Client) Ping(ctx context.Context) (bool, error) {
	var ok bool
	err := c.Do(ctx, func(s *linerpc.Session) error {
		var err error
		ok, err = s.RemotePing(ctx)
		return err
	})
	return ok, err
}

// Done is closed once the listener has stopped.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the listener stopped. It is valid after Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close asks the server to end the session, stops the listener and closes
// the connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	select {
	case <-c.done:
	default:
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := c.sess.RemoteExit(ctx, 0); err != nil {
			c.log.Debug("exit not acknowledged", "err", err)
		}
		cancel()
	}
	c.mu.Unlock()

	err := c.t.Close()
	c.cancel()
	<-c.done

	c.mu.Lock()
	c.sess.Release()
	c.mu.Unlock()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tcp

import (
	"context"
	"log/slog"
	"time"

	"github.com/luxfi/linerpc"
	"github.com/luxfi/linerpc/internal/pool"
)

// DefaultSelectTimeout bounds each readiness wait of a daemon peer loop so
// that shutdown is observed.
const DefaultSelectTimeout = 10 * time.Second

// AcceptFunc runs on the acceptor for every new connection before it is
// registered. A non-nil error rejects the connection.
type AcceptFunc func(c *Conn) error

// ConnectFunc serves one registered connection. The connection is closed
// and unregistered when it returns.
type ConnectFunc func(ctx context.Context, c *Conn)

// DisconnectFunc runs after a connection has been unregistered.
type DisconnectFunc func(c *Conn)

// Option configures a Server, Daemon or Client. Options that do not apply
// to the value being built are ignored.
type Option func(*options)

type options struct {
	log *slog.Logger

	// server
	maxClients   int
	spawner      pool.Spawner
	onAccept     AcceptFunc
	onConnect    ConnectFunc
	onDisconnect DisconnectFunc

	// daemon and client
	session       []linerpc.Option
	selectTimeout time.Duration
	dialTimeout   time.Duration
}

func newOptions(opts []Option) *options {
	o := &options{
		log:           slog.Default(),
		spawner:       pool.GoSpawner{},
		selectTimeout: DefaultSelectTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger. Sessions inherit it unless their own options
// override it.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMaxClients caps the number of registered connections. Connections
// over the cap are closed on accept. Zero means no cap.
func WithMaxClients(n int) Option {
	return func(o *options) { o.maxClients = n }
}

// WithSpawner runs connection handlers through s, for example a fixed
// pool.Pool. A full pool rejects the connection.
func WithSpawner(s pool.Spawner) Option {
	return func(o *options) {
		if s != nil {
			o.spawner = s
		}
	}
}

func WithAcceptHook(fn AcceptFunc) Option {
	return func(o *options) { o.onAccept = fn }
}

func WithConnectHook(fn ConnectFunc) Option {
	return func(o *options) { o.onConnect = fn }
}

func WithDisconnectHook(fn DisconnectFunc) Option {
	return func(o *options) { o.onDisconnect = fn }
}

// WithSessionOptions configures every session bound by a Daemon or Client.
func WithSessionOptions(opts ...linerpc.Option) Option {
	return func(o *options) { o.session = append(o.session, opts...) }
}

// WithSelectTimeout bounds the readiness wait of daemon peer loops.
func WithSelectTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.selectTimeout = d
		}
	}
}

// WithDialTimeout bounds connection setup in Dial.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

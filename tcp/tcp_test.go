// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tcp

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/linerpc"
	"github.com/luxfi/linerpc/internal/pool"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func startDaemon(t *testing.T, opts ...Option) *Daemon {
	t.Helper()
	d, err := NewDaemon("127.0.0.1:0", append([]Option{WithSelectTimeout(50 * time.Millisecond)}, opts...)...)
	require.NoError(t, err)
	d.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, d.Stop(ctx))
	})
	return d
}

func dial(t *testing.T, d *Daemon, opts ...Option) *Client {
	t.Helper()
	c, err := Dial(testContext(t), d.Addr().String(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// waitPeers waits until n sessions are bound, which happens shortly after
// the connection is registered.
func waitPeers(t *testing.T, d *Daemon, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(d.Peers()) == n }, 5*time.Second, 5*time.Millisecond)
}

func TestDaemon_Ping(t *testing.T) {
	d := startDaemon(t)
	c := dial(t, d)

	ok, err := c.Ping(testContext(t))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDaemon_Call(t *testing.T) {
	d := startDaemon(t, WithSessionOptions(linerpc.WithFuncs(linerpc.FuncTable{
		{Name: "echo", Fn: func(_ context.Context, _ *linerpc.Session, argv []string) []string {
			return argv[1:]
		}},
	})))
	c := dial(t, d)
	ctx := testContext(t)

	res, err := c.Call(ctx, "echo", "hello world", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello world", ""}, res)

	_, err = c.Call(ctx, "missing")
	assert.ErrorIs(t, err, linerpc.ErrFNF)

	// the daemon keeps serving after an unknown function
	ok, err := c.Ping(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDaemon_RemoteMemory(t *testing.T) {
	d := startDaemon(t, WithSessionOptions(linerpc.WithPerm(linerpc.PermAll)))
	c := dial(t, d)
	ctx := testContext(t)

	err := c.Do(ctx, func(s *linerpc.Session) error {
		id, err := s.RemoteMalloc(ctx, 16)
		if err != nil {
			return err
		}
		n, err := s.RemoteWrite(ctx, linerpc.Float64s(1.5, -2.25), id, 0, linerpc.FormatDouble)
		if err != nil {
			return err
		}
		assert.Equal(t, 2, n)

		dst := make([]byte, 16)
		n, err = s.RemoteRead(ctx, dst, id, 0, linerpc.FormatDouble)
		if err != nil {
			return err
		}
		assert.Equal(t, 2, n)
		assert.Equal(t, []float64{1.5, -2.25}, linerpc.DecodeFloat64s(dst))
		return s.RemoteFree(ctx, id)
	})
	require.NoError(t, err)
}

func TestDaemon_Callback(t *testing.T) {
	d := startDaemon(t, WithSessionOptions(linerpc.WithFuncs(linerpc.FuncTable{
		{Name: "greet", Fn: func(ctx context.Context, s *linerpc.Session, _ []string) []string {
			res, err := s.Invoke(ctx, "name")
			if err != nil || len(res) == 0 {
				return []string{"hello", "stranger"}
			}
			return []string{"hello", res[0]}
		}},
	})))
	c := dial(t, d, WithSessionOptions(linerpc.WithFuncs(linerpc.FuncTable{
		{Name: "name", Fn: func(context.Context, *linerpc.Session, []string) []string {
			return []string{"bob"}
		}},
	})))

	res, err := c.Call(testContext(t), "greet")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "bob"}, res)
}

func TestDaemon_Broadcast(t *testing.T) {
	var d *Daemon
	d = startDaemon(t, WithSessionOptions(linerpc.WithFuncs(linerpc.FuncTable{
		{Name: "toall", Fn: func(ctx context.Context, s *linerpc.Session, _ []string) []string {
			n := d.Broadcast(ctx, d.PeerOf(s), "msg", "hi!")
			return []string{strconv.Itoa(n)}
		}},
	})))

	got := make(chan string, 4)
	listener := linerpc.WithFuncs(linerpc.FuncTable{
		{Name: "msg", Fn: func(_ context.Context, _ *linerpc.Session, argv []string) []string {
			got <- argv[1]
			return nil
		}},
	})
	sender := dial(t, d)
	dial(t, d, WithSessionOptions(listener))
	dial(t, d, WithSessionOptions(listener))
	waitPeers(t, d, 3)

	res, err := sender.Call(testContext(t), "toall")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, res)

	for i := 0; i < 2; i++ {
		select {
		case msg := <-got:
			assert.Equal(t, "hi!", msg)
		case <-time.After(5 * time.Second):
			t.Fatal("broadcast not received")
		}
	}

	// each listener answered, so its session is stopped again
	require.Eventually(t, func() bool {
		for _, p := range d.Peers() {
			if p.State() == linerpc.StateCalling {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)
}

func TestDaemon_BroadcastIgnoresUnknownFunction(t *testing.T) {
	d := startDaemon(t)
	c := dial(t, d)
	waitPeers(t, d, 1)

	n, err := d.BroadcastArgs(testContext(t), nil, "notice", 42)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// the client answers err -1 and both sides keep serving
	ok, err := c.Ping(testContext(t))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, d.Count())
}

func TestDaemon_ForEachAndPeers(t *testing.T) {
	d := startDaemon(t)
	c1 := dial(t, d)
	dial(t, d)
	waitPeers(t, d, 2)

	peers := d.Peers()
	require.Len(t, peers, 2)
	assert.NotEqual(t, peers[0].ID(), peers[1].ID())

	var versions []string
	d.ForEach(func(p *Peer) {
		v, err := p.Session().RemoteVersion(testContext(t))
		require.NoError(t, err)
		versions = append(versions, v)
	})
	assert.Equal(t, []string{linerpc.Version, linerpc.Version}, versions)

	ok, err := c1.Ping(testContext(t))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClient_CloseSendsExit(t *testing.T) {
	d := startDaemon(t)
	c := dial(t, d)
	waitPeers(t, d, 1)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	<-c.Done()

	waitPeers(t, d, 0)
	_, err := c.Ping(testContext(t))
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestClient_CloseWaitsForExitReply(t *testing.T) {
	a, b := net.Pipe()
	st := linerpc.NewTransport(b)
	defer st.Close()
	server := linerpc.NewSession(st, linerpc.WithPerm(linerpc.PermDefault|linerpc.PermExit))
	served := make(chan error, 1)
	go func() { served <- server.RunForever(context.Background()) }()

	c := NewClient(a)
	require.NoError(t, c.Close())
	select {
	case err := <-served:
		assert.ErrorIs(t, err, linerpc.ErrExit)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not see exit")
	}
	assert.Equal(t, 0, server.ExitValue())
}

func TestClient_CloseSilentServer(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	go io.Copy(io.Discard, b)

	c := NewClient(a)
	start := time.Now()
	require.NoError(t, c.Close())
	assert.Less(t, time.Since(start), closeTimeout+2*time.Second)
	<-c.Done()
}

func TestClient_ServerExit(t *testing.T) {
	d := startDaemon(t)
	c := dial(t, d, WithSessionOptions(linerpc.WithPerm(linerpc.PermDefault|linerpc.PermExit)))
	waitPeers(t, d, 1)

	d.Broadcast(testContext(t), nil, "exit", "7")

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client listener still running")
	}
	assert.ErrorIs(t, c.Err(), linerpc.ErrExit)
}

func TestServer_MaxClients(t *testing.T) {
	release := make(chan struct{})
	srv, err := Listen("127.0.0.1:0",
		WithMaxClients(1),
		WithConnectHook(func(ctx context.Context, c *Conn) {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}),
	)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start(ctx)

	first, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return srv.Count() == 1 }, 5*time.Second, 5*time.Millisecond)

	second, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer second.Close()
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = second.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, srv.Count())

	close(release)
	require.Eventually(t, func() bool { return srv.Count() == 0 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, srv.Stop(testContext(t)))
}

func TestServer_FullSkipsAcceptHook(t *testing.T) {
	var accepts atomic.Int32
	release := make(chan struct{})
	srv, err := Listen("127.0.0.1:0",
		WithMaxClients(1),
		WithAcceptHook(func(*Conn) error {
			accepts.Add(1)
			return nil
		}),
		WithConnectHook(func(ctx context.Context, c *Conn) {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}),
	)
	require.NoError(t, err)
	srv.Start(context.Background())

	first, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return srv.Count() == 1 }, 5*time.Second, 5*time.Millisecond)

	second, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer second.Close()
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = second.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, int32(1), accepts.Load())

	close(release)
	require.Eventually(t, func() bool { return srv.Count() == 0 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, srv.Stop(testContext(t)))
}

func TestServer_Hooks(t *testing.T) {
	accepted := make(chan *Conn, 1)
	gone := make(chan *Conn, 1)
	srv, err := Listen("127.0.0.1:0",
		WithAcceptHook(func(c *Conn) error {
			c.SetValue("tagged")
			accepted <- c
			return nil
		}),
		WithConnectHook(func(_ context.Context, c *Conn) {
			io.Copy(io.Discard, c)
		}),
		WithDisconnectHook(func(c *Conn) { gone <- c }),
	)
	require.NoError(t, err)
	srv.Start(context.Background())

	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)

	c := <-accepted
	assert.Equal(t, "tagged", c.Value())
	assert.Equal(t, byte(7), c.ID()[6]>>4)

	nc.Close()
	assert.Same(t, c, <-gone)
	require.NoError(t, c.Wait(testContext(t)))
	require.NoError(t, srv.Stop(testContext(t)))
}

func TestServer_StopClosesClients(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", WithConnectHook(func(_ context.Context, c *Conn) {
		io.Copy(io.Discard, c)
	}))
	require.NoError(t, err)
	srv.Start(context.Background())

	for i := 0; i < 3; i++ {
		nc, err := net.Dial("tcp", srv.Addr().String())
		require.NoError(t, err)
		defer nc.Close()
	}
	require.Eventually(t, func() bool { return srv.Count() == 3 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Stop(testContext(t)))
	assert.Zero(t, srv.Count())

	_, err = net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	assert.Error(t, err)
}

func TestServer_PoolRejectsWhenBusy(t *testing.T) {
	p := pool.New(1)
	defer p.Close()

	srv, err := Listen("127.0.0.1:0",
		WithSpawner(p),
		WithConnectHook(func(_ context.Context, c *Conn) {
			io.Copy(io.Discard, c)
		}),
	)
	require.NoError(t, err)
	srv.Start(context.Background())
	defer srv.Stop(context.Background())

	first, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return p.Running() == 1 }, 5*time.Second, 5*time.Millisecond)

	second, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer second.Close()
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = second.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, srv.Count())
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cli

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/linerpc"
	"github.com/luxfi/linerpc/tcp"
)

func runClient(t *testing.T, d *tcp.Daemon, args ...string) (string, error) {
	t.Helper()
	cmd := NewClientCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--addr", d.Addr().String()}, args...))
	err := cmd.ExecuteContext(testContext(t))
	return out.String(), err
}

func TestClientCommand(t *testing.T) {
	cmd := NewClientCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "linerpc", cmd.Use)

	for _, name := range []string{"ping", "call", "version", "help", "list", "perm", "put", "get", "mul", "listen", "admin"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err, "Command %s should exist", name)
			assert.Equal(t, name, sub.Name())
		})
	}

	addr := cmd.PersistentFlags().Lookup("addr")
	require.NotNil(t, addr)
	assert.Equal(t, "a", addr.Shorthand)
	assert.Equal(t, "127.0.0.1:4810", addr.DefValue)

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "false", verbose.DefValue)
}

func TestClient_Ping(t *testing.T) {
	d := startDemo(t)
	out, err := runClient(t, d, "ping")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "pong from "+d.Addr().String()), out)
}

func TestClient_Call(t *testing.T) {
	d := startDemo(t)

	out, err := runClient(t, d, "call", "echo", "hello world", "x")
	require.NoError(t, err)
	assert.Equal(t, "hello\\ world x\n", out)

	out, err = runClient(t, d, "call", "atoi", "12345abc")
	require.NoError(t, err)
	assert.Equal(t, "12345\n", out)

	out, err = runClient(t, d, "call", "ping")
	require.NoError(t, err)
	assert.Equal(t, "0 pong\n", out)
}

func TestClient_CallUnknownFunction(t *testing.T) {
	d := startDemo(t)
	_, err := runClient(t, d, "call", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, linerpc.ErrFNF)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestClient_Names(t *testing.T) {
	d := startDemo(t)

	out, err := runClient(t, d, "list")
	require.NoError(t, err)
	assert.Equal(t, "echo\natoi\ntoall\nmul\n", out)

	out, err = runClient(t, d, "help")
	require.NoError(t, err)
	assert.Equal(t, strings.Join(linerpc.BuiltinNames(), "\n")+"\n", out)

	out, err = runClient(t, d, "version")
	require.NoError(t, err)
	assert.Equal(t, linerpc.Version+"\n", out)
}

func TestClient_Perm(t *testing.T) {
	d := startDemo(t)
	out, err := runClient(t, d, "perm")
	require.NoError(t, err)
	p := linerpc.PermDefault | linerpc.PermExit
	assert.Equal(t, strconv.Itoa(int(p))+" "+p.String()+"\n", out)
}

func TestClient_PutGet(t *testing.T) {
	d := startDemo(t, linerpc.WithPerm(linerpc.PermAll))
	dir := t.TempDir()

	src := filepath.Join(dir, "src.bin")
	data := bytes.Repeat([]byte{0xAC, '\n', ' ', 0}, 250)
	require.NoError(t, os.WriteFile(src, data, 0o644))

	out, err := runClient(t, d, "put", src)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "block 0: wrote 1000 bytes in "), out)

	dst := filepath.Join(dir, "dst.bin")
	out, err = runClient(t, d, "get", "64", "--output", dst)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "block 0: read 64 bytes in "), out)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 64), got)
}

func TestClient_PutDenied(t *testing.T) {
	d := startDemo(t)
	src := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))

	_, err := runClient(t, d, "put", src)
	require.Error(t, err)
	assert.ErrorIs(t, err, linerpc.ErrPerm)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestClient_BadArguments(t *testing.T) {
	d := startDemo(t)
	for _, args := range [][]string{
		{"get", "zero"},
		{"get", "0"},
		{"mul", "-"},
		{"put", filepath.Join(t.TempDir(), "missing")},
	} {
		_, err := runClient(t, d, args...)
		require.Error(t, err, "%v", args)
		assert.Equal(t, ExitCommandError, GetExitCode(err), "%v", args)
	}
}

func TestClient_Mul(t *testing.T) {
	d := startDemo(t)
	out, err := runClient(t, d, "mul", "200")
	require.NoError(t, err)
	assert.Contains(t, out, "200 values")
	assert.Contains(t, out, "0 mismatches")
}

func TestClient_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cmd := NewClientCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--addr", addr, "--timeout", "1s", "ping"})
	err = cmd.ExecuteContext(testContext(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestClient_Listen(t *testing.T) {
	d := startDemo(t)

	out := &syncBuffer{}
	cmd := NewClientCommand()
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})
	cmd.SetArgs([]string{"--addr", d.Addr().String(), "listen"})
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(testContext(t)) }()

	require.Eventually(t, func() bool { return len(d.Peers()) == 1 }, 5*time.Second, 5*time.Millisecond)
	ctx := testContext(t)
	assert.Equal(t, 1, d.Broadcast(ctx, nil, "msg", "hi!"))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "msg: hi!")
	}, 5*time.Second, 5*time.Millisecond)

	// unknown calls reach the default handler once the first one is answered
	require.Eventually(t, func() bool {
		return d.Broadcast(ctx, nil, "notice", "a b") == 1
	}, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `call: notice a\ b`)
	}, 5*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return d.Broadcast(ctx, nil, "exit", "7") == 1
	}, 5*time.Second, 5*time.Millisecond)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not return")
	}
	assert.Contains(t, out.String(), "daemon asked to exit")
}

func TestClient_ListenStopsOnCancel(t *testing.T) {
	d := startDemo(t)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := NewClientCommand()
	cmd.SetOut(&syncBuffer{})
	cmd.SetErr(&syncBuffer{})
	cmd.SetArgs([]string{"--addr", d.Addr().String(), "listen"})
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool { return len(d.Peers()) == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not return")
	}
	require.Eventually(t, func() bool { return d.Count() == 0 }, 5*time.Second, 5*time.Millisecond)
}

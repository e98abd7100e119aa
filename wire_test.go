// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpc

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawPeer drives a serving session with hand written lines.
type rawPeer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
	log  strings.Builder
	done chan error
}

func newRawPeer(t *testing.T, opts ...Option) *rawPeer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	a, b := net.Pipe()
	st := NewTransport(b)
	server := NewSession(st, opts...)

	p := &rawPeer{t: t, conn: a, r: bufio.NewReader(a), done: make(chan error, 1)}
	go func() { p.done <- server.RunForever(ctx) }()
	t.Cleanup(func() {
		cancel()
		a.Close()
		st.Close()
	})
	return p
}

func (p *rawPeer) send(line string) {
	p.t.Helper()
	p.log.WriteString("> " + line + "\n")
	_, err := p.conn.Write([]byte(line + "\n"))
	require.NoError(p.t, err)
}

func (p *rawPeer) recv() string {
	p.t.Helper()
	line, err := p.r.ReadString('\n')
	require.NoError(p.t, err)
	line = strings.TrimRight(line, "\n")
	p.log.WriteString("< " + line + "\n")
	return line
}

func (p *rawPeer) expect(want ...string) {
	p.t.Helper()
	for _, w := range want {
		assert.Equal(p.t, w, p.recv())
	}
}

func TestWire_Transcript(t *testing.T) {
	p := newRawPeer(t, WithPerm(PermAll), WithFuncs(echoFuncs()))

	p.send("ping")
	p.expect("ret 0 pong")
	p.send(`echo hello\ world \0`)
	p.expect(`ret hello\ world \0`)
	p.send("malloc 16")
	p.expect("ret 0 0")
	p.send("write 0 0 4 1")
	p.expect("ret 0 4")
	p.send("1")
	p.send("-2")
	p.send("3")
	p.send("40")
	p.expect("ret 0")
	p.send("read 0 0 8 1")
	p.expect("ret 0 4", "1", "-2", "3", "40", "ret 0")
	p.send("stat 0")
	p.expect("ret 0 16 0")
	p.send("free 0")
	p.expect("ret 0")
	p.send("free 0")
	p.expect("ret -12")
	p.send("nope")
	p.expect("err -1")
	p.send("ret 1")
	p.expect("err -11")
	p.send("version")
	p.expect("ret 0 0.9.0")
	p.send("help")
	p.expect("ret malloc free stat read write ping exit help list version perm")
	p.send("list")
	p.expect("ret echo upper")
	p.send("perm")
	p.expect("ret 0 255")
	p.send("exit 3")
	p.expect("ret -13")

	assert.ErrorIs(t, <-p.done, ErrExit)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "session_transcript", []byte(p.log.String()))
}

func TestWire_EmptyLinesSkipped(t *testing.T) {
	p := newRawPeer(t)

	_, err := p.conn.Write([]byte("\r\n\n  \nping\r\n"))
	require.NoError(t, err)
	p.expect("ret 0 pong")
}

func TestWire_RecursiveCallbackRefused(t *testing.T) {
	funcs := FuncTable{
		{"greet", func(ctx context.Context, s *Session, _ []string) []string {
			res, err := s.Invoke(ctx, "name")
			if err != nil {
				return []string{"failed"}
			}
			return append([]string{"hello"}, res...)
		}},
	}
	p := newRawPeer(t, WithFuncs(funcs))

	p.send("greet")
	p.expect("name")

	// a request while the server is calling back is a protocol error
	p.send("ping")
	p.expect("err -11")

	p.send("ret bob")
	p.expect("ret hello bob")

	p.send("ping")
	p.expect("ret 0 pong")
}

func TestWire_ErrReplyEndsCallback(t *testing.T) {
	funcs := FuncTable{
		{"greet", func(ctx context.Context, s *Session, _ []string) []string {
			if _, err := s.Invoke(ctx, "name"); err != nil {
				return []string{"failed", CodeOf(err).Token()}
			}
			return []string{"hello"}
		}},
	}
	p := newRawPeer(t, WithFuncs(funcs))

	p.send("greet")
	p.expect("name")
	p.send("err -1")
	p.expect("ret failed -1")

	p.send("greet")
	p.expect("name")
	p.send("err")
	p.expect("ret failed -11")
}

func TestWire_ReadRejectsBadArguments(t *testing.T) {
	p := newRawPeer(t, WithPerm(PermAll))

	p.send("malloc 8")
	p.expect("ret 0 0")

	for _, req := range []string{
		"read 0 0 4",    // missing format
		"read 0 0 4 9",  // unknown format
		"read 0 8 1 0",  // offset past the end
		"read 0 -1 1 0", // negative offset
		"read 5 0 1 0",  // free slot
		"read 64 0 1 0", // slot out of range
		"read 0 0 0 0",  // nothing to transfer
		"write 0 6 1 3", // a double does not fit
	} {
		p.send(req)
		p.expect("ret -12")
	}

	// a count past the end is clamped
	p.send("read 0 6 100 0")
	p.expect("ret 0 2")
	buf := make([]byte, 2)
	_, err := io.ReadFull(p.r, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0}, buf)
	p.expect("ret 0")

	// counts whose byte size overflows an int are clamped the same way
	for _, count := range []string{"2305843009213693952", "4611686018427387904"} {
		p.send("read 0 0 " + count + " 1")
		p.expect("ret 0 2", "0", "0", "ret 0")
	}
}

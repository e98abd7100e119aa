// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cli

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/luxfi/linerpc"
	"github.com/luxfi/linerpc/tcp"
)

// MaxMulValues bounds the element count of one mul request.
const MaxMulValues = 4 << 20

// MulFactor is what mul multiplies element i by.
func MulFactor(i int) int32 { return int32(i + 65536) }

// Demo holds the functions linerpcd serves to every client.
type Demo struct {
	d   *tcp.Daemon
	log *slog.Logger
}

func NewDemo(log *slog.Logger) *Demo {
	if log == nil {
		log = slog.Default()
	}
	return &Demo{log: log}
}

// Bind sets the daemon toall broadcasts through. It must be called before
// the daemon serves.
func (m *Demo) Bind(d *tcp.Daemon) { m.d = d }

// Funcs returns the function table:
//
//	echo args...   returns its arguments
//	atoi str       returns the leading integer of str, 0 if none
//	toall          sends "msg hi!" to every other client
//	mul n          reads n raw int32 values, returns value i times i+65536
func (m *Demo) Funcs() linerpc.FuncTable {
	return linerpc.FuncTable{
		{Name: "echo", Fn: m.echo},
		{Name: "atoi", Fn: m.atoi},
		{Name: "toall", Fn: m.toall},
		{Name: "mul", Fn: m.mul},
	}
}

func (m *Demo) echo(_ context.Context, _ *linerpc.Session, argv []string) []string {
	return argv[1:]
}

func (m *Demo) atoi(_ context.Context, s *linerpc.Session, argv []string) []string {
	str := ""
	if len(argv) > 1 {
		str = argv[1]
	}
	i := linerpc.ParseInt(str)
	m.log.Info("atoi", "client", s.Peer(), "str", str, "value", i)
	return []string{strconv.Itoa(i)}
}

func (m *Demo) toall(_ context.Context, s *linerpc.Session, _ []string) []string {
	if m.d == nil {
		return nil
	}
	self := m.d.PeerOf(s)
	go func() {
		n := m.d.Broadcast(context.Background(), self, "msg", "hi!")
		m.log.Debug("toall sent", "client", s.Peer(), "peers", n)
	}()
	return nil
}

// mul answers with the transformed values as raw bytes before its result
// line. A count it refuses is answered without reading any data.
func (m *Demo) mul(_ context.Context, s *linerpc.Session, argv []string) []string {
	if len(argv) < 2 {
		return []string{linerpc.CodeBArg.Token()}
	}
	n := linerpc.ParseInt(argv[1])
	if n <= 0 || n > MaxMulValues {
		return []string{linerpc.CodeBArg.Token()}
	}

	buf := make([]byte, n*4)
	if err := s.ReadFull(buf); err != nil {
		m.log.Warn("mul read failed", "client", s.Peer(), "err", err)
		return []string{linerpc.CodeOf(err).Token()}
	}
	vals := linerpc.DecodeInt32s(buf)
	for i := range vals {
		vals[i] *= MulFactor(i)
	}
	if err := s.Write(linerpc.Int32s(vals...)); err != nil {
		m.log.Warn("mul write failed", "client", s.Peer(), "err", err)
		return []string{linerpc.CodeOf(err).Token()}
	}
	return nil
}

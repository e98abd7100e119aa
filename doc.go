// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package linerpc provides a bidirectional, line oriented RPC engine.
//
// Every message is one line of space separated tokens. The first token names
// the function to call, or is "ret" (results follow) or "err" (a status code
// follows). Tokens are escaped with Pack so they may carry spaces, tabs and
// newlines. Either end may call the other, and a call in flight may be
// answered by a callback into the caller.
//
// # Usage
//
// Serving:
//
//	s := linerpc.NewSession(linerpc.NewTransport(conn),
//	    linerpc.WithFuncs(linerpc.FuncTable{
//	        {"echo", func(ctx context.Context, s *linerpc.Session, argv []string) []string {
//	            return argv[1:]
//	        }},
//	    }),
//	    linerpc.WithPerm(linerpc.PermAll),
//	)
//	err := s.RunForever(ctx)
//
// Calling:
//
//	res, err := s.Invoke(ctx, "echo", "hello world")
//	ok, err := s.RemotePing(ctx)
//
// Remote memory:
//
//	id, err := s.RemoteMalloc(ctx, 1024)
//	n, err := s.RemoteWrite(ctx, payload, id, 0, linerpc.FormatBinary)
//
// # Wire example
//
//	> malloc 1024
//	< ret 0 3
//	> read 3 0 4 1
//	< ret 0 4
//	< 1
//	< 2
//	< 3
//	< 4
//	< ret 0
//
// # Architecture
//
// The package separates concerns:
//
//   - codec.go: token escaping and argument vectors
//   - linebuf.go: line buffering over the transport
//   - state.go: session state machine
//   - dispatch.go: request dispatch (user, builtin, default tables)
//   - builtin.go, blocks.go, stream.go: builtins and memory blocks
//   - remote.go: caller side wrappers for the builtins
//   - transport.go: Transport interface and stream adapter
//   - hooks.go: dispatch observability hooks
//
// Related packages:
//
//   - tcp: client registry, daemon and persistent client over TCP
//   - admin: JSON-RPC (and, with the grpc tag, health) control surface
//   - linerpcotel: OpenTelemetry dispatch hook
//   - config: YAML daemon settings
//   - cmd/linerpcd, cmd/linerpc: daemon and client commands
//
// A Session is not safe for concurrent use. The tcp package runs sessions
// over TCP with a per connection mutex.
package linerpc

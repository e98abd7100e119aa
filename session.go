// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpc

import (
	"context"
	"log/slog"
	"time"
)

// Session is one end of a connection. It is not safe for concurrent use:
// callers that share a session between goroutines serialize every entry
// point that touches the transport under one mutex.
type Session struct {
	t     Transport
	state State
	in    lineBuffer

	funcs FuncTable
	def   HandlerFunc
	perm  Perm

	blocks *BlockTable
	ret    []string

	value     any
	exitValue int

	hook DispatchHook
	log  *slog.Logger
	peer string
}

// Option configures a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	funcs     FuncTable
	def       HandlerFunc
	perm      Perm
	value     any
	maxLine   int
	maxBlocks int
	maxBlock  int
	alloc     Allocator
	hook      DispatchHook
	logger    *slog.Logger
	peer      string
}

// WithFuncs sets the user function table.
func WithFuncs(funcs FuncTable) Option {
	return func(o *sessionOptions) { o.funcs = funcs }
}

// WithDefault sets the handler for names found in neither table.
func WithDefault(fn HandlerFunc) Option {
	return func(o *sessionOptions) { o.def = fn }
}

// WithPerm sets the permissions granted to the peer.
func WithPerm(p Perm) Option {
	return func(o *sessionOptions) { o.perm = p }
}

// WithValue attaches an opaque value, available to handlers via Value.
func WithValue(v any) Option {
	return func(o *sessionOptions) { o.value = v }
}

// WithMaxLine bounds the inbound line buffer.
func WithMaxLine(n int) Option {
	return func(o *sessionOptions) { o.maxLine = n }
}

// WithBlocks sets the number of memory block slots and the largest block.
func WithBlocks(slots, maxSize int) Option {
	return func(o *sessionOptions) { o.maxBlocks, o.maxBlock = slots, maxSize }
}

// WithAllocator replaces the allocator used for memory blocks.
func WithAllocator(a Allocator) Option {
	return func(o *sessionOptions) { o.alloc = a }
}

// WithHook installs a dispatch hook.
func WithHook(h DispatchHook) Option {
	return func(o *sessionOptions) { o.hook = h }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *sessionOptions) { o.logger = l }
}

// WithPeer names the remote end in logs and hook info.
func WithPeer(addr string) Option {
	return func(o *sessionOptions) { o.peer = addr }
}

// NewSession binds a session to t. The session starts stopped.
func NewSession(t Transport, opts ...Option) *Session {
	o := &sessionOptions{
		perm:      PermDefault,
		maxLine:   DefaultLineMax,
		maxBlocks: DefaultBlockSlots,
		maxBlock:  DefaultBlockMax,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	log := o.logger
	if o.peer != "" {
		log = log.With("peer", o.peer)
	}
	return &Session{
		t:      t,
		state:  StateStopped,
		in:     lineBuffer{max: o.maxLine},
		funcs:  o.funcs,
		def:    o.def,
		perm:   o.perm,
		blocks: NewBlockTable(o.maxBlocks, o.maxBlock, o.alloc),
		value:  o.value,
		hook:   o.hook,
		log:    log,
		peer:   o.peer,
	}
}

// Release frees every dynamic memory block and the input buffer. The
// transport is left open.
func (s *Session) Release() {
	s.blocks.Release()
	s.in.reset()
	s.ret = nil
	s.state = StateStopped
}

func (s *Session) State() State         { return s.state }
func (s *Session) Perm() Perm           { return s.perm }
func (s *Session) SetPerm(p Perm)       { s.perm = p }
func (s *Session) Value() any           { return s.value }
func (s *Session) Blocks() *BlockTable  { return s.blocks }
func (s *Session) Transport() Transport { return s.t }
func (s *Session) Funcs() FuncTable     { return s.funcs }
func (s *Session) Logger() *slog.Logger { return s.log }
func (s *Session) Peer() string         { return s.peer }
func (s *Session) ExitValue() int       { return s.exitValue }

// Ret returns the result list of the last completed call, or the arguments
// of the peer's exit. It stays valid until the next Run.
func (s *Session) Ret() []string { return s.ret }

func (s *Session) transition(e event) State {
	if to, ok := s.state.next(e); ok {
		s.state = to
	}
	return s.state
}

// ReturnValue replies "ret" followed by the packed results.
func (s *Session) ReturnValue(results []string) error {
	line := KeywordRet
	if len(results) > 0 {
		line += " " + Join(results)
	}
	if err := s.putLine(line); err != nil {
		return err
	}
	s.flush()
	return nil
}

// ReturnError replies "err <code>".
func (s *Session) ReturnError(c Code) error {
	if err := s.putLine(KeywordErr + " " + c.Token()); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Call sends a request without waiting for its result. From a stopped
// session the state becomes calling; from inside a served request it becomes
// callback.
func (s *Session) Call(argv ...string) error {
	if s.state.outstanding() {
		return ErrBusy
	}
	if len(argv) == 0 {
		return ErrBArg
	}
	if err := s.putLine(Join(argv)); err != nil {
		return err
	}
	s.flush()
	s.transition(evCall)
	return nil
}

// CallArgs is Call with typed arguments converted by Args.
func (s *Session) CallArgs(vals ...any) error {
	argv, err := Args(vals...)
	if err != nil {
		return ErrBArg
	}
	return s.Call(argv...)
}

// Check runs one dispatch cycle for an outstanding call. It returns nil once
// the result has arrived, ErrEmpty while it has not, ErrNRun without a call.
func (s *Session) Check(ctx context.Context) error {
	if !s.state.outstanding() {
		return ErrNRun
	}
	out, err := s.Run(ctx)
	if err != nil {
		return err
	}
	if out == OutcomeEmpty {
		return ErrEmpty
	}
	return nil
}

// Wait blocks until the outstanding call completes, serving callbacks on
// the way.
func (s *Session) Wait(ctx context.Context) error {
	for {
		ready, err := s.Select(ctx, Forever)
		if err != nil {
			return err
		}
		if !ready {
			continue
		}
		if err := s.Check(ctx); err != ErrEmpty {
			return err
		}
	}
}

// Invoke calls the peer and waits for the result list.
func (s *Session) Invoke(ctx context.Context, argv ...string) ([]string, error) {
	if err := s.Call(argv...); err != nil {
		return nil, err
	}
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	return s.ret, nil
}

// Select reports whether a dispatch cycle would find input. A complete line
// already buffered counts as ready.
func (s *Session) Select(ctx context.Context, timeout time.Duration) (bool, error) {
	if s.in.hasLine() {
		return true, nil
	}
	return s.selectTransport(ctx, timeout)
}

func (s *Session) selectTransport(ctx context.Context, timeout time.Duration) (bool, error) {
	sel, ok := s.t.(Selector)
	if !ok {
		return true, nil
	}
	return sel.Select(ctx, timeout)
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpc

import (
	"context"
	"errors"
)

// Outcome is the non-error result of one dispatch cycle.
type Outcome uint8

const (
	// OutcomeEmpty means no complete line was available.
	OutcomeEmpty Outcome = iota
	// OutcomeReturned means the outstanding call finished; see Ret.
	OutcomeReturned
	// OutcomeHandled means one inbound request was served.
	OutcomeHandled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEmpty:
		return "empty"
	case OutcomeReturned:
		return "returned"
	case OutcomeHandled:
		return "handled"
	default:
		return "unknown"
	}
}

// Run processes inbound lines until the outstanding call returns, one
// request has been served from a listening session, the input runs dry, or
// an error stops the loop. Errors are ErrEOP, ErrExit (the peer's exit
// arguments are in Ret), ErrOver, ErrMem, or the Code of an "err" reply.
//
// Running dry keeps the state: a session that skipped an unknown request
// stays listening, and a call it issues next is a callback.
func (s *Session) Run(ctx context.Context) (Outcome, error) {
	s.transition(evRun)
	s.ret = nil

	for {
		line, err := s.gets(ctx, false)
		if err != nil {
			if err == ErrEmpty {
				return OutcomeEmpty, nil
			}
			s.transition(evAborted)
			return OutcomeEmpty, err
		}

		argv := Split(line)
		if len(argv) == 0 {
			continue
		}

		switch argv[0] {
		case KeywordRet:
			if s.state == StateListening {
				if err := s.protocolError(argv[0]); err != nil {
					s.transition(evAborted)
					return OutcomeEmpty, err
				}
				continue
			}
			s.ret = argv[1:]
			s.transition(evResult)
			return OutcomeReturned, nil

		case KeywordErr:
			if s.state == StateListening {
				if err := s.protocolError(argv[0]); err != nil {
					s.transition(evAborted)
					return OutcomeEmpty, err
				}
				continue
			}
			c := CodeProt
			if len(argv) == 2 {
				c = Code(ParseInt(argv[1]))
			}
			s.transition(evResult)
			if c == CodeNone {
				return OutcomeReturned, nil
			}
			return OutcomeEmpty, c
		}

		served, err := s.dispatch(ctx, argv)
		if err != nil {
			s.transition(evAborted)
			return OutcomeEmpty, err
		}
		if served && s.state == StateListening {
			s.transition(evServed)
			return OutcomeHandled, nil
		}
	}
}

// dispatch serves one request. It reports whether a handler (or a
// permission refusal) answered it; rejected and unknown requests keep the
// loop reading.
func (s *Session) dispatch(ctx context.Context, argv []string) (bool, error) {
	name := argv[0]

	if s.state == StateCallback {
		s.log.Warn("recursive callback refused", "function", name)
		return false, s.ReturnError(CodeProt)
	}
	if s.state == StateCalling && !s.perm.Has(PermCallback) {
		s.log.Debug("callback refused", "function", name)
		return false, s.ReturnError(CodePerm)
	}

	info := DispatchInfo{
		Function: name,
		Args:     len(argv) - 1,
		Peer:     s.peer,
		State:    s.state,
	}

	if fn, ok := s.funcs.Lookup(name); ok {
		info.Stage = StageUser
		return true, s.serve(ctx, info, fn, argv, PermCall)
	}

	if fn, ok := lookupBuiltin(name); ok {
		info.Stage = StageBuiltin
		ctx, token := s.hookStart(ctx, info)
		rv := fn(ctx, s, argv)
		c := CodeNone
		if len(rv) > 0 {
			c = Code(ParseInt(rv[0]))
		}
		s.hookEnd(ctx, token, info, codeErr(c))
		if err := s.ReturnValue(rv); err != nil {
			return true, err
		}
		s.log.Debug("builtin served", "function", name, "status", int(c))
		if c == CodeExit || c == CodeEOP {
			if c == CodeExit && len(argv) > 1 {
				s.ret = argv[1:]
			}
			return true, c
		}
		return true, nil
	}

	if s.def != nil {
		info.Stage = StageDefault
		return true, s.serve(ctx, info, s.def, argv, PermCallDefault)
	}

	info.Stage = StageNone
	ctx, token := s.hookStart(ctx, info)
	s.hookEnd(ctx, token, info, ErrFNF)
	s.log.Debug("function not found", "function", name)
	return false, s.ReturnError(CodeFNF)
}

// serve runs a user or default handler if the peer holds need.
func (s *Session) serve(ctx context.Context, info DispatchInfo, fn HandlerFunc, argv []string, need Perm) error {
	ctx, token := s.hookStart(ctx, info)
	if !s.perm.Has(need) {
		s.hookEnd(ctx, token, info, ErrPerm)
		return s.ReturnError(CodePerm)
	}
	rv := fn(ctx, s, argv)
	s.hookEnd(ctx, token, info, nil)
	return s.ReturnValue(rv)
}

func (s *Session) protocolError(keyword string) error {
	s.log.Warn("unexpected reply while listening", "keyword", keyword)
	return s.ReturnError(CodeProt)
}

func (s *Session) hookStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken) {
	if s.hook == nil {
		return ctx, nil
	}
	return s.hook.OnDispatchStart(ctx, info)
}

func (s *Session) hookEnd(ctx context.Context, token HookToken, info DispatchInfo, err error) {
	if s.hook != nil {
		s.hook.OnDispatchEnd(ctx, token, info, err)
	}
}

// RunForever serves requests and call results until the transport closes,
// the peer exits or an error occurs. The terminating error is returned.
func (s *Session) RunForever(ctx context.Context) error {
	for {
		ready, err := s.Select(ctx, Forever)
		if err != nil {
			return err
		}
		if !ready {
			continue
		}
		if _, err := s.Run(ctx); err != nil {
			return err
		}
	}
}

// IsClosed reports whether err means the session ended normally, by end of
// pipe or by the peer's exit.
func IsClosed(err error) bool {
	return errors.Is(err, ErrEOP) || errors.Is(err, ErrExit)
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpc

import (
	"context"
	"strconv"
)

// Version is the protocol version reported by the "version" builtin.
const Version = "0.9.0"

var builtins FuncTable

func init() {
	builtins = FuncTable{
		{"malloc", builtinMalloc},
		{"free", builtinFree},
		{"stat", builtinStat},
		{"read", builtinRead},
		{"write", builtinWrite},
		{"ping", builtinPing},
		{"exit", builtinExit},
		{"help", builtinHelp},
		{"list", builtinList},
		{"version", builtinVersion},
		{"perm", builtinPerm},
	}
}

func lookupBuiltin(name string) (HandlerFunc, bool) {
	return builtins.Lookup(name)
}

// BuiltinNames lists the builtin functions every session serves.
func BuiltinNames() []string { return builtins.Names() }

func failed(err error) []string { return statusArgs(CodeOf(err)) }

// malloc size -> 0 id
func builtinMalloc(_ context.Context, s *Session, argv []string) []string {
	if !s.perm.Has(PermMalloc) {
		return statusArgs(CodePerm)
	}
	if len(argv) != 2 {
		return statusArgs(CodeBArg)
	}
	id, err := s.blocks.Alloc(ParseInt(argv[1]))
	if err != nil {
		return failed(err)
	}
	return statusArgs(CodeNone, strconv.Itoa(id))
}

// free id -> 0
func builtinFree(_ context.Context, s *Session, argv []string) []string {
	if !s.perm.Has(PermFree) {
		return statusArgs(CodePerm)
	}
	if len(argv) != 2 {
		return statusArgs(CodeBArg)
	}
	if err := s.blocks.Free(ParseInt(argv[1])); err != nil {
		return failed(err)
	}
	return statusArgs(CodeNone)
}

// stat id -> 0 size static
func builtinStat(_ context.Context, s *Session, argv []string) []string {
	if len(argv) != 2 {
		return statusArgs(CodeBArg)
	}
	size, static, err := s.blocks.Stat(ParseInt(argv[1]))
	if err != nil {
		return failed(err)
	}
	st := "0"
	if static {
		st = "1"
	}
	return statusArgs(CodeNone, strconv.Itoa(size), st)
}

// transfer validates "read|write id off count fmt" and returns the block
// bytes from off, the clamped element count and the format.
func (s *Session) transfer(argv []string) ([]byte, int, Format, Code) {
	if len(argv) != 5 {
		return nil, 0, 0, CodeBArg
	}
	id, off := ParseInt(argv[1]), ParseInt(argv[2])
	f := Format(ParseInt(argv[4]))
	if !f.Valid() {
		return nil, 0, 0, CodeBArg
	}
	data, err := s.blocks.span(id, off)
	if err != nil {
		return nil, 0, 0, CodeOf(err)
	}
	// clamp in elements so a huge count cannot overflow
	count, w := ParseInt(argv[3]), f.Width()
	if count > len(data)/w {
		count = len(data) / w
	}
	if count <= 0 {
		return nil, 0, 0, CodeBArg
	}
	return data, count, f, CodeNone
}

// read id off count fmt -> 0 count, payload, status
func builtinRead(_ context.Context, s *Session, argv []string) []string {
	if !s.perm.Has(PermRead) {
		return statusArgs(CodePerm)
	}
	data, count, f, c := s.transfer(argv)
	if c != CodeNone {
		return statusArgs(c)
	}
	if err := s.ReturnValue(statusArgs(CodeNone, strconv.Itoa(count))); err != nil {
		return failed(err)
	}
	if _, err := s.Transmit(data, count, f); err != nil {
		return failed(err)
	}
	return statusArgs(CodeNone)
}

// write id off count fmt -> 0 count, payload, status
func builtinWrite(ctx context.Context, s *Session, argv []string) []string {
	if !s.perm.Has(PermWrite) {
		return statusArgs(CodePerm)
	}
	data, count, f, c := s.transfer(argv)
	if c != CodeNone {
		return statusArgs(c)
	}
	if err := s.ReturnValue(statusArgs(CodeNone, strconv.Itoa(count))); err != nil {
		return failed(err)
	}
	if _, err := s.Receive(ctx, data, count, f); err != nil {
		return failed(err)
	}
	return statusArgs(CodeNone)
}

func builtinPing(context.Context, *Session, []string) []string {
	return statusArgs(CodeNone, Pong)
}

// exit [value] stops the serving loop if the peer may do so.
func builtinExit(_ context.Context, s *Session, argv []string) []string {
	c := CodePerm
	if s.perm.Has(PermExit) {
		c = CodeExit
	}
	if len(argv) > 1 {
		s.exitValue = ParseInt(argv[1])
	}
	return statusArgs(c)
}

func builtinHelp(context.Context, *Session, []string) []string {
	return BuiltinNames()
}

func builtinList(_ context.Context, s *Session, _ []string) []string {
	return s.funcs.Names()
}

func builtinVersion(context.Context, *Session, []string) []string {
	return statusArgs(CodeNone, Version)
}

func builtinPerm(_ context.Context, s *Session, _ []string) []string {
	return statusArgs(CodeNone, strconv.Itoa(int(s.perm)))
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpc

import (
	"context"
	"strconv"
)

// status checks the status token of the last result list and its length on
// success.
func (s *Session) status(want int) error {
	if len(s.ret) == 0 {
		return ErrProt
	}
	if c := Code(ParseInt(s.ret[0])); c != CodeNone {
		return c
	}
	if len(s.ret) != want {
		return ErrProt
	}
	return nil
}

func (s *Session) invokeStatus(ctx context.Context, want int, argv ...string) error {
	if _, err := s.Invoke(ctx, argv...); err != nil {
		return err
	}
	return s.status(want)
}

// RemoteMalloc allocates a block of size bytes on the peer.
func (s *Session) RemoteMalloc(ctx context.Context, size int) (int, error) {
	if err := s.invokeStatus(ctx, 2, "malloc", strconv.Itoa(size)); err != nil {
		return 0, err
	}
	return ParseInt(s.ret[1]), nil
}

// RemoteFree frees block id on the peer.
func (s *Session) RemoteFree(ctx context.Context, id int) error {
	return s.invokeStatus(ctx, 1, "free", strconv.Itoa(id))
}

// RemoteStat reports the size of block id on the peer and whether it is
// static.
func (s *Session) RemoteStat(ctx context.Context, id int) (int, bool, error) {
	if err := s.invokeStatus(ctx, 3, "stat", strconv.Itoa(id)); err != nil {
		return 0, false, err
	}
	return ParseInt(s.ret[1]), ParseInt(s.ret[2]) != 0, nil
}

// RemoteRead fills dst with elements of block id starting at byte offset
// off. The peer clamps the transfer to the end of its block; the number of
// elements received is returned.
func (s *Session) RemoteRead(ctx context.Context, dst []byte, id, off int, f Format) (int, error) {
	return s.remoteTransfer(ctx, "read", dst, id, off, f)
}

// RemoteWrite stores the elements of src into block id starting at byte
// offset off and returns the number of elements the peer accepted.
func (s *Session) RemoteWrite(ctx context.Context, src []byte, id, off int, f Format) (int, error) {
	return s.remoteTransfer(ctx, "write", src, id, off, f)
}

func (s *Session) remoteTransfer(ctx context.Context, op string, buf []byte, id, off int, f Format) (int, error) {
	if !f.Valid() {
		return 0, ErrBArg
	}
	count := len(buf) / f.Width()
	if err := s.CallArgs(op, id, off, count, int(f)); err != nil {
		return 0, err
	}
	saved := s.state

	if err := s.Wait(ctx); err != nil {
		return 0, err
	}
	if err := s.status(2); err != nil {
		return 0, err
	}
	n := ParseInt(s.ret[1])
	if n < 0 || n > count {
		return 0, ErrProt
	}

	var (
		done int
		err  error
	)
	if op == "read" {
		done, err = s.Receive(ctx, buf, n, f)
	} else {
		done, err = s.Transmit(buf, n, f)
	}
	if err != nil {
		return done, err
	}

	// the final status arrives as a second result of the same call
	s.state = saved
	if err := s.Wait(ctx); err != nil {
		return done, err
	}
	if len(s.ret) > 0 {
		err = codeErr(Code(ParseInt(s.ret[0])))
	}
	return done, err
}

// RemotePing reports whether the peer answered "pong".
func (s *Session) RemotePing(ctx context.Context) (bool, error) {
	if err := s.invokeStatus(ctx, 2, "ping"); err != nil {
		return false, err
	}
	return s.ret[1] == Pong, nil
}

// RemoteExit asks the peer to stop serving, passing value as its exit value.
// A nil error means the peer accepted.
func (s *Session) RemoteExit(ctx context.Context, value int) error {
	if _, err := s.Invoke(ctx, "exit", strconv.Itoa(value)); err != nil {
		return err
	}
	if len(s.ret) != 1 {
		return ErrProt
	}
	if c := Code(ParseInt(s.ret[0])); c != CodeExit {
		return codeErr(c)
	}
	return nil
}

// RemoteHelp lists the peer's builtin functions.
func (s *Session) RemoteHelp(ctx context.Context) ([]string, error) {
	return s.Invoke(ctx, "help")
}

// RemoteList lists the peer's user functions.
func (s *Session) RemoteList(ctx context.Context) ([]string, error) {
	return s.Invoke(ctx, "list")
}

// RemoteVersion returns the peer's protocol version.
func (s *Session) RemoteVersion(ctx context.Context) (string, error) {
	if err := s.invokeStatus(ctx, 2, "version"); err != nil {
		return "unknown", err
	}
	return s.ret[1], nil
}

// RemotePerm returns the permissions the peer grants this session.
func (s *Session) RemotePerm(ctx context.Context) (Perm, error) {
	if err := s.invokeStatus(ctx, 2, "perm"); err != nil {
		return 0, err
	}
	return Perm(ParseInt(s.ret[1])), nil
}

// CheckVersion reports whether the peer speaks the same protocol version.
func (s *Session) CheckVersion(ctx context.Context) (bool, error) {
	v, err := s.RemoteVersion(ctx)
	if err != nil {
		return false, err
	}
	return v == Version, nil
}

// LocalMalloc allocates a block in this session's table.
func (s *Session) LocalMalloc(size int) (int, error) { return s.blocks.Alloc(size) }

// LocalFree frees a dynamic block of this session.
func (s *Session) LocalFree(id int) error { return s.blocks.Free(id) }

// LocalStat reports the size of block id and whether it is static.
func (s *Session) LocalStat(id int) (int, bool, error) { return s.blocks.Stat(id) }

// LocalRead copies bytes of block id from off into dst.
func (s *Session) LocalRead(dst []byte, id, off int) (int, error) {
	return s.blocks.Read(dst, id, off)
}

// LocalWrite copies src into block id at off.
func (s *Session) LocalWrite(src []byte, id, off int) (int, error) {
	return s.blocks.Write(src, id, off)
}

func (s *Session) LocalHelp() []string { return BuiltinNames() }

func (s *Session) LocalList() []string { return s.funcs.Names() }

func (s *Session) LocalVersion() string { return Version }

func (s *Session) LocalPerm() Perm { return s.perm }

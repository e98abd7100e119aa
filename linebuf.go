// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpc

import (
	"context"
	"io"
)

const (
	lineSector     = 64
	DefaultLineMax = 1 << 20
)

// lineBuffer holds inbound bytes until a full line is available. Bytes past
// the current line stay buffered and are handed out first to raw reads.
//
//	0 <= lineLen <= count <= len(buf) < max
type lineBuffer struct {
	buf     []byte
	count   int
	lineLen int
	max     int
}

// rotate drops the current line.
func (b *lineBuffer) rotate() {
	if b.lineLen == 0 {
		return
	}
	b.count = copy(b.buf, b.buf[b.lineLen:b.count])
	b.lineLen = 0
}

// line returns the first terminated line in the buffer, without its
// terminator.
func (b *lineBuffer) line() (string, bool) {
	for i := 0; i < b.count; i++ {
		if c := b.buf[i]; c == '\n' || c == '\r' {
			b.lineLen = i + 1
			return string(b.buf[:i]), true
		}
	}
	return "", false
}

// resize moves the buffer to the recommended size for the bytes it holds:
// one and a half sectors of headroom, rounded down to whole sectors.
func (b *lineBuffer) resize() error {
	size := (b.count + lineSector*3/2) / lineSector * lineSector
	if size == len(b.buf) {
		return nil
	}
	if size > b.max {
		return ErrOver
	}
	buf := make([]byte, size)
	copy(buf, b.buf[:b.count])
	b.buf = buf
	return nil
}

// pending returns the bytes received past the current line.
func (b *lineBuffer) pending() int { return b.count - b.lineLen }

// hasLine reports whether a terminated line follows the current one.
func (b *lineBuffer) hasLine() bool {
	for _, c := range b.buf[b.lineLen:b.count] {
		if c == '\n' || c == '\r' {
			return true
		}
	}
	return false
}

// take moves up to len(p) pending bytes into p.
func (b *lineBuffer) take(p []byte) int {
	n := copy(p, b.buf[b.lineLen:b.count])
	copy(b.buf[b.lineLen:], b.buf[b.lineLen+n:b.count])
	b.count -= n
	return n
}

func (b *lineBuffer) reset() {
	b.buf, b.count, b.lineLen = nil, 0, 0
}

// getsIn makes the next line current. It may return an empty line. Without
// block it reports ErrEmpty instead of waiting for the transport.
func (s *Session) getsIn(ctx context.Context, block bool) (string, error) {
	b := &s.in
	b.rotate()
	for {
		if line, ok := b.line(); ok {
			return line, nil
		}
		if err := b.resize(); err != nil {
			return "", err
		}
		if !block {
			ready, err := s.selectTransport(ctx, 0)
			if err != nil {
				return "", ErrEOP
			}
			if !ready {
				return "", ErrEmpty
			}
		}
		n, err := s.t.Read(b.buf[b.count:])
		if n <= 0 {
			if err != nil && err != io.EOF {
				s.log.Debug("transport read failed", "err", err)
			}
			return "", ErrEOP
		}
		b.count += n
	}
}

// gets is getsIn skipping empty lines.
func (s *Session) gets(ctx context.Context, block bool) (string, error) {
	for {
		line, err := s.getsIn(ctx, block)
		if err != nil {
			return "", err
		}
		if line != "" {
			return line, nil
		}
	}
}

// Gets blocks until the next non-empty line arrives and returns it.
func (s *Session) Gets(ctx context.Context) (string, error) {
	return s.gets(ctx, true)
}

// ReadSome reads at most len(p) bytes, taking buffered bytes first.
func (s *Session) ReadSome(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if s.in.pending() > 0 {
		return s.in.take(p), nil
	}
	n, _ := s.t.Read(p)
	if n <= 0 {
		return 0, ErrEOP
	}
	return n, nil
}

// ReadFull fills p, taking buffered bytes first.
func (s *Session) ReadFull(p []byte) error {
	if s.in.pending() > 0 {
		p = p[s.in.take(p):]
	}
	for len(p) > 0 {
		n, _ := s.t.Read(p)
		if n <= 0 {
			return ErrEOP
		}
		p = p[n:]
	}
	return nil
}

// Write writes all of p to the transport.
func (s *Session) Write(p []byte) error {
	for len(p) > 0 {
		n, err := s.t.Write(p)
		if n <= 0 || (err != nil && n < len(p)) {
			return ErrEOP
		}
		p = p[n:]
	}
	return nil
}

func (s *Session) flush() {
	if f, ok := s.t.(Flusher); ok {
		if err := f.Flush(); err != nil {
			s.log.Debug("transport flush failed", "err", err)
		}
	}
}

// putLine writes line followed by a newline in a single write.
func (s *Session) putLine(line string) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	return s.Write(buf)
}

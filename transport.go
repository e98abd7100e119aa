// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpc

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// Forever is the Select timeout that never expires.
const Forever time.Duration = -1

// Transport is the duplex byte stream a session runs over. A Read that
// returns no data and an error ends the session with ErrEOP.
type Transport interface {
	io.Reader
	io.Writer
}

// Selector is implemented by transports that can report readiness without
// consuming data. A negative timeout waits forever, zero polls. Transports
// without Select are treated as always ready.
type Selector interface {
	Select(ctx context.Context, timeout time.Duration) (bool, error)
}

// Flusher is implemented by transports that buffer writes.
type Flusher interface {
	Flush() error
}

var ErrTransportClosed = errors.New("linerpc: transport closed")

const (
	defaultReadChunk = 32 << 10
	defaultReadLimit = 1 << 20
)

// StreamTransport adapts any byte stream (net.Conn, pipes, stdio) into a
// Transport with Select. A pump goroutine moves inbound bytes into a bounded
// buffer so readiness can be observed from one goroutine while another reads.
type StreamTransport struct {
	r io.Reader
	w io.Writer
	c io.Closer

	writeMu sync.Mutex

	mu      sync.Mutex
	data    []byte
	off     int
	err     error
	closed  bool
	changed chan struct{}
	limit   int
}

// NewTransport wraps a duplex stream. If rw is an io.Closer, Close closes it.
func NewTransport(rw io.ReadWriter) *StreamTransport {
	c, _ := rw.(io.Closer)
	return newStreamTransport(rw, rw, c)
}

// NewPipeTransport wraps separate read and write ends, such as stdin and
// stdout. Close closes whichever ends implement io.Closer.
func NewPipeTransport(r io.Reader, w io.Writer) *StreamTransport {
	return newStreamTransport(r, w, pipeCloser{r, w})
}

func newStreamTransport(r io.Reader, w io.Writer, c io.Closer) *StreamTransport {
	t := &StreamTransport{
		r:       r,
		w:       w,
		c:       c,
		changed: make(chan struct{}),
		limit:   defaultReadLimit,
	}
	go t.pump()
	return t
}

func (t *StreamTransport) pump() {
	chunk := make([]byte, defaultReadChunk)
	for {
		t.mu.Lock()
		for t.buffered() >= t.limit && !t.closed {
			ch := t.changed
			t.mu.Unlock()
			<-ch
			t.mu.Lock()
		}
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}

		n, err := t.r.Read(chunk)

		t.mu.Lock()
		if n > 0 {
			if t.off == len(t.data) {
				t.data, t.off = t.data[:0], 0
			}
			t.data = append(t.data, chunk[:n]...)
		}
		if err != nil {
			t.err = err
		}
		t.notifyLocked()
		t.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (t *StreamTransport) buffered() int { return len(t.data) - t.off }

func (t *StreamTransport) notifyLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// Read blocks until inbound bytes are available or the stream ends.
func (t *StreamTransport) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.buffered() == 0 && t.err == nil && !t.closed {
		ch := t.changed
		t.mu.Unlock()
		<-ch
		t.mu.Lock()
	}
	if n := t.buffered(); n > 0 {
		n = copy(p, t.data[t.off:])
		t.off += n
		t.notifyLocked()
		return n, nil
	}
	if t.closed {
		return 0, ErrTransportClosed
	}
	return 0, t.err
}

// Select waits until Read would not block. End of stream counts as ready so
// that the following Read reports it.
func (t *StreamTransport) Select(ctx context.Context, timeout time.Duration) (bool, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		expired = tm.C
	}
	for {
		t.mu.Lock()
		ready := t.buffered() > 0 || t.err != nil || t.closed
		ch := t.changed
		t.mu.Unlock()
		if ready {
			return true, nil
		}
		if timeout == 0 {
			return false, nil
		}
		select {
		case <-ch:
		case <-expired:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (t *StreamTransport) Write(p []byte) (int, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.w.Write(p)
}

// Flush flushes the write side if it buffers.
func (t *StreamTransport) Flush() error {
	if f, ok := t.w.(Flusher); ok {
		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		return f.Flush()
	}
	return nil
}

// Close wakes every waiter and closes the underlying stream.
func (t *StreamTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.notifyLocked()
	t.mu.Unlock()
	if t.c != nil {
		return t.c.Close()
	}
	return nil
}

type pipeCloser struct {
	r io.Reader
	w io.Writer
}

func (p pipeCloser) Close() error {
	var errs []error
	if c, ok := p.r.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := p.w.(io.Closer); ok && any(p.w) != any(p.r) {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

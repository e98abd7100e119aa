// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pool runs tasks on a fixed set of pre-started workers. When every
// worker is busy, Go fails with ErrBusy instead of queuing.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/luxfi/linerpc/internal/vsync"
)

var (
	ErrBusy   = errors.New("pool: all workers busy")
	ErrClosed = errors.New("pool: closed")
)

// Handle tracks one spawned task.
type Handle struct {
	done chan struct{}
}

func newHandle() *Handle { return &Handle{done: make(chan struct{})} }

// Done is closed when the task returns.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Join waits for the task to return or ctx to end.
func (h *Handle) Join(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Spawner starts tasks. The tcp package runs connections through one.
type Spawner interface {
	Go(fn func()) (*Handle, error)
}

// GoSpawner runs every task on a new goroutine and never reports ErrBusy.
type GoSpawner struct{}

func (GoSpawner) Go(fn func()) (*Handle, error) {
	h := newHandle()
	go func() {
		defer close(h.done)
		fn()
	}()
	return h, nil
}

type task struct {
	fn func()
	h  *Handle
}

// Pool is a fixed worker pool.
type Pool struct {
	size  int
	free  *vsync.Semaphore
	tasks chan task
	quit  chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
	wg        sync.WaitGroup
	running   atomic.Int64
}

var _ Spawner = (*Pool)(nil)

// New starts size workers.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		size:  size,
		free:  vsync.NewSemaphore(size, size),
		tasks: make(chan task),
		quit:  make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case t := <-p.tasks:
			p.run(t)
		case <-p.quit:
			return
		}
	}
}

func (p *Pool) run(t task) {
	p.running.Add(1)
	defer func() {
		p.running.Add(-1)
		close(t.h.done)
		_ = p.free.Post()
	}()
	t.fn()
}

// Go hands fn to an idle worker.
func (p *Pool) Go(fn func()) (*Handle, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	if !p.free.TryWait() {
		return nil, ErrBusy
	}
	t := task{fn: fn, h: newHandle()}
	select {
	case p.tasks <- t:
		return t.h, nil
	case <-p.quit:
		_ = p.free.Post()
		return nil, ErrClosed
	}
}

// Join waits for the task behind h.
func (p *Pool) Join(ctx context.Context, h *Handle) error {
	return h.Join(ctx)
}

func (p *Pool) Size() int    { return p.size }
func (p *Pool) Idle() int    { return p.free.Value() }
func (p *Pool) Running() int { return int(p.running.Load()) }

// Close stops the workers. Idle workers exit at once; busy ones exit when
// their task returns. Close waits for all of them.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.quit)
	})
	p.wg.Wait()
}

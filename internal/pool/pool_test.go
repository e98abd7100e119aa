// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsTasks(t *testing.T) {
	p := New(2)
	defer p.Close()

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		h, err := p.Go(func() { n.Add(1) })
		require.NoError(t, err)
		require.NoError(t, p.Join(context.Background(), h))
	}
	assert.EqualValues(t, 10, n.Load())
	assert.Equal(t, 2, p.Size())
}

func TestPool_BusyWhenExhausted(t *testing.T) {
	p := New(1)
	defer p.Close()

	release := make(chan struct{})
	h, err := p.Go(func() { <-release })
	require.NoError(t, err)

	_, err = p.Go(func() {})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Zero(t, p.Idle())

	close(release)
	require.NoError(t, h.Join(context.Background()))

	// the worker is reused once its task returned
	require.Eventually(t, func() bool { return p.Idle() == 1 }, time.Second, time.Millisecond)
	h, err = p.Go(func() {})
	require.NoError(t, err)
	<-h.Done()
}

func TestPool_JoinTimeout(t *testing.T) {
	p := New(1)
	release := make(chan struct{})
	h, err := p.Go(func() { <-release })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Join(ctx, h), context.DeadlineExceeded)
	assert.Equal(t, 1, p.Running())

	close(release)
	p.Close()
	_, err = p.Go(func() {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestGoSpawner(t *testing.T) {
	var s Spawner = GoSpawner{}
	ran := make(chan struct{})
	h, err := s.Go(func() { close(ran) })
	require.NoError(t, err)
	require.NoError(t, h.Join(context.Background()))
	<-ran
}

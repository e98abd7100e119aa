// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphore_Counting(t *testing.T) {
	s := NewSemaphore(2, 3)
	assert.Equal(t, 2, s.Value())

	assert.True(t, s.TryWait())
	assert.True(t, s.TryWait())
	assert.False(t, s.TryWait())
	assert.Zero(t, s.Value())

	require.NoError(t, s.Post())
	require.NoError(t, s.Post())
	require.NoError(t, s.Post())
	assert.ErrorIs(t, s.Post(), ErrOverflow)
	assert.Equal(t, 3, s.Value())
}

func TestSemaphore_WaitBlocksUntilPost(t *testing.T) {
	s := NewBinary(false)

	done := make(chan error, 1)
	go func() { done <- s.Wait(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Wait returned without a token")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, s.Post())
	require.NoError(t, <-done)
	assert.Zero(t, s.Value())
}

func TestSemaphore_WaitCanceled(t *testing.T) {
	s := NewBinary(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)

	// a canceled wait does not consume the next token
	require.NoError(t, s.Post())
	assert.True(t, s.TryWait())
}

func TestSemaphore_BinaryCeiling(t *testing.T) {
	s := NewBinary(true)
	assert.ErrorIs(t, s.Post(), ErrOverflow)
	require.NoError(t, s.Wait(context.Background()))
	require.NoError(t, s.Post())
	assert.Equal(t, 1, s.Value())
}

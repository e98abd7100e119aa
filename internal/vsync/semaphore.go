// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vsync provides the counting semaphore used for drain signalling and
// worker gating.
package vsync

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrOverflow is returned by Post when the count is already at its maximum.
var ErrOverflow = errors.New("vsync: semaphore overflow")

// Semaphore is a counting semaphore with an initial value and a ceiling.
type Semaphore struct {
	w     *semaphore.Weighted
	max   int64
	value atomic.Int64
}

// NewSemaphore returns a semaphore holding value tokens out of max. A max
// below value is raised to value.
func NewSemaphore(value, max int) *Semaphore {
	if max < value {
		max = value
	}
	if max < 1 {
		max = 1
	}
	s := &Semaphore{
		w:   semaphore.NewWeighted(int64(max)),
		max: int64(max),
	}
	// Weighted starts full; hold back the tokens that are not available yet.
	if taken := int64(max - value); taken > 0 {
		s.w.TryAcquire(taken)
	}
	s.value.Store(int64(value))
	return s
}

// NewBinary returns a semaphore with a ceiling of one.
func NewBinary(set bool) *Semaphore {
	if set {
		return NewSemaphore(1, 1)
	}
	return NewSemaphore(0, 1)
}

// Wait takes one token, blocking until one is posted or ctx is done.
func (s *Semaphore) Wait(ctx context.Context) error {
	if err := s.w.Acquire(ctx, 1); err != nil {
		return err
	}
	s.value.Add(-1)
	return nil
}

// TryWait takes one token if one is available.
func (s *Semaphore) TryWait() bool {
	if !s.w.TryAcquire(1) {
		return false
	}
	s.value.Add(-1)
	return true
}

// Post returns one token.
func (s *Semaphore) Post() error {
	for {
		v := s.value.Load()
		if v >= s.max {
			return ErrOverflow
		}
		if s.value.CompareAndSwap(v, v+1) {
			break
		}
	}
	s.w.Release(1)
	return nil
}

// Value is a snapshot of the available tokens.
func (s *Semaphore) Value() int { return int(s.value.Load()) }

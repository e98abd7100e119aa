// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockTable_AllocFree(t *testing.T) {
	bt := NewBlockTable(2, 32, nil)
	require.Equal(t, 2, bt.Cap())
	require.Equal(t, 32, bt.MaxSize())

	_, err := bt.Alloc(0)
	assert.ErrorIs(t, err, ErrBArg)
	_, err = bt.Alloc(33)
	assert.ErrorIs(t, err, ErrTBMB)

	a, err := bt.Alloc(8)
	require.NoError(t, err)
	b, err := bt.Alloc(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, bt.Len())

	_, err = bt.Alloc(1)
	assert.ErrorIs(t, err, ErrNFMB)

	require.NoError(t, bt.Free(a))
	assert.ErrorIs(t, bt.Free(a), ErrBArg)
	assert.ErrorIs(t, bt.Free(-1), ErrBArg)
	assert.ErrorIs(t, bt.Free(2), ErrBArg)

	// the lowest free slot is reused
	c, err := bt.Alloc(4)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestBlockTable_Stat(t *testing.T) {
	bt := NewBlockTable(4, 64, nil)
	id, err := bt.Alloc(10)
	require.NoError(t, err)

	size, static, err := bt.Stat(id)
	require.NoError(t, err)
	assert.Equal(t, 10, size)
	assert.False(t, static)

	size, _, err = bt.Stat(3)
	require.NoError(t, err)
	assert.Zero(t, size)

	_, _, err = bt.Stat(4)
	assert.ErrorIs(t, err, ErrBArg)
}

func TestBlockTable_ReadWriteClamp(t *testing.T) {
	bt := NewBlockTable(1, 64, nil)
	id, err := bt.Alloc(4)
	require.NoError(t, err)

	n, err := bt.Write([]byte("abcdef"), id, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	dst := make([]byte, 8)
	n, err = bt.Read(dst, id, 0)
	require.NoError(t, err)
	assert.Equal(t, "\x00abc", string(dst[:n]))

	_, err = bt.Read(dst, id, 4)
	assert.ErrorIs(t, err, ErrBArg)
}

func TestBlockTable_Static(t *testing.T) {
	bt := NewBlockTable(2, 4, nil)
	buf := []byte("larger than max")

	id, err := bt.Register(buf)
	require.NoError(t, err)
	assert.ErrorIs(t, bt.Free(id), ErrBArg)

	_, static, err := bt.Stat(id)
	require.NoError(t, err)
	assert.True(t, static)

	dyn, err := bt.Alloc(4)
	require.NoError(t, err)

	bt.Release()
	assert.Equal(t, 1, bt.Len())
	_, err = bt.Bytes(dyn)
	assert.ErrorIs(t, err, ErrBArg)

	got, err := bt.Bytes(id)
	require.NoError(t, err)
	assert.Equal(t, buf, got)

	require.NoError(t, bt.Unregister(id))
	assert.ErrorIs(t, bt.Unregister(id), ErrBArg)
	assert.Zero(t, bt.Len())
}

func TestBlockTable_Allocator(t *testing.T) {
	var asked []int
	bt := NewBlockTable(4, 1024, func(size int) ([]byte, error) {
		asked = append(asked, size)
		if size > 100 {
			return nil, errors.New("out of memory")
		}
		return make([]byte, size), nil
	})

	_, err := bt.Alloc(50)
	require.NoError(t, err)
	_, err = bt.Alloc(500)
	assert.ErrorIs(t, err, ErrMem)
	assert.Equal(t, []int{50, 500}, asked)
	assert.Equal(t, 1, bt.Len())
}

func TestFormat_Codecs(t *testing.T) {
	assert.Equal(t, 1, FormatBinary.Width())
	assert.Equal(t, 4, FormatInt.Width())
	assert.Equal(t, 4, FormatFloat.Width())
	assert.Equal(t, 8, FormatDouble.Width())
	assert.False(t, Format(4).Valid())

	assert.Equal(t, []int32{1, -2, 1 << 30}, DecodeInt32s(Int32s(1, -2, 1<<30)))
	assert.Equal(t, []float64{0.5, -3e100}, DecodeFloat64s(Float64s(0.5, -3e100)))
	assert.Equal(t, []byte{1, 0, 0, 0}, Int32s(1))
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpc

import (
	"context"
	"encoding/binary"
	"math"
	"strconv"
)

// Format selects how block contents travel on the wire.
type Format int

const (
	FormatBinary Format = iota // raw bytes
	FormatInt                  // one int32 per text line
	FormatFloat                // one float32 per text line
	FormatDouble               // one float64 per text line
)

// Width is the size in bytes of one element inside a block.
func (f Format) Width() int {
	switch f {
	case FormatInt, FormatFloat:
		return 4
	case FormatDouble:
		return 8
	default:
		return 1
	}
}

func (f Format) Valid() bool { return f >= FormatBinary && f <= FormatDouble }

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatInt:
		return "int"
	case FormatFloat:
		return "float"
	case FormatDouble:
		return "double"
	default:
		return "format(" + strconv.Itoa(int(f)) + ")"
	}
}

// Elements in blocks are little-endian.
var blockOrder = binary.LittleEndian

// Transmit sends the first count elements of data. It returns the number of
// elements written.
func (s *Session) Transmit(data []byte, count int, f Format) (int, error) {
	if !f.Valid() || count < 0 || count*f.Width() > len(data) {
		return 0, ErrBArg
	}
	if f == FormatBinary {
		if err := s.Write(data[:count]); err != nil {
			return 0, err
		}
		s.flush()
		return count, nil
	}
	w := f.Width()
	for i := 0; i < count; i++ {
		el := data[i*w : i*w+w]
		var line string
		switch f {
		case FormatInt:
			line = strconv.Itoa(int(int32(blockOrder.Uint32(el))))
		case FormatFloat:
			line = FormatFloat32(math.Float32frombits(blockOrder.Uint32(el)))
		case FormatDouble:
			line = FormatFloat64(math.Float64frombits(blockOrder.Uint64(el)))
		}
		if err := s.putLine(line); err != nil {
			return i, err
		}
	}
	s.flush()
	return count, nil
}

// Receive reads count elements into data, blocking until they arrive. It
// returns the number of elements stored.
func (s *Session) Receive(ctx context.Context, data []byte, count int, f Format) (int, error) {
	if !f.Valid() || count < 0 || count*f.Width() > len(data) {
		return 0, ErrBArg
	}
	if f == FormatBinary {
		if err := s.ReadFull(data[:count]); err != nil {
			return 0, err
		}
		return count, nil
	}
	w := f.Width()
	for i := 0; i < count; i++ {
		line, err := s.gets(ctx, true)
		if err != nil {
			return i, err
		}
		el := data[i*w : i*w+w]
		switch f {
		case FormatInt:
			blockOrder.PutUint32(el, uint32(int32(ParseInt(line))))
		case FormatFloat:
			blockOrder.PutUint32(el, math.Float32bits(float32(ParseFloat(line))))
		case FormatDouble:
			blockOrder.PutUint64(el, math.Float64bits(ParseFloat(line)))
		}
	}
	return count, nil
}

// Int32s encodes values in block layout.
func Int32s(values ...int32) []byte {
	b := make([]byte, 4*len(values))
	for i, v := range values {
		blockOrder.PutUint32(b[4*i:], uint32(v))
	}
	return b
}

// Float32s encodes values in block layout.
func Float32s(values ...float32) []byte {
	b := make([]byte, 4*len(values))
	for i, v := range values {
		blockOrder.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

// Float64s encodes values in block layout.
func Float64s(values ...float64) []byte {
	b := make([]byte, 8*len(values))
	for i, v := range values {
		blockOrder.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return b
}

// DecodeInt32s decodes a block layout buffer.
func DecodeInt32s(b []byte) []int32 {
	out := make([]int32, len(b)/4)
	for i := range out {
		out[i] = int32(blockOrder.Uint32(b[4*i:]))
	}
	return out
}

// DecodeFloat64s decodes a block layout buffer.
func DecodeFloat64s(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(blockOrder.Uint64(b[8*i:]))
	}
	return out
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpc

const (
	DefaultBlockSlots = 64
	DefaultBlockMax   = 64 << 20
)

// Allocator provides the backing store for a memory block.
type Allocator func(size int) ([]byte, error)

func makeBytes(size int) ([]byte, error) { return make([]byte, size), nil }

type block struct {
	data   []byte
	static bool
}

func (b *block) free() bool { return len(b.data) == 0 }

// BlockTable is a fixed set of memory block slots addressed by index. A slot
// is free when it holds no bytes.
type BlockTable struct {
	slots []block
	max   int
	alloc Allocator
}

// NewBlockTable returns a table with the given number of slots accepting
// blocks of at most maxSize bytes. A nil allocator uses make.
func NewBlockTable(slots, maxSize int, alloc Allocator) *BlockTable {
	if alloc == nil {
		alloc = makeBytes
	}
	return &BlockTable{
		slots: make([]block, slots),
		max:   maxSize,
		alloc: alloc,
	}
}

func (t *BlockTable) Cap() int     { return len(t.slots) }
func (t *BlockTable) MaxSize() int { return t.max }

// Len counts the slots in use.
func (t *BlockTable) Len() int {
	n := 0
	for i := range t.slots {
		if !t.slots[i].free() {
			n++
		}
	}
	return n
}

func (t *BlockTable) firstFree() int {
	for i := range t.slots {
		if t.slots[i].free() {
			return i
		}
	}
	return -1
}

// Alloc reserves a zeroed block of size bytes and returns its id.
func (t *BlockTable) Alloc(size int) (int, error) {
	if size <= 0 {
		return 0, ErrBArg
	}
	if size > t.max {
		return 0, ErrTBMB
	}
	id := t.firstFree()
	if id < 0 {
		return 0, ErrNFMB
	}
	data, err := t.alloc(size)
	if err != nil || len(data) < size {
		return 0, ErrMem
	}
	t.slots[id] = block{data: data[:size]}
	return id, nil
}

// Register exposes buf as a static block. Static blocks are never freed by
// the peer or by Release.
func (t *BlockTable) Register(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, ErrBArg
	}
	id := t.firstFree()
	if id < 0 {
		return 0, ErrNFMB
	}
	t.slots[id] = block{data: buf, static: true}
	return id, nil
}

// Unregister releases a static block without touching its bytes.
func (t *BlockTable) Unregister(id int) error {
	if !t.valid(id) || !t.slots[id].static {
		return ErrBArg
	}
	t.slots[id] = block{}
	return nil
}

func (t *BlockTable) valid(id int) bool {
	return id >= 0 && id < len(t.slots) && !t.slots[id].free()
}

// Free releases a dynamic block.
func (t *BlockTable) Free(id int) error {
	if !t.valid(id) || t.slots[id].static {
		return ErrBArg
	}
	t.slots[id] = block{}
	return nil
}

// Stat reports the size of slot id (0 if free) and whether it is static.
func (t *BlockTable) Stat(id int) (size int, static bool, err error) {
	if id < 0 || id >= len(t.slots) {
		return 0, false, ErrBArg
	}
	b := t.slots[id]
	return len(b.data), b.static, nil
}

// Bytes returns the storage of block id.
func (t *BlockTable) Bytes(id int) ([]byte, error) {
	if !t.valid(id) {
		return nil, ErrBArg
	}
	return t.slots[id].data, nil
}

// span returns the bytes of block id starting at off.
func (t *BlockTable) span(id, off int) ([]byte, error) {
	if !t.valid(id) {
		return nil, ErrBArg
	}
	data := t.slots[id].data
	if off < 0 || off >= len(data) {
		return nil, ErrBArg
	}
	return data[off:], nil
}

// Read copies bytes of block id starting at off into dst, clamped to the end
// of the block.
func (t *BlockTable) Read(dst []byte, id, off int) (int, error) {
	src, err := t.span(id, off)
	if err != nil {
		return 0, err
	}
	return copy(dst, src), nil
}

// Write copies src into block id starting at off, clamped to the end of the
// block.
func (t *BlockTable) Write(src []byte, id, off int) (int, error) {
	dst, err := t.span(id, off)
	if err != nil {
		return 0, err
	}
	return copy(dst, src), nil
}

// Release frees every dynamic block. Static blocks stay registered.
func (t *BlockTable) Release() {
	for i := range t.slots {
		if !t.slots[i].static {
			t.slots[i] = block{}
		}
	}
}

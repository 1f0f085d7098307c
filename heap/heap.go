// Copyright 2024 The Armored Kernel authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package heap implements the kernel heap substrate, a byte granularity
// buddy system allocator bound once to a fixed backing array.
//
// Free blocks are kept in per order intrusive lists: the first 8 bytes of
// every free block hold the address of the next free block of the same
// order, so the allocator needs no memory beyond its backing array for
// free space tracking.
package heap

import (
	"encoding/binary"
	"errors"
	"math/bits"
	"sync"
)

const (
	// Orders is the number of block size classes, the largest block is
	// 1<<(Orders-1) bytes.
	Orders = 30

	// MinBlock is the smallest block handed out, it must be able to hold
	// the free list link.
	MinBlock = 8
)

const nilBlock = ^uint64(0)

var (
	ErrInitialized    = errors.New("heap already initialized")
	ErrNotInitialized = errors.New("heap not initialized")
	ErrExhausted      = errors.New("heap exhausted")
	ErrInvalidFree    = errors.New("free of unallocated address")
	ErrInvalidAlign   = errors.New("alignment is not a power of two")
)

// Stats represents the heap accounting.
type Stats struct {
	// Total is the number of bytes under management.
	Total uint64
	// User is the number of bytes requested by live allocations.
	User uint64
	// Allocated is the number of bytes in blocks backing live
	// allocations.
	Allocated uint64
}

type allocation struct {
	order uint
	size  uint64
}

// Heap represents a buddy system allocator instance, the zero value is an
// uninitialized heap which refuses allocations until Init is called.
type Heap struct {
	sync.Mutex

	base uint64
	buf  []byte

	free [Orders]uint64
	used map[uint64]allocation

	stats Stats
	init  bool
}

// Init binds the heap to its backing array, mapped at address base. It must
// be called exactly once and before any allocation.
func (h *Heap) Init(backing []byte, base uint64) error {
	h.Lock()
	defer h.Unlock()

	if h.init {
		return ErrInitialized
	}

	h.buf = backing
	h.base = base
	h.used = make(map[uint64]allocation)

	for i := range h.free {
		h.free[i] = nilBlock
	}

	start := alignUp(base, MinBlock)
	end := (base + uint64(len(backing))) &^ (MinBlock - 1)

	for cur := start; cur+MinBlock <= end; {
		size := prevPowerOfTwo(end - cur)

		if low := cur & -cur; low != 0 && low < size {
			size = low
		}

		order := uint(bits.TrailingZeros64(size))

		if order >= Orders {
			order = Orders - 1
			size = 1 << order
		}

		h.push(order, cur)
		h.stats.Total += size
		cur += size
	}

	h.init = true

	return nil
}

// Alloc returns a zeroed block of at least size bytes aligned to align (a
// power of two), as both its address and a slice of its first size bytes.
func (h *Heap) Alloc(size int, align int) (addr uint64, buf []byte, err error) {
	if align <= 0 {
		align = 1
	}

	if align&(align-1) != 0 {
		return 0, nil, ErrInvalidAlign
	}

	if size < 0 || uint64(size) > 1<<(Orders-1) {
		return 0, nil, ErrExhausted
	}

	need := uint64(MinBlock)

	if n := nextPowerOfTwo(uint64(size)); n > need {
		need = n
	}

	if uint64(align) > need {
		need = uint64(align)
	}

	order := uint(bits.TrailingZeros64(need))

	h.Lock()
	defer h.Unlock()

	if !h.init {
		return 0, nil, ErrNotInitialized
	}

	for i := order; i < Orders; i++ {
		if h.free[i] == nilBlock {
			continue
		}

		for j := i; j > order; j-- {
			block := h.pop(j)
			h.push(j-1, block+(1<<(j-1)))
			h.push(j-1, block)
		}

		addr = h.pop(order)
		h.used[addr] = allocation{order: order, size: uint64(size)}

		h.stats.User += uint64(size)
		h.stats.Allocated += need

		off := addr - h.base
		clear(h.buf[off : off+need])

		return addr, h.buf[off : off+uint64(size) : off+uint64(size)], nil
	}

	return 0, nil, ErrExhausted
}

// Free returns a block obtained from Alloc, merging it with its free buddy
// blocks.
func (h *Heap) Free(addr uint64) error {
	h.Lock()
	defer h.Unlock()

	a, ok := h.used[addr]

	if !ok {
		return ErrInvalidFree
	}

	delete(h.used, addr)

	h.stats.User -= a.size
	h.stats.Allocated -= 1 << a.order

	cur := addr
	order := a.order

	for order < Orders-1 {
		buddy := cur ^ (1 << order)

		if !h.remove(order, buddy) {
			break
		}

		cur = min(cur, buddy)
		order++
	}

	h.push(order, cur)

	return nil
}

// Stats returns the current heap accounting.
func (h *Heap) Stats() Stats {
	h.Lock()
	defer h.Unlock()

	return h.stats
}

func (h *Heap) next(block uint64) uint64 {
	return binary.LittleEndian.Uint64(h.buf[block-h.base:])
}

func (h *Heap) setNext(block uint64, next uint64) {
	binary.LittleEndian.PutUint64(h.buf[block-h.base:], next)
}

func (h *Heap) push(order uint, block uint64) {
	h.setNext(block, h.free[order])
	h.free[order] = block
}

func (h *Heap) pop(order uint) uint64 {
	block := h.free[order]
	h.free[order] = h.next(block)
	return block
}

func (h *Heap) remove(order uint, block uint64) bool {
	prev := nilBlock

	for cur := h.free[order]; cur != nilBlock; cur = h.next(cur) {
		if cur != block {
			prev = cur
			continue
		}

		if prev == nilBlock {
			h.free[order] = h.next(cur)
		} else {
			h.setNext(prev, h.next(cur))
		}

		return true
	}

	return false
}

func alignUp(v uint64, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

func prevPowerOfTwo(v uint64) uint64 {
	return 1 << (63 - bits.LeadingZeros64(v))
}

func nextPowerOfTwo(v uint64) uint64 {
	if v <= 1 {
		return 1
	}

	return 1 << (64 - bits.LeadingZeros64(v-1))
}

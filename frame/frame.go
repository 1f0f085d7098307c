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

// Package frame implements the physical page frame allocator.
//
// An Allocator tracks every page of a single physical range as free or
// allocated and hands out pages as *Frame leases. A Frame is the sole owner
// of its page until Release is called, which returns the page exactly once
// no matter how many times, or from how many holders of the pointer, it is
// invoked.
package frame

import (
	"errors"
	"fmt"
	"sync"

	"github.com/transparency-dev/armored-kernel/heap"
	"github.com/transparency-dev/armored-kernel/mem"
)

// PageSize is the frame granularity.
const PageSize = 0x1000

var (
	ErrSeeded    = errors.New("frame allocator already seeded")
	ErrNotSeeded = errors.New("frame allocator not seeded")
	ErrAlignment = errors.New("frame range start is not page aligned")
	ErrExhausted = errors.New("no free frame")
)

const (
	unseeded = iota
	seeding
	active
)

// Stats represents the frame allocator accounting.
type Stats struct {
	Start uint64
	Size  uint64
	Slots int
	Used  int
}

// Allocator represents a first-fit physical frame allocator. Its tracking
// table, one byte per page, is carved from the kernel heap when the
// allocator is seeded.
type Allocator struct {
	sync.Mutex

	mem  mem.Memory
	heap *heap.Heap

	start uint64
	size  uint64
	usage []byte
	used  int
	state int
}

// NewAllocator returns an unseeded allocator which clears and tracks memory
// through m and obtains its tracking table from h.
func NewAllocator(m mem.Memory, h *heap.Heap) *Allocator {
	return &Allocator{
		mem:  m,
		heap: h,
	}
}

// AddMemory seeds the allocator with the physical range [start, start+size),
// which is zeroed before being tracked. A trailing partial page is ignored.
//
// The allocator can only be seeded once.
func (a *Allocator) AddMemory(start uint64, size uint64) (err error) {
	if start%PageSize != 0 {
		return fmt.Errorf("%w (%#x)", ErrAlignment, start)
	}

	a.Lock()

	if a.state != unseeded {
		a.Unlock()
		return ErrSeeded
	}

	a.state = seeding
	a.Unlock()

	defer func() {
		if err != nil {
			a.Lock()
			a.state = unseeded
			a.Unlock()
		}
	}()

	slots := size / PageSize

	_, usage, err := a.heap.Alloc(int(slots), 1)

	if err != nil {
		return fmt.Errorf("could not allocate tracking table for %d frames, %w", slots, err)
	}

	// the range may hold anything left over by firmware
	a.mem.Zero(start, size)

	a.Lock()
	defer a.Unlock()

	a.start = start
	a.size = size
	a.usage = usage
	a.used = 0
	a.state = active

	return
}

// Alloc returns the lowest free frame.
func (a *Allocator) Alloc() (*Frame, error) {
	a.Lock()
	defer a.Unlock()

	if a.state != active {
		return nil, ErrNotSeeded
	}

	for i, inUse := range a.usage {
		if inUse != 0 {
			continue
		}

		a.usage[i] = 1
		a.used++

		return newFrame(a, a.start+uint64(i)*PageSize), nil
	}

	return nil, ErrExhausted
}

// dealloc is only reachable through Frame.Release, which guarantees addr
// was handed out by Alloc and is still allocated.
func (a *Allocator) dealloc(addr uint64) {
	a.Lock()
	defer a.Unlock()

	a.usage[(addr-a.start)/PageSize] = 0
	a.used--
}

// Stats returns the current allocator accounting.
func (a *Allocator) Stats() Stats {
	a.Lock()
	defer a.Unlock()

	return Stats{
		Start: a.start,
		Size:  a.size,
		Slots: len(a.usage),
		Used:  a.used,
	}
}

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

package frame

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// Frame represents the exclusive lease on a single physical page.
//
// Frames are only handled by pointer, the page is returned to its allocator
// by Release. A finalizer releases frames which become unreachable without
// being released.
type Frame struct {
	addr     uint64
	alloc    *Allocator
	released atomic.Bool
}

func newFrame(a *Allocator, addr uint64) *Frame {
	f := &Frame{
		addr:  addr,
		alloc: a,
	}

	runtime.SetFinalizer(f, (*Frame).Release)

	return f
}

// Addr returns the physical address of the page, it panics if the frame has
// been released.
func (f *Frame) Addr() uint64 {
	if f.released.Load() {
		panic(fmt.Sprintf("frame: use of released frame %#x", f.addr))
	}

	return f.addr
}

// Bytes returns the page contents, it panics if the frame has been
// released.
func (f *Frame) Bytes() []byte {
	return f.alloc.mem.Slice(f.Addr(), PageSize)
}

// Released reports whether the page has been returned to its allocator.
func (f *Frame) Released() bool {
	return f.released.Load()
}

// Release returns the page to its allocator, calls after the first one have
// no effect.
func (f *Frame) Release() {
	if !f.released.CompareAndSwap(false, true) {
		return
	}

	runtime.SetFinalizer(f, nil)
	f.alloc.dealloc(f.addr)
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame %#x", f.addr)
}

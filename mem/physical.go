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

package mem

import (
	"sync/atomic"
	"unsafe"
)

// Physical implements Memory over the flat physical address space the
// kernel runs in (no MMU translation is active).
type Physical struct{}

func ptr32(addr uint64) *uint32 {
	return (*uint32)(unsafe.Pointer(uintptr(addr)))
}

// Read32 implements Memory.
func (Physical) Read32(addr uint64) uint32 {
	return atomic.LoadUint32(ptr32(addr))
}

// Write32 implements Memory.
func (Physical) Write32(addr uint64, val uint32) {
	atomic.StoreUint32(ptr32(addr), val)
}

// Zero implements Memory.
func (Physical) Zero(addr uint64, size uint64) {
	n := size / Stride

	for i := uint64(0); i < n; i++ {
		*(*[Stride]byte)(unsafe.Pointer(uintptr(addr + i*Stride))) = [Stride]byte{}
	}
}

// Slice implements Memory.
func (Physical) Slice(addr uint64, size uint64) []byte {
	if size == 0 {
		return nil
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), size)
}

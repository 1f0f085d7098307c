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
	"encoding/binary"
	"fmt"
)

// Buffer implements Memory over a byte slice mapped at Base, RISC-V byte
// order (little endian) is used for 32-bit accesses.
type Buffer struct {
	Base uint64
	Data []byte
}

// NewBuffer returns a zeroed Buffer of size bytes mapped at base.
func NewBuffer(base uint64, size int) *Buffer {
	return &Buffer{
		Base: base,
		Data: make([]byte, size),
	}
}

// End returns the first address past the buffer.
func (b *Buffer) End() uint64 {
	return b.Base + uint64(len(b.Data))
}

func (b *Buffer) offset(addr uint64, size uint64) uint64 {
	if addr < b.Base || addr+size > b.End() || addr+size < addr {
		panic(fmt.Sprintf("mem: access %#x+%#x outside buffer %#x-%#x", addr, size, b.Base, b.End()))
	}

	return addr - b.Base
}

// Read32 implements Memory.
func (b *Buffer) Read32(addr uint64) uint32 {
	off := b.offset(addr, 4)
	return binary.LittleEndian.Uint32(b.Data[off:])
}

// Write32 implements Memory.
func (b *Buffer) Write32(addr uint64, val uint32) {
	off := b.offset(addr, 4)
	binary.LittleEndian.PutUint32(b.Data[off:], val)
}

// Zero implements Memory.
func (b *Buffer) Zero(addr uint64, size uint64) {
	n := size &^ (Stride - 1)
	off := b.offset(addr, n)

	clear(b.Data[off : off+n])
}

// Slice implements Memory.
func (b *Buffer) Slice(addr uint64, size uint64) []byte {
	off := b.offset(addr, size)
	return b.Data[off : off+size : off+size]
}

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

// Package mem confines all raw physical memory access (memory mapped
// registers, freshly discovered RAM, firmware supplied blobs) behind the
// Memory interface.
//
// Kernel code receives a Memory value and never converts integers to
// pointers itself: Physical is the only implementation that touches the real
// address space, while Buffer backs the same interface with a byte slice for
// tests and host side tooling.
package mem

// Stride is the granularity of Zero.
const Stride = 16

// Memory represents a window onto a physical address space.
type Memory interface {
	// Read32 performs a volatile 32-bit load.
	Read32(addr uint64) uint32
	// Write32 performs a volatile 32-bit store.
	Write32(addr uint64, val uint32)
	// Zero clears size/Stride consecutive Stride byte blocks starting at
	// addr, a trailing remainder shorter than Stride is left untouched.
	Zero(addr uint64, size uint64)
	// Slice returns a byte slice aliasing [addr, addr+size).
	Slice(addr uint64, size uint64) []byte
}

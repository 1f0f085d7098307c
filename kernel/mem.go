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

//go:build tamago && riscv64

package main

import (
	_ "unsafe"

	"github.com/transparency-dev/armored-kernel/platform"
)

const (
	// OpenSBI occupies 0x80000000-0x80200000 and jumps to the kernel at
	// kernelStart, the TamaGo runtime owns the window up to
	// kernelStart+kernelSize for its text, data and heap.
	kernelStart = 0x80200000
	kernelSize  = 0x04000000 // 64MB

	// StackSize is the size of the stack used by the entry trampoline.
	StackSize = 0x20000 // 128KB

	// HeapSize is the size of the kernel heap backing array.
	HeapSize = 0x80000 // 512KB
)

//go:linkname ramStart runtime.ramStart
var ramStart uint64 = kernelStart

//go:linkname ramSize runtime.ramSize
var ramSize uint64 = kernelSize

//go:linkname ramStackOffset runtime.ramStackOffset
var ramStackOffset uint64 = 0x100

var (
	bootStack [StackSize]byte
	heapArena [HeapSize]byte
)

// Set by the entry trampoline after .bss is cleared, the non-zero
// initializers keep both out of .bss.
var (
	hartID     uint64 = ^uint64(0)
	deviceTree uint64 = ^uint64(0)
)

// defined in entry_riscv64.s
func imageStart() uint64
func imageEnd() uint64

// kernelImage returns the physical footprint of the kernel, its loaded
// image followed by the Go runtime RAM window.
func kernelImage() platform.Region {
	start := imageStart()
	end := max(imageEnd(), ramStart+ramSize)

	return platform.Region{
		Base: min(start, ramStart),
		Size: end - min(start, ramStart),
	}
}

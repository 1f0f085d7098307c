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

import "fmt"

// Bus implements Memory over a set of non overlapping Buffers, each access
// must fall within a single Buffer.
type Bus []*Buffer

func (b Bus) window(addr uint64, size uint64) *Buffer {
	for _, w := range b {
		if addr >= w.Base && addr+size <= w.End() {
			return w
		}
	}

	panic(fmt.Sprintf("mem: access %#x+%#x outside bus windows", addr, size))
}

// Read32 implements Memory.
func (b Bus) Read32(addr uint64) uint32 {
	return b.window(addr, 4).Read32(addr)
}

// Write32 implements Memory.
func (b Bus) Write32(addr uint64, val uint32) {
	b.window(addr, 4).Write32(addr, val)
}

// Zero implements Memory.
func (b Bus) Zero(addr uint64, size uint64) {
	b.window(addr, size&^(Stride-1)).Zero(addr, size)
}

// Slice implements Memory.
func (b Bus) Slice(addr uint64, size uint64) []byte {
	return b.window(addr, size).Slice(addr, size)
}

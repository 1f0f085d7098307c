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

	"github.com/transparency-dev/armored-kernel/sbi"
)

// The QEMU virt time CSR ticks at 10MHz (see /cpus/timebase-frequency).
const nsPerTick = 100

// defined in entry_riscv64.s
func rdtime() uint64

var rngState uint64

//go:linkname hwinit runtime.hwinit
func hwinit() {
	// The console is served by firmware and time by the time CSR, both
	// usable without any setup.
}

// All runtime console output (stdout, stderr, panics) goes through the SBI
// debug console.
//
//go:linkname printk runtime.printk
func printk(c byte) {
	sbi.ConsolePutchar(c)
}

//go:linkname nanotime1 runtime.nanotime1
func nanotime1() int64 {
	return int64(rdtime() * nsPerTick)
}

//go:linkname initRNG runtime.initRNG
func initRNG() {
	rngState = rdtime() | 1
}

// The platform has no entropy source, the runtime only needs this for map
// seeds and scheduling decisions.
//
//go:linkname getRandomData runtime.getRandomData
func getRandomData(b []byte) {
	for i := range b {
		rngState ^= rngState << 13
		rngState ^= rngState >> 7
		rngState ^= rngState << 17
		b[i] = byte(rngState)
	}
}

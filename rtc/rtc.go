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

// Package rtc implements a driver for the Google Goldfish real time clock
// found on QEMU virt machines.
package rtc

import (
	"time"

	"github.com/transparency-dev/armored-kernel/mem"
	"github.com/transparency-dev/armored-kernel/platform"
)

// Compatible is the device tree compatible string of the Goldfish RTC.
const Compatible = "google,goldfish-rtc"

// Goldfish RTC registers
const (
	TIME_LOW  = 0x00
	TIME_HIGH = 0x04
)

// Goldfish represents a Goldfish RTC instance.
type Goldfish struct {
	// Base register
	Base uint64
	// Memory used for register access
	Memory mem.Memory
}

// Probe returns the first Goldfish RTC described by p, the second return
// value is false when no such device exists.
func Probe(p *platform.Platform, m mem.Memory) (*Goldfish, bool) {
	for _, d := range p.Compatible(Compatible) {
		if len(d.Reg) == 0 {
			continue
		}

		return &Goldfish{
			Base:   d.Reg[0].Base,
			Memory: m,
		}, true
	}

	return nil, false
}

// Nanotime returns the nanoseconds elapsed since the Unix epoch. Reading
// TIME_LOW latches TIME_HIGH, so the low word must be read first.
func (hw *Goldfish) Nanotime() uint64 {
	low := hw.Memory.Read32(hw.Base + TIME_LOW)
	high := hw.Memory.Read32(hw.Base + TIME_HIGH)

	return uint64(high)<<32 | uint64(low)
}

// Now returns the current calendar time in UTC.
func (hw *Goldfish) Now() time.Time {
	return time.Unix(0, int64(hw.Nanotime())).UTC()
}

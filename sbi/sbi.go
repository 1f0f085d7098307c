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

//go:build riscv64

// Package sbi implements the RISC-V Supervisor Binary Interface calls used
// by the kernel, see https://github.com/riscv-non-isa/riscv-sbi-doc.
//
// This package is only meant to be used in supervisor mode, with an SBI
// implementation (e.g. OpenSBI) running in machine mode.
package sbi

// SBI extensions
const (
	EXT_LEGACY_CONSOLE_PUTCHAR = 0x01
	EXT_LEGACY_SHUTDOWN        = 0x08
	EXT_SRST                   = 0x53525354
)

// System Reset extension parameters
const (
	SRST_SYSTEM_RESET = 0

	RESET_TYPE_SHUTDOWN = 0
	RESET_REASON_NONE   = 0
)

// defined in sbi_riscv64.s
func ecall(eid uint64, fid uint64, a0 uint64, a1 uint64, a2 uint64) (err int64, val int64)

// ConsolePutchar writes a byte to the debug console.
func ConsolePutchar(c byte) {
	ecall(EXT_LEGACY_CONSOLE_PUTCHAR, 0, uint64(c), 0, 0)
}

// Shutdown powers off the system, it never returns.
func Shutdown() {
	ecall(EXT_SRST, SRST_SYSTEM_RESET, RESET_TYPE_SHUTDOWN, RESET_REASON_NONE, 0)

	// SRST unsupported, fall back to the legacy extension
	ecall(EXT_LEGACY_SHUTDOWN, 0, 0, 0, 0)

	for {
	}
}

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

// Package testonly provides support for kernel tests.
package testonly

import (
	"encoding/binary"
	"math/rand"
	"strconv"
	"testing"

	"github.com/transparency-dev/armored-kernel/mem"
)

const (
	fdtMagic     = 0xd00dfeed
	fdtBeginNode = 1
	fdtEndNode   = 2
	fdtProp      = 3
	fdtEnd       = 9

	fdtHeaderSize = 40
)

// Node is a device tree node used to build test blobs.
type Node struct {
	Name     string
	Props    []Prop
	Children []*Node
}

// Prop is a device tree property used to build test blobs.
type Prop struct {
	Name  string
	Value []byte
}

// String returns a string property.
func String(name string, v string) Prop {
	return Prop{Name: name, Value: append([]byte(v), 0)}
}

// Strings returns a string list property.
func Strings(name string, v ...string) Prop {
	var b []byte
	for _, s := range v {
		b = append(b, s...)
		b = append(b, 0)
	}
	return Prop{Name: name, Value: b}
}

// Cells returns a property holding big endian 32-bit cells.
func Cells(name string, v ...uint32) Prop {
	b := make([]byte, 4*len(v))
	for i, c := range v {
		binary.BigEndian.PutUint32(b[i*4:], c)
	}
	return Prop{Name: name, Value: b}
}

// Reg64 returns a reg property for #address-cells = #size-cells = 2.
func Reg64(pairs ...uint64) Prop {
	var c []uint32
	for _, v := range pairs {
		c = append(c, uint32(v>>32), uint32(v))
	}
	return Cells("reg", c...)
}

// Blob encodes root as a version 17 flattened device tree, with the given
// memory reservation block entries (address, size pairs).
func Blob(t *testing.T, root *Node, reserve ...uint64) []byte {
	t.Helper()

	if len(reserve)%2 != 0 {
		t.Fatalf("odd number of reservation values: %d", len(reserve))
	}

	var (
		structs []byte
		strs    []byte
		offsets = make(map[string]uint32)
	)

	u32 := func(v uint32) {
		structs = binary.BigEndian.AppendUint32(structs, v)
	}
	pad := func() {
		for len(structs)%4 != 0 {
			structs = append(structs, 0)
		}
	}

	var encode func(n *Node)
	encode = func(n *Node) {
		u32(fdtBeginNode)
		structs = append(structs, n.Name...)
		structs = append(structs, 0)
		pad()

		for _, p := range n.Props {
			off, ok := offsets[p.Name]
			if !ok {
				off = uint32(len(strs))
				offsets[p.Name] = off
				strs = append(strs, p.Name...)
				strs = append(strs, 0)
			}
			u32(fdtProp)
			u32(uint32(len(p.Value)))
			u32(off)
			structs = append(structs, p.Value...)
			pad()
		}

		for _, c := range n.Children {
			encode(c)
		}

		u32(fdtEndNode)
	}

	encode(root)
	u32(fdtEnd)

	var rsv []byte
	for i := 0; i < len(reserve); i += 2 {
		rsv = binary.BigEndian.AppendUint64(rsv, reserve[i])
		rsv = binary.BigEndian.AppendUint64(rsv, reserve[i+1])
	}
	rsv = append(rsv, make([]byte, 16)...)

	offRsv := uint32(fdtHeaderSize)
	offStruct := offRsv + uint32(len(rsv))
	offStrings := offStruct + uint32(len(structs))
	total := offStrings + uint32(len(strs))

	blob := make([]byte, 0, total)
	for _, v := range []uint32{
		fdtMagic,
		total,
		offStruct,
		offStrings,
		offRsv,
		17, // version
		16, // last compatible version
		0,  // boot cpu
		uint32(len(strs)),
		uint32(len(structs)),
	} {
		blob = binary.BigEndian.AppendUint32(blob, v)
	}

	blob = append(blob, rsv...)
	blob = append(blob, structs...)
	blob = append(blob, strs...)

	return blob
}

// Virt describes a machine shaped like QEMU riscv64 virt.
type Virt struct {
	Harts   int
	MemBase uint64
	MemSize uint64
	// RTC is the goldfish RTC base, zero omits the device.
	RTC uint64
}

// Tree returns the device tree of v.
func (v Virt) Tree() *Node {
	cpus := &Node{
		Name: "cpus",
		Props: []Prop{
			Cells("#address-cells", 1),
			Cells("#size-cells", 0),
			Cells("timebase-frequency", 10000000),
		},
	}

	for i := 0; i < v.Harts; i++ {
		cpus.Children = append(cpus.Children, &Node{
			Name: "cpu@" + strconv.Itoa(i),
			Props: []Prop{
				String("device_type", "cpu"),
				Cells("reg", uint32(i)),
				String("riscv,isa", "rv64imafdc"),
				String("compatible", "riscv"),
			},
		})
	}

	soc := &Node{
		Name: "soc",
		Props: []Prop{
			Cells("#address-cells", 2),
			Cells("#size-cells", 2),
			String("compatible", "simple-bus"),
		},
		Children: []*Node{
			{
				Name: "serial@10000000",
				Props: []Prop{
					Reg64(0x10000000, 0x100),
					String("compatible", "ns16550a"),
				},
			},
			{
				Name: "poweroff",
				Props: []Prop{
					Strings("compatible", "syscon-poweroff"),
				},
			},
		},
	}

	if v.RTC != 0 {
		soc.Children = append(soc.Children, &Node{
			Name: "rtc@" + strconv.FormatUint(v.RTC, 16),
			Props: []Prop{
				Reg64(v.RTC, 0x1000),
				String("compatible", "google,goldfish-rtc"),
			},
		})
	}

	return &Node{
		Props: []Prop{
			Cells("#address-cells", 2),
			Cells("#size-cells", 2),
			String("compatible", "riscv-virtio"),
			String("model", "riscv-virtio,qemu"),
		},
		Children: []*Node{
			{
				Name:  "chosen",
				Props: []Prop{String("bootargs", "")},
			},
			{
				Name: "reserved-memory",
				Props: []Prop{
					Cells("#address-cells", 2),
					Cells("#size-cells", 2),
				},
				Children: []*Node{
					{
						Name:  "mmode_resv0@80000000",
						Props: []Prop{Reg64(0x80000000, 0x40000)},
					},
				},
			},
			{
				Name: "memory@" + strconv.FormatUint(v.MemBase, 16),
				Props: []Prop{
					String("device_type", "memory"),
					Reg64(v.MemBase, v.MemSize),
				},
			},
			cpus,
			soc,
		},
	}
}

// Blob returns the encoded device tree of v.
func (v Virt) Blob(t *testing.T) []byte {
	t.Helper()
	return Blob(t, v.Tree())
}

// GarbageBuffer returns a mem.Buffer of size bytes mapped at base, filled
// with non-zero pseudo random bytes.
func GarbageBuffer(t *testing.T, base uint64, size int) *mem.Buffer {
	t.Helper()
	b := mem.NewBuffer(base, size)
	r := rand.New(rand.NewSource(int64(base)))
	for i := range b.Data {
		b.Data[i] = byte(r.Intn(255) + 1)
	}
	return b
}

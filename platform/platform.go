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

// Package platform implements hardware discovery from the flattened device
// tree blob handed over by firmware.
//
// The blob is validated and parsed into a tree by the u-root device tree
// package, the tree is then reduced to the few facts the kernel needs to
// boot: platform identity, hart count, memory regions and the attached
// devices with their compatible strings.
package platform

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/u-root/u-root/pkg/dt"

	"github.com/transparency-dev/armored-kernel/mem"
)

const (
	// Magic is the flattened device tree header magic.
	Magic = 0xd00dfeed

	headerSize = 40

	// MaxBlobSize bounds the size of a blob read from physical memory.
	MaxBlobSize = 2 << 20

	// minVersion is the oldest structure version with inline node names.
	minVersion = 16
)

var (
	ErrInvalidBlob = errors.New("invalid device tree blob")
	ErrNoMemory    = errors.New("no memory region holds the kernel image")
)

// Platform represents the hardware described by a device tree.
type Platform struct {
	// Model is the root node model property.
	Model string
	// CPUs is the number of harts under /cpus.
	CPUs int
	// Memory lists the regions reported by memory nodes.
	Memory []Region
	// Reserved lists the memory reservation block entries and the
	// /reserved-memory children.
	Reserved []Region
	// Devices lists every node with a compatible property, in tree order.
	Devices []Device
}

// Device represents a device tree node advertising compatible strings.
type Device struct {
	Name       string
	Path       string
	Compatible []string
	Reg        []Region
}

// IsCompatible reports whether the device advertises compatible string s.
func (d *Device) IsCompatible(s string) bool {
	for _, c := range d.Compatible {
		if c == s {
			return true
		}
	}

	return false
}

// Load parses the device tree blob found at physical address addr.
func Load(m mem.Memory, addr uint64) (*Platform, error) {
	hdr := m.Slice(addr, headerSize)

	if magic := binary.BigEndian.Uint32(hdr[0:4]); magic != Magic {
		return nil, fmt.Errorf("%w: bad magic %#x at %#x", ErrInvalidBlob, magic, addr)
	}

	size := binary.BigEndian.Uint32(hdr[4:8])

	if size < headerSize || size > MaxBlobSize {
		return nil, fmt.Errorf("%w: implausible size %d", ErrInvalidBlob, size)
	}

	return Parse(m.Slice(addr, uint64(size)))
}

// Parse validates and parses a device tree blob.
func Parse(blob []byte) (*Platform, error) {
	if len(blob) < headerSize {
		return nil, fmt.Errorf("%w: short header", ErrInvalidBlob)
	}

	if magic := binary.BigEndian.Uint32(blob[0:4]); magic != Magic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrInvalidBlob, magic)
	}

	size := binary.BigEndian.Uint32(blob[4:8])

	if size < headerSize || uint64(size) > uint64(len(blob)) {
		return nil, fmt.Errorf("%w: total size %d exceeds %d bytes", ErrInvalidBlob, size, len(blob))
	}

	if v := binary.BigEndian.Uint32(blob[20:24]); v < minVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidBlob, v)
	}

	fdt, err := dt.ReadFDT(bytes.NewReader(blob[:size]))

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBlob, err)
	}

	if fdt.RootNode == nil {
		return nil, fmt.Errorf("%w: no root node", ErrInvalidBlob)
	}

	p := &Platform{}

	for _, r := range fdt.ReserveEntries {
		p.Reserved = append(p.Reserved, Region{Base: r.Address, Size: r.Size})
	}

	if err = p.walk(fdt.RootNode, "", defaultAddressCells, defaultSizeCells); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBlob, err)
	}

	return p, nil
}

// Compatible returns the devices advertising compatible string s.
func (p *Platform) Compatible(s string) (devices []Device) {
	for _, d := range p.Devices {
		if d.IsCompatible(s) {
			devices = append(devices, d)
		}
	}

	return
}

// Usable returns the part of the memory region holding the kernel image
// which follows the image.
func (p *Platform) Usable(image Region) (Region, error) {
	for _, r := range p.Memory {
		if r.Contains(image) {
			return UsableRange(r, image)
		}
	}

	return Region{}, fmt.Errorf("%w (image %s)", ErrNoMemory, image)
}

func (p *Platform) walk(n *dt.Node, parent string, ac uint32, sc uint32) (err error) {
	path := "/"

	if parent != "" {
		path = strings.TrimSuffix(parent, "/") + "/" + n.Name
	}

	switch {
	case parent == "":
		if prop, ok := n.LookProperty("model"); ok {
			p.Model, _ = prop.AsString()
		}
	case isMemory(n):
		prop, ok := n.LookProperty("reg")

		if !ok {
			return fmt.Errorf("%s: memory node without reg", path)
		}

		regions, err := decodeReg(prop.Value, ac, sc)

		if err != nil {
			return fmt.Errorf("%s: %v", path, err)
		}

		p.Memory = append(p.Memory, regions...)
	case parent == "/cpus" && isCPU(n):
		p.CPUs++
	case parent == "/reserved-memory":
		if prop, ok := n.LookProperty("reg"); ok {
			regions, _ := decodeReg(prop.Value, ac, sc)
			p.Reserved = append(p.Reserved, regions...)
		}
	}

	if prop, ok := n.LookProperty("compatible"); ok {
		d := Device{
			Name: n.Name,
			Path: path,
		}

		if d.Compatible, err = stringList(prop.Value); err != nil {
			return fmt.Errorf("%s: compatible %v", path, err)
		}

		if reg, ok := n.LookProperty("reg"); ok {
			d.Reg, _ = decodeReg(reg.Value, ac, sc)
		}

		p.Devices = append(p.Devices, d)
	}

	childAC, childSC := cells(n)

	for _, child := range n.Children {
		if err = p.walk(child, path, childAC, childSC); err != nil {
			return
		}
	}

	return
}

func isMemory(n *dt.Node) bool {
	if prop, ok := n.LookProperty("device_type"); ok {
		s, _ := prop.AsString()
		return s == "memory"
	}

	return n.Name == "memory" || strings.HasPrefix(n.Name, "memory@")
}

func isCPU(n *dt.Node) bool {
	if prop, ok := n.LookProperty("device_type"); ok {
		s, _ := prop.AsString()
		return s == "cpu"
	}

	return strings.HasPrefix(n.Name, "cpu@")
}

// stringList decodes a stringlist property, a sequence of NUL terminated
// strings.
func stringList(v []byte) ([]string, error) {
	if len(v) == 0 {
		return nil, nil
	}

	if v[len(v)-1] != 0 {
		return nil, errors.New("stringlist is not NUL terminated")
	}

	return strings.Split(string(v[:len(v)-1]), "\x00"), nil
}

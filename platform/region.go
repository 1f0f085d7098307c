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

package platform

import (
	"encoding/binary"
	"fmt"

	"github.com/u-root/u-root/pkg/dt"
)

// Devicetree specification defaults for nodes lacking #address-cells and
// #size-cells.
const (
	defaultAddressCells = 2
	defaultSizeCells    = 1
)

// Region represents a physical address range.
type Region struct {
	Base uint64
	Size uint64
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Base + r.Size
}

// Contains reports whether o lies entirely within r.
func (r Region) Contains(o Region) bool {
	return o.Base >= r.Base && o.End() <= r.End() && o.Base <= o.End()
}

// Align returns the largest sub-region of r whose base and size are both
// multiples of align (a power of two).
func (r Region) Align(align uint64) Region {
	base := (r.Base + align - 1) &^ (align - 1)

	if base >= r.End() {
		return Region{Base: base}
	}

	return Region{
		Base: base,
		Size: (r.End() - base) &^ (align - 1),
	}
}

func (r Region) String() string {
	return fmt.Sprintf("%#x - %#x", r.Base, r.End())
}

// UsableRange returns [image.End(), region.End()), the part of a memory
// region left for dynamic frame management once the kernel image loaded at
// its start is excluded.
func UsableRange(region Region, image Region) (Region, error) {
	if !region.Contains(image) {
		return Region{}, fmt.Errorf("kernel image %s outside memory region %s", image, region)
	}

	return Region{
		Base: image.End(),
		Size: region.End() - image.End(),
	}, nil
}

func cells(n *dt.Node) (ac uint32, sc uint32) {
	ac, sc = defaultAddressCells, defaultSizeCells

	if prop, ok := n.LookProperty("#address-cells"); ok {
		if v, err := prop.AsU32(); err == nil {
			ac = v
		}
	}

	if prop, ok := n.LookProperty("#size-cells"); ok {
		if v, err := prop.AsU32(); err == nil {
			sc = v
		}
	}

	return
}

func readCells(b []byte, n uint32) (v uint64) {
	for i := uint32(0); i < n; i++ {
		v = v<<32 | uint64(binary.BigEndian.Uint32(b[i*4:]))
	}

	return
}

func decodeReg(b []byte, ac uint32, sc uint32) (regions []Region, err error) {
	if ac == 0 || ac > 2 || sc > 2 {
		return nil, fmt.Errorf("unsupported reg layout <%d %d>", ac, sc)
	}

	entry := int(ac+sc) * 4

	if len(b) == 0 || len(b)%entry != 0 {
		return nil, fmt.Errorf("reg length %d is not a multiple of %d", len(b), entry)
	}

	for off := 0; off < len(b); off += entry {
		regions = append(regions, Region{
			Base: readCells(b[off:], ac),
			Size: readCells(b[off+int(ac)*4:], sc),
		})
	}

	return
}

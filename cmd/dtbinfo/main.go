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

//go:build !tamago

// The dtbinfo tool runs the kernel hardware discovery over a device tree
// blob file and, optionally, seeds a frame allocator over host memory
// standing in for the discovered usable range. Blobs can be obtained with
// `qemu-system-riscv64 -machine virt,dumpdtb=virt.dtb`.
package main

import (
	"flag"
	"os"
	"time"
	"unsafe"

	"k8s.io/klog"

	"github.com/transparency-dev/armored-kernel/boot"
	"github.com/transparency-dev/armored-kernel/heap"
	"github.com/transparency-dev/armored-kernel/mem"
	"github.com/transparency-dev/armored-kernel/platform"
	"github.com/transparency-dev/armored-kernel/rtc"
)

var (
	dtbFile    = flag.String("dtb", "", "Device tree blob to inspect.")
	imageStart = flag.Uint64("image_start", 0x80200000, "Physical start address of the kernel image.")
	imageEnd   = flag.Uint64("image_end", 0x84200000, "Physical end address of the kernel image, Go runtime RAM window included.")
	simulate   = flag.Bool("simulate", false, "Seed a frame allocator over host memory standing in for the usable range.")
	frames     = flag.Int("frames", 0, "Number of frames to allocate and release once seeded, requires -simulate.")
	heapSize   = flag.Int("heap_size", 512<<10, "Size in bytes of the kernel heap backing array.")
)

func main() {
	klog.InitFlags(nil)
	flag.Set("logtostderr", "true")
	flag.Parse()

	if len(*dtbFile) == 0 {
		flag.PrintDefaults()
		klog.Exit("missing -dtb")
	}

	blob, err := os.ReadFile(*dtbFile)
	if err != nil {
		klog.Exitf("Failed to read %q: %v", *dtbFile, err)
	}

	image := platform.Region{Base: *imageStart, Size: *imageEnd - *imageStart}

	p, err := platform.Parse(blob)
	if err != nil {
		klog.Exitf("Failed to parse %q: %v", *dtbFile, err)
	}

	usable, err := p.Usable(image)
	if err != nil {
		klog.Exitf("Failed to compute usable range: %v", err)
	}
	usable = usable.Align(0x1000)

	// The blob is mapped over the kernel image, which is never part of
	// the usable range.
	bus := mem.Bus{&mem.Buffer{Base: image.Base, Data: blob}}

	for _, d := range p.Compatible(rtc.Compatible) {
		if len(d.Reg) == 0 {
			continue
		}
		bus = append(bus, hostClock(d.Reg[0].Base))
	}

	backing := make([]byte, *heapSize)
	h := &heap.Heap{}
	if err := h.Init(backing, uint64(uintptr(unsafe.Pointer(&backing[0])))); err != nil {
		klog.Exitf("Failed to initialize heap: %v", err)
	}

	env := boot.Environment{DeviceTree: image.Base, Image: image}

	if !*simulate {
		sys := boot.New(bus, h)
		if err := sys.Discover(env); err != nil {
			klog.Exitf("Discovery failed: %v", err)
		}
		klog.Infof("usable range %s (%d frames)", sys.Usable, sys.Usable.Size/0x1000)
		return
	}

	ram, release, err := mapRAM(usable.Size)
	if err != nil {
		klog.Exitf("Failed to map %d bytes: %v", usable.Size, err)
	}
	defer release()

	sys, err := boot.Run(env, append(bus, &mem.Buffer{Base: usable.Base, Data: ram}), h)
	if err != nil {
		klog.Exitf("Boot failed: %v", err)
	}

	if *frames > 0 {
		start := time.Now()
		if err := sys.SelfTest(*frames); err != nil {
			klog.Exitf("Self test failed: %v", err)
		}
		klog.Infof("%d frames allocated and released in %v", *frames, time.Since(start))
	}

	fs := sys.Frames.Stats()
	hs := h.Stats()
	klog.Infof("frames: %d slots over %#x - %#x, %d in use", fs.Slots, fs.Start, fs.Start+fs.Size, fs.Used)
	klog.Infof("heap: %d of %d bytes allocated", hs.Allocated, hs.Total)
}

// hostClock returns a goldfish RTC register window holding the host time.
func hostClock(base uint64) *mem.Buffer {
	b := mem.NewBuffer(base, 0x1000)
	ns := uint64(time.Now().UnixNano())

	b.Write32(base+rtc.TIME_LOW, uint32(ns))
	b.Write32(base+rtc.TIME_HIGH, uint32(ns>>32))

	return b
}

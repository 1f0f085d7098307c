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

// Package boot implements the portable part of the kernel boot sequence.
//
// A System owns the long lived memory management objects and makes their
// initialization order explicit: the heap must be initialized by the caller,
// Discover parses the firmware device tree and computes the usable physical
// range, Seed hands that range to the frame allocator.
package boot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"k8s.io/klog"

	"github.com/transparency-dev/armored-kernel/frame"
	"github.com/transparency-dev/armored-kernel/heap"
	"github.com/transparency-dev/armored-kernel/mem"
	"github.com/transparency-dev/armored-kernel/platform"
	"github.com/transparency-dev/armored-kernel/rtc"
)

// Environment represents the state handed over to the kernel at entry.
type Environment struct {
	// HartID is the boot hart identifier (a0).
	HartID uint64
	// DeviceTree is the physical address of the device tree blob (a1).
	DeviceTree uint64
	// Image is the physical footprint of the loaded kernel.
	Image platform.Region
}

// System represents the kernel memory management state.
type System struct {
	Memory   mem.Memory
	Heap     *heap.Heap
	Frames   *frame.Allocator
	Platform *platform.Platform
	// Clock is nil when no real time clock was discovered.
	Clock *rtc.Goldfish
	// Usable is the page aligned physical range managed by Frames.
	Usable platform.Region
}

// New returns a System accessing physical memory through m and allocating
// from h, which must already be initialized.
func New(m mem.Memory, h *heap.Heap) *System {
	return &System{
		Memory: m,
		Heap:   h,
		Frames: frame.NewAllocator(m, h),
	}
}

// Run performs discovery and seeding in order.
func Run(env Environment, m mem.Memory, h *heap.Heap) (s *System, err error) {
	s = New(m, h)

	if err = s.Discover(env); err != nil {
		return
	}

	return s, s.Seed()
}

// Discover parses the device tree, reports the platform and computes the
// usable physical range.
func (s *System) Discover(env Environment) (err error) {
	klog.Infof("boot hart: %d", env.HartID)
	klog.Infof("program size: %d KB", env.Image.Size/1024)
	klog.Infof("program range: %s", env.Image)
	klog.Infof("device_tree addr: %#x", env.DeviceTree)

	if s.Platform, err = platform.Load(s.Memory, env.DeviceTree); err != nil {
		return fmt.Errorf("could not load device tree, %w", err)
	}

	p := s.Platform

	klog.Infof("Platform: %s  %d CPU(s)", p.Model, p.CPUs)

	for _, d := range p.Devices {
		klog.Infof("%s  %s", d.Name, strings.Join(d.Compatible, " "))
	}

	if hw, ok := rtc.Probe(p, s.Memory); ok {
		s.Clock = hw
		klog.Infof("dt: %s", hw.Now().Format(time.RFC3339))
	} else {
		klog.V(1).Infof("no %s device", rtc.Compatible)
	}

	for _, r := range p.Memory {
		klog.Infof("Memory region %s", r)
	}

	for _, r := range p.Reserved {
		klog.V(1).Infof("Reserved region %s", r)
	}

	usable, err := p.Usable(env.Image)

	if err != nil {
		return
	}

	s.Usable = usable.Align(frame.PageSize)

	return
}

// Seed hands the usable physical range to the frame allocator.
func (s *System) Seed() error {
	if s.Platform == nil {
		return errors.New("seeding before discovery")
	}

	klog.Infof("add frame area %s to frame allocator", s.Usable)

	if err := s.Frames.AddMemory(s.Usable.Base, s.Usable.Size); err != nil {
		return fmt.Errorf("could not seed frame allocator, %w", err)
	}

	st := s.Frames.Stats()
	klog.V(1).Infof("frame allocator: %d frames", st.Slots)

	return nil
}

// SelfTest allocates n frames, verifies they are distinct and releases
// them, checking that the allocator accounting returns to its prior state.
func (s *System) SelfTest(n int) (err error) {
	before := s.Frames.Stats().Used
	frames := make([]*frame.Frame, 0, n)
	seen := make(map[uint64]bool, n)

	defer func() {
		for _, f := range frames {
			f.Release()
		}
	}()

	for i := 0; i < n; i++ {
		f, err := s.Frames.Alloc()

		if err != nil {
			return fmt.Errorf("self test allocation %d, %w", i, err)
		}

		frames = append(frames, f)

		if seen[f.Addr()] {
			return fmt.Errorf("self test frame %#x allocated twice", f.Addr())
		}

		seen[f.Addr()] = true
		klog.V(2).Infof("frame ptr: %#x", f.Addr())
	}

	if used := s.Frames.Stats().Used; used != before+n {
		return fmt.Errorf("self test accounting mismatch, %d frames in use after %d allocations", used, n)
	}

	for _, f := range frames {
		f.Release()
	}

	frames = nil

	if used := s.Frames.Stats().Used; used != before {
		return fmt.Errorf("self test accounting mismatch, %d frames in use after release", used)
	}

	klog.Infof("frame allocator self test passed (%d frames)", n)

	return
}

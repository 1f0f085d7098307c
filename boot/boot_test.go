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

package boot

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/transparency-dev/armored-kernel/heap"
	"github.com/transparency-dev/armored-kernel/internal/testonly"
	"github.com/transparency-dev/armored-kernel/mem"
	"github.com/transparency-dev/armored-kernel/platform"
	"github.com/transparency-dev/armored-kernel/rtc"
)

const (
	ramBase = 0x80000000
	ramSize = 0x1000000
	rtcBase = 0x101000
)

var image = platform.Region{Base: 0x80200000, Size: 0x10000}

type machine struct {
	mem  mem.Bus
	ram  *mem.Buffer
	mmio *mem.Buffer
	dtb  uint64
}

// newMachine lays out a virt like machine with the device tree blob placed
// at the top of RAM, as QEMU does.
func newMachine(t *testing.T, v testonly.Virt, blob []byte) *machine {
	t.Helper()

	m := &machine{
		ram:  testonly.GarbageBuffer(t, ramBase, ramSize),
		mmio: mem.NewBuffer(rtcBase, 0x1000),
	}
	m.mem = mem.Bus{m.mmio, m.ram}

	m.dtb = ramBase + ramSize - 0x10000
	copy(m.ram.Data[m.dtb-ramBase:], blob)

	return m
}

func newHeap(t *testing.T) *heap.Heap {
	t.Helper()
	h := &heap.Heap{}
	if err := h.Init(make([]byte, 64<<10), 0x80100000); err != nil {
		t.Fatalf("heap init: %v", err)
	}
	return h
}

func virt(rtc uint64) testonly.Virt {
	return testonly.Virt{Harts: 4, MemBase: ramBase, MemSize: ramSize, RTC: rtc}
}

func TestRun(t *testing.T) {
	v := virt(rtcBase)
	m := newMachine(t, v, v.Blob(t))

	now := time.Date(2024, time.March, 6, 12, 0, 0, 0, time.UTC)
	ns := uint64(now.UnixNano())
	m.mmio.Write32(rtcBase+rtc.TIME_LOW, uint32(ns))
	m.mmio.Write32(rtcBase+rtc.TIME_HIGH, uint32(ns>>32))

	env := Environment{HartID: 0, DeviceTree: m.dtb, Image: image}

	s, err := Run(env, m.mem, newHeap(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got, want := s.Platform.CPUs, 4; got != want {
		t.Errorf("CPUs = %d, want %d", got, want)
	}

	want := platform.Region{Base: 0x80210000, Size: ramBase + ramSize - 0x80210000}
	if diff := cmp.Diff(want, s.Usable); diff != "" {
		t.Errorf("unexpected usable range (-want +got):\n%s", diff)
	}

	if s.Clock == nil {
		t.Fatal("rtc not discovered")
	}
	if got := s.Clock.Now(); !got.Equal(now) {
		t.Errorf("rtc = %v, want %v", got, now)
	}

	st := s.Frames.Stats()
	if got, want := st.Slots, int(want.Size/0x1000); got != want {
		t.Errorf("Slots = %d, want %d", got, want)
	}

	// seeding clears the usable range, the blob at the top of RAM included
	for i, b := range m.ram.Data[want.Base-ramBase:] {
		if b != 0 {
			t.Fatalf("byte %#x not cleared", want.Base+uint64(i))
		}
	}
	// the kernel image is left alone
	if m.ram.Data[image.Base-ramBase] == 0 {
		t.Errorf("kernel image cleared")
	}

	f, err := s.Frames.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer f.Release()

	if got := f.Addr(); got != want.Base {
		t.Errorf("first frame %#x, want %#x", got, want.Base)
	}
}

func TestRunWithoutRTC(t *testing.T) {
	v := virt(0)
	m := newMachine(t, v, v.Blob(t))

	s, err := Run(Environment{DeviceTree: m.dtb, Image: image}, m.mem, newHeap(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Clock != nil {
		t.Fatalf("unexpected clock %#x", s.Clock.Base)
	}
}

func TestRunErrors(t *testing.T) {
	v := virt(rtcBase)

	for _, test := range []struct {
		name    string
		blob    func(t *testing.T) []byte
		image   platform.Region
		wantErr error
	}{
		{
			name:    "invalid blob",
			blob:    func(t *testing.T) []byte { return []byte("not a device tree blob, padded past the header size") },
			image:   image,
			wantErr: platform.ErrInvalidBlob,
		}, {
			name:    "image outside memory",
			blob:    v.Blob,
			image:   platform.Region{Base: 0x90000000, Size: 0x10000},
			wantErr: platform.ErrNoMemory,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			m := newMachine(t, v, test.blob(t))

			_, err := Run(Environment{DeviceTree: m.dtb, Image: test.image}, m.mem, newHeap(t))
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("got %v, want %v", err, test.wantErr)
			}
		})
	}
}

func TestSeedBeforeDiscover(t *testing.T) {
	s := New(mem.NewBuffer(0, 0), newHeap(t))
	if err := s.Seed(); err == nil {
		t.Fatal("Seed before Discover succeeded")
	}
}

func TestSelfTest(t *testing.T) {
	v := virt(0)
	m := newMachine(t, v, v.Blob(t))

	s, err := Run(Environment{DeviceTree: m.dtb, Image: image}, m.mem, newHeap(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	held, err := s.Frames.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer held.Release()

	if err := s.SelfTest(1000); err != nil {
		t.Fatalf("SelfTest: %v", err)
	}
	if got := s.Frames.Stats().Used; got != 1 {
		t.Fatalf("Used = %d after self test, want 1", got)
	}

	slots := s.Frames.Stats().Slots
	if err := s.SelfTest(slots); err == nil {
		t.Fatal("SelfTest beyond capacity succeeded")
	}
	if got := s.Frames.Stats().Used; got != 1 {
		t.Fatalf("Used = %d after failed self test, want 1", got)
	}
}

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
	_ "embed"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"unsafe"

	"github.com/coreos/go-semver/semver"
	"k8s.io/klog"

	"github.com/transparency-dev/armored-kernel/boot"
	"github.com/transparency-dev/armored-kernel/heap"
	"github.com/transparency-dev/armored-kernel/mem"
	"github.com/transparency-dev/armored-kernel/sbi"
)

// initialized at compile time (see Makefile)
var (
	Build    string
	Revision string
	Version  string
	LogLevel string
	SelfTest string
)

//go:embed banner.txt
var banner string

// kernelHeap backs kernel bookkeeping such as the frame tracking table, Go
// allocations are served by the runtime from its own RAM window.
var kernelHeap heap.Heap

func init() {
	runtime.Exit = func(_ int32) { sbi.Shutdown() }

	initLogging(LogLevel)

	base := uint64(uintptr(unsafe.Pointer(&heapArena[0])))

	if err := kernelHeap.Init(heapArena[:], base); err != nil {
		klog.Fatalf("could not initialize heap, %v", err)
	}
}

func version() string {
	v, err := semver.NewVersion(strings.TrimPrefix(Version, "v"))

	if err != nil {
		return "unversioned"
	}

	return "v" + v.String()
}

func main() {
	fmt.Print(banner)

	klog.Infof("%s/%s (%s) • RISC-V kernel • %s %s %s",
		runtime.GOOS, runtime.GOARCH, runtime.Version(),
		version(), Revision, Build)

	klog.V(2).Info("Hello Trace")
	klog.V(1).Info("Hello Debug")
	klog.Info("Hello Info")
	klog.Warning("Hello Warn")
	klog.Error("Hello Error")

	env := boot.Environment{
		HartID:     hartID,
		DeviceTree: deviceTree,
		Image:      kernelImage(),
	}

	sys := boot.New(mem.Physical{}, &kernelHeap)

	if err := sys.Discover(env); err != nil {
		klog.Fatalf("discovery failed, %v", err)
	}

	if err := claimFrames(sys.Usable); err != nil {
		klog.Fatalf("%v", err)
	}

	if err := sys.Seed(); err != nil {
		klog.Fatalf("%v", err)
	}

	if n, err := strconv.Atoi(SelfTest); err == nil && n > 0 {
		if err := sys.SelfTest(n); err != nil {
			klog.Fatalf("%v", err)
		}
	}

	st := kernelHeap.Stats()
	klog.V(1).Infof("heap: %d/%d bytes allocated", st.Allocated, st.Total)

	// no steady state yet
	klog.Flush()
	sbi.Shutdown()
}

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
	"flag"
	"io"
	"log"
	"os"
	"strconv"

	"k8s.io/klog"

	"github.com/transparency-dev/armored-kernel/boot"
)

func initLogging(level string) {
	log.SetFlags(0)
	log.SetOutput(os.Stdout)

	// there is no filesystem to log to, only lines at or above the
	// threshold reach the console
	klog.InitFlags(nil)
	flag.Set("logtostderr", "false")
	klog.SetOutput(io.Discard)
	flag.Set("stderrthreshold", boot.Threshold(level))
	flag.Set("v", strconv.Itoa(boot.Verbosity(level)))
}

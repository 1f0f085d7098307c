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
	"fmt"

	"github.com/usbarmory/tamago/dma"

	"github.com/transparency-dev/armored-kernel/platform"
)

var frameRegion *dma.Region

// claimFrames reserves the whole frame allocator range as a DMA region, so
// that it is never handed out to TamaGo drivers. Region creation fails if
// the range overlaps the Go runtime RAM window.
func claimFrames(r platform.Region) (err error) {
	if frameRegion, err = dma.NewRegion(uint(r.Base), int(r.Size), false); err != nil {
		return fmt.Errorf("could not claim frame range %s, %v", r, err)
	}

	frameRegion.Reserve(int(r.Size), 0)

	return
}

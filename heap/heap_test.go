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

package heap

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testBase = 0x80400000

func newHeap(t *testing.T, size int) (*Heap, []byte) {
	t.Helper()
	backing := make([]byte, size)
	h := &Heap{}
	require.NoError(t, h.Init(backing, testBase))
	return h, backing
}

func TestInitOnce(t *testing.T) {
	h, backing := newHeap(t, 4096)
	require.ErrorIs(t, h.Init(backing, testBase), ErrInitialized)
}

func TestAllocBeforeInit(t *testing.T) {
	var h Heap
	_, _, err := h.Alloc(16, 8)
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitUnalignedBacking(t *testing.T) {
	h := &Heap{}
	require.NoError(t, h.Init(make([]byte, 100), 0x1004))

	// 0x1008-0x1068 split as 8+16+32+32+8
	require.Equal(t, uint64(96), h.Stats().Total)

	addr, _, err := h.Alloc(32, 32)
	require.NoError(t, err)
	require.Zero(t, addr%32)
	require.GreaterOrEqual(t, addr, uint64(0x1008))
	require.LessOrEqual(t, addr+32, uint64(0x1068))
}

func TestAllocAlignment(t *testing.T) {
	h, _ := newHeap(t, 64<<10)

	for _, align := range []int{1, 8, 64, 4096} {
		addr, buf, err := h.Alloc(24, align)
		require.NoError(t, err)
		require.Len(t, buf, 24)
		require.Zero(t, addr%uint64(align), "align %d", align)
	}

	_, _, err := h.Alloc(8, 3)
	require.ErrorIs(t, err, ErrInvalidAlign)
}

func TestAllocZeroed(t *testing.T) {
	h, _ := newHeap(t, 256)

	addr, buf, err := h.Alloc(64, 8)
	require.NoError(t, err)
	for i := range buf {
		buf[i] = 0xaa
	}
	require.NoError(t, h.Free(addr))

	_, buf, err = h.Alloc(64, 8)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 64), buf)
}

func TestExhaustion(t *testing.T) {
	h, _ := newHeap(t, 1024)

	addr, _, err := h.Alloc(1024, 8)
	require.NoError(t, err)

	_, _, err = h.Alloc(8, 8)
	require.ErrorIs(t, err, ErrExhausted)

	_, _, err = h.Alloc(-1, 8)
	require.ErrorIs(t, err, ErrExhausted)

	require.NoError(t, h.Free(addr))
	_, _, err = h.Alloc(8, 8)
	require.NoError(t, err)
}

func TestInvalidFree(t *testing.T) {
	h, _ := newHeap(t, 1024)

	addr, _, err := h.Alloc(16, 8)
	require.NoError(t, err)

	require.ErrorIs(t, h.Free(addr+8), ErrInvalidFree)
	require.NoError(t, h.Free(addr))
	require.ErrorIs(t, h.Free(addr), ErrInvalidFree)
}

func TestCoalescing(t *testing.T) {
	const size = 64 << 10
	h, _ := newHeap(t, size)

	var addrs []uint64
	for {
		addr, _, err := h.Alloc(100, 8)
		if err != nil {
			require.ErrorIs(t, err, ErrExhausted)
			break
		}
		addrs = append(addrs, addr)
	}
	require.Len(t, addrs, size/128)

	for _, addr := range addrs {
		require.NoError(t, h.Free(addr))
	}
	require.Equal(t, Stats{Total: size}, h.Stats())

	// the whole arena must have merged back into a single block
	addr, _, err := h.Alloc(size, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(testBase), addr)
}

// TestSoundness drives random allocation and free sequences and checks that
// live blocks never overlap and always fall inside the backing array.
func TestSoundness(t *testing.T) {
	const size = 128 << 10

	type live struct {
		addr uint64
		buf  []byte
		tag  byte
	}

	h, _ := newHeap(t, size)
	r := rand.New(rand.NewSource(1))
	var blocks []live

	check := func(l live) {
		for i, v := range l.buf {
			require.Equal(t, l.tag, v, "block %#x byte %d overwritten", l.addr, i)
		}
	}

	for step := 0; step < 20000; step++ {
		if len(blocks) > 0 && r.Intn(3) == 0 {
			i := r.Intn(len(blocks))
			check(blocks[i])
			require.NoError(t, h.Free(blocks[i].addr))
			blocks = append(blocks[:i], blocks[i+1:]...)
			continue
		}

		n := 1 + r.Intn(2048)
		addr, buf, err := h.Alloc(n, 1<<r.Intn(7))
		if err != nil {
			require.ErrorIs(t, err, ErrExhausted)
			continue
		}

		require.GreaterOrEqual(t, addr, uint64(testBase))
		require.LessOrEqual(t, addr+uint64(n), uint64(testBase+size))

		for _, l := range blocks {
			overlap := addr < l.addr+uint64(len(l.buf)) && l.addr < addr+uint64(n)
			require.False(t, overlap, "%#x+%d overlaps %#x+%d", addr, n, l.addr, len(l.buf))
		}

		tag := byte(step)
		for i := range buf {
			buf[i] = tag
		}
		blocks = append(blocks, live{addr: addr, buf: buf, tag: tag})
	}

	var user uint64
	for _, l := range blocks {
		check(l)
		user += uint64(len(l.buf))
	}
	require.Equal(t, user, h.Stats().User)
}

// TestConcurrentAllocFree runs random allocation and free sequences from
// several goroutines sharing one heap.
func TestConcurrentAllocFree(t *testing.T) {
	const (
		size    = 256 << 10
		workers = 8
		steps   = 5000
	)

	type block struct {
		addr uint64
		buf  []byte
	}

	h, _ := newHeap(t, size)

	var wg sync.WaitGroup
	live := make([][]block, workers)
	errs := make(chan error, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func(w int) {
			defer wg.Done()

			r := rand.New(rand.NewSource(int64(w)))
			tag := byte(w + 1)

			for step := 0; step < steps; step++ {
				if n := len(live[w]); n > 0 && r.Intn(2) == 0 {
					i := r.Intn(n)
					b := live[w][i]

					for j, v := range b.buf {
						if v != tag {
							errs <- fmt.Errorf("worker %d: block %#x byte %d overwritten with %#x", w, b.addr, j, v)
							return
						}
					}

					if err := h.Free(b.addr); err != nil {
						errs <- fmt.Errorf("worker %d: Free(%#x): %v", w, b.addr, err)
						return
					}

					live[w] = append(live[w][:i], live[w][i+1:]...)
					continue
				}

				addr, buf, err := h.Alloc(1+r.Intn(1024), 1<<r.Intn(5))
				if err != nil {
					if err != ErrExhausted {
						errs <- fmt.Errorf("worker %d: Alloc: %v", w, err)
						return
					}
					continue
				}

				for j := range buf {
					buf[j] = tag
				}
				live[w] = append(live[w], block{addr: addr, buf: buf})
			}
		}(w)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if t.Failed() {
		return
	}

	var all []block
	for _, l := range live {
		all = append(all, l...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].addr < all[j].addr })

	for i := 1; i < len(all); i++ {
		prev := all[i-1]
		require.LessOrEqual(t, prev.addr+uint64(len(prev.buf)), all[i].addr,
			"%#x+%d overlaps %#x", prev.addr, len(prev.buf), all[i].addr)
	}

	for _, b := range all {
		require.NoError(t, h.Free(b.addr))
	}

	require.Equal(t, Stats{Total: size}, h.Stats())

	// everything coalesced back into a single block
	addr, _, err := h.Alloc(size, size)
	require.NoError(t, err)
	require.Equal(t, uint64(testBase), addr)
}

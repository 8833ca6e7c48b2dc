// Copyright 2026 The gVisor Authors.
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

// Package physmem provides the physical memory of the simulated machine.
//
// RAM is an anonymous host mapping covering [Base, End). Frames are
// addressed by physical page number, which makes the memory an arena that
// page tables index into by (frame, slot) instead of by pointer.
package physmem

import (
	"fmt"

	"golang.org/x/sys/unix"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/riscv"
)

// Memory is the physical memory of one machine.
type Memory struct {
	base riscv.PhysPageNum
	end  riscv.PhysPageNum

	// data is the host mapping backing [base, end).
	data []byte
}

// New maps physical memory for [base, end).
func New(base, end riscv.PhysAddr) (*Memory, error) {
	if !base.Aligned() || !end.Aligned() {
		return nil, fmt.Errorf("physical memory bounds [%v, %v) are not page aligned", base, end)
	}
	if end <= base {
		return nil, fmt.Errorf("empty physical memory range [%v, %v)", base, end)
	}
	size := uint64(end - base)
	if size%uint64(unix.Getpagesize()) != 0 {
		log.Warningf("Physical memory size %#x is not a multiple of the host page size %#x", size, unix.Getpagesize())
	}
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mapping %#x bytes of physical memory: %w", size, err)
	}
	log.Debugf("Physical memory [%v, %v) mapped at host %p", base, end, &data[0])
	return &Memory{
		base: base.Floor(),
		end:  end.Floor(),
		data: data,
	}, nil
}

// Base returns the first frame of memory.
func (m *Memory) Base() riscv.PhysPageNum {
	return m.base
}

// End returns one past the last frame of memory.
func (m *Memory) End() riscv.PhysPageNum {
	return m.end
}

// Contains returns true if ppn is backed by memory.
func (m *Memory) Contains(ppn riscv.PhysPageNum) bool {
	return m.base <= ppn && ppn < m.end
}

// offset returns the offset of ppn in data.
func (m *Memory) offset(ppn riscv.PhysPageNum) uint64 {
	if !m.Contains(ppn) {
		panic(fmt.Sprintf("frame %v outside physical memory [%v, %v)", ppn, m.base, m.end))
	}
	return uint64(ppn-m.base) << riscv.PageShift
}

// Bytes returns the contents of the frame ppn. The slice aliases memory.
func (m *Memory) Bytes(ppn riscv.PhysPageNum) []byte {
	off := m.offset(ppn)
	return m.data[off : off+riscv.PageSize : off+riscv.PageSize]
}

// Range returns the bytes of physical memory in [start, end).
//
// Precondition: [start, end) is within memory.
func (m *Memory) Range(start, end riscv.PhysAddr) []byte {
	if start > end {
		panic(fmt.Sprintf("invalid physical range [%v, %v)", start, end))
	}
	if start == end {
		return nil
	}
	lo := m.offset(start.Floor()) + start.PageOffset()
	hi := m.offset((end-1).Floor()) + (end - 1).PageOffset() + 1
	return m.data[lo:hi:hi]
}

// Zero fills the frame ppn with zeroes.
func (m *Memory) Zero(ppn riscv.PhysPageNum) {
	clear(m.Bytes(ppn))
}

// Release unmaps memory. No frame may be used afterwards.
func (m *Memory) Release() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

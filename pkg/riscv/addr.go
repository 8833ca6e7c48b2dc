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

// Package riscv contains the RV64 SV39 address types and the parts of the
// supervisor CSR file that the memory subsystem touches.
package riscv

import (
	"fmt"
)

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the size of a page, and of a physical frame.
	PageSize = 1 << PageShift

	// PAWidth is the width of an SV39 physical address.
	PAWidth = 56

	// VAWidth is the width of an SV39 virtual address.
	VAWidth = 39

	// PPNWidth is the width of a physical page number.
	PPNWidth = PAWidth - PageShift

	// VPNWidth is the width of a virtual page number.
	VPNWidth = VAWidth - PageShift

	// LevelBits is the number of virtual page number bits consumed by each
	// level of the page table.
	LevelBits = 9

	// EntriesPerTable is the number of entries in one page table frame.
	EntriesPerTable = 1 << LevelBits

	// Levels is the depth of the SV39 radix tree.
	Levels = 3

	// MaxVA is one past the highest virtual address representable.
	MaxVA = 1 << VAWidth

	pageMask = PageSize - 1
)

// PhysAddr is a physical byte address.
type PhysAddr uint64

// VirtAddr is a virtual byte address.
type VirtAddr uint64

// PhysPageNum is a physical page number.
type PhysPageNum uint64

// VirtPageNum is a virtual page number.
type VirtPageNum uint64

// PhysAddrOf truncates v to the physical address width.
func PhysAddrOf(v uint64) PhysAddr {
	return PhysAddr(v & (1<<PAWidth - 1))
}

// VirtAddrOf truncates v to the virtual address width.
func VirtAddrOf(v uint64) VirtAddr {
	return VirtAddr(v & (1<<VAWidth - 1))
}

// Floor returns the page containing a.
func (a PhysAddr) Floor() PhysPageNum {
	return PhysPageNum(a >> PageShift)
}

// Ceil returns the first page starting at or after a.
func (a PhysAddr) Ceil() PhysPageNum {
	if a == 0 {
		return 0
	}
	return PhysPageNum((a-1)>>PageShift) + 1
}

// PageOffset returns the offset of a within its page.
func (a PhysAddr) PageOffset() uint64 {
	return uint64(a) & pageMask
}

// Aligned returns true if a is at the start of a page.
func (a PhysAddr) Aligned() bool {
	return a.PageOffset() == 0
}

// String implements fmt.Stringer.String.
func (a PhysAddr) String() string {
	return fmt.Sprintf("PA:%#x", uint64(a))
}

// Floor returns the page containing a.
func (a VirtAddr) Floor() VirtPageNum {
	return VirtPageNum(a >> PageShift)
}

// Ceil returns the first page starting at or after a.
func (a VirtAddr) Ceil() VirtPageNum {
	if a == 0 {
		return 0
	}
	return VirtPageNum((a-1)>>PageShift) + 1
}

// PageOffset returns the offset of a within its page.
func (a VirtAddr) PageOffset() uint64 {
	return uint64(a) & pageMask
}

// Aligned returns true if a is at the start of a page.
func (a VirtAddr) Aligned() bool {
	return a.PageOffset() == 0
}

// AddLength adds the given length to a and returns the result. ok is true
// iff the addition did not overflow.
func (a VirtAddr) AddLength(length uint64) (end VirtAddr, ok bool) {
	end = a + VirtAddr(length)
	ok = end >= a
	return
}

// String implements fmt.Stringer.String.
func (a VirtAddr) String() string {
	return fmt.Sprintf("VA:%#x", uint64(a))
}

// Addr returns the address of the first byte of p.
func (p PhysPageNum) Addr() PhysAddr {
	return PhysAddr(p << PageShift)
}

// Next returns the page following p.
func (p PhysPageNum) Next() PhysPageNum {
	return p + 1
}

// String implements fmt.Stringer.String.
func (p PhysPageNum) String() string {
	return fmt.Sprintf("PPN:%#x", uint64(p))
}

// Addr returns the address of the first byte of v.
func (v VirtPageNum) Addr() VirtAddr {
	return VirtAddr(v << PageShift)
}

// Next returns the page following v.
func (v VirtPageNum) Next() VirtPageNum {
	return v + 1
}

// Indexes returns the table index used at each level of a walk for v, the
// root level first.
func (v VirtPageNum) Indexes() [Levels]int {
	var idx [Levels]int
	vpn := uint64(v)
	for i := Levels - 1; i >= 0; i-- {
		idx[i] = int(vpn & (EntriesPerTable - 1))
		vpn >>= LevelBits
	}
	return idx
}

// String implements fmt.Stringer.String.
func (v VirtPageNum) String() string {
	return fmt.Sprintf("VPN:%#x", uint64(v))
}

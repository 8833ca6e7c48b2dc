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

package pagetables

import (
	"fmt"
	"strings"

	"gvisor.dev/sv39/pkg/bits"
	"gvisor.dev/sv39/pkg/riscv"
)

// PTEFlags are the low eight bits of a page table entry.
type PTEFlags uint8

// Page table entry flags.
const (
	Valid PTEFlags = 1 << iota
	Readable
	Writable
	Executable
	User
	Global
	Accessed
	Dirty
)

const (
	ppnShift = 10
	flagBits = 8
)

// String returns the flags in "VRWXUGAD" form, with '-' for clear bits.
func (f PTEFlags) String() string {
	const names = "VRWXUGAD"
	var b strings.Builder
	for i := range flagBits {
		if bits.IsOn(f, PTEFlags(1)<<i) {
			b.WriteByte(names[i])
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// PTE is an SV39 page table entry.
//
// The physical page number lives in bits 10-53 and the flags in bits 0-7.
// Bits 8-9 (reserved for software) and 54-63 are always zero.
type PTE uint64

// NewPTE returns an entry pointing at ppn with the given flags. It fails if
// ppn does not fit in 44 bits.
func NewPTE(ppn riscv.PhysPageNum, flags PTEFlags) (PTE, error) {
	if !bits.Fits(uint64(ppn), riscv.PPNWidth) {
		return 0, fmt.Errorf("physical page number %v exceeds %d bits", ppn, riscv.PPNWidth)
	}
	return PTE(uint64(ppn)<<ppnShift | uint64(flags)), nil
}

// mustPTE is NewPTE for callers whose ppn came from the arena and is
// therefore in range.
func mustPTE(ppn riscv.PhysPageNum, flags PTEFlags) PTE {
	pte, err := NewPTE(ppn, flags)
	if err != nil {
		panic(err.Error())
	}
	return pte
}

// PPN returns the physical page number.
func (p PTE) PPN() riscv.PhysPageNum {
	return riscv.PhysPageNum(bits.Field(uint64(p), ppnShift, riscv.PPNWidth))
}

// Flags returns the flag bits.
func (p PTE) Flags() PTEFlags {
	return PTEFlags(p)
}

// Valid returns true iff the entry is present.
func (p PTE) Valid() bool {
	return bits.IsOn(p.Flags(), Valid)
}

// Readable returns true iff the entry allows reads.
func (p PTE) Readable() bool {
	return bits.IsOn(p.Flags(), Readable)
}

// Writable returns true iff the entry allows writes.
func (p PTE) Writable() bool {
	return bits.IsOn(p.Flags(), Writable)
}

// Executable returns true iff the entry allows instruction fetch.
func (p PTE) Executable() bool {
	return bits.IsOn(p.Flags(), Executable)
}

// User returns true iff the entry is accessible from user mode.
func (p PTE) User() bool {
	return bits.IsOn(p.Flags(), User)
}

// IsLeaf returns true iff the entry maps a page rather than pointing at the
// next level.
func (p PTE) IsLeaf() bool {
	return bits.IsAnyOn(p.Flags(), Readable|Writable|Executable)
}

// String implements fmt.Stringer.
func (p PTE) String() string {
	return fmt.Sprintf("PTE{ppn: %v, flags: %v}", p.PPN(), p.Flags())
}

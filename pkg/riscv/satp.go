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

package riscv

import (
	"fmt"
)

const (
	// SatpModeBare disables translation.
	SatpModeBare = 0

	// SatpModeSv39 selects three-level paging.
	SatpModeSv39 = 8

	satpModeShift = 60
	satpPPNMask   = 1<<PPNWidth - 1
)

// Satp is a value of the satp CSR. It identifies an address space by the
// frame holding its root page table, and is used as the address space token
// across the kernel/user boundary.
type Satp uint64

// MakeToken returns the SV39 satp value for the table rooted at root.
func MakeToken(root PhysPageNum) Satp {
	return Satp(uint64(SatpModeSv39)<<satpModeShift | uint64(root)&satpPPNMask)
}

// Mode returns the translation mode field.
func (s Satp) Mode() uint64 {
	return uint64(s) >> satpModeShift
}

// RootPPN returns the frame holding the root page table.
func (s Satp) RootPPN() PhysPageNum {
	return PhysPageNum(uint64(s) & satpPPNMask)
}

// String implements fmt.Stringer.String.
func (s Satp) String() string {
	return fmt.Sprintf("satp{mode=%d root=%#x}", s.Mode(), uint64(s.RootPPN()))
}

// Hart models the supervisor CSR state of one hardware thread.
//
// The zero value is a hart running with translation disabled.
type Hart struct {
	satp    Satp
	flushes uint64
}

// WriteSatp switches the hart to the given address space and flushes the
// TLB, as "csrw satp; sfence.vma" does.
func (h *Hart) WriteSatp(s Satp) {
	h.satp = s
	h.SfenceVMA()
}

// Satp returns the current satp value.
func (h *Hart) Satp() Satp {
	return h.satp
}

// SfenceVMA records a full TLB flush.
func (h *Hart) SfenceVMA() {
	h.flushes++
}

// Flushes returns the number of TLB flushes issued so far.
func (h *Hart) Flushes() uint64 {
	return h.flushes
}

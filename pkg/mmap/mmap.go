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

// Package mmap implements the mmap and munmap policy for user address
// spaces.
//
// Requests are page granular: a request for length bytes at start covers
// the pages from the one holding start to the one holding start+length-1,
// inclusive. Map is all-or-nothing. Unmap works page by page, and a failure
// part way through leaves the earlier pages unmapped.
package mmap

import (
	"time"

	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/mm"
	"gvisor.dev/sv39/pkg/pagetables"
	"gvisor.dev/sv39/pkg/physmem"
	"gvisor.dev/sv39/pkg/riscv"
)

// Protection bits accepted by Map.
const (
	ProtRead  = 1 << 0
	ProtWrite = 1 << 1
	ProtExec  = 1 << 2
)

// rejectLog reports rejected requests without letting a looping program
// flood the log.
var rejectLog = log.BasicRateLimitedLogger(time.Second)

// Space is the address space owner the policy acts on.
type Space interface {
	// UserToken returns the token of the address space.
	UserToken() riscv.Satp

	// InsertFramedArea adds a zero-filled Framed area covering vpns.
	InsertFramedArea(vpns riscv.VPNRange, perm mm.MapPermission)

	// UnmapPage unmaps vpn and releases its frame. It returns false if no
	// area covers vpn or the owner refuses to give the page up.
	UnmapPage(vpn riscv.VirtPageNum) bool
}

// ValidProt returns true if prot is a non-empty combination of ProtRead,
// ProtWrite and ProtExec.
func ValidProt(prot uint64) bool {
	return prot > 0 && prot < 8
}

// PermissionOf returns the user area permission for prot.
func PermissionOf(prot uint64) mm.MapPermission {
	return mm.MapPermission(prot<<1) | mm.PermU
}

// Policy applies mmap requests to one address space.
type Policy struct {
	mem   *physmem.Memory
	space Space
}

// New returns a Policy for space, whose frames live in mem.
func New(mem *physmem.Memory, space Space) *Policy {
	return &Policy{mem: mem, space: space}
}

func (p *Policy) view() *pagetables.PageTables {
	return pagetables.FromToken(p.mem, p.space.UserToken())
}

// Map maps the pages covering [start, start+length) with protection prot.
// start must be page aligned and none of the pages may be mapped already;
// on failure nothing is changed.
func (p *Policy) Map(start riscv.VirtAddr, length uint64, prot uint64) error {
	if !ValidProt(prot) {
		rejectLog.Infof("mmap: invalid prot %#x", prot)
		return linuxerr.EINVAL
	}
	if !start.Aligned() {
		rejectLog.Infof("mmap: start %v is not page aligned", start)
		return linuxerr.EINVAL
	}
	vpns, ok := riscv.InclusiveVPNRange(start, length)
	if !ok {
		rejectLog.Infof("mmap: bad range %v+%#x", start, length)
		return linuxerr.EINVAL
	}
	pt := p.view()
	for vpn := range vpns.All() {
		if pte, ok := pt.Translate(vpn); ok && pte.Valid() {
			rejectLog.Infof("mmap: %v already mapped to %v", vpn, pte.PPN())
			return linuxerr.EEXIST
		}
	}
	log.Debugf("mmap: %v prot %#x", vpns, prot)
	p.space.InsertFramedArea(vpns, PermissionOf(prot))
	return nil
}

// Unmap unmaps the pages covering [start, start+length), releasing their
// frames. Every page must be a mapped user page. Pages are checked and
// unmapped in ascending order, so pages before the first bad one stay
// unmapped when an error is returned.
func (p *Policy) Unmap(start riscv.VirtAddr, length uint64) error {
	vpns, ok := riscv.InclusiveVPNRange(start, length)
	if !ok {
		rejectLog.Infof("munmap: bad range %v+%#x", start, length)
		return linuxerr.EINVAL
	}
	pt := p.view()
	for vpn := range vpns.All() {
		pte, ok := pt.Translate(vpn)
		if !ok || !pte.Valid() {
			rejectLog.Infof("munmap: %v is not mapped", vpn)
			return linuxerr.EINVAL
		}
		if !pte.User() {
			rejectLog.Infof("munmap: %v is not a user page", vpn)
			return linuxerr.EINVAL
		}
		if !p.space.UnmapPage(vpn) {
			rejectLog.Infof("munmap: %v cannot be unmapped", vpn)
			return linuxerr.EINVAL
		}
	}
	log.Debugf("munmap: %v", vpns)
	return nil
}

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

// Package pagetables implements SV39 page tables stored in simulated physical
// memory.
//
// Table frames are addressed by physical page number and entries by their
// slot index within a frame, so a walk never holds a pointer into a table
// across an allocation.
package pagetables

import (
	"fmt"

	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/pgalloc"
	"gvisor.dev/sv39/pkg/physmem"
	"gvisor.dev/sv39/pkg/riscv"
)

// PageTables is a three level SV39 page table.
type PageTables struct {
	mem *physmem.Memory

	// src supplies frames for new tables. It is nil for views.
	src pgalloc.Source

	// root is the first level table.
	root riscv.PhysPageNum

	// frames are the table frames owned by these tables, root first.
	frames []*pgalloc.FrameTracker
}

// entryRef names one slot of one table frame.
type entryRef struct {
	table riscv.PhysPageNum
	index int
}

// New returns empty page tables with a freshly allocated root.
func New(src pgalloc.Source) *PageTables {
	root := pgalloc.MustAlloc(src)
	return &PageTables{
		mem:    src.Memory(),
		src:    src,
		root:   root.PPN,
		frames: []*pgalloc.FrameTracker{root},
	}
}

// FromToken returns a view of the page tables identified by token. The view
// owns no frames and cannot create intermediate tables, so only Translate,
// Unmap and Map over already present levels are allowed.
func FromToken(mem *physmem.Memory, token riscv.Satp) *PageTables {
	if token.Mode() != riscv.SatpModeSv39 {
		panic(fmt.Sprintf("token %v is not an SV39 token", token))
	}
	return &PageTables{
		mem:  mem,
		root: token.RootPPN(),
	}
}

// IsView returns true if p was built by FromToken.
func (p *PageTables) IsView() bool {
	return p.src == nil
}

// Token returns the satp value that selects these tables.
func (p *PageTables) Token() riscv.Satp {
	return riscv.MakeToken(p.root)
}

// Root returns the root table frame.
func (p *PageTables) Root() riscv.PhysPageNum {
	return p.root
}

// OwnedFrames returns the number of table frames owned by p.
func (p *PageTables) OwnedFrames() int {
	return len(p.frames)
}

func (p *PageTables) load(e entryRef) PTE {
	return PTE(p.mem.Table(e.table)[e.index])
}

func (p *PageTables) store(e entryRef, pte PTE) {
	p.mem.Table(e.table)[e.index] = uint64(pte)
}

// walkCreate returns the leaf slot for vpn, allocating absent intermediate
// tables on the way.
func (p *PageTables) walkCreate(vpn riscv.VirtPageNum) entryRef {
	idxs := vpn.Indexes()
	table := p.root
	for level, idx := range idxs {
		e := entryRef{table: table, index: idx}
		if level == riscv.Levels-1 {
			return e
		}
		pte := p.load(e)
		if !pte.Valid() {
			if p.IsView() {
				panic(fmt.Sprintf("page table view %v cannot allocate a table for %v", p.Token(), vpn))
			}
			f := pgalloc.MustAlloc(p.src)
			p.frames = append(p.frames, f)
			pte = mustPTE(f.PPN, Valid)
			p.store(e, pte)
		}
		table = pte.PPN()
	}
	panic("unreachable")
}

// walk returns the leaf slot for vpn, or false if an intermediate level is
// absent.
func (p *PageTables) walk(vpn riscv.VirtPageNum) (entryRef, bool) {
	idxs := vpn.Indexes()
	table := p.root
	for level, idx := range idxs {
		e := entryRef{table: table, index: idx}
		if level == riscv.Levels-1 {
			return e, true
		}
		pte := p.load(e)
		if !pte.Valid() {
			return entryRef{}, false
		}
		table = pte.PPN()
	}
	panic("unreachable")
}

// Map installs a leaf mapping vpn to ppn. Valid is added to flags.
//
// Precondition: vpn is not mapped.
func (p *PageTables) Map(vpn riscv.VirtPageNum, ppn riscv.PhysPageNum, flags PTEFlags) {
	e := p.walkCreate(vpn)
	if old := p.load(e); old.Valid() {
		panic(fmt.Sprintf("%v is mapped before mapping: %v", vpn, old))
	}
	p.store(e, mustPTE(ppn, flags|Valid))
}

// Unmap clears the leaf mapping for vpn.
//
// Precondition: vpn is mapped.
func (p *PageTables) Unmap(vpn riscv.VirtPageNum) {
	e, ok := p.walk(vpn)
	if !ok || !p.load(e).Valid() {
		panic(fmt.Sprintf("%v is invalid before unmapping", vpn))
	}
	p.store(e, 0)
}

// Translate returns the leaf entry for vpn. It returns false if any level on
// the way is absent. The returned entry may itself be invalid.
func (p *PageTables) Translate(vpn riscv.VirtPageNum) (PTE, bool) {
	e, ok := p.walk(vpn)
	if !ok {
		return 0, false
	}
	return p.load(e), true
}

// TranslateVA returns the physical address backing va, or false if its page
// is not mapped.
func (p *PageTables) TranslateVA(va riscv.VirtAddr) (riscv.PhysAddr, bool) {
	pte, ok := p.Translate(va.Floor())
	if !ok || !pte.Valid() {
		return 0, false
	}
	return pte.PPN().Addr() + riscv.PhysAddr(va.PageOffset()), true
}

// ForEach calls fn for every valid leaf in ascending virtual order.
func (p *PageTables) ForEach(fn func(vpn riscv.VirtPageNum, pte PTE)) {
	p.forEach(p.root, 0, 0, fn)
}

func (p *PageTables) forEach(table riscv.PhysPageNum, level int, prefix uint64, fn func(riscv.VirtPageNum, PTE)) {
	entries := p.mem.Table(table)
	for i := range entries {
		pte := PTE(entries[i])
		if !pte.Valid() {
			continue
		}
		vpn := prefix<<riscv.LevelBits | uint64(i)
		if level == riscv.Levels-1 {
			fn(riscv.VirtPageNum(vpn), pte)
			continue
		}
		p.forEach(pte.PPN(), level+1, vpn, fn)
	}
}

// Release returns every owned table frame to its pool. Leaf frames are not
// owned by the tables and are left alone. Releasing a view is a no-op.
func (p *PageTables) Release() {
	if len(p.frames) > 0 {
		log.Debugf("Releasing page tables %v: %d table frames", p.Token(), len(p.frames))
	}
	for _, f := range p.frames {
		f.Release()
	}
	p.frames = nil
}

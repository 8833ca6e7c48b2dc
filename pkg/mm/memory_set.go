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

// Package mm implements address spaces: a page table plus the ordered set of
// areas mapped through it.
package mm

import (
	"fmt"
	"iter"
	"math"

	"github.com/google/btree"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/pagetables"
	"gvisor.dev/sv39/pkg/pgalloc"
	"gvisor.dev/sv39/pkg/riscv"
)

// btreeDegree is the degree of the area index.
const btreeDegree = 8

// MemorySet is an address space.
//
// Non-empty areas never overlap. Empty areas (a heap that has not grown yet)
// are kept so they can be extended later.
type MemorySet struct {
	src pgalloc.Source
	pt  *pagetables.PageTables

	// areas is ordered by (start, end).
	areas *btree.BTreeG[*MapArea]

	// trampoline is the frame mapped at Trampoline, or zero if none is.
	trampoline riscv.PhysPageNum
}

func areaLess(a, b *MapArea) bool {
	if a.vpns.Start != b.vpns.Start {
		return a.vpns.Start < b.vpns.Start
	}
	return a.vpns.End < b.vpns.End
}

// NewBare returns an address space with an empty page table.
func NewBare(src pgalloc.Source) *MemorySet {
	return &MemorySet{
		src:   src,
		pt:    pagetables.New(src),
		areas: btree.NewG(btreeDegree, areaLess),
	}
}

// Token returns the satp value of the address space.
func (ms *MemorySet) Token() riscv.Satp {
	return ms.pt.Token()
}

// PageTables returns the page table of the address space.
func (ms *MemorySet) PageTables() *pagetables.PageTables {
	return ms.pt
}

// Areas returns the areas in ascending order.
func (ms *MemorySet) Areas() iter.Seq[*MapArea] {
	return func(yield func(*MapArea) bool) {
		ms.areas.Ascend(func(a *MapArea) bool {
			return yield(a)
		})
	}
}

// Len returns the number of areas.
func (ms *MemorySet) Len() int {
	return ms.areas.Len()
}

// overlapping returns a non-empty area sharing a page with r.
func (ms *MemorySet) overlapping(r riscv.VPNRange) (*MapArea, bool) {
	if r.Empty() {
		return nil, false
	}
	// Non-empty areas are disjoint, so the last one starting below r.End is
	// the only candidate.
	var found *MapArea
	pivot := &MapArea{vpns: riscv.VPNRange{Start: r.End - 1, End: math.MaxUint64}}
	ms.areas.DescendLessOrEqual(pivot, func(a *MapArea) bool {
		if a.vpns.Empty() {
			return true
		}
		if a.vpns.Overlaps(r) {
			found = a
		}
		return false
	})
	return found, found != nil
}

// enclosing returns the non-empty area containing vpn.
func (ms *MemorySet) enclosing(vpn riscv.VirtPageNum) (*MapArea, bool) {
	a, ok := ms.overlapping(riscv.VPNRange{Start: vpn, End: vpn.Next()})
	return a, ok
}

// Push maps every page of area and adds it to the address space. If data is
// not nil it is copied to the start of the area.
//
// Precondition: area does not overlap an existing area.
func (ms *MemorySet) Push(area *MapArea, data []byte) {
	if old, ok := ms.overlapping(area.vpns); ok {
		panic(fmt.Sprintf("area %v overlaps %v", area, old))
	}
	if ms.areas.Has(area) {
		panic(fmt.Sprintf("area %v already present", area))
	}
	if uint64(len(data)) > area.vpns.Len()*riscv.PageSize {
		panic(fmt.Sprintf("%d bytes do not fit in area %v", len(data), area))
	}
	area.mapAll(ms.pt, ms.src)
	if data != nil {
		area.copyData(ms.src.Memory(), data)
	}
	ms.areas.ReplaceOrInsert(area)
}

// InsertFramedArea maps a new Framed area covering the bytes [start, end).
func (ms *MemorySet) InsertFramedArea(start, end riscv.VirtAddr, perm MapPermission) *MapArea {
	a := NewMapArea(start, end, Framed, perm)
	ms.Push(a, nil)
	return a
}

// Overlaps reports whether any page of r is covered by an area.
func (ms *MemorySet) Overlaps(r riscv.VPNRange) bool {
	_, ok := ms.overlapping(r)
	return ok
}

// RemoveAreaWithStartVPN unmaps and drops the area starting at start,
// preferring a non-empty one. It returns false if there is none.
func (ms *MemorySet) RemoveAreaWithStartVPN(start riscv.VirtPageNum) bool {
	var found *MapArea
	pivot := &MapArea{vpns: riscv.VPNRange{Start: start, End: start}}
	ms.areas.AscendGreaterOrEqual(pivot, func(a *MapArea) bool {
		if a.vpns.Start != start {
			return false
		}
		found = a
		return a.vpns.Empty()
	})
	if found == nil {
		return false
	}
	ms.areas.Delete(found)
	found.unmapAll(ms.pt)
	return true
}

// UnmapPage unmaps the single page vpn, releasing its frame. The enclosing
// area is split around vpn; parts left empty are dropped. It returns false
// if no area covers vpn.
func (ms *MemorySet) UnmapPage(vpn riscv.VirtPageNum) bool {
	a, ok := ms.enclosing(vpn)
	if !ok {
		return false
	}
	ms.areas.Delete(a)
	a.unmapOne(ms.pt, vpn)
	right := a.splitAt(vpn)
	if !a.vpns.Empty() {
		ms.areas.ReplaceOrInsert(a)
	}
	if !right.vpns.Empty() {
		ms.areas.ReplaceOrInsert(right)
	}
	return true
}

// Translate returns the leaf entry for vpn, or false if a level on the way
// is absent.
func (ms *MemorySet) Translate(vpn riscv.VirtPageNum) (pagetables.PTE, bool) {
	return ms.pt.Translate(vpn)
}

// Contains reports whether a is one of the areas of ms.
func (ms *MemorySet) Contains(a *MapArea) bool {
	got, ok := ms.areas.Get(a)
	return ok && got == a
}

// AppendTo grows area so that it ends at newEnd. It fails if area is not
// part of ms, if newEnd is below its end, or if the new pages are taken.
func (ms *MemorySet) AppendTo(area *MapArea, newEnd riscv.VirtPageNum) bool {
	if !ms.Contains(area) || newEnd < area.vpns.End {
		return false
	}
	if ms.Overlaps(riscv.VPNRange{Start: area.vpns.End, End: newEnd}) {
		return false
	}
	ms.areas.Delete(area)
	area.appendTo(ms.pt, ms.src, newEnd)
	ms.areas.ReplaceOrInsert(area)
	return true
}

// ShrinkTo shrinks area so that it ends at newEnd. It fails if area is not
// part of ms or newEnd lies outside it.
func (ms *MemorySet) ShrinkTo(area *MapArea, newEnd riscv.VirtPageNum) bool {
	if !ms.Contains(area) || newEnd < area.vpns.Start || newEnd > area.vpns.End {
		return false
	}
	ms.areas.Delete(area)
	area.shrinkTo(ms.pt, newEnd)
	ms.areas.ReplaceOrInsert(area)
	return true
}

// MapTrampoline maps the trampoline frame ppn at Trampoline. The mapping is
// not part of any area and is never released with the areas.
func (ms *MemorySet) MapTrampoline(ppn riscv.PhysPageNum) {
	ms.pt.Map(Trampoline.Floor(), ppn, pagetables.PTEFlags(PermR|PermX))
	ms.trampoline = ppn
}

// FromExistedUser returns a copy of the user address space other. Every
// Framed page gets a new frame holding a copy of the original's bytes.
func FromExistedUser(other *MemorySet) *MemorySet {
	ms := NewBare(other.src)
	if other.trampoline != 0 {
		ms.MapTrampoline(other.trampoline)
	}
	mem := ms.src.Memory()
	for a := range other.Areas() {
		n := a.cloneShape()
		ms.Push(n, nil)
		if a.typ != Framed {
			continue
		}
		for vpn, src := range a.frames {
			copy(mem.Bytes(n.frames[vpn].PPN), mem.Bytes(src.PPN))
		}
	}
	return ms
}

// RecycleDataPages unmaps every area and releases its frames. The page table
// itself stays alive.
func (ms *MemorySet) RecycleDataPages() {
	ms.areas.Ascend(func(a *MapArea) bool {
		a.unmapAll(ms.pt)
		return true
	})
	ms.areas.Clear(false)
}

// Release tears down the address space, returning every frame it owns.
func (ms *MemorySet) Release() {
	ms.RecycleDataPages()
	if ms.trampoline != 0 {
		ms.pt.Unmap(Trampoline.Floor())
		ms.trampoline = 0
	}
	ms.pt.Release()
}

// Activate makes ms the address space of h.
func (ms *MemorySet) Activate(h *riscv.Hart) {
	log.Debugf("Activating address space %v", ms.Token())
	h.WriteSatp(ms.Token())
}

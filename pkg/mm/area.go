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

package mm

import (
	"fmt"
	"strings"

	"gvisor.dev/sv39/pkg/pagetables"
	"gvisor.dev/sv39/pkg/pgalloc"
	"gvisor.dev/sv39/pkg/physmem"
	"gvisor.dev/sv39/pkg/riscv"
)

// MapType says how the pages of an area are backed.
type MapType int

const (
	// Identical maps each virtual page to the physical page with the same
	// number.
	Identical MapType = iota

	// Framed backs each virtual page with a freshly allocated frame owned
	// by the area.
	Framed
)

// String implements fmt.Stringer.
func (t MapType) String() string {
	switch t {
	case Identical:
		return "identical"
	case Framed:
		return "framed"
	default:
		return fmt.Sprintf("MapType(%d)", int(t))
	}
}

// MapPermission is the access allowed to an area. The bits line up with the
// corresponding page table entry flags.
type MapPermission uint8

// Permissions.
const (
	PermR = MapPermission(pagetables.Readable)
	PermW = MapPermission(pagetables.Writable)
	PermX = MapPermission(pagetables.Executable)
	PermU = MapPermission(pagetables.User)
)

// String returns the permission in "rwxu" form.
func (p MapPermission) String() string {
	var b strings.Builder
	for _, c := range []struct {
		bit  MapPermission
		name byte
	}{{PermR, 'r'}, {PermW, 'w'}, {PermX, 'x'}, {PermU, 'u'}} {
		if p&c.bit != 0 {
			b.WriteByte(c.name)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// MapArea is a contiguous range of virtual pages with one mapping type and
// one permission.
type MapArea struct {
	vpns riscv.VPNRange
	typ  MapType
	perm MapPermission

	// frames holds the frame backing each mapped page of a Framed area.
	frames map[riscv.VirtPageNum]*pgalloc.FrameTracker
}

// NewMapArea returns an unmapped area covering the bytes [start, end),
// rounded out to whole pages.
func NewMapArea(start, end riscv.VirtAddr, typ MapType, perm MapPermission) *MapArea {
	return NewMapAreaRange(riscv.VPNRangeOf(start, end), typ, perm)
}

// NewMapAreaRange returns an unmapped area covering vpns.
func NewMapAreaRange(vpns riscv.VPNRange, typ MapType, perm MapPermission) *MapArea {
	return &MapArea{
		vpns:   vpns,
		typ:    typ,
		perm:   perm,
		frames: make(map[riscv.VirtPageNum]*pgalloc.FrameTracker),
	}
}

// cloneShape returns an unmapped area with the same range, type and
// permission as a.
func (a *MapArea) cloneShape() *MapArea {
	return NewMapAreaRange(a.vpns, a.typ, a.perm)
}

// Range returns the pages covered by a.
func (a *MapArea) Range() riscv.VPNRange {
	return a.vpns
}

// Type returns the mapping type.
func (a *MapArea) Type() MapType {
	return a.typ
}

// Perm returns the permission.
func (a *MapArea) Perm() MapPermission {
	return a.perm
}

// Frame returns the frame backing vpn in a Framed area.
func (a *MapArea) Frame(vpn riscv.VirtPageNum) (riscv.PhysPageNum, bool) {
	f, ok := a.frames[vpn]
	if !ok {
		return 0, false
	}
	return f.PPN, true
}

// String implements fmt.Stringer.
func (a *MapArea) String() string {
	return fmt.Sprintf("%v %v %v", a.vpns, a.typ, a.perm)
}

func (a *MapArea) mapOne(pt *pagetables.PageTables, src pgalloc.Source, vpn riscv.VirtPageNum) {
	var ppn riscv.PhysPageNum
	switch a.typ {
	case Identical:
		ppn = riscv.PhysPageNum(vpn)
	case Framed:
		f := pgalloc.MustAlloc(src)
		a.frames[vpn] = f
		ppn = f.PPN
	}
	pt.Map(vpn, ppn, pagetables.PTEFlags(a.perm))
}

func (a *MapArea) unmapOne(pt *pagetables.PageTables, vpn riscv.VirtPageNum) {
	if a.typ == Framed {
		a.frames[vpn].Release()
		delete(a.frames, vpn)
	}
	pt.Unmap(vpn)
}

func (a *MapArea) mapAll(pt *pagetables.PageTables, src pgalloc.Source) {
	for vpn := range a.vpns.All() {
		a.mapOne(pt, src, vpn)
	}
}

func (a *MapArea) unmapAll(pt *pagetables.PageTables) {
	for vpn := range a.vpns.All() {
		a.unmapOne(pt, vpn)
	}
}

// copyData copies data into the frames of a, starting at the first byte of
// its first page.
//
// Precondition: a is Framed and mapped, len(data) <= a.vpns.Len()*PageSize.
func (a *MapArea) copyData(mem *physmem.Memory, data []byte) {
	if a.typ != Framed {
		panic(fmt.Sprintf("copying data into %v area %v", a.typ, a))
	}
	if uint64(len(data)) > a.vpns.Len()*riscv.PageSize {
		panic(fmt.Sprintf("%d bytes do not fit in area %v", len(data), a))
	}
	for vpn := range a.vpns.All() {
		if len(data) == 0 {
			return
		}
		n := copy(mem.Bytes(a.frames[vpn].PPN), data)
		data = data[n:]
	}
}

// shrinkTo unmaps the pages [newEnd, end) of a.
func (a *MapArea) shrinkTo(pt *pagetables.PageTables, newEnd riscv.VirtPageNum) {
	for vpn := range riscv.NewVPNRange(newEnd, a.vpns.End).All() {
		a.unmapOne(pt, vpn)
	}
	a.vpns.End = newEnd
}

// appendTo maps the pages [end, newEnd) of a.
func (a *MapArea) appendTo(pt *pagetables.PageTables, src pgalloc.Source, newEnd riscv.VirtPageNum) {
	for vpn := range riscv.NewVPNRange(a.vpns.End, newEnd).All() {
		a.mapOne(pt, src, vpn)
	}
	a.vpns.End = newEnd
}

// splitAt removes vpn from a. a keeps the pages below vpn and the returned
// area holds the pages above it. vpn itself must already be unmapped.
func (a *MapArea) splitAt(vpn riscv.VirtPageNum) *MapArea {
	right := NewMapAreaRange(riscv.NewVPNRange(vpn.Next(), a.vpns.End), a.typ, a.perm)
	for v, f := range a.frames {
		if v > vpn {
			right.frames[v] = f
			delete(a.frames, v)
		}
	}
	a.vpns.End = vpn
	return right
}

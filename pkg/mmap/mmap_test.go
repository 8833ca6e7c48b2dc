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

package mmap

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/mm"
	"gvisor.dev/sv39/pkg/pgalloc"
	"gvisor.dev/sv39/pkg/physmem"
	"gvisor.dev/sv39/pkg/riscv"
	"gvisor.dev/sv39/pkg/usermem"
)

type testSpace struct {
	ms *mm.MemorySet
}

func (s *testSpace) UserToken() riscv.Satp {
	return s.ms.Token()
}

func (s *testSpace) InsertFramedArea(vpns riscv.VPNRange, perm mm.MapPermission) {
	s.ms.Push(mm.NewMapAreaRange(vpns, mm.Framed, perm), nil)
}

func (s *testSpace) UnmapPage(vpn riscv.VirtPageNum) bool {
	return s.ms.UnmapPage(vpn)
}

type fixture struct {
	mem    *physmem.Memory
	frames *pgalloc.Allocator
	ms     *mm.MemorySet
	p      *Policy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m, err := physmem.New(0x80000000, 0x80080000)
	if err != nil {
		t.Fatalf("physmem.New failed: %v", err)
	}
	t.Cleanup(func() { m.Release() })
	a, err := pgalloc.New(m, m.Base(), m.End())
	if err != nil {
		t.Fatalf("pgalloc.New failed: %v", err)
	}
	ms := mm.NewBare(a)
	// A kernel-only page, like a trap context.
	ms.InsertFramedArea(0x100000, 0x101000, mm.PermR|mm.PermW)
	t.Cleanup(ms.Release)
	return &fixture{mem: m, frames: a, ms: ms, p: New(m, &testSpace{ms})}
}

func (f *fixture) mapped(vpn riscv.VirtPageNum) bool {
	pte, ok := f.ms.Translate(vpn)
	return ok && pte.Valid()
}

func (f *fixture) mappedPages(lo, hi riscv.VirtPageNum) []riscv.VirtPageNum {
	var vpns []riscv.VirtPageNum
	for vpn := lo; vpn < hi; vpn++ {
		if f.mapped(vpn) {
			vpns = append(vpns, vpn)
		}
	}
	return vpns
}

func TestValidProt(t *testing.T) {
	for prot := uint64(0); prot < 16; prot++ {
		if got, want := ValidProt(prot), prot >= 1 && prot <= 7; got != want {
			t.Errorf("ValidProt(%d) = %v, want %v", prot, got, want)
		}
	}
}

func TestPermissionOf(t *testing.T) {
	for _, test := range []struct {
		prot uint64
		want mm.MapPermission
	}{
		{ProtRead, mm.PermR | mm.PermU},
		{ProtRead | ProtWrite, mm.PermR | mm.PermW | mm.PermU},
		{ProtExec, mm.PermX | mm.PermU},
		{7, mm.PermR | mm.PermW | mm.PermX | mm.PermU},
	} {
		if got := PermissionOf(test.prot); got != test.want {
			t.Errorf("PermissionOf(%d) = %v, want %v", test.prot, got, test.want)
		}
	}
}

func TestMapZeroFills(t *testing.T) {
	f := newFixture(t)
	// Dirty some frames first so reuse would show.
	dirty := f.ms.InsertFramedArea(0x50000, 0x53000, mm.PermR|mm.PermW|mm.PermU)
	for vpn := range dirty.Range().All() {
		ppn, _ := dirty.Frame(vpn)
		copy(f.mem.Bytes(ppn), bytes.Repeat([]byte{0xff}, riscv.PageSize))
	}
	f.ms.RemoveAreaWithStartVPN(0x50)

	if err := f.p.Map(0x10000, 0x2800, ProtRead|ProtWrite); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	got := make([]byte, 0x2800)
	if _, err := usermem.CopyIn(f.mem, f.ms.Token(), 0x10000, got, usermem.IOOpts{}); err != nil {
		t.Fatalf("CopyIn failed: %v", err)
	}
	if !bytes.Equal(got, make([]byte, len(got))) {
		t.Errorf("newly mapped memory is not zero")
	}
	pte, _ := f.ms.Translate(0x10)
	if !pte.Readable() || !pte.Writable() || pte.Executable() || !pte.User() {
		t.Errorf("mapped page flags = %v", pte.Flags())
	}
}

func TestBoundaryRounding(t *testing.T) {
	f := newFixture(t)
	if err := f.p.Map(0x1000, 0x1001, ProtRead); err != nil {
		t.Fatalf("Map(0x1000, 0x1001) failed: %v", err)
	}
	if diff := cmp.Diff([]riscv.VirtPageNum{1, 2}, f.mappedPages(0, 8)); diff != "" {
		t.Errorf("mapped pages mismatch (-want +got):\n%s", diff)
	}
	if err := f.p.Unmap(0x1000, 0x1001); err != nil {
		t.Fatalf("Unmap(0x1000, 0x1001) failed: %v", err)
	}
	if got := f.mappedPages(0, 8); len(got) != 0 {
		t.Errorf("pages still mapped: %v", got)
	}
}

func TestLengthOnPageBoundary(t *testing.T) {
	f := newFixture(t)
	if err := f.p.Map(0x4000, 0x2000, ProtRead); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if diff := cmp.Diff([]riscv.VirtPageNum{4, 5}, f.mappedPages(0, 8)); diff != "" {
		t.Errorf("mapped pages mismatch (-want +got):\n%s", diff)
	}
	if err := f.p.Map(0x6000, 1, ProtRead); err != nil {
		t.Errorf("Map of the page right after failed: %v", err)
	}
}

func TestOverlapRejected(t *testing.T) {
	f := newFixture(t)
	if err := f.p.Map(0x2000, 0x1000, ProtRead); err != nil {
		t.Fatalf("Map(0x2000) failed: %v", err)
	}
	before := f.frames.Free()
	err := f.p.Map(0x1000, 0x2000, ProtRead|ProtWrite)
	if !linuxerr.Equals(linuxerr.EEXIST, err) {
		t.Errorf("overlapping Map = %v, want EEXIST", err)
	}
	if f.mapped(1) {
		t.Errorf("page 1 mapped by a rejected request")
	}
	if got := f.frames.Free(); got != before {
		t.Errorf("rejected Map allocated %d frames", before-got)
	}
}

func TestProtValidation(t *testing.T) {
	f := newFixture(t)
	before := f.frames.Free()
	for _, prot := range []uint64{0, 8, 9, 0x10} {
		if err := f.p.Map(0x1000, 0x1000, prot); !linuxerr.Equals(linuxerr.EINVAL, err) {
			t.Errorf("Map with prot %d = %v, want EINVAL", prot, err)
		}
	}
	if f.mapped(1) || f.frames.Free() != before {
		t.Errorf("rejected Map had side effects")
	}
	for prot := uint64(1); prot <= 7; prot++ {
		start := riscv.VirtAddr(prot * 0x10000)
		if err := f.p.Map(start, 0x1000, prot); err != nil {
			t.Errorf("Map with prot %d failed: %v", prot, err)
		}
	}
}

func TestAlignmentValidation(t *testing.T) {
	f := newFixture(t)
	for prot := uint64(1); prot <= 7; prot++ {
		if err := f.p.Map(0x1001, 0x1000, prot); !linuxerr.Equals(linuxerr.EINVAL, err) {
			t.Errorf("Map(0x1001) with prot %d = %v, want EINVAL", prot, err)
		}
	}
	if f.mapped(1) {
		t.Errorf("misaligned Map mapped a page")
	}
}

func TestZeroLengthAndOverflow(t *testing.T) {
	f := newFixture(t)
	if err := f.p.Map(0x1000, 0, ProtRead); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Map with zero length = %v, want EINVAL", err)
	}
	if err := f.p.Unmap(0x1000, 0); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Unmap with zero length = %v, want EINVAL", err)
	}
	if err := f.p.Map(riscv.MaxVA-riscv.PageSize, 2*riscv.PageSize, ProtRead); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Map past the address space = %v, want EINVAL", err)
	}
}

func TestPartialUnmapKeepsEarlierPagesUnmapped(t *testing.T) {
	f := newFixture(t)
	if err := f.p.Map(0x1000, 0x2000, ProtRead); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	total := f.frames.Free()
	// Pages 1 and 2 are mapped, page 3 is not.
	err := f.p.Unmap(0x1000, 0x3000)
	if !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Unmap over a hole = %v, want EINVAL", err)
	}
	if got := f.mappedPages(0, 8); len(got) != 0 {
		t.Errorf("pages still mapped: %v", got)
	}
	if got := f.frames.Free() - total; got != 2 {
		t.Errorf("Unmap released %d frames, want 2", got)
	}
}

func TestUnmapReleasesFramesAndSplits(t *testing.T) {
	f := newFixture(t)
	if err := f.p.Map(0x10000, 0x5000, ProtRead|ProtWrite); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	before := f.frames.Free()
	if err := f.p.Unmap(0x12000, 1); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}
	if got := f.frames.Free() - before; got != 1 {
		t.Errorf("Unmap released %d frames, want 1", got)
	}
	if diff := cmp.Diff([]riscv.VirtPageNum{0x10, 0x11, 0x13, 0x14}, f.mappedPages(0x10, 0x18)); diff != "" {
		t.Errorf("mapped pages mismatch (-want +got):\n%s", diff)
	}
	// The hole can be mapped again.
	if err := f.p.Map(0x12000, 0x1000, ProtRead); err != nil {
		t.Errorf("Map into the hole failed: %v", err)
	}
}

func TestUnmapKernelPageRejected(t *testing.T) {
	f := newFixture(t)
	if err := f.p.Unmap(0x100000, 0x1000); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Unmap of a kernel page = %v, want EINVAL", err)
	}
	if !f.mapped(0x100) {
		t.Errorf("kernel page was unmapped")
	}
	if err := f.p.Map(0x100000, 0x1000, ProtRead); !linuxerr.Equals(linuxerr.EEXIST, err) {
		t.Errorf("Map over a kernel page = %v, want EEXIST", err)
	}
}

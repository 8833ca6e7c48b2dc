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
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRoundTrip(t *testing.T) {
	for _, addr := range []uint64{0, 1, 0xfff, 0x1000, 0x1001, 0x80200123, 0x7fffffffff} {
		va := VirtAddr(addr)
		if got, want := va.Floor().Addr(), VirtAddr(addr&^0xfff); got != want {
			t.Errorf("%v.Floor().Addr() = %v, want %v", va, got, want)
		}
		pa := PhysAddr(addr)
		if got, want := pa.Floor().Addr(), PhysAddr(addr&^0xfff); got != want {
			t.Errorf("%v.Floor().Addr() = %v, want %v", pa, got, want)
		}
	}
}

func TestCeil(t *testing.T) {
	for _, test := range []struct {
		addr VirtAddr
		want VirtPageNum
	}{
		{0, 0},
		{1, 1},
		{0x1000, 1},
		{0x1001, 2},
		{0x2fff, 3},
	} {
		if got := test.addr.Ceil(); got != test.want {
			t.Errorf("%v.Ceil() = %v, want %v", test.addr, got, test.want)
		}
	}
}

func TestPageOffset(t *testing.T) {
	if got := VirtAddr(0x12345).PageOffset(); got != 0x345 {
		t.Errorf("PageOffset = %#x, want 0x345", got)
	}
	if !VirtAddr(0x3000).Aligned() || VirtAddr(0x3001).Aligned() {
		t.Errorf("Aligned reports wrong result")
	}
}

func TestTruncation(t *testing.T) {
	if got, want := VirtAddrOf(^uint64(0)), VirtAddr(MaxVA-1); got != want {
		t.Errorf("VirtAddrOf(max) = %v, want %v", got, want)
	}
	if got, want := PhysAddrOf(1<<60|0x1234), PhysAddr(0x1234); got != want {
		t.Errorf("PhysAddrOf = %v, want %v", got, want)
	}
}

func TestIndexes(t *testing.T) {
	for _, test := range []struct {
		vpn  VirtPageNum
		want [Levels]int
	}{
		{0, [Levels]int{0, 0, 0}},
		{1, [Levels]int{0, 0, 1}},
		{0x200, [Levels]int{0, 1, 0}},
		{0x40000, [Levels]int{1, 0, 0}},
		{0x7ffffff, [Levels]int{511, 511, 511}},
		{VirtAddr(0x80200000).Floor(), [Levels]int{2, 1, 0}},
	} {
		if got := test.vpn.Indexes(); got != test.want {
			t.Errorf("%v.Indexes() = %v, want %v", test.vpn, got, test.want)
		}
	}
}

func TestRangeAllIsRestartable(t *testing.T) {
	r := NewVPNRange(3, 6)
	want := []VirtPageNum{3, 4, 5}
	for i := 0; i < 2; i++ {
		if diff := cmp.Diff(want, slices.Collect(r.All())); diff != "" {
			t.Errorf("pass %d: All() mismatch (-want +got):\n%s", i, diff)
		}
	}

	// Stopping early must not disturb later iterations.
	for v := range r.All() {
		if v == 4 {
			break
		}
	}
	if diff := cmp.Diff(want, slices.Collect(r.All())); diff != "" {
		t.Errorf("after break: All() mismatch (-want +got):\n%s", diff)
	}

	if got := slices.Collect(NewVPNRange(7, 7).All()); len(got) != 0 {
		t.Errorf("empty range yielded %v", got)
	}
}

func TestInclusiveVPNRange(t *testing.T) {
	for _, test := range []struct {
		name   string
		start  VirtAddr
		length uint64
		want   VPNRange
		ok     bool
	}{
		{"one byte", 0x1000, 1, VPNRange{1, 2}, true},
		{"exact page", 0x1000, 0x1000, VPNRange{1, 2}, true},
		{"one past page", 0x1000, 0x1001, VPNRange{1, 3}, true},
		{"two pages", 0x1000, 0x2000, VPNRange{1, 3}, true},
		{"unaligned start", 0x1fff, 2, VPNRange{1, 3}, true},
		{"zero length", 0x1000, 0, VPNRange{}, false},
		{"past top", MaxVA - PageSize, PageSize + 1, VPNRange{}, false},
		{"wraps", 0x1000, ^uint64(0), VPNRange{}, false},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, ok := InclusiveVPNRange(test.start, test.length)
			if ok != test.ok {
				t.Fatalf("InclusiveVPNRange(%v, %#x) ok = %v, want %v", test.start, test.length, ok, test.ok)
			}
			if got != test.want {
				t.Errorf("InclusiveVPNRange(%v, %#x) = %v, want %v", test.start, test.length, got, test.want)
			}
		})
	}
}

func TestOverlaps(t *testing.T) {
	a := NewVPNRange(2, 5)
	for _, test := range []struct {
		o    VPNRange
		want bool
	}{
		{NewVPNRange(0, 2), false},
		{NewVPNRange(0, 3), true},
		{NewVPNRange(4, 9), true},
		{NewVPNRange(5, 9), false},
		{NewVPNRange(3, 3), false},
	} {
		if got := a.Overlaps(test.o); got != test.want {
			t.Errorf("%v.Overlaps(%v) = %v, want %v", a, test.o, got, test.want)
		}
	}
}

func TestNewVPNRangeInverted(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("NewVPNRange(5, 4) did not panic")
		}
	}()
	NewVPNRange(5, 4)
}

func TestToken(t *testing.T) {
	root := PhysPageNum(0x80321)
	tok := MakeToken(root)
	if got := tok.Mode(); got != SatpModeSv39 {
		t.Errorf("Mode() = %d, want %d", got, SatpModeSv39)
	}
	if got := tok.RootPPN(); got != root {
		t.Errorf("RootPPN() = %v, want %v", got, root)
	}
	if uint64(tok) != 8<<60|0x80321 {
		t.Errorf("token = %#x", uint64(tok))
	}
}

func TestHart(t *testing.T) {
	var h Hart
	if h.Satp().Mode() != SatpModeBare {
		t.Errorf("zero hart has translation enabled")
	}
	tok := MakeToken(42)
	h.WriteSatp(tok)
	if h.Satp() != tok {
		t.Errorf("Satp() = %v, want %v", h.Satp(), tok)
	}
	if h.Flushes() != 1 {
		t.Errorf("Flushes() = %d, want 1", h.Flushes())
	}
}

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

package pgalloc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/sv39/pkg/cell"
	"gvisor.dev/sv39/pkg/physmem"
	"gvisor.dev/sv39/pkg/riscv"
)

const (
	memBase = 0x80000000
	memEnd  = 0x80010000 // 16 frames.
)

func newMemory(t *testing.T) *physmem.Memory {
	t.Helper()
	m, err := physmem.New(memBase, memEnd)
	if err != nil {
		t.Fatalf("physmem.New failed: %v", err)
	}
	t.Cleanup(func() { m.Release() })
	return m
}

func newAllocator(t *testing.T, nframes riscv.PhysPageNum) *Allocator {
	t.Helper()
	m := newMemory(t)
	a, err := New(m, m.Base(), m.Base()+nframes)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s did not panic", name)
		}
	}()
	fn()
}

func TestNewBadRange(t *testing.T) {
	m := newMemory(t)
	for _, test := range []struct {
		name       string
		start, end riscv.PhysPageNum
	}{
		{"inverted", m.Base() + 2, m.Base() + 1},
		{"below memory", m.Base() - 1, m.Base() + 1},
		{"above memory", m.Base(), m.End() + 1},
	} {
		if _, err := New(m, test.start, test.end); err == nil {
			t.Errorf("%s: New(%v, %v) succeeded", test.name, test.start, test.end)
		}
	}
}

func TestAllocLowestFirst(t *testing.T) {
	a := newAllocator(t, 4)
	base := a.Memory().Base()
	var got []riscv.PhysPageNum
	var frames []*FrameTracker
	for range 4 {
		f := MustAlloc(a)
		got = append(got, f.PPN)
		frames = append(frames, f)
	}
	want := []riscv.PhysPageNum{base, base + 1, base + 2, base + 3}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("allocation order mismatch (-want +got):\n%s", diff)
	}
	if _, ok := a.Alloc(); ok {
		t.Errorf("Alloc succeeded on exhausted pool")
	}
	frames[1].Release()
	if f := MustAlloc(a); f.PPN != base+1 {
		t.Errorf("Alloc after free = %v, want %v", f.PPN, base+1)
	}
}

func TestAllocZeroFills(t *testing.T) {
	a := newAllocator(t, 1)
	f := MustAlloc(a)
	b := a.Memory().Bytes(f.PPN)
	for i := range b {
		b[i] = 0xaa
	}
	f.Release()
	f = MustAlloc(a)
	for i, v := range a.Memory().Bytes(f.PPN) {
		if v != 0 {
			t.Fatalf("byte %d of reused frame = %#x, want 0", i, v)
		}
	}
}

func TestConservation(t *testing.T) {
	a := newAllocator(t, 8)
	var frames []*FrameTracker
	for range 5 {
		frames = append(frames, MustAlloc(a))
	}
	if got := a.Free(); got != 3 {
		t.Errorf("Free() = %d, want 3", got)
	}
	for _, f := range frames {
		f.Release()
	}
	if got, want := a.Free(), a.Total(); got != want {
		t.Errorf("Free() = %d, want %d", got, want)
	}
}

func TestFatalPaths(t *testing.T) {
	a := newAllocator(t, 2)
	f := MustAlloc(a)
	f.Release()
	mustPanic(t, "double Release", f.Release)
	mustPanic(t, "double Dealloc", func() { a.Dealloc(f.PPN) })
	mustPanic(t, "Dealloc outside pool", func() { a.Dealloc(a.Memory().Base() + 5) })
	MustAlloc(a)
	MustAlloc(a)
	mustPanic(t, "MustAlloc on exhausted pool", func() { MustAlloc(a) })
}

func TestShared(t *testing.T) {
	a := newAllocator(t, 2)
	c := cell.New("frames", a)
	s := NewShared(c)
	f := MustAlloc(s)
	if got := s.Free(); got != 1 {
		t.Errorf("Free() = %d, want 1", got)
	}
	f.Release()
	if got := s.Free(); got != 2 {
		t.Errorf("Free() after release = %d, want 2", got)
	}
	if c.Borrowed() {
		t.Errorf("allocator still borrowed")
	}

	_, done := c.Borrow()
	mustPanic(t, "Alloc during outstanding borrow", func() { s.Alloc() })
	done()
}

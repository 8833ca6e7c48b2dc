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

// Package pgalloc contains the page frame allocator.
//
// Frames are handed out as FrameTrackers. A tracker owns its frame until it is
// released, at which point the frame goes back to the Source it came from.
// Every frame returned by Alloc is zero filled.
package pgalloc

import (
	"fmt"

	"gvisor.dev/sv39/pkg/bitmap"
	"gvisor.dev/sv39/pkg/cell"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/physmem"
	"gvisor.dev/sv39/pkg/riscv"
)

// Source is a pool of physical frames.
type Source interface {
	// Alloc returns a zero-filled frame, or false if the pool is exhausted.
	Alloc() (*FrameTracker, bool)

	// Dealloc returns ppn to the pool.
	//
	// Precondition: ppn was allocated from this pool and is not free.
	Dealloc(ppn riscv.PhysPageNum)

	// Memory returns the arena the frames live in.
	Memory() *physmem.Memory
}

// MustAlloc allocates a frame from s and panics if none is left. Running out
// of frames is fatal to the kernel.
func MustAlloc(s Source) *FrameTracker {
	f, ok := s.Alloc()
	if !ok {
		panic("out of physical frames")
	}
	return f
}

// FrameTracker owns exactly one physical frame.
type FrameTracker struct {
	// PPN is the owned frame.
	PPN riscv.PhysPageNum

	src      Source
	released bool
}

// Release returns the frame to its pool. Releasing twice panics.
func (f *FrameTracker) Release() {
	if f.released {
		panic(fmt.Sprintf("frame %v released twice", f.PPN))
	}
	f.released = true
	f.src.Dealloc(f.PPN)
}

// Allocator is a Source over the frames [start, end) of an arena. It hands
// out the lowest free frame first.
type Allocator struct {
	mem   *physmem.Memory
	start riscv.PhysPageNum
	end   riscv.PhysPageNum

	// free has bit i set iff frame start+i is free.
	free *bitmap.Bitmap
}

// New returns an Allocator over the frames [start, end), which must lie
// inside mem.
func New(mem *physmem.Memory, start, end riscv.PhysPageNum) (*Allocator, error) {
	if start > end {
		return nil, fmt.Errorf("invalid frame range [%v, %v)", start, end)
	}
	if start < mem.Base() || end > mem.End() {
		return nil, fmt.Errorf("frame range [%v, %v) outside memory [%v, %v)", start, end, mem.Base(), mem.End())
	}
	free, err := bitmap.New(uint32(end - start))
	if err != nil {
		return nil, err
	}
	free.FillRange(0, uint32(end-start))
	log.Debugf("Frame allocator: %d frames in [%v, %v)", end-start, start, end)
	return &Allocator{
		mem:   mem,
		start: start,
		end:   end,
		free:  free,
	}, nil
}

// Alloc implements Source.Alloc.
func (a *Allocator) Alloc() (*FrameTracker, bool) {
	i, ok := a.free.FirstOne(0)
	if !ok {
		log.Warningf("Frame allocator exhausted: %d frames in use", a.Total())
		return nil, false
	}
	a.free.Remove(i)
	ppn := a.start + riscv.PhysPageNum(i)
	a.mem.Zero(ppn)
	return &FrameTracker{PPN: ppn, src: a}, true
}

// Dealloc implements Source.Dealloc.
func (a *Allocator) Dealloc(ppn riscv.PhysPageNum) {
	if ppn < a.start || ppn >= a.end {
		panic(fmt.Sprintf("frame %v outside pool [%v, %v)", ppn, a.start, a.end))
	}
	if !a.free.Add(uint32(ppn - a.start)) {
		panic(fmt.Sprintf("frame %v freed twice", ppn))
	}
}

// Memory implements Source.Memory.
func (a *Allocator) Memory() *physmem.Memory {
	return a.mem
}

// Free returns the number of free frames.
func (a *Allocator) Free() uint64 {
	return uint64(a.free.Count())
}

// Total returns the number of frames managed by a.
func (a *Allocator) Total() uint64 {
	return uint64(a.end - a.start)
}

// IsFree reports whether ppn is in the pool and free.
func (a *Allocator) IsFree(ppn riscv.PhysPageNum) bool {
	if ppn < a.start || ppn >= a.end {
		return false
	}
	return a.free.Contains(uint32(ppn - a.start))
}

// Shared is a Source backed by an Allocator held in a cell.Cell. Each call
// borrows the allocator for its duration only, so a nested call while the
// allocator is borrowed elsewhere panics.
type Shared struct {
	c   *cell.Cell[*Allocator]
	mem *physmem.Memory
}

// NewShared returns a Shared wrapping c.
func NewShared(c *cell.Cell[*Allocator]) *Shared {
	a, done := c.Borrow()
	mem := a.mem
	done()
	return &Shared{c: c, mem: mem}
}

// Alloc implements Source.Alloc.
func (s *Shared) Alloc() (*FrameTracker, bool) {
	a, done := s.c.Borrow()
	defer done()
	f, ok := a.Alloc()
	if ok {
		f.src = s
	}
	return f, ok
}

// Dealloc implements Source.Dealloc.
func (s *Shared) Dealloc(ppn riscv.PhysPageNum) {
	s.c.With(func(a *Allocator) { a.Dealloc(ppn) })
}

// Memory implements Source.Memory.
func (s *Shared) Memory() *physmem.Memory {
	return s.mem
}

// Free returns the number of free frames in the shared allocator.
func (s *Shared) Free() uint64 {
	var n uint64
	s.c.With(func(a *Allocator) { n = a.Free() })
	return n
}

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

	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/pgalloc"
	"gvisor.dev/sv39/pkg/riscv"
)

// Segment is one loadable piece of a program image.
type Segment struct {
	// Start is the page aligned virtual address of the segment.
	Start riscv.VirtAddr

	// Data is copied to Start. Memory past it up to MemSize is zero.
	Data []byte

	// MemSize is the size of the segment in memory, at least len(Data).
	MemSize uint64

	// Perm is the segment's permission; PermU is added.
	Perm MapPermission
}

// Image is a parsed program image.
type Image struct {
	Segments []Segment
	Entry    riscv.VirtAddr
}

// UserSpace is a freshly built user address space.
type UserSpace struct {
	Space *MemorySet

	// Heap is the initially empty heap area starting at HeapBottom.
	Heap       *MapArea
	HeapBottom riscv.VirtAddr

	// StackTop is the initial user stack pointer.
	StackTop riscv.VirtAddr

	// Entry is the program entry point.
	Entry riscv.VirtAddr
}

// NewUser builds the address space of a program: its segments, a guard
// page, the user stack, an empty heap above the stack, the trap context and
// the trampoline.
func NewUser(src pgalloc.Source, trampoline riscv.PhysPageNum, img *Image, stackSize uint64) (*UserSpace, error) {
	if len(img.Segments) == 0 {
		return nil, fmt.Errorf("image has no segments")
	}
	if stackSize == 0 || stackSize%riscv.PageSize != 0 {
		return nil, fmt.Errorf("user stack size %#x is not a positive multiple of the page size", stackSize)
	}
	var maxEnd riscv.VirtPageNum
	for i, seg := range img.Segments {
		if !seg.Start.Aligned() {
			return nil, fmt.Errorf("segment %d start %v is not page aligned", i, seg.Start)
		}
		if uint64(len(seg.Data)) > seg.MemSize {
			return nil, fmt.Errorf("segment %d has %d bytes of data but %d bytes of memory", i, len(seg.Data), seg.MemSize)
		}
		end, ok := seg.Start.AddLength(seg.MemSize)
		if !ok || end > TrapContext {
			return nil, fmt.Errorf("segment %d [%v, +%#x) is outside user memory", i, seg.Start, seg.MemSize)
		}
		if e := end.Ceil(); e > maxEnd {
			maxEnd = e
		}
	}
	stackBottom := maxEnd.Next().Addr()
	stackTop := stackBottom + riscv.VirtAddr(stackSize)
	if stackTop > TrapContext || stackTop < stackBottom {
		return nil, fmt.Errorf("user stack of %#x bytes does not fit above %v", stackSize, stackBottom)
	}

	ms := NewBare(src)
	for i, seg := range img.Segments {
		end, _ := seg.Start.AddLength(seg.MemSize)
		a := NewMapArea(seg.Start, end, Framed, seg.Perm|PermU)
		if old, ok := ms.overlapping(a.Range()); ok {
			ms.Release()
			return nil, fmt.Errorf("segment %d %v overlaps %v", i, a, old)
		}
		ms.Push(a, seg.Data)
	}
	ms.MapTrampoline(trampoline)
	ms.InsertFramedArea(stackBottom, stackTop, PermR|PermW|PermU)
	heap := NewMapArea(stackTop, stackTop, Framed, PermR|PermW|PermU)
	ms.Push(heap, nil)
	ms.InsertFramedArea(TrapContext, Trampoline, PermR|PermW)
	log.Debugf("User space %v: stack [%v, %v) entry %v", ms.Token(), stackBottom, stackTop, img.Entry)
	return &UserSpace{
		Space:      ms,
		Heap:       heap,
		HeapBottom: stackTop,
		StackTop:   stackTop,
		Entry:      img.Entry,
	}, nil
}

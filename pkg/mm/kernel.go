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

const (
	// Trampoline is the virtual address of the trampoline page, the last
	// page of every address space.
	Trampoline = riscv.VirtAddr(riscv.MaxVA - riscv.PageSize)

	// TrapContext is the virtual address of a task's trap context page,
	// just below the trampoline in user address spaces.
	TrapContext = Trampoline - riscv.PageSize
)

// Section is a contiguous piece of the kernel image.
type Section struct {
	Name  string
	Start riscv.PhysAddr
	End   riscv.PhysAddr
	Perm  MapPermission
}

// Region is a physical range mapped read/write into the kernel, such as a
// device's MMIO window.
type Region struct {
	Start  riscv.PhysAddr
	Length uint64
}

// KernelLayout describes what the kernel address space maps.
type KernelLayout struct {
	// Sections are the kernel image sections in ascending order. The end of
	// the last one is the end of the kernel image.
	Sections []Section

	// MemoryEnd is the end of physical memory. Everything from the end of
	// the kernel image up to it is identity mapped read/write.
	MemoryEnd riscv.PhysAddr

	// MMIO regions are identity mapped read/write.
	MMIO []Region

	// Trampoline is the frame holding the trampoline code.
	Trampoline riscv.PhysPageNum
}

// Section returns the section called name.
func (l *KernelLayout) Section(name string) (Section, bool) {
	for _, s := range l.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// KernelEnd returns the end of the kernel image.
func (l *KernelLayout) KernelEnd() riscv.PhysAddr {
	if len(l.Sections) == 0 {
		return 0
	}
	return l.Sections[len(l.Sections)-1].End
}

// NewKernel builds the kernel address space: the trampoline, every section
// of the kernel image, the rest of physical memory and the MMIO regions, all
// identity mapped.
func NewKernel(src pgalloc.Source, l *KernelLayout) *MemorySet {
	ms := NewBare(src)
	ms.MapTrampoline(l.Trampoline)
	for _, s := range l.Sections {
		log.Debugf("Kernel %s [%v, %v) %v", s.Name, s.Start, s.End, s.Perm)
		ms.Push(NewMapArea(riscv.VirtAddr(s.Start), riscv.VirtAddr(s.End), Identical, s.Perm), nil)
	}
	ekernel := l.KernelEnd()
	log.Debugf("Kernel physical memory [%v, %v)", ekernel, l.MemoryEnd)
	ms.Push(NewMapArea(riscv.VirtAddr(ekernel), riscv.VirtAddr(l.MemoryEnd), Identical, PermR|PermW), nil)
	for _, r := range l.MMIO {
		log.Debugf("Kernel MMIO [%v, %#x)", r.Start, uint64(r.Start)+r.Length)
		ms.Push(NewMapArea(riscv.VirtAddr(r.Start), riscv.VirtAddr(uint64(r.Start)+r.Length), Identical, PermR|PermW), nil)
	}
	return ms
}

// KernelStackPosition returns the bounds of the kernel stack of app. Stacks
// grow down from the trampoline, each separated from the next by an unmapped
// guard page.
func KernelStackPosition(app int, stackSize uint64) (bottom, top riscv.VirtAddr) {
	top = Trampoline - riscv.VirtAddr(uint64(app)*(stackSize+riscv.PageSize))
	bottom = top - riscv.VirtAddr(stackSize)
	return bottom, top
}

// InsertKernelStack maps the kernel stack of app into the kernel address
// space ms and returns its top.
func InsertKernelStack(ms *MemorySet, app int, stackSize uint64) riscv.VirtAddr {
	bottom, top := KernelStackPosition(app, stackSize)
	ms.InsertFramedArea(bottom, top, PermR|PermW)
	return top
}

// RemoveKernelStack unmaps the kernel stack of app.
func RemoveKernelStack(ms *MemorySet, app int, stackSize uint64) bool {
	bottom, _ := KernelStackPosition(app, stackSize)
	return ms.RemoveAreaWithStartVPN(bottom.Floor())
}

// RemapTest checks that the kernel address space enforces the permissions of
// the code and data sections.
func RemapTest(ms *MemorySet, l *KernelLayout) error {
	for _, c := range []struct {
		section string
		bad     func(MapPermission) bool
		what    string
	}{
		{".text", func(p MapPermission) bool { return p&PermW != 0 }, "writable"},
		{".rodata", func(p MapPermission) bool { return p&PermW != 0 }, "writable"},
		{".data", func(p MapPermission) bool { return p&PermX != 0 }, "executable"},
	} {
		s, ok := l.Section(c.section)
		if !ok || s.Start == s.End {
			continue
		}
		mid := riscv.VirtAddr((s.Start + s.End) / 2)
		pte, ok := ms.Translate(mid.Floor())
		if !ok || !pte.Valid() {
			return fmt.Errorf("kernel %s at %v is not mapped", c.section, mid)
		}
		if c.bad(MapPermission(pte.Flags())) {
			return fmt.Errorf("kernel %s at %v is %s", c.section, mid, c.what)
		}
	}
	log.Infof("Kernel remap test passed")
	return nil
}

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

// Package kernel ties the memory subsystem of one machine together.
//
// A Kernel must be initialized with Init before any other method is used.
// Init sets up physical memory, the frame pool and the kernel address space
// and activates it on the boot hart.
package kernel

import (
	"fmt"
	"time"

	"gvisor.dev/sv39/pkg/cell"
	"gvisor.dev/sv39/pkg/cleanup"
	"gvisor.dev/sv39/pkg/config"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/mm"
	"gvisor.dev/sv39/pkg/pgalloc"
	"gvisor.dev/sv39/pkg/physmem"
	"gvisor.dev/sv39/pkg/riscv"
)

// Kernel is the state shared by every task of one machine.
type Kernel struct {
	conf *config.Config

	// Clock returns the current time. It defaults to time.Now.
	Clock func() time.Time

	initialized bool

	// The fields below are set by Init.

	mem    *physmem.Memory
	frames *cell.Cell[*pgalloc.Allocator]
	src    *pgalloc.Shared
	space  *cell.Cell[*mm.MemorySet]
	hart   *riscv.Hart
	layout *mm.KernelLayout

	// current is the task running on the hart, if any.
	current *Task

	// nextApp is the application number of the next task.
	nextApp int

	bootTime time.Time
}

// New returns an uninitialized Kernel for conf. conf is cloned.
func New(conf *config.Config) *Kernel {
	return &Kernel{
		conf:  conf.Clone(),
		Clock: time.Now,
	}
}

// Layout returns the kernel address space layout described by conf.
func Layout(conf *config.Config) *mm.KernelLayout {
	base := riscv.PhysAddr(conf.KernelBase)
	text := base + riscv.PhysAddr(conf.TextSize)
	rodata := text + riscv.PhysAddr(conf.RodataSize)
	data := rodata + riscv.PhysAddr(conf.DataSize)
	bss := data + riscv.PhysAddr(conf.BssSize())
	l := &mm.KernelLayout{
		Sections: []mm.Section{
			{Name: ".text", Start: base, End: text, Perm: mm.PermR | mm.PermX},
			{Name: ".rodata", Start: text, End: rodata, Perm: mm.PermR},
			{Name: ".data", Start: rodata, End: data, Perm: mm.PermR | mm.PermW},
			{Name: ".bss", Start: data, End: bss, Perm: mm.PermR | mm.PermW},
		},
		MemoryEnd: riscv.PhysAddr(conf.MemoryEnd),
		// The trampoline code sits in the last page of .text.
		Trampoline: (text - riscv.PageSize).Floor(),
	}
	for _, r := range conf.MMIO {
		l.MMIO = append(l.MMIO, mm.Region{Start: riscv.PhysAddr(r.Start), Length: r.Length})
	}
	return l
}

// Init initializes the memory subsystem. It may be called only once.
func (k *Kernel) Init() error {
	if k.initialized {
		panic("kernel initialized twice")
	}
	k.initialized = true
	if err := k.conf.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	mem, err := physmem.New(riscv.PhysAddr(k.conf.MemoryBase), riscv.PhysAddr(k.conf.MemoryEnd))
	if err != nil {
		return err
	}
	cu := cleanup.Make(func() { mem.Release() })
	defer cu.Clean()

	layout := Layout(k.conf)
	// The kernel heap lives in .bss, which starts out zeroed.
	bss, _ := layout.Section(".bss")
	clear(mem.Range(bss.Start, bss.End))
	log.Infof("Kernel heap: %#x bytes in .bss [%v, %v)", k.conf.KernelHeapSize, bss.Start, bss.End)

	start := layout.KernelEnd().Ceil()
	end := riscv.PhysAddr(k.conf.MemoryEnd).Floor()
	alloc, err := pgalloc.New(mem, start, end)
	if err != nil {
		return err
	}
	frames := cell.New("frame allocator", alloc)
	src := pgalloc.NewShared(frames)
	log.Infof("Frame pool: %d frames in [%v, %v)", end-start, start, end)

	ks := mm.NewKernel(src, layout)
	cu.Add(ks.Release)
	if err := mm.RemapTest(ks, layout); err != nil {
		return err
	}

	k.hart = &riscv.Hart{}
	ks.Activate(k.hart)
	log.Infof("Kernel address space %v active, %d frames free", ks.Token(), src.Free())

	k.mem = mem
	k.frames = frames
	k.src = src
	k.space = cell.New("kernel space", ks)
	k.layout = layout
	k.bootTime = k.Clock()
	cu.Release()
	return nil
}

func (k *Kernel) mustInit() {
	if !k.initialized || k.mem == nil {
		panic("kernel used before Init")
	}
}

// Config returns the configuration of k.
func (k *Kernel) Config() *config.Config {
	return k.conf
}

// Memory returns physical memory.
func (k *Kernel) Memory() *physmem.Memory {
	k.mustInit()
	return k.mem
}

// FrameSource returns the shared frame pool.
func (k *Kernel) FrameSource() *pgalloc.Shared {
	k.mustInit()
	return k.src
}

// Frames returns the cell holding the frame allocator.
func (k *Kernel) Frames() *cell.Cell[*pgalloc.Allocator] {
	k.mustInit()
	return k.frames
}

// KernelSpace returns the cell holding the kernel address space.
func (k *Kernel) KernelSpace() *cell.Cell[*mm.MemorySet] {
	k.mustInit()
	return k.space
}

// KernelToken returns the token of the kernel address space.
func (k *Kernel) KernelToken() riscv.Satp {
	k.mustInit()
	var token riscv.Satp
	k.space.With(func(ms *mm.MemorySet) { token = ms.Token() })
	return token
}

// Hart returns the boot hart.
func (k *Kernel) Hart() *riscv.Hart {
	k.mustInit()
	return k.hart
}

// KernelLayout returns the layout the kernel address space was built from.
func (k *Kernel) KernelLayout() *mm.KernelLayout {
	k.mustInit()
	return k.layout
}

// Uptime returns the time since Init.
func (k *Kernel) Uptime() time.Duration {
	k.mustInit()
	return k.Clock().Sub(k.bootTime)
}

// SetCurrent makes t the running task. t may be nil.
func (k *Kernel) SetCurrent(t *Task) {
	k.mustInit()
	if t != nil && t.k != k {
		panic("task belongs to another kernel")
	}
	k.current = t
}

// Current returns the running task, or nil.
func (k *Kernel) Current() *Task {
	k.mustInit()
	return k.current
}

// CurrentUserToken returns the token of the running task.
//
// Precondition: a task is running.
func (k *Kernel) CurrentUserToken() riscv.Satp {
	t := k.Current()
	if t == nil {
		panic("no current task")
	}
	return t.UserToken()
}

// Shutdown releases the kernel address space and physical memory. The
// kernel must not be used afterwards.
func (k *Kernel) Shutdown() error {
	k.mustInit()
	k.space.With(func(ms *mm.MemorySet) { ms.Release() })
	err := k.mem.Release()
	k.mem = nil
	return err
}

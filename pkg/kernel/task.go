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

package kernel

import (
	"fmt"
	"time"

	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/mm"
	"gvisor.dev/sv39/pkg/mmap"
	"gvisor.dev/sv39/pkg/riscv"
)

// MaxSyscallNum bounds the syscall numbers counted per task.
const MaxSyscallNum = 500

// TaskStatus is the life cycle state of a task.
type TaskStatus uint32

// Task states.
const (
	TaskUnInit TaskStatus = iota
	TaskReady
	TaskRunning
	TaskExited
)

// String implements fmt.Stringer.
func (s TaskStatus) String() string {
	switch s {
	case TaskUnInit:
		return "UnInit"
	case TaskReady:
		return "Ready"
	case TaskRunning:
		return "Running"
	case TaskExited:
		return "Exited"
	default:
		return fmt.Sprintf("TaskStatus(%d)", uint32(s))
	}
}

// Task owns a user address space and the bookkeeping the memory syscalls
// need. It is not scheduled; the caller decides which task is current.
type Task struct {
	k *Kernel

	// AppID selects the task's kernel stack.
	AppID int

	status TaskStatus
	space  *mm.MemorySet
	heap   *mm.MapArea

	heapBottom riscv.VirtAddr
	brk        riscv.VirtAddr

	// Entry and UserSP are the initial user pc and sp.
	Entry  riscv.VirtAddr
	UserSP riscv.VirtAddr

	// KernelStackTop is the top of the task's kernel stack.
	KernelStackTop riscv.VirtAddr

	// TrapContextPPN is the frame holding the task's trap context.
	TrapContextPPN riscv.PhysPageNum

	syscallTimes [MaxSyscallNum]uint32
	startTime    time.Time

	policy *mmap.Policy
}

var _ mmap.Space = (*Task)(nil)

// NewTask builds a task running img.
func (k *Kernel) NewTask(img *mm.Image) (*Task, error) {
	k.mustInit()
	us, err := mm.NewUser(k.src, k.layout.Trampoline, img, k.conf.UserStackSize)
	if err != nil {
		return nil, err
	}
	t := k.newTask(us.Space, us.Heap)
	t.heapBottom = us.HeapBottom
	t.brk = us.HeapBottom
	t.Entry = us.Entry
	t.UserSP = us.StackTop
	log.Infof("Task %d: entry %v sp %v token %v", t.AppID, t.Entry, t.UserSP, t.UserToken())
	return t, nil
}

// newTask wraps space in a Task with a fresh kernel stack.
func (k *Kernel) newTask(space *mm.MemorySet, heap *mm.MapArea) *Task {
	t := &Task{
		k:         k,
		AppID:     k.nextApp,
		status:    TaskReady,
		space:     space,
		heap:      heap,
		startTime: k.Clock(),
	}
	k.nextApp++
	k.space.With(func(ks *mm.MemorySet) {
		t.KernelStackTop = mm.InsertKernelStack(ks, t.AppID, k.conf.KernelStackSize)
	})
	pte, ok := space.Translate(mm.TrapContext.Floor())
	if !ok || !pte.Valid() {
		panic(fmt.Sprintf("task %d has no trap context", t.AppID))
	}
	t.TrapContextPPN = pte.PPN()
	t.policy = mmap.New(k.mem, t)
	return t
}

// Fork returns a copy of t with its own copy of every user page.
func (t *Task) Fork() *Task {
	t.checkAlive()
	space := mm.FromExistedUser(t.space)
	var heap *mm.MapArea
	for a := range space.Areas() {
		if a.Range() == t.heap.Range() {
			heap = a
			break
		}
	}
	if heap == nil {
		panic(fmt.Sprintf("task %d: forked address space has no heap", t.AppID))
	}
	c := t.k.newTask(space, heap)
	c.heapBottom = t.heapBottom
	c.brk = t.brk
	c.Entry = t.Entry
	c.UserSP = t.UserSP
	log.Debugf("Task %d forked into task %d", t.AppID, c.AppID)
	return c
}

func (t *Task) checkAlive() {
	if t.status == TaskExited {
		panic(fmt.Sprintf("task %d used after exit", t.AppID))
	}
}

// Exit tears down the task's address space and kernel stack, returning all
// of its frames.
func (t *Task) Exit() {
	t.checkAlive()
	t.status = TaskExited
	t.space.Release()
	t.k.space.With(func(ks *mm.MemorySet) {
		mm.RemoveKernelStack(ks, t.AppID, t.k.conf.KernelStackSize)
	})
	if t.k.current == t {
		t.k.current = nil
	}
	log.Debugf("Task %d exited", t.AppID)
}

// Status returns the life cycle state of t.
func (t *Task) Status() TaskStatus {
	return t.status
}

// SetStatus records a scheduler state change.
func (t *Task) SetStatus(s TaskStatus) {
	t.checkAlive()
	t.status = s
}

// Kernel returns the kernel t belongs to.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// Space returns the task's address space.
func (t *Task) Space() *mm.MemorySet {
	return t.space
}

// Mmap returns the mmap policy acting on t.
func (t *Task) Mmap() *mmap.Policy {
	return t.policy
}

// UserToken implements mmap.Space.UserToken.
func (t *Task) UserToken() riscv.Satp {
	t.checkAlive()
	return t.space.Token()
}

// InsertFramedArea implements mmap.Space.InsertFramedArea.
func (t *Task) InsertFramedArea(vpns riscv.VPNRange, perm mm.MapPermission) {
	t.checkAlive()
	t.space.Push(mm.NewMapAreaRange(vpns, mm.Framed, perm), nil)
}

// UnmapPage implements mmap.Space.UnmapPage. Heap pages belong to the
// program break and are refused.
func (t *Task) UnmapPage(vpn riscv.VirtPageNum) bool {
	t.checkAlive()
	if t.heap.Range().Contains(vpn) {
		return false
	}
	return t.space.UnmapPage(vpn)
}

// Brk returns the current program break.
func (t *Task) Brk() riscv.VirtAddr {
	return t.brk
}

// ChangeBrk moves the program break by size bytes and returns the old
// break. It fails if the break would drop below the heap bottom or the heap
// cannot grow.
func (t *Task) ChangeBrk(size int64) (riscv.VirtAddr, bool) {
	t.checkAlive()
	old := t.brk
	newBrk := riscv.VirtAddr(int64(old) + size)
	if newBrk < t.heapBottom || newBrk >= mm.TrapContext {
		return 0, false
	}
	var ok bool
	if size < 0 {
		ok = t.space.ShrinkTo(t.heap, newBrk.Ceil())
	} else {
		ok = t.space.AppendTo(t.heap, newBrk.Ceil())
	}
	if !ok {
		return 0, false
	}
	t.brk = newBrk
	return old, true
}

// CountSyscall records one call of syscall id.
func (t *Task) CountSyscall(id uint64) {
	if id < MaxSyscallNum {
		t.syscallTimes[id]++
	}
}

// SyscallTimes returns the per-syscall call counts.
func (t *Task) SyscallTimes() [MaxSyscallNum]uint32 {
	return t.syscallTimes
}

// RunTime returns the time since t was created.
func (t *Task) RunTime() time.Duration {
	return t.k.Clock().Sub(t.startTime)
}

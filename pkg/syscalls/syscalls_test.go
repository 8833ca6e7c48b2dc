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

package syscalls

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/sv39/pkg/config"
	"gvisor.dev/sv39/pkg/kernel"
	"gvisor.dev/sv39/pkg/mm"
	"gvisor.dev/sv39/pkg/riscv"
	"gvisor.dev/sv39/pkg/usermem"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func testTask(t *testing.T) (*kernel.Task, *fakeClock) {
	t.Helper()
	c := config.Default()
	c.MemoryEnd = 0x80800000
	c.KernelHeapSize = 0x10000
	c.MMIO = nil
	clock := &fakeClock{now: time.Unix(1000, 0)}
	k := kernel.New(c)
	k.Clock = clock.Now
	if err := k.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	task, err := k.NewTask(&mm.Image{
		Segments: []mm.Segment{{Start: 0x10000, Data: []byte{0x73, 0, 0, 0}, MemSize: 0x1000, Perm: mm.PermR | mm.PermX}},
		Entry:    0x10000,
	})
	if err != nil {
		t.Fatalf("NewTask failed: %v", err)
	}
	t.Cleanup(func() {
		task.Exit()
		k.Shutdown()
	})
	return task, clock
}

func copyIn(t *testing.T, task *kernel.Task, va riscv.VirtAddr, v any) {
	t.Helper()
	if _, err := usermem.CopyObjectIn(task.Kernel().Memory(), task.UserToken(), va, v, usermem.IOOpts{}); err != nil {
		t.Fatalf("CopyObjectIn(%v) failed: %v", va, err)
	}
}

func TestMmapMunmap(t *testing.T) {
	task, _ := testTask(t)
	for _, c := range []struct {
		name string
		call func() int64
		want int64
	}{
		{"mmap", func() int64 { return Mmap(task, 0x40000000, 0x2000, 3) }, 0},
		{"mmap overlapping", func() int64 { return Mmap(task, 0x40001000, 0x1000, 1) }, -1},
		{"mmap bad prot", func() int64 { return Mmap(task, 0x50000000, 0x1000, 8) }, -1},
		{"mmap unaligned", func() int64 { return Mmap(task, 0x50000800, 0x1000, 1) }, -1},
		{"munmap", func() int64 { return Munmap(task, 0x40000000, 0x2000) }, 0},
		{"munmap unmapped", func() int64 { return Munmap(task, 0x40000000, 0x1000) }, -1},
	} {
		if got := c.call(); got != c.want {
			t.Errorf("%s = %d, want %d", c.name, got, c.want)
		}
	}
	times := task.SyscallTimes()
	if times[SysMmap] != 4 || times[SysMunmap] != 2 {
		t.Errorf("counts mmap %d munmap %d, want 4 and 2", times[SysMmap], times[SysMunmap])
	}
}

func TestGetTimeAcrossPages(t *testing.T) {
	task, clock := testTask(t)
	if Mmap(task, 0x40000000, 0x2000, 3) != 0 {
		t.Fatalf("mmap failed")
	}
	clock.now = clock.now.Add(3*time.Second + 250*time.Microsecond)
	va := riscv.VirtAddr(0x40001000 - 8)
	if got := GetTime(task, va); got != 0 {
		t.Fatalf("GetTime = %d", got)
	}
	var tv TimeVal
	copyIn(t, task, va, &tv)
	if want := (TimeVal{Sec: 3, Usec: 250}); tv != want {
		t.Errorf("TimeVal = %+v, want %+v", tv, want)
	}
	if got := GetTime(task, 0x30000000); got != -1 {
		t.Errorf("GetTime on unmapped memory = %d, want -1", got)
	}
}

func TestTaskInfo(t *testing.T) {
	task, clock := testTask(t)
	if Mmap(task, 0x40000000, 0x1000, 3) != 0 {
		t.Fatalf("mmap failed")
	}
	task.SetStatus(kernel.TaskRunning)
	clock.now = clock.now.Add(42 * time.Millisecond)
	if got := TaskInfo(task, 0x40000000); got != 0 {
		t.Fatalf("TaskInfo = %d", got)
	}
	var info TaskInfoRecord
	copyIn(t, task, 0x40000000, &info)
	if info.Status != uint32(kernel.TaskRunning) || info.Time != 42 {
		t.Errorf("status %d time %d, want %d and 42", info.Status, info.Time, kernel.TaskRunning)
	}
	var want [kernel.MaxSyscallNum]uint32
	want[SysMmap] = 1
	want[SysTaskInfo] = 1
	if diff := cmp.Diff(want, info.SyscallTimes); diff != "" {
		t.Errorf("syscall counts mismatch (-want +got):\n%s", diff)
	}
}

func TestSbrk(t *testing.T) {
	task, _ := testTask(t)
	bottom := int64(task.Brk())
	if got := Sbrk(task, 0x1000); got != bottom {
		t.Errorf("Sbrk(0x1000) = %#x, want %#x", got, bottom)
	}
	if got := Sbrk(task, -0x1000); got != bottom+0x1000 {
		t.Errorf("Sbrk(-0x1000) = %#x, want %#x", got, bottom+0x1000)
	}
	if got := Sbrk(task, -1); got != -1 {
		t.Errorf("Sbrk below heap bottom = %#x, want -1", got)
	}
}

func TestWriteRead(t *testing.T) {
	task, _ := testTask(t)
	if Mmap(task, 0x40000000, 0x2000, 3) != 0 {
		t.Fatalf("mmap failed")
	}
	buf := riscv.VirtAddr(0x40001000 - 3)

	if got := Read(task, strings.NewReader("hello"), buf, 8); got != 5 {
		t.Errorf("Read = %d, want 5", got)
	}
	var out bytes.Buffer
	if got := Write(task, &out, buf, 5); got != 5 {
		t.Errorf("Write = %d, want 5", got)
	}
	if out.String() != "hello" {
		t.Errorf("written %q, want %q", out.String(), "hello")
	}

	if got := Write(task, &out, 0x30000000, 1); got != -1 {
		t.Errorf("Write from unmapped memory = %d, want -1", got)
	}
	// Code is not writable by the user.
	if got := Read(task, strings.NewReader("x"), 0x10000, 1); got != -1 {
		t.Errorf("Read into code = %d, want -1", got)
	}
	times := task.SyscallTimes()
	if times[SysRead] != 2 || times[SysWrite] != 2 {
		t.Errorf("counts read %d write %d, want 2 and 2", times[SysRead], times[SysWrite])
	}
}

func TestFstat(t *testing.T) {
	task, _ := testTask(t)
	if Mmap(task, 0x40000000, 0x1000, 3) != 0 {
		t.Fatalf("mmap failed")
	}
	want := Stat{Ino: 7, Mode: StatModeFile, Nlink: 2}
	if got := Fstat(task, 0x40000000, want); got != 0 {
		t.Fatalf("Fstat = %d", got)
	}
	var st Stat
	copyIn(t, task, 0x40000000, &st)
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("Stat mismatch (-want +got):\n%s", diff)
	}
	if got := Fstat(task, 0x40000ff0, want); got != -1 {
		t.Errorf("Fstat past the mapping = %d, want -1", got)
	}
}

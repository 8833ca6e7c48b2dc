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

// Package syscalls implements the memory related system calls on top of a
// kernel.Task.
//
// Each call counts itself in the task's syscall counters and returns -1 on
// any failure, as the user ABI expects.
package syscalls

import (
	"io"
	"time"

	"gvisor.dev/sv39/pkg/kernel"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/riscv"
	"gvisor.dev/sv39/pkg/usermem"
)

// System call numbers.
const (
	SysRead     = 63
	SysWrite    = 64
	SysFstat    = 80
	SysGetTime  = 169
	SysSbrk     = 214
	SysMunmap   = 215
	SysMmap     = 222
	SysTaskInfo = 410
)

// TimeVal is the user layout of a time value.
type TimeVal struct {
	Sec  uint64
	Usec uint64
}

// TaskInfoRecord is the user layout of the task_info result.
type TaskInfoRecord struct {
	Status       uint32
	SyscallTimes [kernel.MaxSyscallNum]uint32
	_            uint32

	// Time is the task's run time in milliseconds.
	Time uint64
}

// StatMode is the file type in Stat.Mode.
type StatMode uint32

// File types.
const (
	StatModeDir  StatMode = 0o040000
	StatModeFile StatMode = 0o100000
)

// Stat is the user layout of a file status.
type Stat struct {
	Dev   uint64
	Ino   uint64
	Mode  StatMode
	Nlink uint32
	Pad   [7]uint64
}

// result converts the outcome of a call into its return value.
func result(t *kernel.Task, name string, err error) int64 {
	if err != nil {
		log.Debugf("Task %d: %s failed: %v", t.AppID, name, err)
		return -1
	}
	return 0
}

func copyOut(t *kernel.Task, va riscv.VirtAddr, v any) error {
	_, err := usermem.CopyObjectOut(t.Kernel().Memory(), t.UserToken(), va, v, usermem.IOOpts{})
	return err
}

// Mmap implements syscall mmap(start, len, prot).
func Mmap(t *kernel.Task, start, length, prot uint64) int64 {
	t.CountSyscall(SysMmap)
	return result(t, "mmap", t.Mmap().Map(riscv.VirtAddr(start), length, prot))
}

// Munmap implements syscall munmap(start, len).
func Munmap(t *kernel.Task, start, length uint64) int64 {
	t.CountSyscall(SysMunmap)
	return result(t, "munmap", t.Mmap().Unmap(riscv.VirtAddr(start), length))
}

// GetTime implements syscall get_time(ts). The time is measured from boot.
// The value may straddle a page boundary.
func GetTime(t *kernel.Task, ts riscv.VirtAddr) int64 {
	t.CountSyscall(SysGetTime)
	up := t.Kernel().Uptime()
	tv := TimeVal{
		Sec:  uint64(up / time.Second),
		Usec: uint64(up % time.Second / time.Microsecond),
	}
	return result(t, "get_time", copyOut(t, ts, &tv))
}

// TaskInfo implements syscall task_info(ti).
func TaskInfo(t *kernel.Task, ti riscv.VirtAddr) int64 {
	t.CountSyscall(SysTaskInfo)
	info := TaskInfoRecord{
		Status:       uint32(t.Status()),
		SyscallTimes: t.SyscallTimes(),
		Time:         uint64(t.RunTime().Milliseconds()),
	}
	return result(t, "task_info", copyOut(t, ti, &info))
}

// Sbrk implements syscall sbrk(size). It returns the old program break.
func Sbrk(t *kernel.Task, size int32) int64 {
	t.CountSyscall(SysSbrk)
	old, ok := t.ChangeBrk(int64(size))
	if !ok {
		log.Debugf("Task %d: sbrk(%d) failed at break %v", t.AppID, size, t.Brk())
		return -1
	}
	return int64(old)
}

// Write implements syscall write for a file backed by w. It returns the
// number of bytes written.
func Write(t *kernel.Task, w io.Writer, buf riscv.VirtAddr, length uint64) int64 {
	t.CountSyscall(SysWrite)
	ub, err := usermem.NewUserBuffer(t.Kernel().Memory(), t.UserToken(), buf, length, usermem.Read)
	if err != nil {
		return result(t, "write", err)
	}
	n, err := io.Copy(w, ub)
	if err != nil {
		return result(t, "write", err)
	}
	return n
}

// Read implements syscall read for a file backed by r. Each window of the
// user buffer is filled in turn until r is exhausted. It returns the number
// of bytes read.
func Read(t *kernel.Task, r io.Reader, buf riscv.VirtAddr, length uint64) int64 {
	t.CountSyscall(SysRead)
	ub, err := usermem.NewUserBuffer(t.Kernel().Memory(), t.UserToken(), buf, length, usermem.Write)
	if err != nil {
		return result(t, "read", err)
	}
	var total int64
	for _, w := range ub.Buffers {
		n, err := io.ReadFull(r, w)
		total += int64(n)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return result(t, "read", err)
		}
	}
	return total
}

// Fstat implements syscall fstat for a file described by stat.
func Fstat(t *kernel.Task, st riscv.VirtAddr, stat Stat) int64 {
	t.CountSyscall(SysFstat)
	return result(t, "fstat", copyOut(t, st, &stat))
}

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

package cmd

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/subcommands"
	"gvisor.dev/sv39/cmd/sv39/util"
	"gvisor.dev/sv39/pkg/config"
	"gvisor.dev/sv39/pkg/kernel"
	"gvisor.dev/sv39/pkg/pagetables"
	"gvisor.dev/sv39/pkg/riscv"
	"gvisor.dev/sv39/pkg/syscalls"
)

// Mmap implements subcommands.Command for the "mmap" command.
type Mmap struct {
	keepGoing bool
}

// Name implements subcommands.Command.Name.
func (*Mmap) Name() string {
	return "mmap"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Mmap) Synopsis() string {
	return "run a script of memory operations against a fresh task"
}

// Usage implements subcommands.Command.Usage.
func (*Mmap) Usage() string {
	return `mmap [flags] [script] - run a script of memory operations against a fresh task

The script is read from the named file, or from stdin. Each line holds one
operation; numbers accept 0x prefixes:

  map <start> <len> <prot>    mmap(2) with prot bits 1=R 2=W 4=X
  unmap <start> <len>         munmap(2)
  sbrk <size>                 move the program break
  store <va> <text>           copy text into user memory
  dump <va> <len>             print user memory
  translate <va>              print the physical address of va

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Mmap) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&m.keepGoing, "keep-going", true, "continue after a failed operation.")
}

// Execute implements subcommands.Command.Execute.
func (m *Mmap) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() > 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	var in io.Reader = os.Stdin
	if f.NArg() == 1 {
		file, err := os.Open(f.Arg(0))
		if err != nil {
			util.Fatalf("opening script: %v", err)
		}
		defer file.Close()
		in = file
	}

	k, err := bootKernel(conf)
	if err != nil {
		util.Fatalf("%v", err)
	}
	defer k.Shutdown()
	t, err := k.NewTask(idleImage())
	if err != nil {
		util.Fatalf("creating task: %v", err)
	}
	defer t.Exit()
	k.SetCurrent(t)

	status := subcommands.ExitSuccess
	s := bufio.NewScanner(in)
	for line := 1; s.Scan(); line++ {
		fields := strings.Fields(s.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if err := runOp(t, fields); err != nil {
			fmt.Printf("%d: %s: %v\n", line, fields[0], err)
			status = subcommands.ExitFailure
			if !m.keepGoing {
				break
			}
		}
	}
	if err := s.Err(); err != nil {
		util.Fatalf("reading script: %v", err)
	}
	fmt.Printf("free frames: %d\n", k.FrameSource().Free())
	return status
}

// parseArgs parses want numeric arguments.
func parseArgs(fields []string, want int) ([]uint64, error) {
	if len(fields) != want {
		return nil, fmt.Errorf("want %d arguments, got %d", want, len(fields))
	}
	vals := make([]uint64, want)
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 0, 64)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func runOp(t *kernel.Task, fields []string) error {
	op, rest := fields[0], fields[1:]
	switch op {
	case "map":
		a, err := parseArgs(rest, 3)
		if err != nil {
			return err
		}
		return t.Mmap().Map(riscv.VirtAddr(a[0]), a[1], a[2])
	case "unmap":
		a, err := parseArgs(rest, 2)
		if err != nil {
			return err
		}
		return t.Mmap().Unmap(riscv.VirtAddr(a[0]), a[1])
	case "sbrk":
		if len(rest) != 1 {
			return fmt.Errorf("want 1 argument, got %d", len(rest))
		}
		size, err := strconv.ParseInt(rest[0], 0, 32)
		if err != nil {
			return err
		}
		old := syscalls.Sbrk(t, int32(size))
		if old < 0 {
			return fmt.Errorf("cannot move break %v by %d", t.Brk(), size)
		}
		fmt.Printf("brk %#x -> %v\n", old, t.Brk())
	case "store":
		if len(rest) < 2 {
			return fmt.Errorf("want an address and text")
		}
		a, err := parseArgs(rest[:1], 1)
		if err != nil {
			return err
		}
		text := strings.Join(rest[1:], " ")
		if n := syscalls.Read(t, strings.NewReader(text), riscv.VirtAddr(a[0]), uint64(len(text))); n < 0 {
			return fmt.Errorf("cannot store %d bytes at %#x", len(text), a[0])
		}
	case "dump":
		a, err := parseArgs(rest, 2)
		if err != nil {
			return err
		}
		if n := syscalls.Write(t, os.Stdout, riscv.VirtAddr(a[0]), a[1]); n < 0 {
			return fmt.Errorf("cannot read %d bytes at %#x", a[1], a[0])
		}
		fmt.Println()
	case "translate":
		a, err := parseArgs(rest, 1)
		if err != nil {
			return err
		}
		va := riscv.VirtAddr(a[0])
		view := pagetables.FromToken(t.Kernel().Memory(), t.UserToken())
		pte, ok := view.Translate(va.Floor())
		if !ok || !pte.Valid() {
			return fmt.Errorf("%v is not mapped", va)
		}
		pa, _ := view.TranslateVA(va)
		fmt.Printf("%v -> %v %v\n", va, pa, pte.Flags())
	default:
		return fmt.Errorf("unknown operation")
	}
	return nil
}

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
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"runtime"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/sv39/cmd/sv39/util"
	"gvisor.dev/sv39/pkg/config"
	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/riscv"
	"gvisor.dev/sv39/pkg/usermem"
)

// stressBase is the start of the window the stress test maps into.
const stressBase = riscv.VirtAddr(0x40000000)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	machines int
	ops      int
	pages    int
	seed     uint64
	parallel int
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "randomly map and unmap memory on many machines and check for leaks"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] - randomly map and unmap memory on many machines and check for leaks
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.machines, "machines", 8, "number of machines to boot.")
	f.IntVar(&s.ops, "ops", 1000, "operations per machine.")
	f.IntVar(&s.pages, "pages", 64, "size of the mapped window in pages.")
	f.Uint64Var(&s.seed, "seed", 1, "random seed.")
	f.IntVar(&s.parallel, "parallel", runtime.GOMAXPROCS(0), "machines running at once, or -1 for no limit.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	// A negative -parallel lifts the limit; zero would run nothing.
	if f.NArg() != 0 || s.machines <= 0 || s.pages <= 0 || s.parallel == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for i := 0; i < s.machines; i++ {
		// Each machine gets its own copy of the configuration.
		c := conf.Clone()
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.run(c, i); err != nil {
				return fmt.Errorf("machine %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		util.Fatalf("%v", err)
	}
	fmt.Printf("%d machines, %d operations each: ok\n", s.machines, s.ops)
	return subcommands.ExitSuccess
}

// run performs random operations on a fresh machine, comparing each result
// against a model of which pages should be mapped.
func (s *Stress) run(conf *config.Config, machine int) error {
	k, err := bootKernel(conf)
	if err != nil {
		return err
	}
	defer k.Shutdown()
	rng := rand.New(rand.NewPCG(s.seed, uint64(machine)))

	free := k.FrameSource().Free()
	t, err := k.NewTask(idleImage())
	if err != nil {
		return err
	}
	mem := k.Memory()
	mapped := make([]bool, s.pages)

	for op := 0; op < s.ops; op++ {
		first := rng.IntN(s.pages)
		n := 1 + rng.IntN(min(4, s.pages-first))
		start := stressBase + riscv.VirtAddr(first)*riscv.PageSize
		length := uint64(n) * riscv.PageSize

		if rng.IntN(2) == 0 {
			want := true
			for _, m := range mapped[first : first+n] {
				want = want && !m
			}
			err := t.Mmap().Map(start, length, 3)
			if got := err == nil; got != want {
				return fmt.Errorf("op %d: map %v+%#x: got error %v, want success %t", op, start, length, err, want)
			}
			if err == nil {
				for i := first; i < first+n; i++ {
					mapped[i] = true
				}
				// Tag the first page so later reads can spot a mixup.
				tag := []byte{byte(machine), byte(first)}
				if _, err := usermem.CopyOut(mem, t.UserToken(), start, tag, usermem.IOOpts{}); err != nil {
					return fmt.Errorf("op %d: tagging %v: %w", op, start, err)
				}
			}
			continue
		}

		// Unmap stops at the first page that is not mapped.
		want := first + n
		for i := first; i < first+n; i++ {
			if !mapped[i] {
				want = i
				break
			}
		}
		err := t.Mmap().Unmap(start, length)
		if got := err == nil; got != (want == first+n) {
			return fmt.Errorf("op %d: unmap %v+%#x: got error %v, want success %t", op, start, length, err, want == first+n)
		}
		for i := first; i < want; i++ {
			mapped[i] = false
		}
	}

	for i, m := range mapped {
		va := stressBase + riscv.VirtAddr(i)*riscv.PageSize
		_, err := usermem.CopyIn(mem, t.UserToken(), va, make([]byte, 1), usermem.IOOpts{})
		if got := err == nil; got != m {
			return fmt.Errorf("page %v: accessible %t, want %t", va, got, m)
		}
	}

	t.Exit()
	if got := k.FrameSource().Free(); got != free {
		return fmt.Errorf("leaked %d frames", int64(free)-int64(got))
	}
	log.Infof("Machine %d: %d operations, no frames leaked", machine, s.ops)
	return nil
}

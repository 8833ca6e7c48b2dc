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
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/sv39/cmd/sv39/util"
	"gvisor.dev/sv39/pkg/config"
	"gvisor.dev/sv39/pkg/mm"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	dumpConfig bool
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot a machine and print its kernel address space"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - boot a machine and print its kernel address space
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&b.dumpConfig, "dump-config", false, "print the effective configuration as TOML.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	if b.dumpConfig {
		if err := conf.Write(os.Stdout); err != nil {
			util.Fatalf("writing config: %v", err)
		}
		fmt.Println()
	}

	k, err := bootKernel(conf)
	if err != nil {
		util.Fatalf("%v", err)
	}
	defer k.Shutdown()

	fmt.Printf("kernel token: %v\n", k.KernelToken())
	l := k.KernelLayout()
	for _, s := range l.Sections {
		fmt.Printf("%-8s [%v, %v) %v\n", s.Name, s.Start, s.End, s.Perm)
	}
	fmt.Printf("%-8s [%v, %v)\n", "memory", l.KernelEnd(), l.MemoryEnd)
	for _, r := range l.MMIO {
		fmt.Printf("%-8s [%v, %#x)\n", "mmio", r.Start, uint64(r.Start)+r.Length)
	}
	fmt.Printf("%-8s %v\n", "tramp", mm.Trampoline)
	fmt.Printf("free frames: %d of %d\n", k.FrameSource().Free(), totalFrames(k))
	return subcommands.ExitSuccess
}

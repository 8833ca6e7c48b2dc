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
	"io"
	"strings"
	"testing"

	"github.com/google/subcommands"
	"gvisor.dev/sv39/pkg/config"
)

func testConfig() *config.Config {
	c := config.Default()
	c.MemoryEnd = 0x80800000
	c.KernelHeapSize = 0x10000
	return c
}

func TestParseArgs(t *testing.T) {
	for _, tc := range []struct {
		fields  []string
		want    int
		wantErr bool
	}{
		{fields: []string{"0x1000", "4096"}, want: 2},
		{fields: []string{"0x1000"}, want: 2, wantErr: true},
		{fields: []string{"nope"}, want: 1, wantErr: true},
	} {
		_, err := parseArgs(tc.fields, tc.want)
		if gotErr := err != nil; gotErr != tc.wantErr {
			t.Errorf("parseArgs(%v, %d) error = %v, want error %t", tc.fields, tc.want, err, tc.wantErr)
		}
	}
}

func TestRunOp(t *testing.T) {
	k, err := bootKernel(testConfig())
	if err != nil {
		t.Fatalf("bootKernel failed: %v", err)
	}
	defer k.Shutdown()
	task, err := k.NewTask(idleImage())
	if err != nil {
		t.Fatalf("NewTask failed: %v", err)
	}
	defer task.Exit()

	for _, tc := range []struct {
		line    string
		wantErr bool
	}{
		{"map 0x40000000 0x2000 3", false},
		{"map 0x40001000 0x1000 1", true},
		{"store 0x40000ffe hello world", false},
		{"dump 0x40000ffe 11", false},
		{"translate 0x40001000", false},
		{"unmap 0x40000000 0x2000", false},
		{"translate 0x40001000", true},
		{"store 0x40000000 x", true},
		{"sbrk 0x1000", false},
		{"sbrk -0x2000", true},
		{"frobnicate", true},
	} {
		err := runOp(task, strings.Fields(tc.line))
		if gotErr := err != nil; gotErr != tc.wantErr {
			t.Errorf("%q: error = %v, want error %t", tc.line, err, tc.wantErr)
		}
	}
}

func TestStressRun(t *testing.T) {
	s := &Stress{ops: 200, pages: 16, seed: 7}
	for machine := 0; machine < 2; machine++ {
		if err := s.run(testConfig(), machine); err != nil {
			t.Errorf("machine %d: %v", machine, err)
		}
	}
}

func TestStressFlagsRejected(t *testing.T) {
	for _, args := range [][]string{
		{"-parallel=0"},
		{"-machines=0"},
		{"-pages=0"},
		{"extra"},
	} {
		s := &Stress{}
		f := flag.NewFlagSet(s.Name(), flag.ContinueOnError)
		f.SetOutput(io.Discard)
		s.SetFlags(f)
		if err := f.Parse(args); err != nil {
			t.Fatalf("Parse(%q) failed: %v", args, err)
		}
		if got := s.Execute(context.Background(), f, testConfig()); got != subcommands.ExitUsageError {
			t.Errorf("Execute with %q = %v, want %v", args, got, subcommands.ExitUsageError)
		}
	}
}

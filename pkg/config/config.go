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

// Package config provides the machine configuration.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v3"
	"gvisor.dev/sv39/pkg/riscv"
)

// Region is a physical address range, such as a device's MMIO window.
type Region struct {
	Start  uint64 `toml:"start" yaml:"start"`
	Length uint64 `toml:"length" yaml:"length"`
}

// Config holds the layout of the simulated machine and the logging setup.
//
// Fields with a "flag" tag can be set from the command line; all of them
// can be set from a TOML or YAML file.
type Config struct {
	// MemoryBase is the first physical address of RAM.
	MemoryBase uint64 `flag:"memory-base" toml:"memory_base" yaml:"memory_base"`

	// MemoryEnd is one past the last physical address of RAM.
	MemoryEnd uint64 `flag:"memory-end" toml:"memory_end" yaml:"memory_end"`

	// KernelBase is where the kernel image, starting with .text, is loaded.
	KernelBase uint64 `flag:"kernel-base" toml:"kernel_base" yaml:"kernel_base"`

	// TextSize, RodataSize and DataSize are the sizes of the kernel image
	// sections. The last page of .text holds the trampoline.
	TextSize   uint64 `flag:"text-size" toml:"text_size" yaml:"text_size"`
	RodataSize uint64 `flag:"rodata-size" toml:"rodata_size" yaml:"rodata_size"`
	DataSize   uint64 `flag:"data-size" toml:"data_size" yaml:"data_size"`

	// KernelHeapSize is the size of the kernel heap, which lives in .bss.
	KernelHeapSize uint64 `flag:"kernel-heap-size" toml:"kernel_heap_size" yaml:"kernel_heap_size"`

	// KernelStackSize is the size of each per-task kernel stack.
	KernelStackSize uint64 `flag:"kernel-stack-size" toml:"kernel_stack_size" yaml:"kernel_stack_size"`

	// UserStackSize is the size of each task's user stack.
	UserStackSize uint64 `flag:"user-stack-size" toml:"user_stack_size" yaml:"user_stack_size"`

	// MMIO regions are identity mapped into the kernel address space.
	MMIO []Region `toml:"mmio" yaml:"mmio"`

	// Debug enables debug logging.
	Debug bool `flag:"debug" toml:"debug" yaml:"debug"`

	// LogFormat is "text" or "json".
	LogFormat string `flag:"log-format" toml:"log_format" yaml:"log_format"`

	// LogFile is where logs go. Empty means stderr.
	LogFile string `flag:"log" toml:"log" yaml:"log"`
}

// bssExtra is the part of .bss beyond the kernel heap.
const bssExtra = 0x10000

// Default returns the configuration of the reference machine: 128 MiB of RAM
// at 0x80000000 with the kernel at 0x80200000.
func Default() *Config {
	return &Config{
		MemoryBase:      0x80000000,
		MemoryEnd:       0x88000000,
		KernelBase:      0x80200000,
		TextSize:        0x20000,
		RodataSize:      0x8000,
		DataSize:        0x8000,
		KernelHeapSize:  0x300000,
		KernelStackSize: 2 * riscv.PageSize,
		UserStackSize:   2 * riscv.PageSize,
		MMIO: []Region{
			{Start: 0x100000, Length: 0x2000},     // Test device.
			{Start: 0x2000000, Length: 0x10000},  // CLINT.
			{Start: 0xc000000, Length: 0x210000}, // PLIC.
			{Start: 0x10000000, Length: 0x9000},  // UART and VirtIO.
		},
		LogFormat: "text",
	}
}

// BssSize returns the size of the kernel .bss section.
func (c *Config) BssSize() uint64 {
	return bssExtra + c.KernelHeapSize
}

// KernelEnd returns the end of the kernel image.
func (c *Config) KernelEnd() uint64 {
	return c.KernelBase + c.TextSize + c.RodataSize + c.DataSize + c.BssSize()
}

// Load reads a configuration file. Files ending in .yaml or .yml are YAML;
// anything else is TOML. Keys missing from the file keep their default
// values; unknown keys are an error.
func Load(path string) (*Config, error) {
	conf := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %q: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(conf); err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading config %q: %w", path, err)
		}
	default:
		md, err := toml.DecodeFile(path, conf)
		if err != nil {
			return nil, fmt.Errorf("reading config %q: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config %q: unknown keys %v", path, undecoded)
		}
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return conf, nil
}

// Write writes c as TOML.
func (c *Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	return deepcopy.Copy(c).(*Config)
}

func checkPageMultiple(name string, v uint64, allowZero bool) error {
	if v%riscv.PageSize != 0 {
		return fmt.Errorf("%s %#x is not page aligned", name, v)
	}
	if v == 0 && !allowZero {
		return fmt.Errorf("%s must not be zero", name)
	}
	return nil
}

// Validate checks that c describes a machine that can boot.
func (c *Config) Validate() error {
	for _, f := range []struct {
		name      string
		v         uint64
		allowZero bool
	}{
		{"memory-base", c.MemoryBase, true},
		{"memory-end", c.MemoryEnd, false},
		{"kernel-base", c.KernelBase, true},
		{"text-size", c.TextSize, false},
		{"rodata-size", c.RodataSize, true},
		{"data-size", c.DataSize, true},
		{"kernel-heap-size", c.KernelHeapSize, true},
		{"kernel-stack-size", c.KernelStackSize, false},
		{"user-stack-size", c.UserStackSize, false},
	} {
		if err := checkPageMultiple(f.name, f.v, f.allowZero); err != nil {
			return err
		}
	}
	if c.MemoryEnd <= c.MemoryBase {
		return fmt.Errorf("memory range [%#x, %#x) is empty", c.MemoryBase, c.MemoryEnd)
	}
	if c.MemoryEnd > 1<<riscv.PAWidth {
		return fmt.Errorf("memory end %#x exceeds the physical address space", c.MemoryEnd)
	}
	if c.KernelBase < c.MemoryBase || c.KernelEnd() >= c.MemoryEnd {
		return fmt.Errorf("kernel image [%#x, %#x) does not leave free memory in [%#x, %#x)", c.KernelBase, c.KernelEnd(), c.MemoryBase, c.MemoryEnd)
	}
	for _, r := range c.MMIO {
		if r.Length == 0 {
			return fmt.Errorf("MMIO region at %#x is empty", r.Start)
		}
		if r.Start < c.MemoryEnd && c.MemoryBase < r.Start+r.Length {
			return fmt.Errorf("MMIO region [%#x, %#x) overlaps memory", r.Start, r.Start+r.Length)
		}
		if r.Start+r.Length > 1<<riscv.PAWidth || r.Start+r.Length < r.Start {
			return fmt.Errorf("MMIO region at %#x exceeds the physical address space", r.Start)
		}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	return nil
}

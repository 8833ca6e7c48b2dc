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

package config

import (
	"flag"
	"fmt"
	"reflect"
)

// RegisterFlags registers flags used to populate Config. Defaults come from
// Default.
func RegisterFlags(flagSet *flag.FlagSet) {
	d := Default()
	flagSet.String("config", "", "TOML or YAML file with the machine configuration. Flags set on the command line take precedence.")

	// Machine layout.
	flagSet.Uint64("memory-base", d.MemoryBase, "first physical address of RAM.")
	flagSet.Uint64("memory-end", d.MemoryEnd, "end of RAM.")
	flagSet.Uint64("kernel-base", d.KernelBase, "physical address of the kernel image.")
	flagSet.Uint64("text-size", d.TextSize, "size of the kernel .text section.")
	flagSet.Uint64("rodata-size", d.RodataSize, "size of the kernel .rodata section.")
	flagSet.Uint64("data-size", d.DataSize, "size of the kernel .data section.")
	flagSet.Uint64("kernel-heap-size", d.KernelHeapSize, "size of the kernel heap in .bss.")
	flagSet.Uint64("kernel-stack-size", d.KernelStackSize, "size of each kernel stack.")
	flagSet.Uint64("user-stack-size", d.UserStackSize, "size of each user stack.")

	// Logging.
	flagSet.Bool("debug", d.Debug, "enable debug logging.")
	flagSet.String("log-format", d.LogFormat, "log format: text (default) or json.")
	flagSet.String("log", d.LogFile, "file path where logs are written, default is stderr.")
}

// NewFromFlags creates a new Config. It starts from the file named by
// --config, or from Default, and applies every flag set on the command
// line.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := Default()
	if path := flagSet.Lookup("config").Value.String(); path != "" {
		var err error
		if conf, err = Load(path); err != nil {
			return nil, err
		}
	}

	var setErr error
	flagSet.Visit(func(fl *flag.Flag) {
		if setErr == nil && fl.Name != "config" {
			setErr = conf.set(fl)
		}
	})
	if setErr != nil {
		return nil, setErr
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// set copies the value of fl into the field tagged with its name.
func (c *Config) set(fl *flag.Flag) error {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok || name != fl.Name {
			continue
		}
		g, ok := fl.Value.(flag.Getter)
		if !ok {
			return fmt.Errorf("flag %q has no typed value", fl.Name)
		}
		obj.Field(i).Set(reflect.ValueOf(g.Get()))
		return nil
	}
	return fmt.Errorf("flag %q does not match a config field", fl.Name)
}

// ToFlags returns the command line flags that reproduce the flag-settable
// fields of c that differ from their defaults.
func (c *Config) ToFlags() []string {
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	var rv []string
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		val := fmt.Sprint(obj.Field(i).Interface())
		if val == fl.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", name, val))
	}
	return rv
}

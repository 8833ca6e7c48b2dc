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

// Package cmd holds implementations of the sv39 commands.
package cmd

import (
	"fmt"

	"gvisor.dev/sv39/pkg/config"
	"gvisor.dev/sv39/pkg/kernel"
	"gvisor.dev/sv39/pkg/mm"
	"gvisor.dev/sv39/pkg/pgalloc"
)

// bootKernel returns an initialized kernel for conf.
func bootKernel(conf *config.Config) (*kernel.Kernel, error) {
	k := kernel.New(conf)
	if err := k.Init(); err != nil {
		return nil, fmt.Errorf("booting kernel: %w", err)
	}
	return k, nil
}

// totalFrames returns the size of the frame pool of k.
func totalFrames(k *kernel.Kernel) uint64 {
	var n uint64
	k.Frames().With(func(a *pgalloc.Allocator) { n = a.Total() })
	return n
}

// idleImage is a user image with one code page and one data page.
func idleImage() *mm.Image {
	return &mm.Image{
		Segments: []mm.Segment{
			// wfi; j .-4
			{Start: 0x10000, Data: []byte{0x73, 0x00, 0x50, 0x10, 0xf5, 0xbf}, MemSize: 0x1000, Perm: mm.PermR | mm.PermX},
			{Start: 0x11000, MemSize: 0x1000, Perm: mm.PermR | mm.PermW},
		},
		Entry: 0x10000,
	}
}

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

package usermem

import (
	"unsafe"

	"gvisor.dev/sv39/pkg/errors/linuxerr"
	"gvisor.dev/sv39/pkg/physmem"
	"gvisor.dev/sv39/pkg/riscv"
)

// TranslatedRefMut returns a pointer to the user uint64 at va. va must be
// 8-byte aligned, so the value never straddles a page.
func TranslatedRefMut(mem *physmem.Memory, token riscv.Satp, va riscv.VirtAddr) (*uint64, error) {
	if va%8 != 0 {
		return nil, linuxerr.EINVAL
	}
	windows, err := translate(mem, token, va, 8, ReadWrite, IOOpts{})
	if err != nil {
		return nil, err
	}
	return (*uint64)(unsafe.Pointer(&windows[0][0])), nil
}

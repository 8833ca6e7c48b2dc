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

package physmem

import (
	"unsafe"

	"gvisor.dev/sv39/pkg/riscv"
)

// Table returns the frame ppn viewed as a page table. The host mapping is
// page aligned, so the view is naturally aligned for uint64 access.
func (m *Memory) Table(ppn riscv.PhysPageNum) *[riscv.EntriesPerTable]uint64 {
	b := m.Bytes(ppn)
	return (*[riscv.EntriesPerTable]uint64)(unsafe.Pointer(&b[0]))
}

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

package riscv

import (
	"fmt"
	"iter"
)

// VPNRange is a half-open range of virtual pages, [Start, End).
type VPNRange struct {
	Start VirtPageNum
	End   VirtPageNum
}

// NewVPNRange returns the range [start, end).
//
// Precondition: start <= end.
func NewVPNRange(start, end VirtPageNum) VPNRange {
	if start > end {
		panic(fmt.Sprintf("invalid page range [%v, %v)", start, end))
	}
	return VPNRange{Start: start, End: end}
}

// VPNRangeOf returns the pages overlapped by the byte range [start, end):
// [floor(start), ceil(end)).
func VPNRangeOf(start, end VirtAddr) VPNRange {
	return NewVPNRange(start.Floor(), end.Ceil())
}

// InclusiveVPNRange returns the pages touched by the length bytes starting
// at start, i.e. [floor(start), floor(start+length-1)]. ok is false if
// length is zero or the range leaves the virtual address space.
func InclusiveVPNRange(start VirtAddr, length uint64) (r VPNRange, ok bool) {
	if length == 0 {
		return VPNRange{}, false
	}
	last, ok := start.AddLength(length - 1)
	if !ok || last >= MaxVA {
		return VPNRange{}, false
	}
	return NewVPNRange(start.Floor(), last.Floor().Next()), true
}

// Len returns the number of pages in r.
func (r VPNRange) Len() uint64 {
	return uint64(r.End - r.Start)
}

// Empty returns true if r holds no pages.
func (r VPNRange) Empty() bool {
	return r.Start == r.End
}

// Contains returns true if v is in r.
func (r VPNRange) Contains(v VirtPageNum) bool {
	return r.Start <= v && v < r.End
}

// Overlaps returns true if r and o have at least one page in common.
func (r VPNRange) Overlaps(o VPNRange) bool {
	return !r.Empty() && !o.Empty() && r.Start < o.End && o.Start < r.End
}

// All returns the pages of r in ascending order. Each call to the returned
// sequence starts again from r.Start.
func (r VPNRange) All() iter.Seq[VirtPageNum] {
	return func(yield func(VirtPageNum) bool) {
		for v := r.Start; v < r.End; v = v.Next() {
			if !yield(v) {
				return
			}
		}
	}
}

// String implements fmt.Stringer.String.
func (r VPNRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}

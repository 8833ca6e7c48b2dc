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

package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustNew(t *testing.T, size uint32) *Bitmap {
	t.Helper()
	b, err := New(size)
	if err != nil {
		t.Fatalf("New(%d) failed: %v", size, err)
	}
	return b
}

func TestAddRemove(t *testing.T) {
	b := mustNew(t, 130)
	if !b.IsEmpty() {
		t.Fatalf("new bitmap is not empty")
	}
	for _, i := range []uint32{0, 63, 64, 129} {
		if !b.Add(i) {
			t.Errorf("Add(%d) = false, want true", i)
		}
	}
	if b.Add(64) {
		t.Errorf("Add(64) twice = true, want false")
	}
	if got := b.Count(); got != 4 {
		t.Errorf("Count() = %d, want 4", got)
	}
	if !b.Remove(63) {
		t.Errorf("Remove(63) = false, want true")
	}
	if b.Remove(63) {
		t.Errorf("Remove(63) twice = true, want false")
	}
	if diff := cmp.Diff([]uint32{0, 64, 129}, b.ToSlice()); diff != "" {
		t.Errorf("ToSlice() mismatch (-want +got):\n%s", diff)
	}
}

func TestFillRange(t *testing.T) {
	for _, test := range []struct {
		name       string
		size       uint32
		begin, end uint32
	}{
		{"within block", 64, 3, 10},
		{"full block", 128, 64, 128},
		{"across blocks", 200, 60, 190},
		{"empty", 10, 5, 5},
	} {
		t.Run(test.name, func(t *testing.T) {
			b := mustNew(t, test.size)
			b.Add(test.begin)
			b.FillRange(test.begin, test.end)
			var want []uint32
			for i := test.begin; i < test.end; i++ {
				want = append(want, i)
			}
			if test.begin == test.end {
				want = []uint32{test.begin}
			}
			if diff := cmp.Diff(want, b.ToSlice()); diff != "" {
				t.Errorf("ToSlice() mismatch (-want +got):\n%s", diff)
			}
			if got := b.Count(); got != uint32(len(want)) {
				t.Errorf("Count() = %d, want %d", got, len(want))
			}
		})
	}
}

func TestFirstOne(t *testing.T) {
	b := mustNew(t, 200)
	if _, ok := b.FirstOne(0); ok {
		t.Errorf("FirstOne on empty bitmap succeeded")
	}
	b.Add(5)
	b.Add(150)
	for _, test := range []struct {
		start uint32
		want  uint32
		ok    bool
	}{
		{0, 5, true},
		{5, 5, true},
		{6, 150, true},
		{151, MaxBitEntryLimit, false},
		{500, MaxBitEntryLimit, false},
	} {
		got, ok := b.FirstOne(test.start)
		if got != test.want || ok != test.ok {
			t.Errorf("FirstOne(%d) = (%d, %v), want (%d, %v)", test.start, got, ok, test.want, test.ok)
		}
	}
}

func TestOutOfRange(t *testing.T) {
	b := mustNew(t, 10)
	defer func() {
		if recover() == nil {
			t.Errorf("Add(10) did not panic")
		}
	}()
	b.Add(10)
}

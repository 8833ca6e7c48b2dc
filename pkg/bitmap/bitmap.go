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

// Package bitmap provides a fixed-size bitmap used to track page frames.
package bitmap

import (
	"fmt"
	"math"
	"math/bits"
)

// MaxBitEntryLimit defines the upper limit on how many bit entries are
// supported by this Bitmap implementation.
const MaxBitEntryLimit uint32 = math.MaxInt32

// Bitmap is a fixed-size set of small integers.
type Bitmap struct {
	// size is the number of valid bits.
	size uint32

	// numOnes is the number of ones in the bitmap.
	numOnes uint32

	// bitBlock holds the bits. Each block holds 64 entries.
	bitBlock []uint64
}

// New creates a new empty Bitmap able to hold bits [0, size).
func New(size uint32) (*Bitmap, error) {
	if size > MaxBitEntryLimit {
		return nil, fmt.Errorf("requested bitmap size %d too large", size)
	}
	return &Bitmap{
		size:     size,
		bitBlock: make([]uint64, (size+63)/64),
	}, nil
}

// Size returns the number of bits the bitmap can hold.
func (b *Bitmap) Size() uint32 {
	return b.size
}

// Count returns the number of ones in the Bitmap.
func (b *Bitmap) Count() uint32 {
	return b.numOnes
}

// IsEmpty verifies whether the Bitmap is empty.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

func (b *Bitmap) check(i uint32) {
	if i >= b.size {
		panic(fmt.Sprintf("bit %d out of range [0, %d)", i, b.size))
	}
}

// Contains reports whether i is set.
func (b *Bitmap) Contains(i uint32) bool {
	b.check(i)
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

// Add sets i. It returns false if i was already set.
func (b *Bitmap) Add(i uint32) bool {
	b.check(i)
	blockNum, mask := i/64, uint64(1)<<(i%64)
	oldBlock := b.bitBlock[blockNum]
	if oldBlock&mask != 0 {
		return false
	}
	b.bitBlock[blockNum] = oldBlock | mask
	b.numOnes++
	return true
}

// Remove clears i. It returns false if i was not set.
func (b *Bitmap) Remove(i uint32) bool {
	b.check(i)
	blockNum, mask := i/64, uint64(1)<<(i%64)
	oldBlock := b.bitBlock[blockNum]
	if oldBlock&mask == 0 {
		return false
	}
	b.bitBlock[blockNum] = oldBlock &^ mask
	b.numOnes--
	return true
}

// FillRange sets every bit in [begin, end).
func (b *Bitmap) FillRange(begin, end uint32) {
	if begin >= end {
		return
	}
	b.check(end - 1)
	for i := begin; i < end; {
		blockNum, nbit := i/64, i%64
		n := min(end-i, 64-nbit)
		mask := ^uint64(0) >> (64 - n) << nbit
		b.numOnes += uint32(bits.OnesCount64(mask &^ b.bitBlock[blockNum]))
		b.bitBlock[blockNum] |= mask
		i += n
	}
}

// FirstOne returns the first set bit in [start, size).
func (b *Bitmap) FirstOne(start uint32) (uint32, bool) {
	if start >= b.size {
		return MaxBitEntryLimit, false
	}
	i, nbit := int(start/64), start%64
	w := b.bitBlock[i] & (math.MaxUint64 << nbit)
	for {
		if w != 0 {
			r := uint32(bits.TrailingZeros64(w) + i*64)
			if r >= b.size {
				break
			}
			return r, true
		}
		i++
		if i == len(b.bitBlock) {
			break
		}
		w = b.bitBlock[i]
	}
	return MaxBitEntryLimit, false
}

// ToSlice returns the set bits in ascending order. For example, a bitmap of
// [0, 1, 0, 1] returns [1, 3].
func (b *Bitmap) ToSlice() []uint32 {
	bitmapSlice := make([]uint32, 0, b.numOnes)
	base := uint32(0)
	for _, bitBlock := range b.bitBlock {
		for bitBlock != 0 {
			// Extract the lowest set bit.
			j := bitBlock & -bitBlock
			bitmapSlice = append(bitmapSlice, base+uint32(bits.OnesCount64(j-1)))
			bitBlock ^= j
		}
		base += 64
	}
	return bitmapSlice
}

// Copyright 2025 The gVisor Authors.
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

// Package bitmap provides a fixed-size set of small integers.
package bitmap

import "math/bits"

// Bitmap is a set of integers in [0, Size()).
type Bitmap struct {
	// numOnes is the number of members.
	numOnes uint32

	// words holds 64 members each, lowest bit first.
	words []uint64
}

// New returns an empty Bitmap able to hold [0, size).
func New(size uint32) Bitmap {
	return Bitmap{words: make([]uint64, (size+63)/64)}
}

// Size returns the capacity of the bitmap, rounded up to a multiple of 64.
func (b *Bitmap) Size() int {
	return len(b.words) * 64
}

// Contains returns true if i is a member.
func (b *Bitmap) Contains(i uint32) bool {
	w := int(i / 64)
	return w < len(b.words) && b.words[w]&(1<<(i%64)) != 0
}

// Add adds i and returns false if it was already a member.
//
// Precondition: i < Size().
func (b *Bitmap) Add(i uint32) bool {
	w, mask := i/64, uint64(1)<<(i%64)
	if b.words[w]&mask != 0 {
		return false
	}
	b.words[w] |= mask
	b.numOnes++
	return true
}

// Remove removes i and returns false if it was not a member.
func (b *Bitmap) Remove(i uint32) bool {
	if !b.Contains(i) {
		return false
	}
	b.words[i/64] &^= 1 << (i % 64)
	b.numOnes--
	return true
}

// Count returns the number of members.
func (b *Bitmap) Count() uint32 {
	return b.numOnes
}

// ToSlice returns the members in increasing order.
func (b *Bitmap) ToSlice() []uint32 {
	s := make([]uint32, 0, b.numOnes)
	for i, w := range b.words {
		for w != 0 {
			s = append(s, uint32(i*64+bits.TrailingZeros64(w)))
			w &= w - 1
		}
	}
	return s
}

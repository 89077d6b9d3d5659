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

// Package hostarch contains address and memory-type definitions for the
// AArch64 translation regime with a 4 KiB granule.
package hostarch

import "fmt"

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the translation granule.
	PageSize = 1 << PageShift

	// HugePageShift is the binary log of a level 1 block.
	HugePageShift = 30

	// HugePageSize is the size of a level 1 block (1 GiB).
	HugePageSize = 1 << HugePageShift

	// VirtualAddressBits is the width of each half of the virtual address
	// space.
	VirtualAddressBits = 48

	// PhysicalAddressBits is the output address width of descriptors.
	PhysicalAddressBits = 48

	// PhysicalAddressMask covers every representable physical address.
	PhysicalAddressMask = 1<<PhysicalAddressBits - 1
)

// Addr represents a virtual address.
type Addr uint64

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v & ^Addr(PageSize-1)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = Addr(v + PageSize - 1).RoundDown()
	ok = addr >= v
	return
}

// PageOffset returns the offset of v into the current page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & Addr(PageSize-1))
}

// IsPageAligned returns true if v.PageOffset() == 0.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// HugeRoundDown returns the address rounded down to the nearest huge page
// boundary.
func (v Addr) HugeRoundDown() Addr {
	return v & ^Addr(HugePageSize-1)
}

// AddLength adds the given length to start and returns the result. ok is
// true iff adding the length did not overflow the range of Addr.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}

// IsUpperHalf returns true if v is in the TTBR1 region, i.e. bits 48-63 are
// all ones.
func (v Addr) IsUpperHalf() bool {
	return v>>VirtualAddressBits == 0xffff
}

// IsCanonical returns true if bits 48-63 of v are either all zeroes or all
// ones.
func (v Addr) IsCanonical() bool {
	top := v >> VirtualAddressBits
	return top == 0 || top == 0xffff
}

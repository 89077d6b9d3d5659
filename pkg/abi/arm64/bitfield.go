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

package arm64

// field is a contiguous run of bits within a 64-bit register or descriptor.
//
// Bits are numbered from the least significant end, which is the order in
// which the architecture reference manual lists them.
type field struct {
	shift uint
	width uint
}

// bits returns an unshifted mask covering width bits.
func (f field) bits() uint64 {
	return uint64(1)<<f.width - 1
}

// mask returns the in-place mask of the field.
func (f field) mask() uint64 {
	return f.bits() << f.shift
}

// get extracts the field from v.
func (f field) get(v uint64) uint64 {
	return (v >> f.shift) & f.bits()
}

// set returns v with the field replaced by x. Bits of x beyond the field
// width are discarded.
func (f field) set(v, x uint64) uint64 {
	return v&^f.mask() | (x&f.bits())<<f.shift
}

// getBool extracts a single bit field.
func (f field) getBool(v uint64) bool {
	return f.get(v) != 0
}

// setBool sets a single bit field.
func (f field) setBool(v uint64, b bool) uint64 {
	if b {
		return f.set(v, 1)
	}
	return f.set(v, 0)
}

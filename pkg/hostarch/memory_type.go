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

package hostarch

import "fmt"

// MemoryType specifies CPU memory access behavior. Its value is the index
// into MAIR_EL1 carried by the AttrIndx field of block and page descriptors.
// MAIR_EL1 attribute 0 is expected to be 0xff (Normal, write-back), 1 to be
// 0x44 (Normal, non-cacheable) and 2 to be 0x00 (Device-nGnRnE).
type MemoryType uint8

const (
	// MemoryTypeWriteBack is Normal memory, inner and outer write-back
	// cacheable. Every mapping built here uses it.
	MemoryTypeWriteBack MemoryType = iota

	// MemoryTypeWriteCombine is Normal memory, inner and outer
	// non-cacheable.
	MemoryTypeWriteCombine

	// MemoryTypeUncached is Device-nGnRnE memory.
	MemoryTypeUncached

	// NumMemoryTypes is the number of memory types.
	NumMemoryTypes
)

var memoryTypeNames = [NumMemoryTypes]struct{ long, short string }{
	MemoryTypeWriteBack:    {"WriteBack", "WB"},
	MemoryTypeWriteCombine: {"WriteCombine", "WC"},
	MemoryTypeUncached:     {"Uncached", "UC"},
}

// AttrIndex returns the descriptor AttrIndx value selecting mt.
func (mt MemoryType) AttrIndex() uint8 {
	return uint8(mt)
}

// String implements fmt.Stringer.String.
func (mt MemoryType) String() string {
	if mt < NumMemoryTypes {
		return memoryTypeNames[mt].long
	}
	return fmt.Sprintf("%d", mt)
}

// ShortString returns a two-character string compactly representing the
// MemoryType.
func (mt MemoryType) ShortString() string {
	if mt < NumMemoryTypes {
		return memoryTypeNames[mt].short
	}
	return fmt.Sprintf("%02d", mt)
}

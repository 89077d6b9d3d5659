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

package pagetables

import (
	"github.com/armkit/artos/pkg/abi/arm64"
	"github.com/armkit/artos/pkg/errors"
	"github.com/armkit/artos/pkg/hostarch"
)

// ErrInvalidBound is returned by BuildIdentityMap for a bound it cannot map.
var ErrInvalidBound = errors.New(errors.InvalidArgument, "invalid identity map bound")

// IdentityTables returns the number of L1 tables needed to identity map
// physical addresses [0, last].
func IdentityTables(last uintptr) int {
	return int(uint64(last)>>arm64.BlockShift/arm64.EntriesPerTable) + 1
}

// IdentityMap is a low half tree that maps every 1 GiB block of physical
// memory up to a bound onto the same virtual address. It is immutable once
// built and safe for concurrent use.
type IdentityMap struct {
	allocator    Allocator
	root         *PTEs
	rootPhysical uintptr

	// last is the inclusive bound the map was built for.
	last uintptr

	// blocks is the number of blocks installed.
	blocks int
}

// identityBlock returns the descriptor mapping the block at phys.
func identityBlock(phys uintptr) arm64.Descriptor {
	return arm64.BlockDescriptor{
		Address: phys,
		Attributes: arm64.Attributes{
			AttrIndex:  hostarch.MemoryTypeWriteBack.AttrIndex(),
			AP:         arm64.APReadWriteEL1,
			SH:         arm64.InnerShareable,
			AccessFlag: true,
			Contiguous: true,
		},
	}.Encode()
}

// BuildIdentityMap fills root and l1 so that every 1 GiB block from physical
// address 0 up to and including the block containing last is mapped to
// itself. Tables are filled in order and a new L1 table is started every 512
// blocks. Slots past the last block are invalid.
//
// The tables must stay allocated for as long as the map is in use. Each
// root entry's live-entry counter is the number of blocks in its table.
func BuildIdentityMap(a Allocator, root *PTEs, l1 []*PTEs, last uintptr) (*IdentityMap, error) {
	if uint64(last) > hostarch.PhysicalAddressMask {
		return nil, errors.Errorf(ErrInvalidBound, "%#x exceeds %d-bit physical addresses", last, hostarch.PhysicalAddressBits)
	}
	if need := IdentityTables(last); len(l1) < need {
		return nil, errors.Errorf(ErrInvalidBound, "mapping up to %#x needs %d L1 tables, got %d", last, need, len(l1))
	}

	*root = PTEs{}
	var (
		table  *PTEs
		slot   = -1
		blocks int
	)
	for phys := uint64(0); phys <= uint64(last); phys += arm64.BlockSize {
		if blocks%arm64.EntriesPerTable == 0 {
			slot++
			table = l1[slot]
			*table = PTEs{}
		}
		table[blocks%arm64.EntriesPerTable] = identityBlock(uintptr(phys))
		blocks++
		root[slot] = arm64.TableDescriptor{
			Address:     a.PhysicalFor(table),
			LiveEntries: uint16(blocks - slot*arm64.EntriesPerTable),
		}.Encode()
	}

	return &IdentityMap{
		allocator:    a,
		root:         root,
		rootPhysical: a.PhysicalFor(root),
		last:         last,
		blocks:       blocks,
	}, nil
}

// RootPhysical returns the physical address of the root table.
func (m *IdentityMap) RootPhysical() uintptr {
	return m.rootPhysical
}

// Last returns the inclusive bound the map was built for.
func (m *IdentityMap) Last() uintptr {
	return m.last
}

// Blocks returns the number of 1 GiB blocks mapped.
func (m *IdentityMap) Blocks() int {
	return m.blocks
}

// Walk returns the entries visited translating va, root first.
func (m *IdentityMap) Walk(va hostarch.Addr) []Entry {
	return walkEntries(m.allocator, m.root, uint64(va))
}

// Translate returns the physical address va maps to, and false if va is
// outside the low half or not covered by a block.
func (m *IdentityMap) Translate(va hostarch.Addr) (uintptr, bool) {
	if va>>hostarch.VirtualAddressBits != 0 {
		return 0, false
	}
	entries := m.Walk(va)
	e := entries[len(entries)-1]
	if e.Kind() != arm64.KindBlock {
		return 0, false
	}
	return e.Descriptor.Block().Address + uintptr(uint64(va)&(arm64.BlockSize-1)), true
}

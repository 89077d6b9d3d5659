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

// Package pagetables manages AArch64 stage 1 translation tables with a
// 4 KiB granule.
//
// Two trees are built here. The identity map covers the low half of the
// address space with 1 GiB blocks and never changes once built. PageTables
// maps individual 4 KiB pages in the high half, allocating intermediate
// tables on demand and freeing them as soon as they become empty.
//
// Emptiness is tracked without scanning. Every table descriptor carries, in
// bits the hardware ignores, the number of valid entries in the table it
// points at. The root has no descriptor pointing at it and is never freed.
package pagetables

import (
	"github.com/armkit/artos/pkg/abi/arm64"
	"github.com/armkit/artos/pkg/errors"
	"github.com/armkit/artos/pkg/hostarch"
	"github.com/armkit/artos/pkg/metric"
	"github.com/armkit/artos/pkg/sync"
)

// PTEs is a collection of entries.
type PTEs [arm64.EntriesPerTable]arm64.Descriptor

var (
	// ErrOutOfMemory is returned by Set when a table cannot be allocated.
	ErrOutOfMemory = errors.New(errors.OutOfMemory, "out of memory for translation tables")

	// ErrNotMapped is returned by Get and Del for an address without a
	// page mapping.
	ErrNotMapped = errors.New(errors.NotMapped, "address not mapped")

	// ErrCorrupted is returned when a table holds an entry that cannot
	// appear in the tree it belongs to.
	ErrCorrupted = errors.New(errors.Corrupted, "translation table corrupted")
)

var levelField = metric.NewField("level", []string{arm64.L1.String(), arm64.L2.String(), arm64.L3.String()})

var (
	tablesAllocated = metric.MustCreateNewUint64Metric("/pagetables/tables_allocated", "Number of intermediate tables allocated by Set, by the level of the new table.", levelField)
	tablesFreed     = metric.MustCreateNewUint64Metric("/pagetables/tables_freed", "Number of intermediate tables freed by Del, by the level of the table.", levelField)
	pagesMapped     = metric.MustCreateNewUint64Metric("/pagetables/pages_mapped", "Number of pages mapped by Set.")
	pagesUnmapped   = metric.MustCreateNewUint64Metric("/pagetables/pages_unmapped", "Number of pages unmapped by Del.")
	setCollisions   = metric.MustCreateNewUint64Metric("/pagetables/set_collisions", "Number of Set calls that found the page already mapped.")
	setRollbacks    = metric.MustCreateNewUint64Metric("/pagetables/set_rollbacks", "Number of Set calls undone because a table could not be allocated.")
)

// TLBInvalidator is notified after a translation is removed.
type TLBInvalidator interface {
	// InvalidatePage removes any cached translation of the page at va on
	// every processor in the inner shareable domain.
	InvalidatePage(va hostarch.Addr)
}

// Opts are PageTables options.
type Opts struct {
	// Root is an optional statically reserved root table. If nil, the
	// root is allocated with Allocator.NewPTEs. Either way it is cleared.
	Root *PTEs

	// TLB, if set, is called after every successful Del.
	TLB TLBInvalidator
}

// PageTables is a dynamically populated table tree, mapping 4 KiB pages.
type PageTables struct {
	// Allocator is used to allocate and look up intermediate tables.
	Allocator Allocator

	// tlb is Opts.TLB.
	tlb TLBInvalidator

	// mu serializes walks. Set and Del mutate tables in place, and a Get
	// racing with a cascading free in Del could follow a freed table.
	mu sync.Mutex

	// root is the L0 table. It is never freed.
	root *PTEs

	// rootPhysical is the physical address of root.
	rootPhysical uintptr
}

// New returns a PageTables with an empty root.
func New(a Allocator, opts Opts) (*PageTables, error) {
	root := opts.Root
	if root == nil {
		var err error
		if root, err = a.NewPTEs(); err != nil {
			return nil, errors.Errorf(ErrOutOfMemory, "allocating root: %v", err)
		}
	}
	*root = PTEs{}
	return &PageTables{
		Allocator:    a,
		tlb:          opts.TLB,
		root:         root,
		rootPhysical: a.PhysicalFor(root),
	}, nil
}

// RootPhysical returns the physical address of the root table, suitable for
// a TTBR.
func (p *PageTables) RootPhysical() uintptr {
	return p.rootPhysical
}

// undo records a table created by an in-progress Set.
type undo struct {
	// slot is the entry that points at ptes.
	slot *arm64.Descriptor

	// parent is the entry that points at the table containing slot, or
	// nil if slot is in the root.
	parent *arm64.Descriptor

	// ptes is the new table.
	ptes *PTEs

	// level is the level of ptes.
	level arm64.Level
}

// tablePTEs returns the table addressed by a table descriptor.
func (p *PageTables) tablePTEs(d arm64.Descriptor) *PTEs {
	return p.Allocator.LookupPTEs(d.Table().Address)
}

// incLive adds one to the live-entry counter of d, if d is not nil.
func incLive(d *arm64.Descriptor) {
	if d != nil {
		*d = d.WithLiveEntries(d.LiveEntries() + 1)
	}
}

// decLive subtracts one from the live-entry counter of d and returns the new
// count.
func decLive(d *arm64.Descriptor) uint16 {
	n := d.LiveEntries()
	if n == 0 {
		panic("live-entry counter underflow")
	}
	n--
	*d = d.WithLiveEntries(n)
	return n
}

// Set maps the page at va to the page at physical and returns physical
// rounded down to a page boundary.
//
// Missing intermediate tables are allocated. If the page is already mapped
// the mapping is left unchanged and its current physical address is
// returned. If a table cannot be allocated, every table allocated by this
// call is freed and ErrOutOfMemory is returned; the tree is unchanged.
func (p *PageTables) Set(va hostarch.Addr, physical uintptr) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		created [arm64.NumLevels - 1]undo
		ncreate int
		table   = p.root
		parent  *arm64.Descriptor
	)
	for level := arm64.L0; level < arm64.L3; level++ {
		slot := &table[level.Index(uint64(va))]
		switch slot.Kind(level) {
		case arm64.KindTable:
			table = p.tablePTEs(*slot)
		case arm64.KindInvalid:
			next, err := p.Allocator.NewPTEs()
			if err != nil {
				p.rollback(created[:ncreate])
				return 0, errors.Errorf(ErrOutOfMemory, "mapping %v: %v", va, err)
			}
			*slot = arm64.TableDescriptor{
				Address: p.Allocator.PhysicalFor(next),
				APTable: arm64.APReadWrite,
			}.Encode()
			incLive(parent)
			created[ncreate] = undo{slot: slot, parent: parent, ptes: next, level: level + 1}
			ncreate++
			table = next
		default:
			p.rollback(created[:ncreate])
			return 0, errors.Errorf(ErrCorrupted, "%v entry for %v is %s", level, va, slot.Format(level))
		}
		parent = slot
	}
	for _, u := range created[:ncreate] {
		tablesAllocated.Increment(u.level.String())
	}

	slot := &table[arm64.L3.Index(uint64(va))]
	if slot.Valid() {
		setCollisions.Increment()
		return slot.Page().Address, nil
	}
	*slot = arm64.PageDescriptor{
		Address: physical,
		Attributes: arm64.Attributes{
			AttrIndex:  hostarch.MemoryTypeWriteBack.AttrIndex(),
			AP:         arm64.APReadWrite,
			SH:         arm64.InnerShareable,
			AccessFlag: true,
			NotGlobal:  true,
		},
	}.Encode()
	incLive(parent)
	pagesMapped.Increment()
	return slot.Page().Address, nil
}

// rollback frees the tables recorded in created, newest first, and restores
// the counters of their parents.
func (p *PageTables) rollback(created []undo) {
	if len(created) == 0 {
		return
	}
	for i := len(created) - 1; i >= 0; i-- {
		u := created[i]
		*u.slot = arm64.InvalidDescriptor{}.Encode()
		if u.parent != nil {
			decLive(u.parent)
		}
		p.Allocator.FreePTEs(u.ptes)
	}
	setRollbacks.Increment()
}

// path is the chain of entries visited translating one address. slots[l]
// is the entry consulted at level l and tables[l] is the table holding it.
type path struct {
	tables [arm64.NumLevels]*PTEs
	slots  [arm64.NumLevels]*arm64.Descriptor
}

// lookup walks to the page entry for va. ok is false if the walk stopped at
// an entry that is not a table (L0-L2) or not a page (L3).
//
// Precondition: p.mu is held.
func (p *PageTables) lookup(va hostarch.Addr) (pa path, ok bool) {
	table := p.root
	for level := arm64.L0; level < arm64.NumLevels; level++ {
		slot := &table[level.Index(uint64(va))]
		pa.tables[level] = table
		pa.slots[level] = slot
		kind := slot.Kind(level)
		if level == arm64.L3 {
			return pa, kind == arm64.KindPage
		}
		if kind != arm64.KindTable {
			return pa, false
		}
		table = p.tablePTEs(*slot)
	}
	panic("unreachable")
}

// Get returns the physical address of the page mapped at va, as recorded in
// its page descriptor.
func (p *PageTables) Get(va hostarch.Addr) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pa, ok := p.lookup(va)
	if !ok {
		return 0, errors.Errorf(ErrNotMapped, "%v", va)
	}
	return pa.slots[arm64.L3].Page().Address, nil
}

// Translate returns the physical address va resolves to: the page Get
// returns plus the offset of va within its page.
func (p *PageTables) Translate(va hostarch.Addr) (uintptr, error) {
	page, err := p.Get(va)
	if err != nil {
		return 0, err
	}
	return page + uintptr(va.PageOffset()), nil
}

// Del removes the mapping of the page at va and returns the physical address
// of the page it mapped.
//
// Every table left without valid entries is freed, bottom up. The root is
// never freed.
func (p *PageTables) Del(va hostarch.Addr) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pa, ok := p.lookup(va)
	if !ok {
		return 0, errors.Errorf(ErrNotMapped, "%v", va)
	}
	physical := pa.slots[arm64.L3].Page().Address
	*pa.slots[arm64.L3] = arm64.InvalidDescriptor{}.Encode()
	pagesUnmapped.Increment()

	// slots[level] points at tables[level+1], which just lost an entry.
	for level := arm64.L2; level >= arm64.L0; level-- {
		if decLive(pa.slots[level]) != 0 {
			break
		}
		*pa.slots[level] = arm64.InvalidDescriptor{}.Encode()
		p.Allocator.FreePTEs(pa.tables[level+1])
		tablesFreed.Increment((level + 1).String())
	}

	if p.tlb != nil {
		p.tlb.InvalidatePage(va.RoundDown())
	}
	return physical, nil
}

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
	"fmt"

	"github.com/armkit/artos/pkg/abi/arm64"
	"github.com/armkit/artos/pkg/hostarch"
)

// Entry is one step of a translation.
type Entry struct {
	// Level is the level of the table holding the descriptor.
	Level arm64.Level

	// Index is the slot within the table.
	Index int

	// Table is the physical address of the table.
	Table uintptr

	// Descriptor is the raw entry.
	Descriptor arm64.Descriptor
}

// Kind returns the kind of the entry at its level.
func (e Entry) Kind() arm64.Kind {
	return e.Descriptor.Kind(e.Level)
}

// String implements fmt.Stringer.
func (e Entry) String() string {
	return fmt.Sprintf("%v %#x[%d] = %#016x %s", e.Level, e.Table, e.Index, uint64(e.Descriptor), e.Descriptor.Format(e.Level))
}

// walkEntries returns the entries visited translating va from root. It stops
// after the first entry that is not a table.
func walkEntries(a Allocator, root *PTEs, va uint64) []Entry {
	var entries []Entry
	table := root
	for level := arm64.L0; level < arm64.NumLevels; level++ {
		idx := level.Index(va)
		d := table[idx]
		entries = append(entries, Entry{
			Level:      level,
			Index:      idx,
			Table:      a.PhysicalFor(table),
			Descriptor: d,
		})
		if level == arm64.L3 || d.Kind(level) != arm64.KindTable {
			break
		}
		table = a.LookupPTEs(d.Table().Address)
	}
	return entries
}

// Walk returns the entries visited translating va, root first. The last
// entry is the page, or the first entry that ends the walk early.
func (p *PageTables) Walk(va hostarch.Addr) []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return walkEntries(p.Allocator, p.root, uint64(va))
}

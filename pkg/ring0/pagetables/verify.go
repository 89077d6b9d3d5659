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
	"golang.org/x/sync/errgroup"

	"github.com/armkit/artos/pkg/abi/arm64"
	"github.com/armkit/artos/pkg/errors"
)

// checkTable verifies the subtree rooted at table, which sits at level and
// was reached through an entry claiming live valid entries. The physical
// address of every table below the root is passed to visit.
func checkTable(a Allocator, table *PTEs, level arm64.Level, live uint16, blocks bool, visit func(uintptr)) error {
	var valid uint16
	for i, d := range table {
		switch d.Kind(level) {
		case arm64.KindInvalid:
			continue
		case arm64.KindTable:
			child := a.LookupPTEs(d.Table().Address)
			visit(d.Table().Address)
			if err := checkTable(a, child, level+1, d.LiveEntries(), blocks, visit); err != nil {
				return err
			}
		case arm64.KindBlock:
			if !blocks || level != arm64.L1 {
				return errors.Errorf(ErrCorrupted, "unexpected block at %v[%d]: %s", level, i, d.Format(level))
			}
		case arm64.KindPage:
		default:
			return errors.Errorf(ErrCorrupted, "%v[%d] is %s", level, i, d.Format(level))
		}
		valid++
	}
	if level == arm64.L0 {
		return nil
	}
	if valid != live {
		return errors.Errorf(ErrCorrupted, "%v table at %#x has %d valid entries, its descriptor counts %d", level, a.PhysicalFor(table), valid, live)
	}
	if valid == 0 {
		return errors.Errorf(ErrCorrupted, "empty %v table at %#x was not freed", level, a.PhysicalFor(table))
	}
	return nil
}

// checkRoot verifies every subtree of root in parallel and that no table is
// reachable twice.
func checkRoot(a Allocator, root *PTEs, blocks bool) error {
	var (
		g     errgroup.Group
		found [arm64.EntriesPerTable][]uintptr
	)
	for i, d := range root {
		switch d.Kind(arm64.L0) {
		case arm64.KindInvalid:
			continue
		case arm64.KindTable:
		default:
			return errors.Errorf(ErrCorrupted, "L0[%d] is %s", i, d.Format(arm64.L0))
		}
		i, d := i, d
		g.Go(func() error {
			found[i] = append(found[i], d.Table().Address)
			visit := func(phys uintptr) { found[i] = append(found[i], phys) }
			return checkTable(a, a.LookupPTEs(d.Table().Address), arm64.L1, d.LiveEntries(), blocks, visit)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	seen := map[uintptr]bool{a.PhysicalFor(root): true}
	for _, tables := range found {
		for _, phys := range tables {
			if seen[phys] {
				return errors.Errorf(ErrCorrupted, "table at %#x is reachable more than once", phys)
			}
			seen[phys] = true
		}
	}
	return nil
}

// CheckInvariants verifies the structure of the tree: every live-entry
// counter matches the number of valid entries in the table it describes,
// no table other than the root is empty, no table is shared, and there
// are no blocks.
func (p *PageTables) CheckInvariants() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return checkRoot(p.Allocator, p.root, false)
}

// countTables returns the number of tables in the subtree rooted at table,
// table included. Counters are not consulted.
func countTables(a Allocator, table *PTEs, level arm64.Level) int {
	n := 1
	for _, d := range table {
		if level < arm64.L3 && d.Kind(level) == arm64.KindTable {
			n += countTables(a, a.LookupPTEs(d.Table().Address), level+1)
		}
	}
	return n
}

// Tables returns the number of tables reachable from the root, the root
// included, whether or not the tree is consistent.
func (p *PageTables) Tables() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return countTables(p.Allocator, p.root, arm64.L0)
}

// CheckInvariants verifies the structure of the tree as PageTables does,
// permitting blocks at level 1.
func (m *IdentityMap) CheckInvariants() error {
	return checkRoot(m.allocator, m.root, true)
}

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
	"io"
	"strings"

	"github.com/armkit/artos/pkg/abi/arm64"
)

// dumpTable writes every valid entry of table and its subtables, one line
// each, indented by level. base is the first virtual address (bits 0-47)
// that table covers.
func dumpTable(w io.Writer, a Allocator, table *PTEs, level arm64.Level, base uint64) error {
	indent := strings.Repeat("  ", int(level))
	for i, d := range table {
		if !d.Valid() {
			continue
		}
		va := base + uint64(i)*level.Span()
		if _, err := fmt.Fprintf(w, "%s%v[%3d] va=%#012x %s\n", indent, level, i, va, d.Format(level)); err != nil {
			return err
		}
		if level < arm64.L3 && d.Kind(level) == arm64.KindTable {
			if err := dumpTable(w, a, a.LookupPTEs(d.Table().Address), level+1, va); err != nil {
				return err
			}
		}
	}
	return nil
}

// Dump writes a description of every valid entry in the tree to w.
func (p *PageTables) Dump(w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprintf(w, "root %#x\n", p.rootPhysical); err != nil {
		return err
	}
	return dumpTable(w, p.Allocator, p.root, arm64.L0, 0)
}

// Dump writes a description of every valid entry in the tree to w.
func (m *IdentityMap) Dump(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "root %#x (identity up to %#x, %d blocks)\n", m.rootPhysical, m.last, m.blocks); err != nil {
		return err
	}
	return dumpTable(w, m.allocator, m.root, arm64.L0, 0)
}

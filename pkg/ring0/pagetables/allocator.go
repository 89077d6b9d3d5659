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

	"github.com/armkit/artos/pkg/pmm"
)

// Allocator is used to allocate and map PTEs.
//
// Note that allocators may be called concurrently.
type Allocator interface {
	// NewPTEs returns a new set of zeroed PTEs.
	NewPTEs() (*PTEs, error)

	// PhysicalFor gives the physical address for a set of PTEs.
	PhysicalFor(ptes *PTEs) uintptr

	// LookupPTEs looks up PTEs by physical address.
	LookupPTEs(physical uintptr) *PTEs

	// FreePTEs returns a set of PTEs obtained from NewPTEs.
	FreePTEs(ptes *PTEs)
}

// PhysicalAllocator is an Allocator backed by simulated physical memory.
// Tables live inside frames of a pmm.Memory region, so the address in a
// table descriptor is the address the table can be found at again.
type PhysicalAllocator struct {
	frames *pmm.Allocator
}

// NewPhysicalAllocator returns an allocator that takes frames from frames.
func NewPhysicalAllocator(frames *pmm.Allocator) *PhysicalAllocator {
	return &PhysicalAllocator{frames: frames}
}

// Frames returns the underlying frame allocator.
func (a *PhysicalAllocator) Frames() *pmm.Allocator {
	return a.frames
}

// NewPTEs implements Allocator.NewPTEs.
func (a *PhysicalAllocator) NewPTEs() (*PTEs, error) {
	phys, err := a.frames.Allocate()
	if err != nil {
		return nil, err
	}
	return a.LookupPTEs(phys), nil
}

// ReservePTEs permanently allocates n physically contiguous zeroed tables.
// They must never be passed to FreePTEs.
func (a *PhysicalAllocator) ReservePTEs(n int) ([]*PTEs, error) {
	first, err := a.frames.Reserve(n)
	if err != nil {
		return nil, err
	}
	tables := make([]*PTEs, n)
	for i := range tables {
		tables[i] = a.LookupPTEs(first + uintptr(i)*pmm.FrameSize)
	}
	return tables, nil
}

// PhysicalFor implements Allocator.PhysicalFor.
func (a *PhysicalAllocator) PhysicalFor(ptes *PTEs) uintptr {
	return a.frames.Memory().PhysicalFor(ptesAddress(ptes))
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *PhysicalAllocator) LookupPTEs(physical uintptr) *PTEs {
	return ptesFromFrame(a.frames.Memory().Bytes(physical))
}

// FreePTEs implements Allocator.FreePTEs.
//
// Freeing a table that is not allocated means the tree is corrupted, so it
// panics.
func (a *PhysicalAllocator) FreePTEs(ptes *PTEs) {
	phys := a.PhysicalFor(ptes)
	if err := a.frames.Deallocate(phys); err != nil {
		panic(fmt.Sprintf("freeing table at %#x: %v", phys, err))
	}
}

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

package pmm

import (
	"github.com/google/btree"

	"github.com/armkit/artos/pkg/bitmap"
	"github.com/armkit/artos/pkg/errors"
	"github.com/armkit/artos/pkg/metric"
	"github.com/armkit/artos/pkg/sync"
)

var (
	framesAllocated = metric.MustCreateNewUint64Metric("/pmm/frames_allocated", "Number of page frames handed out by Allocate.")
	framesFreed     = metric.MustCreateNewUint64Metric("/pmm/frames_freed", "Number of page frames returned by Deallocate.")
	allocFailures   = metric.MustCreateNewUint64Metric("/pmm/allocation_failures", "Number of Allocate calls that found no free frame.")
)

func init() {
	metric.MustRegisterCustomUint64Metric("/pmm/frames_in_use", false /* cumulative */, "Number of page frames currently allocated.", func(...string) uint64 {
		return framesAllocated.Value() - framesFreed.Value()
	})
}

// AllocatorOpts configures an Allocator.
type AllocatorOpts struct {
	// Limit caps the number of frames that may be allocated at once,
	// excluding reserved frames. Zero means no limit beyond the size of
	// the region.
	Limit int
}

// Allocator hands out frames of a Memory region. It is safe for concurrent
// use.
type Allocator struct {
	mem *Memory

	// mu protects the fields below.
	mu sync.Mutex

	// next is the lowest frame index that has never been handed out.
	next uint32

	// free holds indices below next that have been returned. The lowest
	// index is reused first.
	free *btree.BTreeG[uint32]

	// allocated holds the indices of every frame currently handed out,
	// reserved frames included.
	allocated bitmap.Bitmap

	// reserved holds the indices of frames handed out by Reserve. They
	// are never returned.
	reserved bitmap.Bitmap

	// limit is AllocatorOpts.Limit.
	limit int
}

// NewAllocator returns an allocator over every frame of mem.
func NewAllocator(mem *Memory, opts AllocatorOpts) *Allocator {
	n := uint32(mem.Frames())
	return &Allocator{
		mem:       mem,
		free:      btree.NewG(8, func(a, b uint32) bool { return a < b }),
		allocated: bitmap.New(n),
		reserved:  bitmap.New(n),
		limit:     opts.Limit,
	}
}

// Memory returns the region frames are allocated from.
func (a *Allocator) Memory() *Memory {
	return a.mem
}

// SetLimit replaces AllocatorOpts.Limit. Frames already allocated are not
// affected.
func (a *Allocator) SetLimit(limit int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limit = limit
}

// Reserve permanently allocates n physically contiguous zeroed frames and
// returns the address of the first. Reserved frames cannot be deallocated.
func (a *Allocator) Reserve(n int) (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n <= 0 || uint64(a.next)+uint64(n) > uint64(a.mem.Frames()) {
		return 0, errors.Errorf(ErrOutOfMemory, "cannot reserve %d contiguous frames", n)
	}
	first := a.next
	a.next += uint32(n)
	for i := first; i < a.next; i++ {
		a.allocated.Add(i)
		a.reserved.Add(i)
		clear(a.mem.Bytes(a.mem.frameAddr(i)))
	}
	return a.mem.frameAddr(first), nil
}

// Allocate returns the address of a zeroed frame.
func (a *Allocator) Allocate() (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.limit > 0 && a.inUseLocked() >= a.limit {
		allocFailures.Increment()
		return 0, errors.Errorf(ErrOutOfMemory, "frame limit %d reached", a.limit)
	}
	idx, ok := a.free.DeleteMin()
	if !ok {
		if int(a.next) >= a.mem.Frames() {
			allocFailures.Increment()
			return 0, ErrOutOfMemory
		}
		idx = a.next
		a.next++
	}
	a.allocated.Add(idx)
	framesAllocated.Increment()

	phys := a.mem.frameAddr(idx)
	clear(a.mem.Bytes(phys))
	return phys, nil
}

// Deallocate returns the frame at phys.
func (a *Allocator) Deallocate(phys uintptr) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, ok := a.mem.frameIndex(phys)
	if !ok {
		return errors.Errorf(ErrBadFrame, "%#x", phys)
	}
	if a.reserved.Contains(idx) {
		return errors.Errorf(ErrBadFrame, "%#x is reserved", phys)
	}
	if !a.allocated.Remove(idx) {
		return errors.Errorf(ErrDoubleFree, "%#x", phys)
	}
	a.free.ReplaceOrInsert(idx)
	framesFreed.Increment()
	return nil
}

// IsAllocated returns true if the frame at phys is currently allocated or
// reserved.
func (a *Allocator) IsAllocated(phys uintptr) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.mem.frameIndex(phys)
	return ok && a.allocated.Contains(idx)
}

func (a *Allocator) inUseLocked() int {
	return int(a.allocated.Count() - a.reserved.Count())
}

// InUse returns the number of frames allocated and not yet deallocated,
// excluding reserved frames.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUseLocked()
}

// Reserved returns the number of reserved frames.
func (a *Allocator) Reserved() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.reserved.Count())
}

// Allocated returns the addresses of every allocated frame that is not
// reserved, in increasing order.
func (a *Allocator) Allocated() []uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	var addrs []uintptr
	for _, idx := range a.allocated.ToSlice() {
		if !a.reserved.Contains(idx) {
			addrs = append(addrs, a.mem.frameAddr(idx))
		}
	}
	return addrs
}

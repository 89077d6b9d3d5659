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

// Package pmm simulates physical memory and hands out page frames from it.
//
// Physical addresses are offsets into an anonymous host mapping shifted by a
// base address, so a table written through Bytes can be found again from the
// address stored in a descriptor.
package pmm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/armkit/artos/pkg/errors"
	"github.com/armkit/artos/pkg/hostarch"
	"github.com/armkit/artos/pkg/log"
)

const (
	// FrameSize is the size of one page frame.
	FrameSize = hostarch.PageSize

	// DefaultBase is the physical address at which RAM starts on the QEMU
	// virt machine.
	DefaultBase uintptr = 0x4000_0000
)

var (
	// ErrOutOfMemory is returned when no frame is available.
	ErrOutOfMemory = errors.New(errors.OutOfMemory, "out of physical memory")

	// ErrBadFrame is returned for an address that is not the start of a
	// frame in the region.
	ErrBadFrame = errors.New(errors.InvalidArgument, "not a frame address")

	// ErrDoubleFree is returned when a frame that is not allocated is
	// released.
	ErrDoubleFree = errors.New(errors.Corrupted, "frame is not allocated")
)

// Memory is a contiguous region of simulated physical memory.
type Memory struct {
	// base is the physical address of mem[0].
	base uintptr

	// mem is the host mapping. It is nil after Close.
	mem []byte
}

// NewMemory maps frames page frames of zeroed memory starting at physical
// address base.
func NewMemory(base uintptr, frames int) (*Memory, error) {
	if base%FrameSize != 0 {
		return nil, errors.Errorf(ErrBadFrame, "base %#x is not frame aligned", base)
	}
	if frames <= 0 {
		return nil, fmt.Errorf("invalid frame count %d", frames)
	}
	if end := uint64(base) + uint64(frames)*FrameSize; end < uint64(base) || end-1 > uint64(hostarch.PhysicalAddressMask) {
		return nil, fmt.Errorf("region [%#x, %#x) exceeds the physical address space", base, end)
	}

	// Use mmap instead of make([]byte) so that every frame is page
	// aligned in the host as well.
	mem, err := unix.Mmap(-1,
		0,
		frames*FrameSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap physical memory: %v", err)
	}
	if sliceBackingPointer(mem)%FrameSize != 0 {
		unix.Munmap(mem)
		return nil, fmt.Errorf("physical memory is not frame aligned (address %#x)", sliceBackingPointer(mem))
	}
	log.Debugf("pmm: mapped %d frames at physical %#x", frames, base)
	return &Memory{base: base, mem: mem}, nil
}

func sliceBackingPointer(s []byte) uintptr {
	return uintptr(unsafe.Pointer(&s[0]))
}

// Base returns the physical address of the first frame.
func (m *Memory) Base() uintptr {
	return m.base
}

// End returns the physical address one past the last frame.
func (m *Memory) End() uintptr {
	return m.base + uintptr(len(m.mem))
}

// Frames returns the number of frames in the region.
func (m *Memory) Frames() int {
	return len(m.mem) / FrameSize
}

// Contains returns true if phys falls inside the region.
func (m *Memory) Contains(phys uintptr) bool {
	return phys >= m.base && phys-m.base < uintptr(len(m.mem))
}

// frameIndex returns the index of the frame starting at phys.
func (m *Memory) frameIndex(phys uintptr) (uint32, bool) {
	if !m.Contains(phys) || phys%FrameSize != 0 {
		return 0, false
	}
	return uint32((phys - m.base) / FrameSize), true
}

// frameAddr is the inverse of frameIndex.
func (m *Memory) frameAddr(idx uint32) uintptr {
	return m.base + uintptr(idx)*FrameSize
}

// Bytes returns the contents of the frame at phys.
//
// Precondition: phys is frame aligned and inside the region.
func (m *Memory) Bytes(phys uintptr) []byte {
	idx, ok := m.frameIndex(phys)
	if !ok {
		panic(fmt.Sprintf("physical address %#x is not a frame in [%#x, %#x)", phys, m.base, m.End()))
	}
	off := int(idx) * FrameSize
	return m.mem[off : off+FrameSize : off+FrameSize]
}

// PhysicalFor returns the physical address backing the host address host,
// which must point into a frame returned by Bytes.
func (m *Memory) PhysicalFor(host uintptr) uintptr {
	start := sliceBackingPointer(m.mem)
	if host < start || host-start >= uintptr(len(m.mem)) {
		panic(fmt.Sprintf("host address %#x is outside physical memory", host))
	}
	return m.base + (host - start)
}

// Close unmaps the region. Frames must not be used afterwards.
func (m *Memory) Close() error {
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem = nil
	return err
}

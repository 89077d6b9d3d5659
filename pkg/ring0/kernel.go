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

package ring0

import (
	"sync/atomic"

	"github.com/armkit/artos/pkg/errors"
	"github.com/armkit/artos/pkg/hostarch"
	"github.com/armkit/artos/pkg/log"
	"github.com/armkit/artos/pkg/pmm"
	"github.com/armkit/artos/pkg/ring0/pagetables"
	"github.com/armkit/artos/pkg/sync"
)

// DefaultLastPhysicalAddress is the inclusive upper bound of the identity
// map when KernelOpts does not give one: 512 GiB, one full L1 table.
const DefaultLastPhysicalAddress uintptr = 0x7f_ffff_ffff

// ErrNotInitialized is returned by Kernel operations before Init succeeds.
var ErrNotInitialized = errors.New(errors.NotInitialized, "translation not initialized")

// KernelOpts are Kernel options.
type KernelOpts struct {
	// Frames supplies the memory for translation tables.
	Frames *pmm.Allocator

	// CPU is programmed by Init and receives TLB maintenance.
	CPU CPU

	// LastPhysicalAddress is the inclusive upper bound of the identity
	// map of the low half. Zero selects DefaultLastPhysicalAddress.
	LastPhysicalAddress uintptr
}

// Kernel owns the translation regime of a processor: an identity map of
// physical memory through TTBR0 and a dynamic map of kernel pages through
// TTBR1.
type Kernel struct {
	opts KernelOpts

	once sync.Once
	err  error

	// ready is set once Init succeeds. The fields below are immutable
	// afterwards.
	ready    atomic.Bool
	identity *pagetables.IdentityMap
	tables   *pagetables.PageTables
}

// NewKernel returns an uninitialized Kernel.
func NewKernel(opts KernelOpts) *Kernel {
	if opts.LastPhysicalAddress == 0 {
		opts.LastPhysicalAddress = DefaultLastPhysicalAddress
	}
	return &Kernel{opts: opts}
}

// tlbShootdown invalidates a page on every processor once the descriptor
// store that removed it is visible.
type tlbShootdown struct {
	cpu CPU
}

// InvalidatePage implements pagetables.TLBInvalidator.InvalidatePage.
func (t tlbShootdown) InvalidatePage(va hostarch.Addr) {
	t.cpu.DSB(InnerShareableStore)
	t.cpu.FlushTlbByVA(va)
	t.cpu.DSB(InnerShareable)
	t.cpu.ISB()
}

// Init builds both table trees in memory reserved for them and enables the
// MMU. Only the first call does any work; later calls return its result.
func (k *Kernel) Init() error {
	k.once.Do(func() {
		k.err = k.init()
	})
	return k.err
}

func (k *Kernel) init() error {
	last := k.opts.LastPhysicalAddress
	if uint64(last) > hostarch.PhysicalAddressMask {
		return errors.Errorf(pagetables.ErrInvalidBound, "%#x exceeds %d-bit physical addresses", last, hostarch.PhysicalAddressBits)
	}
	a := pagetables.NewPhysicalAllocator(k.opts.Frames)

	// Two roots followed by the identity map's L1 tables.
	l1 := pagetables.IdentityTables(last)
	static, err := a.ReservePTEs(2 + l1)
	if err != nil {
		return errors.Errorf(pagetables.ErrOutOfMemory, "reserving %d static tables: %v", 2+l1, err)
	}

	identity, err := pagetables.BuildIdentityMap(a, static[0], static[2:], last)
	if err != nil {
		return err
	}
	tables, err := pagetables.New(a, pagetables.Opts{
		Root: static[1],
		TLB:  tlbShootdown{cpu: k.opts.CPU},
	})
	if err != nil {
		return err
	}

	log.Infof("TTB0 TABLE: %#x", identity.RootPhysical())
	log.Infof("TTB1 TABLE: %#x", tables.RootPhysical())
	ProgramMMU(k.opts.CPU, identity.RootPhysical(), tables.RootPhysical())

	k.identity = identity
	k.tables = tables
	k.ready.Store(true)
	return nil
}

// Initialized returns true if Init has succeeded.
func (k *Kernel) Initialized() bool {
	return k.ready.Load()
}

// Identity returns the identity map, or nil before Init.
func (k *Kernel) Identity() *pagetables.IdentityMap {
	if !k.ready.Load() {
		return nil
	}
	return k.identity
}

// Tables returns the dynamic page tables, or nil before Init.
func (k *Kernel) Tables() *pagetables.PageTables {
	if !k.ready.Load() {
		return nil
	}
	return k.tables
}

// Set maps the page containing va to the page containing pa. See
// pagetables.PageTables.Set.
func (k *Kernel) Set(va hostarch.Addr, pa uintptr) (uintptr, error) {
	if !k.ready.Load() {
		return 0, ErrNotInitialized
	}
	return k.tables.Set(va, pa)
}

// Get returns the page mapped at va. See pagetables.PageTables.Get.
func (k *Kernel) Get(va hostarch.Addr) (uintptr, error) {
	if !k.ready.Load() {
		return 0, ErrNotInitialized
	}
	return k.tables.Get(va)
}

// Del unmaps the page containing va. See pagetables.PageTables.Del.
func (k *Kernel) Del(va hostarch.Addr) (uintptr, error) {
	if !k.ready.Load() {
		return 0, ErrNotInitialized
	}
	return k.tables.Del(va)
}

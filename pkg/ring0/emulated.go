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
	"encoding/binary"
	"fmt"

	"github.com/armkit/artos/pkg/abi/arm64"
	"github.com/armkit/artos/pkg/hostarch"
	"github.com/armkit/artos/pkg/pmm"
	"github.com/armkit/artos/pkg/sync"
)

// SCTLRReset is the SCTLR_EL1 value of a freshly reset EmulatedCPU: the
// RES1 bits are set and the MMU is off.
const SCTLRReset = 0x30d0_0800

// OpKind is the type of a recorded CPU operation.
type OpKind int

// Recorded operations.
const (
	OpWrite OpKind = iota
	OpISB
	OpDSB
	OpFlushAll
	OpFlushVA
)

// Op is one state-changing operation executed by an EmulatedCPU.
type Op struct {
	Kind OpKind

	// Reg and Value are set for OpWrite.
	Reg   arm64.SysReg
	Value uint64

	// Domain is set for OpDSB.
	Domain Domain

	// VA is set for OpFlushVA.
	VA hostarch.Addr
}

// String renders the operation as the instruction that performs it.
func (o Op) String() string {
	switch o.Kind {
	case OpWrite:
		return fmt.Sprintf("msr %v, %#x", o.Reg, o.Value)
	case OpISB:
		return "isb"
	case OpDSB:
		return fmt.Sprintf("dsb %v", o.Domain)
	case OpFlushAll:
		return "tlbi vmalle1is"
	case OpFlushVA:
		return fmt.Sprintf("tlbi vae1is, %v", o.VA)
	default:
		return fmt.Sprintf("OpKind(%d)", int(o.Kind))
	}
}

// TranslationFault is returned by EmulatedCPU.Translate when the hardware
// would raise a synchronous abort.
type TranslationFault struct {
	// VA is the faulting address.
	VA hostarch.Addr

	// Level is the level at which the walk stopped.
	Level arm64.Level

	// Reason describes the fault.
	Reason string
}

// Error implements error.Error.
func (f *TranslationFault) Error() string {
	return fmt.Sprintf("translation fault at %v, level %d: %s", f.VA, int(f.Level), f.Reason)
}

// EmulatedCPU is a CPU that records what it is asked to do and walks
// translation tables in a pmm.Memory the way the hardware would.
//
// It holds a TLB of page translations that is only emptied by TLBI, so
// code that forgets to invalidate sees stale results, as it would on
// hardware.
type EmulatedCPU struct {
	mem *pmm.Memory

	mu    sync.Mutex
	regs  [4]uint64
	trace []Op
	tlb   map[hostarch.Addr]uintptr
}

// NewEmulatedCPU returns a CPU in its reset state whose table walks read
// mem.
func NewEmulatedCPU(mem *pmm.Memory) *EmulatedCPU {
	c := &EmulatedCPU{
		mem: mem,
		tlb: make(map[hostarch.Addr]uintptr),
	}
	c.regs[arm64.SCTLR_EL1] = SCTLRReset
	return c
}

func (c *EmulatedCPU) record(op Op) {
	c.trace = append(c.trace, op)
}

// ReadSysReg implements CPU.ReadSysReg.
func (c *EmulatedCPU) ReadSysReg(reg arm64.SysReg) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[reg]
}

// WriteSysReg implements CPU.WriteSysReg.
func (c *EmulatedCPU) WriteSysReg(reg arm64.SysReg, value uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[reg] = value
	c.record(Op{Kind: OpWrite, Reg: reg, Value: value})
}

// ISB implements CPU.ISB.
func (c *EmulatedCPU) ISB() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Op{Kind: OpISB})
}

// DSB implements CPU.DSB.
func (c *EmulatedCPU) DSB(domain Domain) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Op{Kind: OpDSB, Domain: domain})
}

// FlushTlbAll implements CPU.FlushTlbAll.
func (c *EmulatedCPU) FlushTlbAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.tlb)
	c.record(Op{Kind: OpFlushAll})
}

// FlushTlbByVA implements CPU.FlushTlbByVA.
func (c *EmulatedCPU) FlushTlbByVA(va hostarch.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tlb, va.RoundDown())
	c.record(Op{Kind: OpFlushVA, VA: va})
}

// Trace returns a copy of the operations executed so far.
func (c *EmulatedCPU) Trace() []Op {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Op(nil), c.trace...)
}

// ResetTrace discards the recorded operations.
func (c *EmulatedCPU) ResetTrace() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trace = nil
}

// TLBEntries returns the number of cached translations.
func (c *EmulatedCPU) TLBEntries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tlb)
}

// Translate returns the physical address va resolves to under the current
// register state. With the MMU off addresses are flat.
func (c *EmulatedCPU) Translate(va hostarch.Addr) (uintptr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !arm64.DecodeSCTLR(c.regs[arm64.SCTLR_EL1]).MMU {
		return uintptr(va), nil
	}
	page := va.RoundDown()
	if pa, ok := c.tlb[page]; ok {
		return pa + uintptr(va.PageOffset()), nil
	}

	base, err := c.selectTable(va)
	if err != nil {
		return 0, err
	}
	pa, err := c.walk(va, base)
	if err != nil {
		return 0, err
	}
	c.tlb[page] = pa &^ (hostarch.PageSize - 1)
	return pa, nil
}

// selectTable picks the root table for va from the TTBR covering its half
// of the address space.
func (c *EmulatedCPU) selectTable(va hostarch.Addr) (uintptr, error) {
	tcr := arm64.DecodeTCR(c.regs[arm64.TCR_EL1])
	upper := va>>55&1 == 1

	ttbr, epd, tsz, granule, tbi := arm64.TTBR0_EL1, tcr.EPD0, tcr.T0SZ, tcr.TG0.Size(), tcr.TBI0
	if upper {
		ttbr, epd, tsz, granule, tbi = arm64.TTBR1_EL1, tcr.EPD1, tcr.T1SZ, tcr.TG1.Size(), tcr.TBI1
	}
	if tsz != 64-hostarch.VirtualAddressBits || granule != hostarch.PageSize {
		return 0, &TranslationFault{VA: va, Reason: fmt.Sprintf("unsupported configuration %v", tcr)}
	}
	if epd {
		return 0, &TranslationFault{VA: va, Reason: fmt.Sprintf("walks disabled for %v", ttbr)}
	}

	top, want := uint64(va)>>hostarch.VirtualAddressBits, uint64(0)
	if tbi {
		top &= 0xff
	}
	if upper {
		want = 0xffff
		if tbi {
			want = 0xff
		}
	}
	if top != want {
		return 0, &TranslationFault{VA: va, Reason: "address size fault"}
	}
	return arm64.DecodeTTBR(c.regs[ttbr]).BaseAddress, nil
}

// descriptor reads entry index of the table at phys.
func (c *EmulatedCPU) descriptor(phys uintptr, index int) (arm64.Descriptor, bool) {
	if phys%arm64.TableSize != 0 || !c.mem.Contains(phys) {
		return 0, false
	}
	b := c.mem.Bytes(phys)[index*arm64.DescriptorSize:]
	return arm64.Descriptor(binary.NativeEndian.Uint64(b)), true
}

func (c *EmulatedCPU) walk(va hostarch.Addr, table uintptr) (uintptr, error) {
	for level := arm64.L0; level < arm64.NumLevels; level++ {
		d, ok := c.descriptor(table, level.Index(uint64(va)))
		if !ok {
			return 0, &TranslationFault{VA: va, Level: level, Reason: fmt.Sprintf("table %#x outside memory", table)}
		}
		switch d.Kind(level) {
		case arm64.KindInvalid:
			return 0, &TranslationFault{VA: va, Level: level, Reason: "invalid descriptor"}
		case arm64.KindReserved:
			return 0, &TranslationFault{VA: va, Level: level, Reason: "reserved descriptor"}
		case arm64.KindTable:
			table = d.Address(level)
			continue
		case arm64.KindBlock:
			if level != arm64.L1 {
				return 0, &TranslationFault{VA: va, Level: level, Reason: "unsupported block size"}
			}
			b := d.Block()
			if !b.AccessFlag {
				return 0, &TranslationFault{VA: va, Level: level, Reason: "access flag fault"}
			}
			return b.Address + uintptr(uint64(va)&(level.Span()-1)), nil
		case arm64.KindPage:
			p := d.Page()
			if !p.AccessFlag {
				return 0, &TranslationFault{VA: va, Level: level, Reason: "access flag fault"}
			}
			return p.Address + uintptr(va.PageOffset()), nil
		}
	}
	panic("unreachable")
}

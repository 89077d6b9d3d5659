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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/armkit/artos/pkg/abi/arm64"
	"github.com/armkit/artos/pkg/hostarch"
	"github.com/armkit/artos/pkg/log"
	"github.com/armkit/artos/pkg/pmm"
	"github.com/armkit/artos/pkg/ring0/pagetables"
)

const tcrValue = 0x0000_0015_b550_3510

// captureEmitter records formatted messages.
type captureEmitter struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureEmitter) Emit(_ int, _ log.Level, _ time.Time, format string, v ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf(format, v...))
}

func captureLogs(t *testing.T) *captureEmitter {
	t.Helper()
	c := &captureEmitter{}
	old := log.Log().Emitter
	log.SetTarget(c)
	t.Cleanup(func() { log.SetTarget(old) })
	return c
}

func newMemory(t *testing.T, frames int) *pmm.Memory {
	t.Helper()
	mem, err := pmm.NewMemory(pmm.DefaultBase, frames)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	return mem
}

func newKernel(t *testing.T, frames int) (*Kernel, *EmulatedCPU, *pmm.Allocator) {
	t.Helper()
	mem := newMemory(t, frames)
	cpu := NewEmulatedCPU(mem)
	fa := pmm.NewAllocator(mem, pmm.AllocatorOpts{})
	return NewKernel(KernelOpts{Frames: fa, CPU: cpu}), cpu, fa
}

// mmuSwitch is the sequence that sets SCTLR_EL1 to sctlr.
func mmuSwitch(sctlr uint64) []Op {
	return []Op{
		{Kind: OpWrite, Reg: arm64.SCTLR_EL1, Value: sctlr},
		{Kind: OpISB},
		{Kind: OpDSB, Domain: InnerShareableStore},
		{Kind: OpFlushAll},
		{Kind: OpDSB, Domain: InnerShareable},
		{Kind: OpISB},
	}
}

func programSequence(ttbr0, ttbr1 uint64) []Op {
	var ops []Op
	ops = append(ops, mmuSwitch(SCTLRReset)...)
	ops = append(ops,
		Op{Kind: OpWrite, Reg: arm64.TTBR0_EL1, Value: ttbr0},
		Op{Kind: OpISB},
		Op{Kind: OpWrite, Reg: arm64.TTBR1_EL1, Value: ttbr1},
		Op{Kind: OpISB},
		Op{Kind: OpWrite, Reg: arm64.TCR_EL1, Value: tcrValue},
		Op{Kind: OpISB},
	)
	return append(ops, mmuSwitch(SCTLRReset|1)...)
}

func TestTranslationControl(t *testing.T) {
	if got := TranslationControl().Encode(); got != tcrValue {
		t.Errorf("TranslationControl().Encode() = %#016x, want %#016x", got, uint64(tcrValue))
	}
}

func TestProgramMMUSequence(t *testing.T) {
	captureLogs(t)
	cpu := NewEmulatedCPU(newMemory(t, 4))
	ProgramMMU(cpu, 0x4000_0000, 0x4000_1000)
	if diff := cmp.Diff(programSequence(0x4000_0000, 0x4000_1000), cpu.Trace()); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
	if got := cpu.ReadSysReg(arm64.SCTLR_EL1); got != SCTLRReset|1 {
		t.Errorf("SCTLR_EL1 = %#x, want %#x", got, uint64(SCTLRReset|1))
	}
}

func TestProgramMMUPreservesSCTLR(t *testing.T) {
	captureLogs(t)
	cpu := NewEmulatedCPU(newMemory(t, 4))
	cpu.WriteSysReg(arm64.SCTLR_EL1, 0x1005) // MMU, C and I on.
	cpu.ResetTrace()
	ProgramMMU(cpu, 0x4000_0000, 0x4000_1000)
	trace := cpu.Trace()
	if got := trace[0]; got.Value != 0x1004 {
		t.Errorf("first write = %v, want SCTLR_EL1 0x1004", got)
	}
	if got := cpu.ReadSysReg(arm64.SCTLR_EL1); got != 0x1005 {
		t.Errorf("SCTLR_EL1 = %#x, want 0x1005", got)
	}
}

func TestProgramMMULogs(t *testing.T) {
	c := captureLogs(t)
	cpu := NewEmulatedCPU(newMemory(t, 4))
	ProgramMMU(cpu, 0x4000_0000, 0x4000_1000)
	want := []string{
		"SCTLR_EL1: 0x30d00800 -> 0x30d00800",
		"TTBR0_EL1: 0x0 -> 0x40000000",
		"TTBR1_EL1: 0x0 -> 0x40001000",
		"TCR_EL1: 0x0 -> 0x15b5503510",
		"SCTLR_EL1: 0x30d00800 -> 0x30d00801",
	}
	if diff := cmp.Diff(want, c.lines); diff != "" {
		t.Errorf("log mismatch (-want +got):\n%s", diff)
	}
}

func TestOpString(t *testing.T) {
	for _, tc := range []struct {
		op   Op
		want string
	}{
		{Op{Kind: OpWrite, Reg: arm64.TCR_EL1, Value: tcrValue}, "msr TCR_EL1, 0x15b5503510"},
		{Op{Kind: OpISB}, "isb"},
		{Op{Kind: OpDSB, Domain: InnerShareableStore}, "dsb ishst"},
		{Op{Kind: OpFlushAll}, "tlbi vmalle1is"},
		{Op{Kind: OpFlushVA, VA: 0xffff_0000_0000_1000}, "tlbi vae1is, 0xffff000000001000"},
	} {
		if got := tc.op.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestKernelNotInitialized(t *testing.T) {
	k, _, _ := newKernel(t, 16)
	if _, err := k.Set(0xffff_0000_0000_0000, 0x4000_0000); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Set before Init = %v, want ErrNotInitialized", err)
	}
	if _, err := k.Get(0xffff_0000_0000_0000); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Get before Init = %v, want ErrNotInitialized", err)
	}
	if _, err := k.Del(0xffff_0000_0000_0000); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Del before Init = %v, want ErrNotInitialized", err)
	}
	if k.Tables() != nil || k.Identity() != nil || k.Initialized() {
		t.Errorf("tables visible before Init")
	}
}

func TestKernelInit(t *testing.T) {
	logs := captureLogs(t)
	k, cpu, fa := newKernel(t, 16)
	if err := k.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// Both roots and the single identity L1 table are reserved up front.
	if got := fa.Reserved(); got != 3 {
		t.Errorf("Reserved() = %d, want 3", got)
	}
	if got := k.Identity().RootPhysical(); got != 0x4000_0000 {
		t.Errorf("identity root = %#x, want 0x40000000", got)
	}
	if got := k.Tables().RootPhysical(); got != 0x4000_1000 {
		t.Errorf("dynamic root = %#x, want 0x40001000", got)
	}
	if got := k.Identity().Blocks(); got != arm64.EntriesPerTable {
		t.Errorf("Blocks() = %d, want %d", got, arm64.EntriesPerTable)
	}
	if diff := cmp.Diff(programSequence(0x4000_0000, 0x4000_1000), cpu.Trace()); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
	if got, want := logs.lines[:2], []string{"TTB0 TABLE: 0x40000000", "TTB1 TABLE: 0x40001000"}; !cmp.Equal(got, want) {
		t.Errorf("logs = %q, want prefix %q", logs.lines, want)
	}

	// Init runs once.
	cpu.ResetTrace()
	if err := k.Init(); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if got := cpu.Trace(); len(got) != 0 {
		t.Errorf("second Init executed %v", got)
	}
}

func TestKernelInitOutOfMemory(t *testing.T) {
	captureLogs(t)
	k, cpu, _ := newKernel(t, 2)
	err := k.Init()
	if !errors.Is(err, pagetables.ErrOutOfMemory) {
		t.Fatalf("Init = %v, want ErrOutOfMemory", err)
	}
	if got := k.Init(); got != err {
		t.Errorf("second Init = %v, want %v", got, err)
	}
	if got := cpu.Trace(); len(got) != 0 {
		t.Errorf("failed Init touched the CPU: %v", got)
	}
	if _, err := k.Set(0xffff_0000_0000_0000, 0x4000_0000); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Set after failed Init = %v, want ErrNotInitialized", err)
	}
}

func TestKernelInitInvalidBound(t *testing.T) {
	mem := newMemory(t, 16)
	k := NewKernel(KernelOpts{
		Frames:              pmm.NewAllocator(mem, pmm.AllocatorOpts{}),
		CPU:                 NewEmulatedCPU(mem),
		LastPhysicalAddress: 1 << 48,
	})
	if err := k.Init(); !errors.Is(err, pagetables.ErrInvalidBound) {
		t.Errorf("Init = %v, want ErrInvalidBound", err)
	}
}

func TestKernelTranslation(t *testing.T) {
	captureLogs(t)
	k, cpu, fa := newKernel(t, 16)
	if err := k.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// The low half is flat.
	for _, va := range []hostarch.Addr{0, 0x4000_1234, 0x7f_ffff_ffff} {
		if got, err := cpu.Translate(va); err != nil || got != uintptr(va) {
			t.Errorf("Translate(%v) = (%#x, %v), want identity", va, got, err)
		}
	}
	if _, err := cpu.Translate(0x80_0000_0000); err == nil {
		t.Errorf("Translate past the identity map succeeded")
	}

	const va = hostarch.Addr(0xffff_0000_0000_1000)
	if _, err := cpu.Translate(va); err == nil {
		t.Errorf("Translate(%v) before Set succeeded", va)
	}
	if _, err := k.Set(va, 0x4000_5000); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := cpu.Translate(va + 0xabc); err != nil || got != 0x4000_5abc {
		t.Errorf("Translate = (%#x, %v), want 0x40005abc", got, err)
	}
	if got, err := k.Get(va + 0xabc); err != nil || got != 0x4000_5000 {
		t.Errorf("Get = (%#x, %v), want 0x40005000", got, err)
	}

	cpu.ResetTrace()
	if _, err := k.Del(va + 0x10); err != nil {
		t.Fatalf("Del: %v", err)
	}
	want := []Op{
		{Kind: OpDSB, Domain: InnerShareableStore},
		{Kind: OpFlushVA, VA: va},
		{Kind: OpDSB, Domain: InnerShareable},
		{Kind: OpISB},
	}
	if diff := cmp.Diff(want, cpu.Trace()); diff != "" {
		t.Errorf("Del trace mismatch (-want +got):\n%s", diff)
	}
	var fault *TranslationFault
	if _, err := cpu.Translate(va); !errors.As(err, &fault) {
		t.Errorf("Translate after Del = %v, want fault", err)
	}

	// Every dynamic table was released.
	if got := fa.InUse(); got != 0 {
		t.Errorf("InUse() = %d, want 0", got)
	}
}

func TestEmulatedCPUStaleTLB(t *testing.T) {
	captureLogs(t)
	mem := newMemory(t, 16)
	cpu := NewEmulatedCPU(mem)
	pt, err := pagetables.New(pagetables.NewPhysicalAllocator(pmm.NewAllocator(mem, pmm.AllocatorOpts{})), pagetables.Opts{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ProgramMMU(cpu, 0, pt.RootPhysical())

	const va = hostarch.Addr(0xffff_8000_0000_0000)
	if _, err := pt.Set(va, 0x4000_0000); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := cpu.Translate(va); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got := cpu.TLBEntries(); got != 1 {
		t.Errorf("TLBEntries() = %d, want 1", got)
	}

	// Without invalidation the old translation survives.
	if _, err := pt.Del(va); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if got, err := cpu.Translate(va + 8); err != nil || got != 0x4000_0008 {
		t.Errorf("stale Translate = (%#x, %v), want 0x40000008", got, err)
	}
	cpu.FlushTlbAll()
	if _, err := cpu.Translate(va); err == nil {
		t.Errorf("Translate after flush succeeded")
	}
}

func TestEmulatedCPUFaults(t *testing.T) {
	captureLogs(t)
	mem := newMemory(t, 4)
	cpu := NewEmulatedCPU(mem)

	// MMU off.
	if got, err := cpu.Translate(0xdead_beef); err != nil || got != 0xdead_beef {
		t.Errorf("Translate with MMU off = (%#x, %v)", got, err)
	}

	// Root outside memory.
	ProgramMMU(cpu, 0x1000, 0x2000)
	var fault *TranslationFault
	if _, err := cpu.Translate(0x1000); !errors.As(err, &fault) || fault.Level != arm64.L0 {
		t.Errorf("Translate = %v, want level 0 fault", err)
	}

	// Non-canonical address.
	if _, err := cpu.Translate(0x0001_0000_0000_0000); !errors.As(err, &fault) {
		t.Errorf("Translate of non-canonical address = %v, want fault", err)
	}

	// Walks disabled for the low half.
	tcr := TranslationControl()
	tcr.EPD0 = true
	cpu.WriteSysReg(arm64.TCR_EL1, tcr.Encode())
	if _, err := cpu.Translate(0x1000); !errors.As(err, &fault) {
		t.Errorf("Translate with EPD0 = %v, want fault", err)
	}
}

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
	"github.com/armkit/artos/pkg/abi/arm64"
	"github.com/armkit/artos/pkg/log"
)

// TranslationControl returns the TCR_EL1 configuration programmed by
// ProgramMMU: two 48-bit halves with a 4 KiB granule, write-back
// inner-shareable table walks, a 48-bit output and 16-bit ASIDs taken from
// TTBR1.
func TranslationControl() arm64.TCR {
	return arm64.TCR{
		T0SZ:  64 - 48,
		T1SZ:  64 - 48,
		IRGN0: arm64.WriteBackRAWA,
		ORGN0: arm64.WriteBackRAWA,
		IRGN1: arm64.WriteBackRAWA,
		ORGN1: arm64.WriteBackRAWA,
		SH0:   arm64.InnerShareable,
		SH1:   arm64.InnerShareable,
		TG0:   arm64.TG0Granule4K,
		TG1:   arm64.TG1Granule4K,
		A1:    true,
		IPS:   arm64.PhysAddr48Bits,
		AS:    arm64.ASID16Bits,
	}
}

// writeSysReg sets reg to value and logs the transition.
func writeSysReg(cpu CPU, reg arm64.SysReg, value uint64) {
	old := cpu.ReadSysReg(reg)
	cpu.WriteSysReg(reg, value)
	log.Infof("%v: %#x -> %#x", reg, old, value)
}

// setMMU sets SCTLR_EL1.M, leaving every other bit alone, then discards
// every cached translation.
func setMMU(cpu CPU, enabled bool) {
	sctlr := arm64.DecodeSCTLR(cpu.ReadSysReg(arm64.SCTLR_EL1))
	sctlr.MMU = enabled
	writeSysReg(cpu, arm64.SCTLR_EL1, sctlr.Encode())
	cpu.ISB()
	cpu.DSB(InnerShareableStore)
	cpu.FlushTlbAll()
	cpu.DSB(InnerShareable)
	cpu.ISB()
}

// ProgramMMU points TTBR0_EL1 at ttbr0 and TTBR1_EL1 at ttbr1 and enables
// translation.
//
// The MMU is disabled while the registers change, so the new tables take
// effect all at once when it is turned back on.
func ProgramMMU(cpu CPU, ttbr0, ttbr1 uintptr) {
	setMMU(cpu, false)

	writeSysReg(cpu, arm64.TTBR0_EL1, arm64.TTBR{BaseAddress: ttbr0}.Encode())
	cpu.ISB()

	writeSysReg(cpu, arm64.TTBR1_EL1, arm64.TTBR{BaseAddress: ttbr1}.Encode())
	cpu.ISB()

	writeSysReg(cpu, arm64.TCR_EL1, TranslationControl().Encode())
	cpu.ISB()

	setMMU(cpu, true)
}

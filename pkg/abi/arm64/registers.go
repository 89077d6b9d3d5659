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

package arm64

import "fmt"

// SysReg identifies a system register that takes part in address
// translation.
type SysReg int

// Translation system registers.
const (
	SCTLR_EL1 SysReg = iota
	TTBR0_EL1
	TTBR1_EL1
	TCR_EL1
)

var sysRegNames = [...]string{"SCTLR_EL1", "TTBR0_EL1", "TTBR1_EL1", "TCR_EL1"}

// String implements fmt.Stringer.
func (r SysReg) String() string {
	if int(r) >= 0 && int(r) < len(sysRegNames) {
		return sysRegNames[r]
	}
	return fmt.Sprintf("SysReg(%d)", int(r))
}

// TTBR fields.
var (
	ttbrCnP  = field{0, 1}
	ttbrAddr = field{1, 47}
	ttbrASID = field{48, 16}
)

// TTBR is the layout of TTBR0_EL1 and TTBR1_EL1.
type TTBR struct {
	// BaseAddress is the physical address of the root table. Bit 0 is not
	// representable and is discarded.
	BaseAddress uintptr

	// ASID is the address space identifier.
	ASID uint16

	// CnP is bit 0 (common not private).
	CnP bool
}

// Encode packs the register.
func (t TTBR) Encode() uint64 {
	v := ttbrCnP.setBool(0, t.CnP)
	v = ttbrAddr.set(v, uint64(t.BaseAddress)>>1)
	v = ttbrASID.set(v, uint64(t.ASID))
	return v
}

// DecodeTTBR unpacks a TTBR value.
func DecodeTTBR(v uint64) TTBR {
	return TTBR{
		BaseAddress: uintptr(ttbrAddr.get(v) << 1),
		ASID:        uint16(ttbrASID.get(v)),
		CnP:         ttbrCnP.getBool(v),
	}
}

// String implements fmt.Stringer.
func (t TTBR) String() string {
	return fmt.Sprintf("base=%#x asid=%d cnp=%t", t.BaseAddress, t.ASID, t.CnP)
}

// TCR fields.
var (
	tcrT0SZ  = field{0, 6}
	tcrRes0a = field{6, 1}
	tcrEPD0  = field{7, 1}
	tcrIRGN0 = field{8, 2}
	tcrORGN0 = field{10, 2}
	tcrSH0   = field{12, 2}
	tcrTG0   = field{14, 2}
	tcrT1SZ  = field{16, 6}
	tcrA1    = field{22, 1}
	tcrEPD1  = field{23, 1}
	tcrIRGN1 = field{24, 2}
	tcrORGN1 = field{26, 2}
	tcrSH1   = field{28, 2}
	tcrTG1   = field{30, 2}
	tcrIPS   = field{32, 3}
	tcrRes0b = field{35, 1}
	tcrAS    = field{36, 1}
	tcrTBI0  = field{37, 1}
	tcrTBI1  = field{38, 1}
	tcrHigh  = field{39, 25}
)

// TCR is the layout of TCR_EL1.
type TCR struct {
	// T0SZ and T1SZ are the number of most significant virtual address
	// bits that must all be zero (TTBR0) or all one (TTBR1). The region
	// size is 2^(64-TxSZ) bytes.
	T0SZ uint8
	T1SZ uint8

	// EPD0 and EPD1 disable table walks on a TLB miss in the region.
	EPD0 bool
	EPD1 bool

	// IRGN and ORGN are the inner and outer cacheability of table walks.
	IRGN0 Cacheability
	ORGN0 Cacheability
	IRGN1 Cacheability
	ORGN1 Cacheability

	// SH0 and SH1 are the shareability of table walks.
	SH0 Shareability
	SH1 Shareability

	// TG0 and TG1 are the granule sizes.
	TG0 TG0
	TG1 TG1

	// A1 selects TTBR1 (rather than TTBR0) as the source of the ASID.
	A1 bool

	// IPS is the intermediate physical address size.
	IPS PhysAddrSize

	// AS is the ASID size.
	AS ASIDSize

	// TBI0 and TBI1 ignore the top byte of addresses in each region.
	TBI0 bool
	TBI1 bool

	// Reserved holds RES0 bits 6 and 35 (bit 0 and bit 1 respectively).
	Reserved uint8

	// High holds bits 39-63, which are written back unchanged.
	High uint32
}

// Encode packs the register.
func (t TCR) Encode() uint64 {
	v := tcrT0SZ.set(0, uint64(t.T0SZ))
	v = tcrRes0a.set(v, uint64(t.Reserved))
	v = tcrEPD0.setBool(v, t.EPD0)
	v = tcrIRGN0.set(v, uint64(t.IRGN0))
	v = tcrORGN0.set(v, uint64(t.ORGN0))
	v = tcrSH0.set(v, uint64(t.SH0))
	v = tcrTG0.set(v, uint64(t.TG0))
	v = tcrT1SZ.set(v, uint64(t.T1SZ))
	v = tcrA1.setBool(v, t.A1)
	v = tcrEPD1.setBool(v, t.EPD1)
	v = tcrIRGN1.set(v, uint64(t.IRGN1))
	v = tcrORGN1.set(v, uint64(t.ORGN1))
	v = tcrSH1.set(v, uint64(t.SH1))
	v = tcrTG1.set(v, uint64(t.TG1))
	v = tcrIPS.set(v, uint64(t.IPS))
	v = tcrRes0b.set(v, uint64(t.Reserved>>1))
	v = tcrAS.set(v, uint64(t.AS))
	v = tcrTBI0.setBool(v, t.TBI0)
	v = tcrTBI1.setBool(v, t.TBI1)
	v = tcrHigh.set(v, uint64(t.High))
	return v
}

// DecodeTCR unpacks a TCR_EL1 value.
func DecodeTCR(v uint64) TCR {
	return TCR{
		T0SZ:     uint8(tcrT0SZ.get(v)),
		T1SZ:     uint8(tcrT1SZ.get(v)),
		EPD0:     tcrEPD0.getBool(v),
		EPD1:     tcrEPD1.getBool(v),
		IRGN0:    Cacheability(tcrIRGN0.get(v)),
		ORGN0:    Cacheability(tcrORGN0.get(v)),
		IRGN1:    Cacheability(tcrIRGN1.get(v)),
		ORGN1:    Cacheability(tcrORGN1.get(v)),
		SH0:      Shareability(tcrSH0.get(v)),
		SH1:      Shareability(tcrSH1.get(v)),
		TG0:      TG0(tcrTG0.get(v)),
		TG1:      TG1(tcrTG1.get(v)),
		A1:       tcrA1.getBool(v),
		IPS:      PhysAddrSize(tcrIPS.get(v)),
		AS:       ASIDSize(tcrAS.get(v)),
		TBI0:     tcrTBI0.getBool(v),
		TBI1:     tcrTBI1.getBool(v),
		Reserved: uint8(tcrRes0a.get(v) | tcrRes0b.get(v)<<1),
		High:     uint32(tcrHigh.get(v)),
	}
}

// String implements fmt.Stringer.
func (t TCR) String() string {
	return fmt.Sprintf("t0sz=%d t1sz=%d tg0=%d tg1=%d irgn0=%v orgn0=%v irgn1=%v orgn1=%v sh0=%v sh1=%v ips=%v as16=%t a1=%t epd0=%t epd1=%t tbi0=%t tbi1=%t",
		t.T0SZ, t.T1SZ, t.TG0.Size(), t.TG1.Size(), t.IRGN0, t.ORGN0, t.IRGN1, t.ORGN1, t.SH0, t.SH1, t.IPS, t.AS == ASID16Bits, t.A1, t.EPD0, t.EPD1, t.TBI0, t.TBI1)
}

// SCTLR fields.
var (
	sctlrM    = field{0, 1}
	sctlrRest = field{1, 63}
)

// SCTLR is the layout of SCTLR_EL1. Only the M bit is interpreted here;
// all other bits are carried through unchanged.
type SCTLR struct {
	// MMU enables stage 1 translation at EL1/EL0.
	MMU bool

	// Other holds bits 1-63.
	Other uint64
}

// Encode packs the register.
func (s SCTLR) Encode() uint64 {
	v := sctlrM.setBool(0, s.MMU)
	return sctlrRest.set(v, s.Other)
}

// DecodeSCTLR unpacks a SCTLR_EL1 value.
func DecodeSCTLR(v uint64) SCTLR {
	return SCTLR{
		MMU:   sctlrM.getBool(v),
		Other: sctlrRest.get(v),
	}
}

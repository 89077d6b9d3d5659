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

// Package ring0 brings up address translation on an AArch64 processor: it
// builds the translation tables, programs the system registers that enable
// the MMU and keeps the TLB coherent as mappings are removed.
package ring0

import (
	"fmt"

	"github.com/armkit/artos/pkg/abi/arm64"
	"github.com/armkit/artos/pkg/hostarch"
)

// Domain is the shareability domain of a DSB.
type Domain int

// Barrier domains.
const (
	// InnerShareable waits for all memory accesses (DSB ISH).
	InnerShareable Domain = iota

	// InnerShareableStore waits for stores only (DSB ISHST).
	InnerShareableStore
)

// String implements fmt.Stringer.
func (d Domain) String() string {
	switch d {
	case InnerShareable:
		return "ish"
	case InnerShareableStore:
		return "ishst"
	default:
		return fmt.Sprintf("Domain(%d)", int(d))
	}
}

// CPU is the set of privileged operations used to program and maintain
// address translation.
type CPU interface {
	// ReadSysReg returns the value of a system register (MRS).
	ReadSysReg(reg arm64.SysReg) uint64

	// WriteSysReg sets a system register (MSR).
	WriteSysReg(reg arm64.SysReg, value uint64)

	// ISB is an instruction synchronization barrier.
	ISB()

	// DSB is a data synchronization barrier.
	DSB(domain Domain)

	// FlushTlbAll invalidates every stage 1 EL1&0 translation on all
	// processors in the inner shareable domain (TLBI VMALLE1IS).
	FlushTlbAll()

	// FlushTlbByVA invalidates the translation of the page at va on all
	// processors in the inner shareable domain (TLBI VAE1IS).
	FlushTlbByVA(va hostarch.Addr)
}

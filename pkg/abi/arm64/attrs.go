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

// AccessPermission is the two-bit AP field of block and page descriptors
// (AP[2:1]) and the APTable field of table descriptors.
type AccessPermission uint8

// Access permissions, as seen from EL1 and EL0.
const (
	// APReadWriteEL1 is read/write at EL1 and no access at EL0.
	APReadWriteEL1 AccessPermission = 0
	// APReadWrite is read/write at both EL1 and EL0.
	APReadWrite AccessPermission = 1
	// APReadOnlyEL1 is read-only at EL1 and no access at EL0.
	APReadOnlyEL1 AccessPermission = 2
	// APReadOnly is read-only at both EL1 and EL0.
	APReadOnly AccessPermission = 3
)

// String implements fmt.Stringer.
func (ap AccessPermission) String() string {
	switch ap {
	case APReadWriteEL1:
		return "RW/--"
	case APReadWrite:
		return "RW/RW"
	case APReadOnlyEL1:
		return "RO/--"
	case APReadOnly:
		return "RO/RO"
	default:
		return fmt.Sprintf("AP(%d)", uint8(ap))
	}
}

// Shareability is the SH field of descriptors and the SH0/SH1 fields of TCR.
type Shareability uint8

// Shareability domains. The value 1 is reserved.
const (
	NonShareable   Shareability = 0
	OuterShareable Shareability = 2
	InnerShareable Shareability = 3
)

// String implements fmt.Stringer.
func (sh Shareability) String() string {
	switch sh {
	case NonShareable:
		return "non-shareable"
	case OuterShareable:
		return "outer-shareable"
	case InnerShareable:
		return "inner-shareable"
	default:
		return fmt.Sprintf("SH(%d)", uint8(sh))
	}
}

// Cacheability is the IRGN/ORGN field of TCR, describing the cacheability of
// memory accesses made by the table walker.
type Cacheability uint8

// Walk cacheability attributes.
const (
	NonCacheable       Cacheability = 0
	WriteBackRAWA      Cacheability = 1
	WriteThroughRANoWA Cacheability = 2
	WriteBackRANoWA    Cacheability = 3
)

// String implements fmt.Stringer.
func (c Cacheability) String() string {
	switch c {
	case NonCacheable:
		return "NC"
	case WriteBackRAWA:
		return "WB-RA-WA"
	case WriteThroughRANoWA:
		return "WT-RA-nWA"
	case WriteBackRANoWA:
		return "WB-RA-nWA"
	default:
		return fmt.Sprintf("RGN(%d)", uint8(c))
	}
}

// TG0 is the granule size field for the TTBR0 region.
type TG0 uint8

// TG0 encodings.
const (
	TG0Granule4K  TG0 = 0
	TG0Granule64K TG0 = 1
	TG0Granule16K TG0 = 2
)

// Size returns the granule size in bytes, or 0 for a reserved encoding.
func (g TG0) Size() uint64 {
	switch g {
	case TG0Granule4K:
		return 4 << 10
	case TG0Granule64K:
		return 64 << 10
	case TG0Granule16K:
		return 16 << 10
	default:
		return 0
	}
}

// TG1 is the granule size field for the TTBR1 region. Note that its
// encoding differs from TG0.
type TG1 uint8

// TG1 encodings.
const (
	TG1Granule16K TG1 = 1
	TG1Granule4K  TG1 = 2
	TG1Granule64K TG1 = 3
)

// Size returns the granule size in bytes, or 0 for a reserved encoding.
func (g TG1) Size() uint64 {
	switch g {
	case TG1Granule4K:
		return 4 << 10
	case TG1Granule16K:
		return 16 << 10
	case TG1Granule64K:
		return 64 << 10
	default:
		return 0
	}
}

// PhysAddrSize is the IPS field of TCR.
type PhysAddrSize uint8

// Intermediate physical address sizes.
const (
	PhysAddr32Bits PhysAddrSize = iota
	PhysAddr36Bits
	PhysAddr40Bits
	PhysAddr42Bits
	PhysAddr44Bits
	PhysAddr48Bits
	PhysAddr52Bits
)

var physAddrBits = [...]uint{32, 36, 40, 42, 44, 48, 52}

// Bits returns the number of physical address bits, or 0 for a reserved
// encoding.
func (p PhysAddrSize) Bits() uint {
	if int(p) < len(physAddrBits) {
		return physAddrBits[p]
	}
	return 0
}

// String implements fmt.Stringer.
func (p PhysAddrSize) String() string {
	if b := p.Bits(); b != 0 {
		return fmt.Sprintf("%d-bit", b)
	}
	return fmt.Sprintf("IPS(%d)", uint8(p))
}

// ASIDSize is the AS field of TCR.
type ASIDSize uint8

// ASID sizes.
const (
	ASID8Bits  ASIDSize = 0
	ASID16Bits ASIDSize = 1
)

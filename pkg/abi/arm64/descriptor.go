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

// Package arm64 defines the bit-exact layouts of the AArch64 VMSAv8-64
// translation table descriptors (4 KiB granule) and of the system registers
// that control address translation: TTBR0_EL1/TTBR1_EL1, TCR_EL1 and
// SCTLR_EL1.
//
// Every type in this package packs into and unpacks from a plain uint64.
// Nothing here touches hardware.
package arm64

import "fmt"

// Translation table geometry for the 4 KiB granule with 48-bit virtual
// addresses.
const (
	// EntriesPerTable is the number of descriptors in one table.
	EntriesPerTable = 512

	// DescriptorSize is the size of one descriptor in bytes.
	DescriptorSize = 8

	// TableSize is the size of one table in bytes.
	TableSize = EntriesPerTable * DescriptorSize

	// indexBits is the number of virtual address bits consumed per level.
	indexBits = 9

	// PageShift is the binary log of the granule.
	PageShift = 12

	// PageSize is the granule.
	PageSize = 1 << PageShift

	// BlockShift is the binary log of a level 1 block.
	BlockShift = 30

	// BlockSize is the size of a level 1 block (1 GiB).
	BlockSize = 1 << BlockShift
)

// Level is a translation table level.
type Level int

// Translation levels, from the root to the leaf.
const (
	L0 Level = iota
	L1
	L2
	L3

	// NumLevels is the number of levels in a 48-bit, 4 KiB walk.
	NumLevels = 4
)

// String implements fmt.Stringer.
func (l Level) String() string {
	return fmt.Sprintf("L%d", int(l))
}

// Shift returns the virtual address bit at which the level's index starts:
// 39 for L0, 30 for L1, 21 for L2 and 12 for L3.
func (l Level) Shift() uint {
	return PageShift + uint(L3-l)*indexBits
}

// Span returns the number of bytes of virtual address space mapped by one
// entry at this level.
func (l Level) Span() uint64 {
	return uint64(1) << l.Shift()
}

// Index returns the table index selected by va at this level. Bits above
// bit 47 are ignored, so any 64-bit value yields a valid index.
func (l Level) Index(va uint64) int {
	return int((va >> l.Shift()) & (EntriesPerTable - 1))
}

// Descriptor is a raw translation table entry.
type Descriptor uint64

// Kind is the decoded variant of a descriptor.
type Kind int

// Descriptor kinds.
const (
	// KindInvalid is an entry with the valid bit clear.
	KindInvalid Kind = iota
	// KindTable points to a next level table (L0-L2).
	KindTable
	// KindBlock maps a block directly (L1-L2).
	KindBlock
	// KindPage maps a granule (L3).
	KindPage
	// KindReserved is a valid entry whose type bit is not permitted at its
	// level, for example a block at L0 or a type-0 entry at L3. The table
	// walker faults on these.
	KindReserved
)

var kindNames = [...]string{"invalid", "table", "block", "page", "reserved"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Common descriptor fields.
var (
	descValid = field{0, 1}
	descType  = field{1, 1}
)

// Fields shared by block and page descriptors.
var (
	attrIndex   = field{2, 3}
	attrNS      = field{5, 1}
	attrAP      = field{6, 2}
	attrSH      = field{8, 2}
	attrAF      = field{10, 1}
	attrNG      = field{11, 1}
	attrRes0Hi  = field{48, 4}
	attrCont    = field{52, 1}
	attrPXN     = field{53, 1}
	attrUXN     = field{54, 1}
	attrIgnored = field{55, 9}

	blockRes0Lo = field{12, 18}
	blockAddr   = field{30, 18}

	pageAddr = field{12, 36}
)

// Table descriptor fields.
var (
	tableCount   = field{2, 10}
	tableAddr    = field{12, 36}
	tableRes0    = field{48, 4}
	tableIgnored = field{52, 7}
	tablePXN     = field{59, 1}
	tableUXN     = field{60, 1}
	tableAP      = field{61, 2}
	tableNS      = field{63, 1}
)

// invalidIgnored covers every bit of an invalid descriptor except valid.
var invalidIgnored = field{1, 63}

// MaxLiveEntries is the largest value the live-entry counter can hold.
var MaxLiveEntries = uint16(tableCount.bits())

// Valid returns true if the valid bit is set.
func (d Descriptor) Valid() bool {
	return descValid.getBool(uint64(d))
}

// Kind discriminates the descriptor as seen by a walk at the given level.
func (d Descriptor) Kind(level Level) Kind {
	if !d.Valid() {
		return KindInvalid
	}
	typ := descType.getBool(uint64(d))
	switch level {
	case L3:
		if typ {
			return KindPage
		}
		return KindReserved
	case L0:
		if typ {
			return KindTable
		}
		return KindReserved
	default:
		if typ {
			return KindTable
		}
		return KindBlock
	}
}

// InvalidDescriptor is an entry that maps nothing. The remaining bits are
// ignored by hardware and may hold software state.
type InvalidDescriptor struct {
	// Ignored holds bits 1-63.
	Ignored uint64
}

// Encode packs the descriptor.
func (i InvalidDescriptor) Encode() Descriptor {
	return Descriptor(invalidIgnored.set(0, i.Ignored))
}

// Invalid decodes d as an invalid descriptor.
func (d Descriptor) Invalid() InvalidDescriptor {
	return InvalidDescriptor{Ignored: invalidIgnored.get(uint64(d))}
}

// TableDescriptor points at a next level table.
//
// Bits 2-11 are ignored by the table walker. They hold LiveEntries, the
// number of valid descriptors in the table this entry points at.
type TableDescriptor struct {
	// Address is the physical address of the next level table. It must be
	// 4 KiB aligned; lower bits are discarded.
	Address uintptr

	// LiveEntries counts the non-invalid entries in the next level table.
	LiveEntries uint16

	// Reserved holds RES0 bits 48-51.
	Reserved uint8

	// Software holds the ignored bits 52-58.
	Software uint8

	// PXNTable and UXNTable restrict execution in subsequent levels.
	PXNTable bool
	UXNTable bool

	// APTable limits access permissions in subsequent levels.
	APTable AccessPermission

	// NSTable forces subsequent levels to the non-secure state.
	NSTable bool
}

// Encode packs the descriptor.
func (t TableDescriptor) Encode() Descriptor {
	v := descValid.set(0, 1)
	v = descType.set(v, 1)
	v = tableCount.set(v, uint64(t.LiveEntries))
	v = tableAddr.set(v, uint64(t.Address)>>PageShift)
	v = tableRes0.set(v, uint64(t.Reserved))
	v = tableIgnored.set(v, uint64(t.Software))
	v = tablePXN.setBool(v, t.PXNTable)
	v = tableUXN.setBool(v, t.UXNTable)
	v = tableAP.set(v, uint64(t.APTable))
	v = tableNS.setBool(v, t.NSTable)
	return Descriptor(v)
}

// Table decodes d as a table descriptor. The valid and type bits are not
// checked; use Kind first.
func (d Descriptor) Table() TableDescriptor {
	v := uint64(d)
	return TableDescriptor{
		Address:     uintptr(tableAddr.get(v) << PageShift),
		LiveEntries: uint16(tableCount.get(v)),
		Reserved:    uint8(tableRes0.get(v)),
		Software:    uint8(tableIgnored.get(v)),
		PXNTable:    tablePXN.getBool(v),
		UXNTable:    tableUXN.getBool(v),
		APTable:     AccessPermission(tableAP.get(v)),
		NSTable:     tableNS.getBool(v),
	}
}

// Address returns the output address of a table, block or page descriptor
// at the given level.
func (d Descriptor) Address(level Level) uintptr {
	switch d.Kind(level) {
	case KindTable:
		return d.Table().Address
	case KindBlock:
		return d.Block().Address
	case KindPage:
		return d.Page().Address
	default:
		return 0
	}
}

// LiveEntries returns the live-entry counter of a table descriptor.
func (d Descriptor) LiveEntries() uint16 {
	return uint16(tableCount.get(uint64(d)))
}

// WithLiveEntries returns d with the live-entry counter replaced. All other
// bits are preserved.
func (d Descriptor) WithLiveEntries(n uint16) Descriptor {
	return Descriptor(tableCount.set(uint64(d), uint64(n)))
}

// Attributes are the memory attributes shared by block and page
// descriptors. Their bit positions are identical in both formats.
type Attributes struct {
	// AttrIndex selects an entry of MAIR_EL1.
	AttrIndex uint8

	// NonSecure selects the non-secure output address space.
	NonSecure bool

	// AP is the access permission.
	AP AccessPermission

	// SH is the shareability.
	SH Shareability

	// AccessFlag must be set or the first access faults.
	AccessFlag bool

	// NotGlobal marks the translation as ASID-specific.
	NotGlobal bool

	// Contiguous hints that the entry is one of a contiguous run.
	Contiguous bool

	// PXN forbids execution at EL1.
	PXN bool

	// UXN forbids execution at EL0. It is called XN in the block format.
	UXN bool

	// Software holds the ignored bits 55-63.
	Software uint16
}

func (a Attributes) encode(v uint64) uint64 {
	v = attrIndex.set(v, uint64(a.AttrIndex))
	v = attrNS.setBool(v, a.NonSecure)
	v = attrAP.set(v, uint64(a.AP))
	v = attrSH.set(v, uint64(a.SH))
	v = attrAF.setBool(v, a.AccessFlag)
	v = attrNG.setBool(v, a.NotGlobal)
	v = attrCont.setBool(v, a.Contiguous)
	v = attrPXN.setBool(v, a.PXN)
	v = attrUXN.setBool(v, a.UXN)
	v = attrIgnored.set(v, uint64(a.Software))
	return v
}

func decodeAttributes(v uint64) Attributes {
	return Attributes{
		AttrIndex:  uint8(attrIndex.get(v)),
		NonSecure:  attrNS.getBool(v),
		AP:         AccessPermission(attrAP.get(v)),
		SH:         Shareability(attrSH.get(v)),
		AccessFlag: attrAF.getBool(v),
		NotGlobal:  attrNG.getBool(v),
		Contiguous: attrCont.getBool(v),
		PXN:        attrPXN.getBool(v),
		UXN:        attrUXN.getBool(v),
		Software:   uint16(attrIgnored.get(v)),
	}
}

// BlockDescriptor maps a 1 GiB region at level 1.
type BlockDescriptor struct {
	// Address is the 1 GiB aligned output address; lower bits are
	// discarded.
	Address uintptr

	Attributes

	// ReservedLow holds RES0 bits 12-29; ReservedHigh holds RES0 bits
	// 48-51.
	ReservedLow  uint32
	ReservedHigh uint8
}

// Encode packs the descriptor.
func (b BlockDescriptor) Encode() Descriptor {
	v := descValid.set(0, 1)
	v = descType.set(v, 0)
	v = b.Attributes.encode(v)
	v = blockRes0Lo.set(v, uint64(b.ReservedLow))
	v = blockAddr.set(v, uint64(b.Address)>>BlockShift)
	v = attrRes0Hi.set(v, uint64(b.ReservedHigh))
	return Descriptor(v)
}

// Block decodes d as a level 1 block descriptor.
func (d Descriptor) Block() BlockDescriptor {
	v := uint64(d)
	return BlockDescriptor{
		Address:      uintptr(blockAddr.get(v) << BlockShift),
		Attributes:   decodeAttributes(v),
		ReservedLow:  uint32(blockRes0Lo.get(v)),
		ReservedHigh: uint8(attrRes0Hi.get(v)),
	}
}

// PageDescriptor maps a 4 KiB page at level 3.
type PageDescriptor struct {
	// Address is the page aligned output address; lower bits are
	// discarded.
	Address uintptr

	Attributes

	// Reserved holds RES0 bits 48-51.
	Reserved uint8
}

// Encode packs the descriptor.
func (p PageDescriptor) Encode() Descriptor {
	v := descValid.set(0, 1)
	v = descType.set(v, 1)
	v = p.Attributes.encode(v)
	v = pageAddr.set(v, uint64(p.Address)>>PageShift)
	v = attrRes0Hi.set(v, uint64(p.Reserved))
	return Descriptor(v)
}

// Page decodes d as a level 3 page descriptor.
func (d Descriptor) Page() PageDescriptor {
	v := uint64(d)
	return PageDescriptor{
		Address:    uintptr(pageAddr.get(v) << PageShift),
		Attributes: decodeAttributes(v),
		Reserved:   uint8(attrRes0Hi.get(v)),
	}
}

// Format returns a one line human readable decoding of d at level.
func (d Descriptor) Format(level Level) string {
	switch k := d.Kind(level); k {
	case KindInvalid:
		return "invalid"
	case KindTable:
		t := d.Table()
		return fmt.Sprintf("table next=%#x live=%d ap=%v pxn=%t uxn=%t ns=%t", t.Address, t.LiveEntries, t.APTable, t.PXNTable, t.UXNTable, t.NSTable)
	case KindBlock:
		b := d.Block()
		return fmt.Sprintf("block out=%#x %s", b.Address, b.Attributes.format())
	case KindPage:
		p := d.Page()
		return fmt.Sprintf("page out=%#x %s", p.Address, p.Attributes.format())
	default:
		return fmt.Sprintf("%v raw=%#016x", k, uint64(d))
	}
}

func (a Attributes) format() string {
	return fmt.Sprintf("attr=%d ap=%v sh=%v af=%t ng=%t cont=%t pxn=%t uxn=%t ns=%t", a.AttrIndex, a.AP, a.SH, a.AccessFlag, a.NotGlobal, a.Contiguous, a.PXN, a.UXN, a.NonSecure)
}

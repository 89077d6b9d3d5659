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

package hostarch

import "testing"

func TestRounding(t *testing.T) {
	for _, tc := range []struct {
		addr    Addr
		down    Addr
		up      Addr
		upOK    bool
		aligned bool
	}{
		{0, 0, 0, true, true},
		{1, 0, PageSize, true, false},
		{0x1000, 0x1000, 0x1000, true, true},
		{0x1fff, 0x1000, 0x2000, true, false},
		{^Addr(0), ^Addr(PageSize - 1), 0, false, false},
	} {
		if got := tc.addr.RoundDown(); got != tc.down {
			t.Errorf("%v.RoundDown() = %v, want %v", tc.addr, got, tc.down)
		}
		up, ok := tc.addr.RoundUp()
		if up != tc.up || ok != tc.upOK {
			t.Errorf("%v.RoundUp() = (%v, %t), want (%v, %t)", tc.addr, up, ok, tc.up, tc.upOK)
		}
		if got := tc.addr.IsPageAligned(); got != tc.aligned {
			t.Errorf("%v.IsPageAligned() = %t, want %t", tc.addr, got, tc.aligned)
		}
	}
}

func TestHalves(t *testing.T) {
	for _, tc := range []struct {
		addr      Addr
		upper     bool
		canonical bool
	}{
		{0x0000_7fff_ffff_f000, false, true},
		{0x0001_0000_1000, false, true},
		{0x0001_0000_0000_0000, false, false},
		{0xffff_0000_0000_0000, true, true},
		{0xfffe_0000_0000_0000, false, false},
	} {
		if got := tc.addr.IsUpperHalf(); got != tc.upper {
			t.Errorf("%v.IsUpperHalf() = %t, want %t", tc.addr, got, tc.upper)
		}
		if got := tc.addr.IsCanonical(); got != tc.canonical {
			t.Errorf("%v.IsCanonical() = %t, want %t", tc.addr, got, tc.canonical)
		}
	}
}

func TestAttrIndex(t *testing.T) {
	if got := MemoryTypeWriteBack.AttrIndex(); got != 0 {
		t.Errorf("MemoryTypeWriteBack.AttrIndex() = %d, want 0", got)
	}
}

func TestMemoryTypeString(t *testing.T) {
	for _, tc := range []struct {
		mt    MemoryType
		long  string
		short string
	}{
		{MemoryTypeWriteBack, "WriteBack", "WB"},
		{MemoryTypeUncached, "Uncached", "UC"},
		{NumMemoryTypes, "3", "03"},
	} {
		if got := tc.mt.String(); got != tc.long {
			t.Errorf("String() = %q, want %q", got, tc.long)
		}
		if got := tc.mt.ShortString(); got != tc.short {
			t.Errorf("ShortString() = %q, want %q", got, tc.short)
		}
	}
}

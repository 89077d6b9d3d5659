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

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTTBR(t *testing.T) {
	for _, tc := range []struct {
		ttbr TTBR
		want uint64
	}{
		{TTBR{BaseAddress: 0x4000_0000}, 0x4000_0000},
		{TTBR{BaseAddress: 0x4000_0000, ASID: 5}, 0x0005_0000_4000_0000},
		{TTBR{BaseAddress: 0xffff_ffff_f000, ASID: 0xffff, CnP: true}, 0xffff_ffff_ffff_f001},
	} {
		if got := tc.ttbr.Encode(); got != tc.want {
			t.Errorf("%v.Encode() = %#016x, want %#016x", tc.ttbr, got, tc.want)
		}
		if diff := cmp.Diff(tc.ttbr, DecodeTTBR(tc.want)); diff != "" {
			t.Errorf("DecodeTTBR(%#x) mismatch (-want +got):\n%s", tc.want, diff)
		}
	}
}

func TestTCR(t *testing.T) {
	tcr := TCR{
		T0SZ:  16,
		T1SZ:  16,
		IRGN0: WriteBackRAWA,
		ORGN0: WriteBackRAWA,
		IRGN1: WriteBackRAWA,
		ORGN1: WriteBackRAWA,
		SH0:   InnerShareable,
		SH1:   InnerShareable,
		TG0:   TG0Granule4K,
		TG1:   TG1Granule4K,
		A1:    true,
		IPS:   PhysAddr48Bits,
		AS:    ASID16Bits,
	}
	const want = 0x0000_0015_b550_3510
	if got := tcr.Encode(); got != want {
		t.Errorf("Encode() = %#016x, want %#016x", got, uint64(want))
	}
	if diff := cmp.Diff(tcr, DecodeTCR(want)); diff != "" {
		t.Errorf("DecodeTCR mismatch (-want +got):\n%s", diff)
	}
	if got := tcr.TG0.Size(); got != 4096 {
		t.Errorf("TG0.Size() = %d, want 4096", got)
	}
	if got := tcr.TG1.Size(); got != 4096 {
		t.Errorf("TG1.Size() = %d, want 4096", got)
	}
	if got := tcr.IPS.Bits(); got != 48 {
		t.Errorf("IPS.Bits() = %d, want 48", got)
	}
}

func TestTCRLossless(t *testing.T) {
	for _, raw := range rawSamples {
		if got := DecodeTCR(raw).Encode(); got != raw {
			t.Errorf("TCR round trip of %#016x = %#016x", raw, got)
		}
		if got := DecodeTTBR(raw).Encode(); got != raw {
			t.Errorf("TTBR round trip of %#016x = %#016x", raw, got)
		}
		if got := DecodeSCTLR(raw).Encode(); got != raw {
			t.Errorf("SCTLR round trip of %#016x = %#016x", raw, got)
		}
	}
}

func TestSCTLR(t *testing.T) {
	// A typical reset value with the MMU off.
	const reset = 0x30d0_0800
	s := DecodeSCTLR(reset)
	if s.MMU {
		t.Fatalf("DecodeSCTLR(%#x).MMU = true, want false", uint64(reset))
	}
	s.MMU = true
	if got, want := s.Encode(), uint64(reset|1); got != want {
		t.Errorf("Encode() = %#x, want %#x", got, want)
	}
	s.MMU = false
	if got := s.Encode(); got != reset {
		t.Errorf("Encode() = %#x, want %#x", got, uint64(reset))
	}
}

func TestSysRegString(t *testing.T) {
	if got := TCR_EL1.String(); got != "TCR_EL1" {
		t.Errorf("String() = %q", got)
	}
	if got := SysReg(42).String(); got != "SysReg(42)" {
		t.Errorf("String() = %q", got)
	}
}

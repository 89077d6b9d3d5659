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

package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddRemove(t *testing.T) {
	b := New(130)
	if got := b.Size(); got != 192 {
		t.Errorf("Size() = %d, want 192", got)
	}
	for _, i := range []uint32{129, 0, 64, 63} {
		if !b.Add(i) {
			t.Errorf("Add(%d) = false on first insert", i)
		}
	}
	if b.Add(64) {
		t.Errorf("Add(64) = true on second insert")
	}
	if got := b.Count(); got != 4 {
		t.Errorf("Count() = %d, want 4", got)
	}
	if diff := cmp.Diff([]uint32{0, 63, 64, 129}, b.ToSlice()); diff != "" {
		t.Errorf("ToSlice() mismatch (-want +got):\n%s", diff)
	}
	if !b.Remove(63) || b.Remove(63) {
		t.Errorf("Remove(63) should succeed once")
	}
	if b.Contains(63) || !b.Contains(129) || b.Contains(1000) {
		t.Errorf("Contains reports wrong membership")
	}
	if got := b.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
}

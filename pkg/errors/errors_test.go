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

package errors

import (
	stderrors "errors"
	"testing"
)

func TestIs(t *testing.T) {
	oom := New(OutOfMemory, "out of frames")
	wrapped := Errorf(oom, "allocating table for %#x", 0x1000)
	if !stderrors.Is(wrapped, oom) {
		t.Errorf("errors.Is(%v, %v) = false", wrapped, oom)
	}
	if stderrors.Is(wrapped, New(NotMapped, "x")) {
		t.Errorf("errors.Is matched a different code")
	}
	var e *Error
	if !stderrors.As(wrapped, &e) || e.Code() != OutOfMemory {
		t.Errorf("errors.As(%v) = %v", wrapped, e)
	}
	if got, want := wrapped.Error(), "out of frames: allocating table for 0x1000"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestCodeString(t *testing.T) {
	if got := NotInitialized.String(); got != "not initialized" {
		t.Errorf("String() = %q", got)
	}
	if got := Code(99).String(); got != "Code(99)" {
		t.Errorf("String() = %q", got)
	}
}

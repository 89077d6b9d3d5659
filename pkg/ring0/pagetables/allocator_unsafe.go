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

package pagetables

import (
	"unsafe"
)

// ptesFromFrame reinterprets a frame as a table.
//
// Precondition: len(frame) >= arm64.TableSize and frame is 8-byte aligned.
func ptesFromFrame(frame []byte) *PTEs {
	return (*PTEs)(unsafe.Pointer(&frame[0]))
}

// ptesAddress returns the host address of ptes.
func ptesAddress(ptes *PTEs) uintptr {
	return uintptr(unsafe.Pointer(ptes))
}

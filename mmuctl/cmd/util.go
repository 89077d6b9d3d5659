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

// Package cmd holds implementations of the mmuctl commands.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/subcommands"

	"github.com/armkit/artos/mmuctl/config"
	"github.com/armkit/artos/pkg/hostarch"
	"github.com/armkit/artos/pkg/log"
	"github.com/armkit/artos/pkg/pmm"
	"github.com/armkit/artos/pkg/ring0"
)

// ErrorLogger is where error messages should be written to, in addition to
// stderr and the log.
var ErrorLogger io.Writer

// Errorf logs an error and writes it to stderr. It returns ExitFailure so
// commands can end with it.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintln(os.Stderr, msg)
	if ErrorLogger != nil {
		fmt.Fprintln(ErrorLogger, msg)
	}
	return subcommands.ExitFailure
}

// Fatalf logs an error and exits with status 128.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	os.Exit(128)
}

// parseAddr accepts any integer syntax Go does, including 0x prefixes and
// underscores.
func parseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return v, nil
}

// machine is a simulated processor with its RAM, after translation has been
// brought up.
type machine struct {
	mem    *pmm.Memory
	frames *pmm.Allocator
	cpu    *ring0.EmulatedCPU
	kernel *ring0.Kernel
}

// newMachine builds the machine conf describes and runs Kernel.Init on it.
func newMachine(conf *config.Config) (*machine, error) {
	mem, err := pmm.NewMemory(uintptr(conf.MemoryBase), conf.MemoryFrames)
	if err != nil {
		return nil, fmt.Errorf("creating physical memory: %w", err)
	}
	frames := pmm.NewAllocator(mem, pmm.AllocatorOpts{Limit: conf.FrameLimit})
	cpu := ring0.NewEmulatedCPU(mem)
	k := ring0.NewKernel(ring0.KernelOpts{
		Frames:              frames,
		CPU:                 cpu,
		LastPhysicalAddress: uintptr(conf.LastPhysicalAddress),
	})
	if err := k.Init(); err != nil {
		mem.Close()
		return nil, fmt.Errorf("initializing translation: %w", err)
	}
	return &machine{mem: mem, frames: frames, cpu: cpu, kernel: k}, nil
}

// Close releases the machine's memory.
func (m *machine) Close() {
	if err := m.mem.Close(); err != nil {
		log.Warningf("Error unmapping physical memory: %v", err)
	}
}

// walk returns the entries visited translating va in whichever tree covers
// it.
func (m *machine) walk(va hostarch.Addr) []fmt.Stringer {
	var out []fmt.Stringer
	if va.IsUpperHalf() {
		for _, e := range m.kernel.Tables().Walk(va) {
			out = append(out, e)
		}
	} else {
		for _, e := range m.kernel.Identity().Walk(va) {
			out = append(out, e)
		}
	}
	return out
}

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

// Package config holds the configuration shared by every mmuctl command: the
// simulated machine and how the tool logs.
package config

import (
	"fmt"

	"github.com/armkit/artos/pkg/hostarch"
	"github.com/armkit/artos/pkg/log"
	"github.com/armkit/artos/pkg/pmm"
	"github.com/armkit/artos/pkg/ring0/pagetables"
)

// Config holds configuration that is not part of a command's own flags.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name.
//  3. Register a new flag in flags.go, with name and description.
//  4. Add any necessary validation into validate().
type Config struct {
	// LogFilename is the file to write logs to. Empty means stderr.
	LogFilename string `flag:"log"`

	// LogFormat is the log format: text or json.
	LogFormat string `flag:"log-format"`

	// Debug enables debug logging.
	Debug bool `flag:"debug"`

	// MemoryBase is the physical address of the first frame of simulated
	// RAM.
	MemoryBase uint64 `flag:"memory-base"`

	// MemoryFrames is the number of 4 KiB frames of simulated RAM.
	MemoryFrames int `flag:"memory-frames"`

	// FrameLimit caps the frames that may be allocated at once for dynamic
	// tables. Zero means no cap.
	FrameLimit int `flag:"frame-limit"`

	// LastPhysicalAddress is the inclusive bound of the identity map.
	LastPhysicalAddress uint64 `flag:"last-physical-address"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if c.MemoryBase%pmm.FrameSize != 0 {
		return fmt.Errorf("memory base %#x is not frame aligned", c.MemoryBase)
	}
	if c.MemoryFrames <= 0 {
		return fmt.Errorf("memory frames must be positive, got %d", c.MemoryFrames)
	}
	if end := c.MemoryBase + uint64(c.MemoryFrames)*pmm.FrameSize; end-1 > hostarch.PhysicalAddressMask || end < c.MemoryBase {
		return fmt.Errorf("memory [%#x, %#x) exceeds %d-bit physical addresses", c.MemoryBase, end, hostarch.PhysicalAddressBits)
	}
	if c.FrameLimit < 0 {
		return fmt.Errorf("frame limit must not be negative, got %d", c.FrameLimit)
	}
	if c.LastPhysicalAddress > hostarch.PhysicalAddressMask {
		return fmt.Errorf("last physical address %#x exceeds %d-bit physical addresses", c.LastPhysicalAddress, hostarch.PhysicalAddressBits)
	}
	// Both roots and the identity L1 tables come out of simulated RAM.
	if static := 2 + pagetables.IdentityTables(uintptr(c.LastPhysicalAddress)); static > c.MemoryFrames {
		return fmt.Errorf("identity map up to %#x needs %d frames, memory has %d", c.LastPhysicalAddress, static, c.MemoryFrames)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config.LogFormat: %v", c.LogFormat)
	log.Infof("Config.Debug: %t", c.Debug)
	log.Infof("Config.Memory: %d frames at %#x", c.MemoryFrames, c.MemoryBase)
	log.Infof("Config.FrameLimit: %d", c.FrameLimit)
	log.Infof("Config.LastPhysicalAddress: %#x", c.LastPhysicalAddress)
}
